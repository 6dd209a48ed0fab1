package squashfs

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"
)

// fragsPerBlock is how many 16-byte fragment_entry records fit in one 8 KiB
// metadata block (spec.md §4.5's fragment table layout).
const fragsPerBlock = maxMetadataPayload / 16

// compressedSizeFlag marks a data/fragment block's size word to mean
// "stored verbatim" rather than "compressed" (spec.md §4.3) — the same role
// uncompressedFlag plays in a metadata header, but at bit 24 of a 32-bit
// size word instead of bit 15 of the 16-bit one.
const compressedSizeFlag = 0x1000000

// fragEntry is one decoded fragment_entry: where the fragment block starts
// in the image and how large (and whether compressed) its stored bytes are.
type fragEntry struct {
	Start uint64
	Size  uint32
}

func (e fragEntry) compressed() bool { return e.Size&compressedSizeFlag == 0 }
func (e fragEntry) length() uint32   { return e.Size &^ compressedSizeFlag }

// fragmentCache memoizes decompressed fragment blocks by their absolute
// start offset, since several files in a dedup-heavy image commonly share
// one fragment block and each read would otherwise redecompress it.
//
// Grounded on the teacher's inode.go ReadAt, which recomputed and
// redecompressed a fragment's block on every single read; this adds the
// RWMutex-guarded cache spec.md §4.5 calls for.
type fragmentCache struct {
	mu   sync.RWMutex
	data map[uint64][]byte
}

func newFragmentCache() *fragmentCache {
	return &fragmentCache{data: make(map[uint64][]byte)}
}

func (c *fragmentCache) get(start uint64) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.data[start]
	return b, ok
}

func (c *fragmentCache) put(start uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[start] = data
}

// fragmentEntry locates and decodes the fragEntry at idx within the
// fragment table rooted at r.SB.FragTableStart, following the standard
// two-level pointer indirection: a flat array of uint64 block pointers (one
// per 512-entry metadata block) lives at FragTableStart itself, and each
// pointer locates the metadata block holding idx's 16-byte record.
//
// Grounded on the teacher's inode.go ReadAt fragment lookup, lifted out
// into its own reusable lookup rather than re-derived inline at every read.
func (r *Reader) fragmentEntry(idx uint32) (fragEntry, error) {
	if r.SB.FragCount == 0 || idx == noFragment {
		return fragEntry{}, newError(CorruptedOrInvalidSquashfs, "no such fragment", nil)
	}

	ptrOff := int64(r.SB.FragTableStart) + int64(idx/fragsPerBlock)*8
	var ptr [8]byte
	if _, err := r.src.ReadAt(ptr[:], ptrOff); err != nil {
		return fragEntry{}, wrapIO(err)
	}
	blockStart := int64(r.kind.TypeOrder.Uint64(ptr[:]))

	mr := NewMetadataReader(r.src, r.kind, r.SB.Comp, blockStart)
	if err := mr.SkipInto(int(idx%fragsPerBlock) * 16); err != nil {
		return fragEntry{}, err
	}

	var e fragEntry
	if err := binary.Read(mr, r.kind.DataOrder, &e.Start); err != nil {
		return fragEntry{}, wrapIO(err)
	}
	if err := binary.Read(mr, r.kind.DataOrder, &e.Size); err != nil {
		return fragEntry{}, wrapIO(err)
	}
	// the on-disk record also carries a reserved u32 pad we don't track
	var pad uint32
	_ = binary.Read(mr, r.kind.DataOrder, &pad)
	return e, nil
}

// readFragment returns the (cached, decompressed) bytes of the whole
// fragment block referenced by idx; the caller applies the file's offset
// into it and truncates to the desired read length.
func (r *Reader) readFragment(idx uint32) ([]byte, error) {
	e, err := r.fragmentEntry(idx)
	if err != nil {
		return nil, err
	}
	if cached, ok := r.fragCache.get(e.Start); ok {
		Log.WithField("start", e.Start).Debug("squashfs: fragment cache hit")
		return cached, nil
	}

	raw := make([]byte, e.length())
	if _, err := r.src.ReadAt(raw, int64(e.Start)); err != nil {
		return nil, wrapIO(err)
	}
	if e.compressed() {
		raw, err = decompress(r.SB.Comp, raw)
		if err != nil {
			return nil, err
		}
	}
	Log.WithFields(logrus.Fields{"start": e.Start, "size": len(raw)}).Debug("squashfs: fragment block resolved")
	r.fragCache.put(e.Start, raw)
	return raw, nil
}
