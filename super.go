package squashfs

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// SuperblockSize is the fixed, version-independent byte size of the
// SquashFS 4.0 superblock (spec.md §6: offsets [0x00..0x60)).
const SuperblockSize = 96

// NotSet is the sentinel absolute offset meaning "this optional table is
// absent" (spec.md GLOSSARY).
const NotSet uint64 = 0xFFFFFFFFFFFFFFFF

// Superblock is the fixed-size header at the start of every SquashFS image.
// Field order and sizes follow spec.md §6 exactly; Magic/VMajor/VMinor are
// validated against a Kind by Validate, not baked into the type itself, so
// the same struct serves every endian variant.
//
// Grounded on the teacher's super.go (reflect-driven field walk over
// exported fields, in the same declaration order), parameterized by an
// explicit Kind instead of an order field sniffed once from the magic
// bytes, and extended with the invariant checks spec.md §3 requires (the
// teacher's UnmarshalBinary performed none of them).
type Superblock struct {
	Magic             [4]byte
	InodeCnt          uint32
	ModTime           int32
	BlockSize         uint32
	FragCount         uint32
	Comp              CompId
	BlockLog          uint16
	Flags             Flags
	IdCount           uint16
	VMajor            uint16
	VMinor            uint16
	RootInode         uint64
	BytesUsed         uint64
	IdTableStart      uint64
	XattrIdTableStart uint64
	InodeTableStart   uint64
	DirTableStart     uint64
	FragTableStart    uint64
	ExportTableStart  uint64
}

// fields returns pointers to every on-wire field after Magic, in
// declaration order (Magic is handled separately) — kept as a helper so
// Marshal/Unmarshal can't drift apart on field order.
func (s *Superblock) fields() []interface{} {
	return []interface{}{
		&s.InodeCnt, &s.ModTime, &s.BlockSize, &s.FragCount, &s.Comp,
		&s.BlockLog, &s.Flags, &s.IdCount, &s.VMajor, &s.VMinor,
		&s.RootInode, &s.BytesUsed, &s.IdTableStart, &s.XattrIdTableStart,
		&s.InodeTableStart, &s.DirTableStart, &s.FragTableStart, &s.ExportTableStart,
	}
}

// MarshalBinary serializes the superblock using kind's TypeOrder, writing
// kind.Magic regardless of what s.Magic currently holds (the Magic field is
// populated by UnmarshalBinary but is otherwise derived from the Kind that
// produced the image, not stored state on Superblock).
func (s *Superblock) MarshalBinary(kind Kind) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Write(kind.Magic[:])
	for _, f := range s.fields() {
		if err := binary.Write(buf, kind.TypeOrder, reflect.ValueOf(f).Elem().Interface()); err != nil {
			return nil, err
		}
	}
	if buf.Len() != SuperblockSize {
		return nil, newError(CorruptedOrInvalidSquashfs, "superblock serialized to unexpected size", nil)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary parses a SuperblockSize-byte header using kind's
// TypeOrder. The caller is expected to have already determined kind via
// Sniff (or an explicit WithKind override).
func (s *Superblock) UnmarshalBinary(kind Kind, data []byte) error {
	if len(data) < SuperblockSize {
		return newError(CorruptedOrInvalidSquashfs, "superblock shorter than 96 bytes", nil)
	}
	copy(s.Magic[:], data[:4])
	if s.Magic != kind.Magic {
		return newError(CorruptedOrInvalidSquashfs, "magic does not match kind", nil)
	}
	r := bytes.NewReader(data[4:SuperblockSize])
	for _, f := range s.fields() {
		if err := binary.Read(r, kind.TypeOrder, f); err != nil {
			return newError(ParseError, "superblock field", err)
		}
	}
	return nil
}

// Validate checks the cross-field invariants spec.md §3 requires:
// block_size is a power of two in [4KiB, 1MiB], block_log agrees with it,
// version matches kind, and every defined table offset lies within the
// image.
func (s *Superblock) Validate(kind Kind, imageLen int64) error {
	if s.VMajor != kind.VMajor || s.VMinor != kind.VMinor {
		return ErrInvalidVersion
	}
	if s.BlockSize < 4096 || s.BlockSize > 1<<20 || s.BlockSize&(s.BlockSize-1) != 0 {
		return newError(CorruptedOrInvalidSquashfs, "block size not a power of two in [4KiB,1MiB]", nil)
	}
	if uint32(1)<<s.BlockLog != s.BlockSize {
		return newError(CorruptedOrInvalidSquashfs, "block_log disagrees with block_size", nil)
	}
	if s.BytesUsed > uint64(imageLen) {
		return newError(CorruptedOrInvalidSquashfs, "bytes_used exceeds image length", nil)
	}
	for _, off := range []uint64{s.IdTableStart, s.XattrIdTableStart, s.InodeTableStart, s.DirTableStart, s.FragTableStart, s.ExportTableStart} {
		if off == NotSet {
			continue
		}
		if off > uint64(imageLen) {
			return newError(CorruptedOrInvalidSquashfs, "table offset beyond image length", nil)
		}
	}
	return nil
}
