package squashfs

import (
	"io"
)

// maxMetadataPayload is the largest uncompressed payload a single metadata
// block may carry (spec.md §3, §6 "metadata length word").
const maxMetadataPayload = 8192

// uncompressedFlag marks a metadata-block length word's top bit to mean
// "payload is stored verbatim, not compressed" (spec.md §3/§6).
const uncompressedFlag = 0x8000

// MetadataReader decodes a sequential stream of metadata blocks (inode
// table, directory table, fragment/id/export table entries) into a
// contiguous logical byte stream, following each block's 2-byte
// length-and-flag header. It implements io.Reader, so reading a struct that
// straddles a block boundary with io.ReadFull transparently decodes and
// concatenates the next block — this is how the reader satisfies spec.md
// §4.4's "retain unconsumed trailing bytes from block i and prepend them to
// block i+1" requirement without any special-casing at call sites.
//
// Grounded on the teacher's tablereader.go/inodereader.go, which carried an
// identical length+flag framing loop twice (once per table kind); this type
// unifies both into the single reusable component every table in this
// package uses.
type MetadataReader struct {
	src  io.ReaderAt
	kind Kind
	comp CompId

	pos int64  // absolute offset of the next block to read
	buf []byte // undelivered decoded bytes from the most recently read block
}

// NewMetadataReader starts a metadata stream at the given absolute byte
// offset within src.
func NewMetadataReader(src io.ReaderAt, kind Kind, comp CompId, absoluteStart int64) *MetadataReader {
	return &MetadataReader{src: src, kind: kind, comp: comp, pos: absoluteStart}
}

// Tell returns the absolute offset of the next (unread) metadata block.
func (r *MetadataReader) Tell() int64 { return r.pos }

// Seek repositions the reader to read from a fresh metadata block at abs,
// discarding any buffered bytes from the current block. It does not
// validate abs beyond what the next readBlock call naturally does.
func (r *MetadataReader) Seek(abs int64) {
	r.pos = abs
	r.buf = nil
}

// SkipInto discards n undelivered bytes from the current block, reading
// more blocks as needed. This implements the "cut offset" behavior the
// teacher's newTableReader/newInodeReader perform when positioning at a
// non-zero byteOffset within the first block of a table reference.
func (r *MetadataReader) SkipInto(n int) error {
	for n > 0 {
		if len(r.buf) == 0 {
			if err := r.readBlock(); err != nil {
				return err
			}
		}
		if n >= len(r.buf) {
			n -= len(r.buf)
			r.buf = nil
			continue
		}
		r.buf = r.buf[n:]
		n = 0
	}
	return nil
}

func (r *MetadataReader) readBlock() error {
	var hdr [2]byte
	if _, err := r.src.ReadAt(hdr[:], r.pos); err != nil {
		return wrapIO(err)
	}
	lenWord := r.kind.DataOrder.Uint16(hdr[:])
	stored := lenWord&uncompressedFlag != 0
	payloadLen := int(lenWord &^ uncompressedFlag)
	if payloadLen > maxMetadataPayload {
		return newError(CorruptedOrInvalidSquashfs, "metadata block exceeds 8KiB", nil)
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := r.src.ReadAt(payload, r.pos+2); err != nil {
			return wrapIO(err)
		}
	}

	if !stored {
		out, err := decompress(r.comp, payload)
		if err != nil {
			return err
		}
		payload = out
	}
	if len(payload) > maxMetadataPayload {
		return newError(CorruptedOrInvalidSquashfs, "decompressed metadata block exceeds 8KiB", nil)
	}

	r.pos += int64(2 + payloadLen)
	r.buf = payload
	return nil
}

// Read implements io.Reader, pulling additional metadata blocks as needed.
func (r *MetadataReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if err := r.readBlock(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// MetadataWriter accumulates bytes written to it and frames them into
// SquashFS metadata blocks, compressing each full 8 KiB chunk (or storing it
// verbatim, per §4.3, when compression doesn't help) and tracking the
// running byte offset of the next block (Tell) so callers can record an
// absolute (block, offset) address for any byte not yet flushed — this is
// exactly how a directory entry or the root-inode pointer records "where
// this inode will end up" before the inode table itself has been fully
// serialized.
//
// Grounded on the teacher's writer.go writeMetadataBlock/
// writeCompressedMetadataBlock, generalized to buffer blocks in memory
// (rather than stream straight to the sink) since this package's Writer
// needs to interleave the inode and directory streams' final placement with
// other tables computed after the fact.
type MetadataWriter struct {
	kind     Kind
	comp     CompId
	settings Settings

	inflight []byte
	blocks   [][]byte
	start    uint64 // sum of len(blocks): offset of the next block within this table's stream
}

func NewMetadataWriter(kind Kind, comp CompId, settings Settings) *MetadataWriter {
	return &MetadataWriter{kind: kind, comp: comp, settings: settings}
}

func (w *MetadataWriter) Write(p []byte) (int, error) {
	w.inflight = append(w.inflight, p...)
	for len(w.inflight) >= maxMetadataPayload {
		if err := w.flush(maxMetadataPayload); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *MetadataWriter) flush(n int) error {
	chunk := w.inflight[:n]
	framed, err := frameMetadataBlock(chunk, w.kind, w.comp, w.settings)
	if err != nil {
		return err
	}
	rest := make([]byte, len(w.inflight)-n)
	copy(rest, w.inflight[n:])
	w.inflight = rest
	w.blocks = append(w.blocks, framed)
	w.start += uint64(len(framed))
	return nil
}

// Tell returns the (blockOffset, byteOffset) pair that would address the
// next byte written: blockOffset is this table's running byte offset (add
// the table's base offset to get an absolute position), byteOffset is the
// position within the still-unflushed in-flight chunk.
func (w *MetadataWriter) Tell() (blockOffset uint32, byteOffset uint16) {
	return uint32(w.start), uint16(len(w.inflight))
}

// Finalize flushes any residual buffered bytes as a final, possibly short,
// metadata block. Safe to call on an empty writer.
func (w *MetadataWriter) Finalize() error {
	if len(w.inflight) == 0 {
		return nil
	}
	return w.flush(len(w.inflight))
}

// Bytes returns the full framed byte stream written so far, including any
// blocks flushed mid-stream by Write's 8 KiB chunking.
func (w *MetadataWriter) Bytes() []byte {
	total := 0
	for _, b := range w.blocks {
		total += len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range w.blocks {
		out = append(out, b...)
	}
	return out
}

// Len returns the number of framed bytes emitted so far (equal to the
// blockOffset Tell() would currently report).
func (w *MetadataWriter) Len() uint64 { return w.start }

func frameMetadataBlock(data []byte, kind Kind, comp CompId, settings Settings) ([]byte, error) {
	compressed, err := compress(comp, data, settings)
	var header [2]byte
	if err != nil || len(compressed) >= len(data) {
		kind.DataOrder.PutUint16(header[:], uint16(len(data))|uncompressedFlag)
		out := make([]byte, 0, 2+len(data))
		out = append(out, header[:]...)
		out = append(out, data...)
		return out, nil
	}
	kind.DataOrder.PutUint16(header[:], uint16(len(compressed)))
	out := make([]byte, 0, 2+len(compressed))
	out = append(out, header[:]...)
	out = append(out, compressed...)
	return out, nil
}
