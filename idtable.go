package squashfs

import (
	"encoding/binary"
)

// idsPerBlock is how many 4-byte uid/gid entries fit in one 8 KiB metadata
// block (spec.md §4.5's id table layout — the same two-level pointer
// indirection the fragment table uses, just with 4-byte records).
const idsPerBlock = maxMetadataPayload / 4

// idTable is the deduplicated uid/gid table: inodes reference an id by its
// index into this table (UidIdx/GidIdx) rather than storing the 32-bit
// value directly, so common owners cost two bytes instead of four per
// inode. New for this package — the teacher never read or wrote this table
// at all (its inode.go never resolved UidIdx/GidIdx into an actual id).
type idTable struct {
	ids []uint32        // index -> id, filled by register; Reader.resolveID reads the image instead
	rev map[uint32]int  // id -> index, for the writer's dedup path
}

func newIDTable() *idTable {
	return &idTable{rev: make(map[uint32]int)}
}

// register returns id's index in the table, adding it if this is the first
// time id has been seen. Grounded on the teacher's writer.go buildIDTable,
// which deduped uids/gids the same way while building the inode table.
func (t *idTable) register(id uint32) uint16 {
	if idx, ok := t.rev[id]; ok {
		return uint16(idx)
	}
	idx := len(t.ids)
	t.ids = append(t.ids, id)
	t.rev[id] = idx
	return uint16(idx)
}

// marshal frames the table's ids into metadata blocks and a leading pointer
// array, returning the pointer-array bytes (to be written at IdTableStart)
// and the framed metadata block bytes (written immediately before it).
func (t *idTable) marshal(kind Kind, comp CompId, settings Settings) (ptrTable, blocks []byte, err error) {
	mw := NewMetadataWriter(kind, comp, settings)
	var ptrs []uint64
	base := uint64(0) // relative to the start of blocks; caller rebases

	for i := 0; i < len(t.ids); i++ {
		if i%idsPerBlock == 0 {
			ptrs = append(ptrs, base+mw.Len())
		}
		var b [4]byte
		kind.DataOrder.PutUint32(b[:], t.ids[i])
		if _, werr := mw.Write(b[:]); werr != nil {
			return nil, nil, werr
		}
	}
	if err := mw.Finalize(); err != nil {
		return nil, nil, err
	}

	ptrBuf := make([]byte, 8*len(ptrs))
	for i, p := range ptrs {
		kind.TypeOrder.PutUint64(ptrBuf[i*8:], p)
	}
	return ptrBuf, mw.Bytes(), nil
}

// resolveID reads id table entry idx from the image, following the same
// two-level pointer indirection as fragmentEntry.
func (r *Reader) resolveID(idx uint16) (uint32, error) {
	ptrOff := int64(r.SB.IdTableStart) + int64(int(idx)/idsPerBlock)*8
	var ptr [8]byte
	if _, err := r.src.ReadAt(ptr[:], ptrOff); err != nil {
		return 0, wrapIO(err)
	}
	blockStart := int64(r.kind.TypeOrder.Uint64(ptr[:]))

	mr := NewMetadataReader(r.src, r.kind, r.SB.Comp, blockStart)
	if err := mr.SkipInto(int(idx)%idsPerBlock * 4); err != nil {
		return 0, err
	}
	var id uint32
	if err := binary.Read(mr, r.kind.DataOrder, &id); err != nil {
		return 0, wrapIO(err)
	}
	return id, nil
}
