package squashfs

import (
	"encoding/binary"
	"io"
	"io/fs"
)

// dirReader provides sequential access to the entries of a single
// directory's data, spanning as many directory-table metadata blocks as
// needed. Grounded on the teacher's dir.go, generalized to read through a
// MetadataReader (so it transparently follows directory data across a
// metadata block boundary instead of assuming one read fits in the current
// block) and to carry a Reader instead of a Superblock.
type dirReader struct {
	rd *Reader
	r  *io.LimitedReader

	count, startBlock uint32
	inodeNum          uint32
}

func (dr *dirReader) next() (string, inodeRef, error) {
	name, _, ref, err := dr.nextfull()
	return name, ref, err
}

// nextfull returns the next entry's name, type and inodeRef. A directory's
// on-disk size (Inode.Size) is defined as 3 bytes larger than its actual
// entry data (spec.md §4.6), so N==3 remaining is the normal end-of-stream
// signal, not an error.
func (dr *dirReader) nextfull() (string, Type, inodeRef, error) {
	if dr.r.N <= 3 {
		return "", 0, 0, io.EOF
	}

	if dr.count == 0 {
		if err := dr.readHeader(); err != nil {
			return "", 0, 0, err
		}
	}

	var offset uint16
	var inoDelta int16
	var typ Type
	var size uint16

	for _, f := range []interface{}{&offset, &inoDelta, &typ, &size} {
		if err := binary.Read(dr.r, dr.rd.kind.TypeOrder, f); err != nil {
			return "", 0, 0, wrapIO(err)
		}
	}
	name := make([]byte, int(size)+1)
	if _, err := io.ReadFull(dr.r, name); err != nil {
		return "", 0, 0, wrapIO(err)
	}

	dr.count--
	ref := inodeRef((uint64(dr.startBlock) << 16) | uint64(offset))
	return string(name), typ, ref, nil
}

// readHeader decodes a dir_header: a run of up to 256 entries sharing the
// same metadata-table start block and a base inode number the following
// entries' 16-bit signed inode_number deltas are relative to (spec.md §4.6
// "i16 inode-offset overflow rule" — a directory with entries spanning more
// than ±32767 from the header's base inode number is split across multiple
// headers by the writer).
func (dr *dirReader) readHeader() error {
	if err := binary.Read(dr.r, dr.rd.kind.TypeOrder, &dr.count); err != nil {
		return wrapIO(err)
	}
	if err := binary.Read(dr.r, dr.rd.kind.TypeOrder, &dr.startBlock); err != nil {
		return wrapIO(err)
	}
	if err := binary.Read(dr.r, dr.rd.kind.TypeOrder, &dr.inodeNum); err != nil {
		return wrapIO(err)
	}
	dr.count++ // count field is stored as (actual count - 1)
	return nil
}

func (dr *dirReader) ReadDir(n int) ([]fs.DirEntry, error) {
	var res []fs.DirEntry
	for {
		name, typ, ref, err := dr.nextfull()
		if err != nil {
			if err == io.EOF {
				return res, nil
			}
			return res, err
		}
		res = append(res, &direntry{name: name, typ: typ, ref: ref, rd: dr.rd})
		if n > 0 && len(res) >= n {
			return res, nil
		}
	}
}

// direntry implements fs.DirEntry for one directory entry.
type direntry struct {
	name string
	typ  Type
	ref  inodeRef
	rd   *Reader
}

func (de *direntry) Name() string      { return de.name }
func (de *direntry) IsDir() bool       { return de.typ.IsDir() }
func (de *direntry) Type() fs.FileMode { return de.typ.Mode() }

func (de *direntry) Info() (fs.FileInfo, error) {
	ino, err := de.rd.GetInodeRef(de.ref)
	if err != nil {
		return nil, err
	}
	return &fileinfo{name: de.name, ino: ino}, nil
}
