package squashfs

import "io"

// ReadAt implements io.ReaderAt for a file inode, resolving each block of
// the requested range from either a literal data block, a shared fragment,
// or (for Blocks[i]==0, a sparse hole) a run of zero bytes.
//
// Grounded on the teacher's inode.go Inode.ReadAt, split out of Inode into
// Reader so a file's data path and a directory's listing path aren't
// bundled into the same type, and routed through the fragment cache added
// in fragment.go rather than redecompressing on every call.
func (i *Inode) ReadAt(p []byte, off int64) (int, error) {
	if i.Type.Basic() != FileType {
		return 0, ErrUnexpectedInode
	}
	return i.rd.readFileAt(i, p, off)
}

func (r *Reader) readFileAt(ino *Inode, p []byte, off int64) (int, error) {
	if uint64(off) >= ino.Size {
		return 0, io.EOF
	}
	if uint64(off)+uint64(len(p)) > ino.Size {
		p = p[:ino.Size-uint64(off)]
	}

	blockSize := int64(r.SB.BlockSize)
	block := int(off / blockSize)
	offset := int(off % blockSize)
	n := 0

	for len(p) > 0 {
		buf, err := r.readDataBlock(ino, block)
		if err != nil {
			return n, err
		}
		if offset > 0 {
			if offset >= len(buf) {
				buf = nil
			} else {
				buf = buf[offset:]
			}
		}
		l := copy(p, buf)
		n += l
		p = p[l:]
		if len(p) > 0 && l < len(buf) {
			// shouldn't happen: copy only stops short when p is exhausted
			break
		}
		block++
		offset = 0
	}
	return n, nil
}

// readDataBlock returns the decompressed bytes of file block index idx,
// which is either a literal block (Blocks[idx] holds its stored size and
// compression bit), a sparse hole (Blocks[idx]==0, spec.md §4.7), or the
// trailing fragment (Blocks[idx]==noFragment sentinel appended by
// readBlockList).
func (r *Reader) readDataBlock(ino *Inode, idx int) ([]byte, error) {
	if idx >= len(ino.Blocks) {
		return nil, io.EOF
	}
	b := ino.Blocks[idx]

	switch {
	case b == noFragment:
		data, err := r.readFragment(ino.FragBlock)
		if err != nil {
			return nil, err
		}
		if int(ino.FragOfft) > len(data) {
			return nil, newError(CorruptedOrInvalidSquashfs, "fragment offset beyond block", nil)
		}
		return data[ino.FragOfft:], nil

	case b == 0:
		return make([]byte, r.SB.BlockSize), nil

	default:
		size := b & 0xffffff
		stored := make([]byte, size)
		if _, err := r.src.ReadAt(stored, int64(ino.StartBlock+ino.BlocksOfft[idx])); err != nil {
			return nil, wrapIO(err)
		}
		if b&compressedSizeFlag == 0 {
			return decompress(r.SB.Comp, stored)
		}
		return stored, nil
	}
}
