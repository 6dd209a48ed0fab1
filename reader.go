package squashfs

import (
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Reader parses a SquashFS 4.0 image from a random-access source. It holds
// no open file handles of its own beyond src; all table state is resolved
// lazily and cached.
//
// Grounded on the teacher's Superblock (which doubled as both the parsed
// header and the "filesystem handle" object every other type held a
// pointer back to); this package splits that in two, so Superblock stays a
// plain serializable struct and Reader is the stateful handle.
type Reader struct {
	src  io.ReaderAt
	kind Kind
	SB   Superblock

	fragCache *fragmentCache
	inoCache  sync.Map // uint32 ino number -> inodeRef

	parallel  bool
	readAhead int
}

// Open parses the superblock at the start of src (whose total length must
// be size) and returns a ready-to-use Reader. The on-disk Kind is sniffed
// from the magic bytes unless WithKind forces one (required to select AVM,
// whose magic is indistinguishable from plain BigEndian).
func Open(src io.ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	cfg := &readerConfig{}
	for _, o := range opts {
		o(cfg)
	}

	hdr := make([]byte, SuperblockSize)
	if _, err := src.ReadAt(hdr, 0); err != nil {
		return nil, wrapIO(err)
	}

	var kind Kind
	if cfg.kind != nil {
		kind = *cfg.kind
	} else {
		var head [4]byte
		copy(head[:], hdr[:4])
		k, err := Sniff(head)
		if err != nil {
			return nil, err
		}
		kind = k
	}

	r := &Reader{
		src:       src,
		kind:      kind,
		fragCache: newFragmentCache(),
		parallel:  cfg.parallel,
		readAhead: cfg.readAhead,
	}
	if err := r.SB.UnmarshalBinary(kind, hdr); err != nil {
		return nil, err
	}
	if err := r.SB.Validate(kind, size); err != nil {
		return nil, err
	}
	Log.WithFields(logrus.Fields{
		"kind": kind.String(), "comp": r.SB.Comp, "inodes": r.SB.InodeCnt, "block_size": r.SB.BlockSize,
	}).Debug("squashfs: superblock parsed")
	return r, nil
}

// newInodeReader positions a MetadataReader to start decoding the inode
// referenced by ref.
func (r *Reader) newInodeReader(ref inodeRef) (*MetadataReader, error) {
	mr := NewMetadataReader(r.src, r.kind, r.SB.Comp, int64(r.SB.InodeTableStart)+int64(ref.Index()))
	if err := mr.SkipInto(int(ref.Offset())); err != nil {
		return nil, err
	}
	return mr, nil
}

// GetInodeRef decodes the inode at the given (block,offset) table address.
func (r *Reader) GetInodeRef(ref inodeRef) (*Inode, error) {
	mr, err := r.newInodeReader(ref)
	if err != nil {
		return nil, err
	}
	ino, err := readInode(mr, r.kind.TypeOrder, r.SB.BlockSize)
	if err != nil {
		return nil, err
	}
	ino.rd = r
	r.inoCache.Store(ino.Ino, ref)
	Log.WithFields(logrus.Fields{"ino": ino.Ino, "type": ino.Type, "block": ref.Index(), "offset": ref.Offset()}).
		Debug("squashfs: resolved inode")
	return ino, nil
}

// RootInode returns the image's root directory inode.
func (r *Reader) RootInode() (*Inode, error) {
	return r.GetInodeRef(inodeRef(r.SB.RootInode))
}

// GetInode resolves an inode by its squashfs inode number: numbers already
// seen via a prior inode decode (and therefore cached), the root inode (1),
// or, when the image carries an NFS export table, any number that table
// maps. Without an export table on disk there is no other way to invert an
// inode number into a table address, and this package's Writer never
// writes one.
func (r *Reader) GetInode(ino uint64) (*Inode, error) {
	if v, ok := r.inoCache.Load(uint32(ino)); ok {
		return r.GetInodeRef(v.(inodeRef))
	}
	if ino == 1 {
		return r.RootInode()
	}
	if r.SB.ExportTableStart != NotSet {
		ref, err := r.exportLookup(ino)
		if err == nil {
			return r.GetInodeRef(ref)
		}
	}
	return nil, ErrInodeNotExported
}

// exportLookup resolves a squashfs inode number to its table address via
// the on-disk NFS export table (one uint64 inodeRef per inode number,
// 8KiB/8=1024 entries per metadata block, two-level indirection identical
// to the fragment/id tables).
func (r *Reader) exportLookup(ino uint64) (inodeRef, error) {
	const refsPerBlock = maxMetadataPayload / 8
	idx := ino - 1
	ptrOff := int64(r.SB.ExportTableStart) + int64(idx/refsPerBlock)*8
	var ptr [8]byte
	if _, err := r.src.ReadAt(ptr[:], ptrOff); err != nil {
		return 0, wrapIO(err)
	}
	blockStart := int64(r.kind.TypeOrder.Uint64(ptr[:]))
	mr := NewMetadataReader(r.src, r.kind, r.SB.Comp, blockStart)
	if err := mr.SkipInto(int(idx%refsPerBlock) * 8); err != nil {
		return 0, err
	}
	var raw uint64
	buf := make([]byte, 8)
	if _, err := io.ReadFull(mr, buf); err != nil {
		return 0, wrapIO(err)
	}
	raw = r.kind.TypeOrder.Uint64(buf)
	return inodeRef(raw), nil
}

// dirReader opens a sequential reader over ino's directory entries.
func (r *Reader) dirReader(ino *Inode) (*dirReader, error) {
	mr := NewMetadataReader(r.src, r.kind, r.SB.Comp, int64(r.SB.DirTableStart)+int64(ino.StartBlock))
	if err := mr.SkipInto(int(ino.Offset)); err != nil {
		return nil, err
	}
	// a basic directory's on-disk size includes a 3-byte trailer that isn't
	// a real entry (spec.md §4.6); cut it here so nextfull's EOF check at
	// N==3 matches exactly what the teacher's dirReader relied on.
	return &dirReader{rd: r, r: &io.LimitedReader{R: mr, N: int64(ino.Size)}}, nil
}

// LookupRelativeInode resolves a single path component under dir.
func (r *Reader) LookupRelativeInode(dir *Inode, name string) (*Inode, error) {
	if !dir.IsDir() {
		return nil, ErrNotDirectory
	}
	dr, err := r.dirReader(dir)
	if err != nil {
		return nil, err
	}
	for {
		ename, ref, err := dr.next()
		if err != nil {
			if err == io.EOF {
				return nil, ErrFileNotFound
			}
			return nil, err
		}
		if ename == name {
			return r.GetInodeRef(ref)
		}
	}
}

// maxSymlinkDepth bounds the chain of symlinks LookupPath will follow
// before giving up with ErrTooManySymlinks, the same guard the teacher's
// path resolution relied on.
const maxSymlinkDepth = 40

// LookupPath resolves a slash-separated path relative to dir (typically the
// root inode), component by component, following symlinks encountered
// along the way up to maxSymlinkDepth deep.
func (r *Reader) LookupPath(dir *Inode, name string) (*Inode, error) {
	return r.lookupPath(dir, name, 0)
}

func (r *Reader) lookupPath(dir *Inode, name string, depth int) (*Inode, error) {
	cur := dir
	name = strings.Trim(name, "/")
	if name == "" {
		return cur, nil
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" {
			continue
		}
		next, err := r.LookupRelativeInode(cur, part)
		if err != nil {
			return nil, err
		}
		if next.Type.Basic() == SymlinkType {
			depth++
			if depth > maxSymlinkDepth {
				return nil, ErrTooManySymlinks
			}
			target, err := next.Readlink()
			if err != nil {
				return nil, err
			}
			next, err = r.lookupPath(cur, string(target), depth)
			if err != nil {
				return nil, err
			}
		}
		cur = next
	}
	return cur, nil
}

// OpenFS opens name in the image, backing the minimal io/fs.FS surface
// that FS returns, suitable for fs.WalkDir and friends.
func (r *Reader) OpenFS(name string) (fs.File, error) {
	root, err := r.RootInode()
	if err != nil {
		return nil, err
	}
	ino, err := r.LookupPath(root, name)
	if err != nil {
		return nil, err
	}
	return ino.OpenFile(name), nil
}

var _ fs.FS = (*fsAdapter)(nil)

// fsAdapter adapts Reader to io/fs.FS without requiring Reader itself to
// commit to the fs.FS method set (OpenFS above is kept distinct from Open,
// which this package already uses for the top-level entry point).
type fsAdapter struct{ r *Reader }

func (a *fsAdapter) Open(name string) (fs.File, error) { return a.r.OpenFS(name) }

// FS returns an io/fs.FS view of the image rooted at its top-level directory.
func (r *Reader) FS() fs.FS { return &fsAdapter{r: r} }
