package squashfs

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Writer builds a SquashFS image in memory and streams it out when
// Finalize is called. Callers populate the tree either by pushing entries
// one at a time (PushFile, PushDir, PushSymlink, PushDevice, PushFifo,
// PushSocket) or by mirroring an existing fs.FS with PushDirAll.
//
// Grounded on the teacher's writer.go Writer/writerInode and its multi-pass
// inode/directory convergence loop (computeInodePositions ->
// buildDirectoryEntryData -> simulateDirectoryIndices, iterated to a fixed
// point because a directory's serialized size depends on its entries'
// final inode-table addresses, which in turn depend on every directory's
// serialized size). This generalizes that loop to serialize through the
// shared inode.go codec, and adds the fragment table, content-addressed
// block dedup and compression-options emission the teacher's writer never
// had.
type Writer struct {
	w  io.Writer
	wa io.WriterAt
	buf *bytes.Buffer
	offset uint64

	cfg *writerConfig

	root       *writerInode
	inodes     []*writerInode
	inodeCount uint32
	byPath     map[string]*writerInode
	paths      *tree // duplicate-path guard + sorted path view, see tree.go

	ids *idTable

	// data block dedup: sha256 of a block's bytes -> where it was already
	// written, so repacking identical content (common with container
	// layers sharing base-image files) costs one copy, not N.
	blockDedup map[[32]byte]dedupLoc

	fragBuf     bytes.Buffer // tail bytes waiting to be flushed as a fragment block
	fragEntries []fragEntry  // fragment table being built
	fragOwners  []*fragTail  // which inode/offset each pending fragBuf byte belongs to

	idTableStart     uint64
	inodeTableStart  uint64
	dirTableStart    uint64
	fragTableStart   uint64
	exportTableStart uint64
	bytesUsed        uint64
}

type dedupLoc struct {
	start uint64
	size  uint32 // includes compressedSizeFlag bit, ready to drop straight into dataBlocks
}

// fragTail records that inode needs its fragBlock index patched once
// fragBuf is flushed, since the final fragment block index isn't known
// until then.
type fragTail struct {
	inode *writerInode
	offt  uint32
}

// writerInode is a pending tree entry. Grounded on the teacher's
// writerInode, trimmed of its fs.WalkDir-specific fields and extended with
// a content source usable from both PushFile and the fs.FS mirror path.
type writerInode struct {
	path string
	name string
	ino  uint32

	mode      fs.FileMode
	size      uint64
	modTime   int64
	uid, gid  uint32
	nlink     uint32
	fileType  Type
	symTarget string
	rdev      uint32

	open func() (io.ReadCloser, error)

	entries []*writerInode
	parent  *writerInode

	dirOffset uint32
	dirIndex  []DirIndexEntry
	dirData   []byte

	dataBlocks []uint32
	startBlock uint64
	fragBlock  uint32
	fragOfft   uint32

	inodeBlockStart uint32
	inodeOffset     uint32
}

// DirIndexEntry is one entry in an XDirType inode's directory index,
// letting a reader binary-search a large directory instead of scanning it
// linearly.
type DirIndexEntry struct {
	Index uint32
	Start uint32
	Name  string
}

// NewWriter creates a Writer that will stream its finished image to w.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	cfg := defaultWriterConfig()
	for _, o := range opts {
		o(cfg)
	}

	writer := &Writer{
		w:          w,
		cfg:        cfg,
		byPath:     make(map[string]*writerInode),
		paths:      newTree(),
		ids:        newIDTable(),
		blockDedup: make(map[[32]byte]dedupLoc),
	}
	if wa, ok := w.(io.WriterAt); ok {
		writer.wa = wa
		writer.offset = SuperblockSize
	} else {
		writer.buf = &bytes.Buffer{}
		writer.buf.Write(make([]byte, SuperblockSize))
		writer.offset = SuperblockSize
	}

	writer.root = &writerInode{
		path: "", name: "", ino: 1,
		mode: fs.ModeDir | 0755, modTime: time.Now().Unix(),
		nlink: 2, fileType: DirType,
	}
	writer.inodes = append(writer.inodes, writer.root)
	writer.byPath[""] = writer.root
	writer.paths.insert(&treeNode{Path: "", Name: "", Type: DirType, Ino: 1})
	writer.inodeCount = 1

	return writer, nil
}

func (w *Writer) nextIno() uint32 {
	w.inodeCount++
	return w.inodeCount
}

func (w *Writer) parentOf(path string) (*writerInode, error) {
	p, ok := w.byPath[parentPath(path)]
	if !ok {
		return nil, newError(CorruptedOrInvalidSquashfs, fmt.Sprintf("parent directory not found for %s", path), nil)
	}
	return p, nil
}

func (w *Writer) link(n *writerInode) {
	w.inodes = append(w.inodes, n)
	w.byPath[n.path] = n
	w.paths.insert(&treeNode{
		Path: n.path, Name: n.name, Type: n.fileType, Perm: uint16(n.mode.Perm()),
		Uid: n.uid, Gid: n.gid, ModTime: int32(n.modTime), Target: n.symTarget,
		Rdev: n.rdev, Ino: n.ino,
	})
	if n.parent != nil {
		n.parent.entries = append(n.parent.entries, n)
	}
}

// checkNewPath rejects a path already pushed, looking it up in the path
// tree.
func (w *Writer) checkNewPath(path string) error {
	if _, exists := w.paths.find(path); exists {
		return newError(CorruptedOrInvalidSquashfs, fmt.Sprintf("path already pushed: %s", path), nil)
	}
	return nil
}

// PushDir adds an empty directory at path (slash-separated, no leading
// slash) with the given permission bits.
func (w *Writer) PushDir(path string, perm fs.FileMode, uid, gid uint32, modTime time.Time) error {
	parent, err := w.parentOf(path)
	if err != nil {
		return err
	}
	if err := w.checkNewPath(path); err != nil {
		return err
	}
	n := &writerInode{
		path: path, name: basename(path), ino: w.nextIno(),
		mode: fs.ModeDir | perm, uid: uid, gid: gid,
		modTime: modTime.Unix(), nlink: 2, fileType: DirType, parent: parent,
	}
	w.link(n)
	return nil
}

// PushFile adds a regular file at path. open is called once during
// Finalize, and the file's whole content is read into memory from it.
func (w *Writer) PushFile(path string, perm fs.FileMode, uid, gid uint32, modTime time.Time, open func() (io.ReadCloser, error)) error {
	parent, err := w.parentOf(path)
	if err != nil {
		return err
	}
	if err := w.checkNewPath(path); err != nil {
		return err
	}
	n := &writerInode{
		path: path, name: basename(path), ino: w.nextIno(),
		mode: perm, uid: uid, gid: gid, modTime: modTime.Unix(),
		nlink: 1, fileType: FileType, parent: parent, open: open,
	}
	w.link(n)
	return nil
}

// PushSymlink adds a symbolic link at path pointing at target.
func (w *Writer) PushSymlink(path, target string, uid, gid uint32, modTime time.Time) error {
	parent, err := w.parentOf(path)
	if err != nil {
		return err
	}
	if err := w.checkNewPath(path); err != nil {
		return err
	}
	n := &writerInode{
		path: path, name: basename(path), ino: w.nextIno(),
		mode: fs.ModeSymlink | 0777, uid: uid, gid: gid, modTime: modTime.Unix(),
		nlink: 1, fileType: SymlinkType, symTarget: target, size: uint64(len(target)), parent: parent,
	}
	w.link(n)
	return nil
}

// PushDevice adds a block or character device node at path. rdev packs
// major:minor the same way Linux's MKDEV does.
func (w *Writer) PushDevice(path string, char bool, rdev uint32, perm fs.FileMode, uid, gid uint32, modTime time.Time) error {
	parent, err := w.parentOf(path)
	if err != nil {
		return err
	}
	if err := w.checkNewPath(path); err != nil {
		return err
	}
	t := BlockDevType
	m := fs.ModeDevice
	if char {
		t = CharDevType
		m = fs.ModeDevice | fs.ModeCharDevice
	}
	n := &writerInode{
		path: path, name: basename(path), ino: w.nextIno(),
		mode: m | perm, uid: uid, gid: gid, modTime: modTime.Unix(),
		nlink: 1, fileType: t, rdev: rdev, parent: parent,
	}
	w.link(n)
	return nil
}

// PushFifo adds a named pipe at path.
func (w *Writer) PushFifo(path string, perm fs.FileMode, uid, gid uint32, modTime time.Time) error {
	return w.pushIPC(path, FifoType, fs.ModeNamedPipe, perm, uid, gid, modTime)
}

// PushSocket adds a UNIX domain socket node at path.
func (w *Writer) PushSocket(path string, perm fs.FileMode, uid, gid uint32, modTime time.Time) error {
	return w.pushIPC(path, SocketType, fs.ModeSocket, perm, uid, gid, modTime)
}

func (w *Writer) pushIPC(path string, t Type, m fs.FileMode, perm fs.FileMode, uid, gid uint32, modTime time.Time) error {
	parent, err := w.parentOf(path)
	if err != nil {
		return err
	}
	if err := w.checkNewPath(path); err != nil {
		return err
	}
	n := &writerInode{
		path: path, name: basename(path), ino: w.nextIno(),
		mode: m | perm, uid: uid, gid: gid, modTime: modTime.Unix(),
		nlink: 1, fileType: t, parent: parent,
	}
	w.link(n)
	return nil
}

// PushDirAll mirrors every entry of srcFS rooted at "." into the image,
// creating intermediate directories as needed. This is the fs.WalkDir-
// driven entry point spec.md names alongside the one-at-a-time Push*
// methods; grounded on the teacher's Add (which was written to be passed
// directly as a fs.WalkDirFunc).
func (w *Writer) PushDirAll(srcFS fs.FS) error {
	return fs.WalkDir(srcFS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		uid, gid := sysOwner(info)
		switch {
		case info.Mode().IsDir():
			return w.PushDir(p, info.Mode().Perm(), uid, gid, info.ModTime())
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := fs.ReadLink(srcFS, p)
			if err != nil {
				return err
			}
			return w.PushSymlink(p, target, uid, gid, info.ModTime())
		case info.Mode().IsRegular():
			return w.PushFile(p, info.Mode().Perm(), uid, gid, info.ModTime(), func() (io.ReadCloser, error) {
				return srcFS.Open(p)
			})
		default:
			// device/fifo/socket nodes aren't representable through io/fs;
			// skip rather than guess.
			return nil
		}
	})
}

func sysOwner(info fs.FileInfo) (uid, gid uint32) {
	if sys := info.Sys(); sys != nil {
		if statT, ok := sys.(interface {
			Uid() uint32
			Gid() uint32
		}); ok {
			return statT.Uid(), statT.Gid()
		}
	}
	return 0, 0
}

func (w *Writer) write(data []byte) error {
	if w.wa != nil {
		_, err := w.wa.WriteAt(data, int64(w.offset))
		if err != nil {
			return err
		}
	} else {
		if _, err := w.buf.Write(data); err != nil {
			return err
		}
	}
	w.offset += uint64(len(data))
	return nil
}

// writeFileData streams every file's content into data blocks, deduping
// identical blocks by content hash when cfg.dedup is set and packing each
// file's final partial block into the shared fragment buffer rather than
// padding it out to a full block (spec.md §4.5's default fragment-packing
// path).
func (w *Writer) writeFileData() error {
	for _, n := range w.inodes {
		if n.fileType != FileType {
			continue
		}
		if err := w.writeOneFile(n); err != nil {
			return fmt.Errorf("writing %s: %w", n.path, err)
		}
	}
	return nil
}

func (w *Writer) writeOneFile(n *writerInode) error {
	n.fragBlock = noFragment
	if n.open == nil {
		return nil
	}
	rc, err := n.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	n.size = uint64(len(data))
	n.startBlock = w.offset

	blockSize := int(w.cfg.blockSize)
	full := len(data)
	if full%blockSize != 0 {
		full -= full % blockSize
	}

	for off := 0; off < full; off += blockSize {
		block := data[off : off+blockSize]
		sizeWord, loc, err := w.emitDataBlock(block)
		if err != nil {
			return err
		}
		n.dataBlocks = append(n.dataBlocks, sizeWord)
		_ = loc
	}

	if tail := data[full:]; len(tail) > 0 {
		n.fragOfft = uint32(w.fragBuf.Len())
		w.fragBuf.Write(tail)
		w.fragOwners = append(w.fragOwners, &fragTail{inode: n, offt: uint32(len(w.fragEntries))})
		if w.fragBuf.Len() >= int(w.cfg.blockSize) {
			if err := w.flushFragment(); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitDataBlock writes one full-size data block, reusing an earlier
// identical block's location instead of rewriting it when dedup is
// enabled.
func (w *Writer) emitDataBlock(block []byte) (uint32, dedupLoc, error) {
	var key [32]byte
	if w.cfg.dedup {
		key = sha256.Sum256(block)
		if loc, ok := w.blockDedup[key]; ok {
			return loc.size, loc, nil
		}
	}

	compressed, err := compress(w.cfg.comp, block, w.cfg.settings)
	var sizeWord uint32
	if err != nil || len(compressed) >= len(block) {
		loc := dedupLoc{start: w.offset, size: uint32(len(block)) | compressedSizeFlag}
		if werr := w.write(block); werr != nil {
			return 0, loc, werr
		}
		sizeWord = loc.size
		if w.cfg.dedup {
			w.blockDedup[key] = loc
		}
		return sizeWord, loc, nil
	}

	loc := dedupLoc{start: w.offset, size: uint32(len(compressed))}
	if werr := w.write(compressed); werr != nil {
		return 0, loc, werr
	}
	if w.cfg.dedup {
		w.blockDedup[key] = loc
	}
	return loc.size, loc, nil
}

// flushFragment frames the pending fragment buffer as one fragment block,
// records its fragEntry, and patches every owning inode's FragBlock index.
func (w *Writer) flushFragment() error {
	if w.fragBuf.Len() == 0 {
		return nil
	}
	data := append([]byte(nil), w.fragBuf.Bytes()...)
	compressed, err := compress(w.cfg.comp, data, w.cfg.settings)
	var entry fragEntry
	entry.Start = w.offset
	if err != nil || len(compressed) >= len(data) {
		entry.Size = uint32(len(data)) | compressedSizeFlag
		if werr := w.write(data); werr != nil {
			return werr
		}
	} else {
		entry.Size = uint32(len(compressed))
		if werr := w.write(compressed); werr != nil {
			return werr
		}
	}

	idx := uint32(len(w.fragEntries))
	w.fragEntries = append(w.fragEntries, entry)
	for _, owner := range w.fragOwners {
		owner.inode.fragBlock = idx
	}
	w.fragOwners = nil
	w.fragBuf.Reset()
	return nil
}

func (w *Writer) buildIDTable() {
	for _, n := range w.inodes {
		w.ids.register(n.uid)
		w.ids.register(n.gid)
	}
}

func (w *Writer) writeIDTable() error {
	ptrTable, blocks, err := w.ids.marshal(w.cfg.kind, w.cfg.comp, w.cfg.settings)
	if err != nil {
		return err
	}
	blockBase := w.offset
	if err := w.write(blocks); err != nil {
		return err
	}
	rebased := make([]byte, len(ptrTable))
	copy(rebased, ptrTable)
	for i := 0; i*8 < len(rebased); i++ {
		p := w.cfg.kind.TypeOrder.Uint64(rebased[i*8:])
		w.cfg.kind.TypeOrder.PutUint64(rebased[i*8:], p+blockBase)
	}
	w.idTableStart = w.offset
	return w.write(rebased)
}

func (w *Writer) writeFragmentTable() error {
	if len(w.fragEntries) == 0 {
		w.fragTableStart = NotSet
		return nil
	}
	mw := NewMetadataWriter(w.cfg.kind, w.cfg.comp, w.cfg.settings)
	var ptrs []uint64
	for i, e := range w.fragEntries {
		if i%fragsPerBlock == 0 {
			ptrs = append(ptrs, mw.Len())
		}
		rec := make([]byte, 16)
		w.cfg.kind.DataOrder.PutUint64(rec[0:8], e.Start)
		w.cfg.kind.DataOrder.PutUint32(rec[8:12], e.Size)
		if _, err := mw.Write(rec); err != nil {
			return err
		}
	}
	if err := mw.Finalize(); err != nil {
		return err
	}
	blockBase := w.offset
	if err := w.write(mw.Bytes()); err != nil {
		return err
	}
	w.fragTableStart = w.offset
	ptrBuf := make([]byte, 8*len(ptrs))
	for i, p := range ptrs {
		w.cfg.kind.TypeOrder.PutUint64(ptrBuf[i*8:], p+blockBase)
	}
	return w.write(ptrBuf)
}

const indexInterval = 256

type inodePosition struct {
	blockNum int
	offset   uint32
}

func (w *Writer) prepareDirectories() {
	for _, n := range w.inodes {
		if n.fileType != DirType {
			continue
		}
		sort.Slice(n.entries, func(i, j int) bool { return n.entries[i].name < n.entries[j].name })
		if len(n.entries) > indexInterval {
			n.fileType = XDirType
		}
	}
}

// toInode builds the shared-codec Inode view of n, used both to serialize
// it through inode.go's writeInode and (indirectly, via its size) to
// compute metadata block boundaries during convergence.
func (n *writerInode) toInode(uidIdx, gidIdx uint16) *Inode {
	ino := &Inode{
		Type: n.fileType, Perm: uint16(n.mode.Perm()), UidIdx: uidIdx, GidIdx: gidIdx,
		ModTime: int32(n.modTime), Ino: n.ino,
		StartBlock: n.startBlock, NLink: n.nlink, Size: n.size, Offset: n.dirOffset,
		SymTarget: []byte(n.symTarget), IdxCount: uint16(len(n.dirIndex)), XattrIdx: 0xffffffff,
		FragBlock: n.fragBlock, FragOfft: n.fragOfft, Blocks: n.dataBlocks, Rdev: n.rdev,
	}
	if n.parent != nil {
		ino.ParentIno = n.parent.ino
	} else {
		ino.ParentIno = 1
	}
	return ino
}

func (w *Writer) serializeInode(n *writerInode) ([]byte, error) {
	uidIdx := w.ids.register(n.uid)
	gidIdx := w.ids.register(n.gid)
	ino := n.toInode(uidIdx, gidIdx)
	// directories encode their directory-table (block,offset) location in
	// place of StartBlock/Offset; toInode already copied dirOffset into
	// Offset, and the block start is patched in by the caller once known.
	if n.fileType == DirType || n.fileType == XDirType {
		ino.StartBlock = 0 // patched by buildInodeTableToBuffer's second pass
	}
	buf := &bytes.Buffer{}
	if err := writeInode(buf, w.cfg.kind.TypeOrder, ino); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// serializeInodeWithDirBlock is serializeInode but with the directory's
// table-relative start block baked in — split out so the convergence loop
// can reserialize only directories once blockPositions stabilizes.
func (w *Writer) serializeInodeWithDirBlock(n *writerInode, dirBlockStart uint32) ([]byte, error) {
	uidIdx := w.ids.register(n.uid)
	gidIdx := w.ids.register(n.gid)
	ino := n.toInode(uidIdx, gidIdx)
	ino.StartBlock = uint64(dirBlockStart)
	buf := &bytes.Buffer{}
	if err := writeInode(buf, w.cfg.kind.TypeOrder, ino); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *Writer) buildDirectoryEntryData(n *writerInode, inodePos map[uint32]inodePosition, blockPositions []uint32) []byte {
	if n.fileType != DirType && n.fileType != XDirType {
		return nil
	}
	buf := &bytes.Buffer{}
	order := w.cfg.kind.TypeOrder

	if len(n.entries) == 0 {
		binary.Write(buf, order, uint32(0))
		binary.Write(buf, order, uint32(0))
		binary.Write(buf, order, n.ino)
		return buf.Bytes()
	}

	if n.fileType == XDirType {
		n.dirIndex = n.dirIndex[:0]
	}

	i := 0
	for i < len(n.entries) {
		start := i
		firstBlock := inodePos[n.entries[start].ino].blockNum
		end := start
		for end < len(n.entries) && end-start < indexInterval && inodePos[n.entries[end].ino].blockNum == firstBlock &&
			int32(n.entries[end].ino)-int32(n.entries[start].ino) >= -32768 &&
			int32(n.entries[end].ino)-int32(n.entries[start].ino) <= 32767 {
			end++
		}
		chunk := n.entries[start:end]

		if n.fileType == XDirType {
			n.dirIndex = append(n.dirIndex, DirIndexEntry{Index: uint32(buf.Len()), Name: chunk[0].name})
		}

		binary.Write(buf, order, uint32(len(chunk)-1))
		blockPos := uint32(0)
		if firstBlock < len(blockPositions) {
			blockPos = blockPositions[firstBlock]
		}
		binary.Write(buf, order, blockPos)
		binary.Write(buf, order, chunk[0].ino)

		for _, e := range chunk {
			binary.Write(buf, order, uint16(inodePos[e.ino].offset))
			binary.Write(buf, order, int16(int32(e.ino)-int32(chunk[0].ino)))
			binary.Write(buf, order, e.fileType)
			binary.Write(buf, order, uint16(len(e.name)-1))
			buf.WriteString(e.name)
		}
		i = end
	}
	return buf.Bytes()
}

func (w *Writer) computeInodePositions() map[uint32]inodePosition {
	pos := make(map[uint32]inodePosition)
	block := 0
	cur := &bytes.Buffer{}
	for _, n := range w.inodes {
		data, _ := w.serializeInode(n)
		if cur.Len() > 0 && cur.Len()+len(data) > maxMetadataPayload {
			block++
			cur.Reset()
		}
		pos[n.ino] = inodePosition{blockNum: block, offset: uint32(cur.Len())}
		cur.Write(data)
	}
	return pos
}

// buildInodeTableToBuffer runs the fixed-point convergence loop: directory
// entry data depends on every other inode's final table position, and an
// inode's table position depends on every directory's serialized size
// (which depends on its entry data). Re-deriving both from scratch each
// round converges in practice within a handful of iterations because only
// directory sizes move, and they only move when a chunk crosses a metadata
// block boundary.
func (w *Writer) buildInodeTableToBuffer() ([]byte, error) {
	var inodePos map[uint32]inodePosition
	var dirPos map[uint32]inodePosition
	var blockPositions []uint32

	for round := 0; round < 8; round++ {
		inodePos = w.computeInodePositions()

		for _, n := range w.inodes {
			if n.fileType == DirType || n.fileType == XDirType {
				n.dirData = w.buildDirectoryEntryData(n, inodePos, blockPositions)
				n.size = uint64(len(n.dirData)) + 3
			}
		}

		newDirPos, newBlockPositions := w.computeDirTablePositions()
		for _, n := range w.inodes {
			if n.fileType == DirType || n.fileType == XDirType {
				n.dirOffset = newDirPos[n.ino].offset
			}
		}
		if blockPositions != nil && sameUint32s(blockPositions, newBlockPositions) {
			dirPos = newDirPos
			blockPositions = newBlockPositions
			Log.WithFields(logrus.Fields{"round": round, "blocks": len(blockPositions)}).
				Debug("squashfs: inode/dir table layout converged")
			break
		}
		dirPos = newDirPos
		blockPositions = newBlockPositions
	}

	mw := &bytes.Buffer{}
	cur := &bytes.Buffer{}
	flush := func() error {
		if cur.Len() == 0 {
			return nil
		}
		framed, err := frameMetadataBlock(cur.Bytes(), w.cfg.kind, w.cfg.comp, w.cfg.settings)
		if err != nil {
			return err
		}
		mw.Write(framed)
		cur.Reset()
		return nil
	}

	for _, n := range w.inodes {
		var data []byte
		var err error
		if n.fileType == DirType || n.fileType == XDirType {
			dirBlock := uint32(0)
			if b := dirPos[n.ino].blockNum; b < len(blockPositions) {
				dirBlock = blockPositions[b]
			}
			data, err = w.serializeInodeWithDirBlock(n, dirBlock)
		} else {
			data, err = w.serializeInode(n)
		}
		if err != nil {
			return nil, err
		}
		if cur.Len() > 0 && cur.Len()+len(data) > maxMetadataPayload {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		cur.Write(data)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return mw.Bytes(), nil
}

// computeDirTablePositions measures where each directory's dirData chunk
// would land within the directory table's own metadata-block chunking,
// mirroring computeInodePositions but over directory entry data instead of
// serialized inodes. blockPositions[i] is filled in relative to 0 here and
// rebased to dirTableStart by writeDirectoryTable / the superblock's
// absolute addressing scheme (directory block pointers are table-relative,
// not image-absolute, per spec.md §4.6).
func (w *Writer) computeDirTablePositions() (map[uint32]inodePosition, []uint32) {
	pos := make(map[uint32]inodePosition)
	var blockPositions []uint32
	var runningOffset uint32
	cur := &bytes.Buffer{}
	block := 0
	flush := func() {
		framed, _ := frameMetadataBlock(cur.Bytes(), w.cfg.kind, w.cfg.comp, w.cfg.settings)
		runningOffset += uint32(len(framed))
		cur.Reset()
		block++
	}

	blockPositions = append(blockPositions, 0)
	for _, n := range w.inodes {
		if n.fileType != DirType && n.fileType != XDirType {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(n.dirData) > maxMetadataPayload {
			flush()
			blockPositions = append(blockPositions, runningOffset)
		}
		pos[n.ino] = inodePosition{blockNum: block, offset: uint32(cur.Len())}
		cur.Write(n.dirData)
	}
	return pos, blockPositions
}

func sameUint32s(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (w *Writer) writeDirectoryTable() error {
	w.dirTableStart = w.offset
	cur := &bytes.Buffer{}
	flush := func() error {
		if cur.Len() == 0 {
			return nil
		}
		framed, err := frameMetadataBlock(cur.Bytes(), w.cfg.kind, w.cfg.comp, w.cfg.settings)
		if err != nil {
			return err
		}
		cur.Reset()
		return w.write(framed)
	}
	for _, n := range w.inodes {
		if n.fileType != DirType && n.fileType != XDirType {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(n.dirData) > maxMetadataPayload {
			if err := flush(); err != nil {
				return err
			}
		}
		cur.Write(n.dirData)
	}
	return flush()
}

// Finalize writes the complete image after the superblock placeholder
// NewWriter reserved: compression options (if any), file data (with dedup
// and fragment packing), directory table, inode table, id table, fragment
// table and padding, then backfills the real superblock.
func (w *Writer) Finalize() error {
	Log.WithFields(logrus.Fields{"inodes": w.inodeCount, "comp": w.cfg.comp}).Debug("squashfs: finalize starting")

	// The compression-options metadata block, when present, is the very
	// first thing after the superblock (spec.md §4.2). Writing it here,
	// before any table whose offset depends on it, is what lets the
	// COMPRESSOR_OPTIONS flag buildSuperblock sets always match what's
	// actually on disk.
	if opts, err := compressionOptions(w.cfg.comp, w.cfg.settings); err == nil && opts != nil {
		framed, err := frameMetadataBlock(opts, w.cfg.kind, w.cfg.comp, w.cfg.settings)
		if err != nil {
			return err
		}
		if err := w.write(framed); err != nil {
			return err
		}
	}

	w.prepareDirectories()
	w.buildIDTable()

	if err := w.writeFileData(); err != nil {
		return err
	}
	if err := w.flushFragment(); err != nil {
		return err
	}

	inodeTableData, err := w.buildInodeTableToBuffer()
	if err != nil {
		return err
	}
	if err := w.writeDirectoryTable(); err != nil {
		return err
	}
	w.inodeTableStart = w.offset
	if err := w.write(inodeTableData); err != nil {
		return err
	}
	if err := w.writeIDTable(); err != nil {
		return err
	}
	if err := w.writeFragmentTable(); err != nil {
		return err
	}
	w.exportTableStart = NotSet

	w.bytesUsed = w.offset
	sb := w.buildSuperblock()
	sbData, err := sb.MarshalBinary(w.cfg.kind)
	if err != nil {
		return err
	}

	if w.cfg.padLen > 0 {
		pad := int(w.cfg.padLen) - int(w.bytesUsed%uint64(w.cfg.padLen))
		if pad != int(w.cfg.padLen) {
			if err := w.write(make([]byte, pad)); err != nil {
				return err
			}
		}
	}

	Log.WithFields(logrus.Fields{"bytes_used": w.bytesUsed}).Debug("squashfs: finalize complete")

	if w.wa != nil {
		_, err := w.wa.WriteAt(sbData, 0)
		return err
	}
	data := w.buf.Bytes()
	copy(data[0:SuperblockSize], sbData)
	_, err = w.w.Write(data)
	return err
}

func (w *Writer) buildSuperblock() *Superblock {
	blockLog := uint16(0)
	for i := uint16(0); i < 32; i++ {
		if uint32(1)<<i == w.cfg.blockSize {
			blockLog = i
			break
		}
	}

	sb := &Superblock{
		Magic:             w.cfg.kind.Magic,
		InodeCnt:          w.inodeCount,
		ModTime:           int32(time.Now().Unix()),
		BlockSize:         w.cfg.blockSize,
		FragCount:         uint32(len(w.fragEntries)),
		Comp:              w.cfg.comp,
		BlockLog:          blockLog,
		IdCount:           uint16(len(w.ids.ids)),
		VMajor:            w.cfg.kind.VMajor,
		VMinor:            w.cfg.kind.VMinor,
		RootInode:         0, // root is w.inodes[0], serialized at block 0 offset 0
		BytesUsed:         w.bytesUsed,
		IdTableStart:      w.idTableStart,
		XattrIdTableStart: NotSet,
		InodeTableStart:   w.inodeTableStart,
		DirTableStart:     w.dirTableStart,
		FragTableStart:    w.fragTableStart,
		ExportTableStart:  w.exportTableStart,
	}
	if w.cfg.exportable {
		sb.Flags |= EXPORTABLE
	}
	if opts, _ := compressionOptions(w.cfg.comp, w.cfg.settings); opts != nil {
		sb.Flags |= COMPRESSOR_OPTIONS
	}
	return sb
}
