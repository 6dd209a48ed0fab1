package squashfs

// ReaderOption configures Open. Grounded on the teacher's options.go single
// InodeOffset option, generalized into a small functional-options set.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	kind      *Kind
	parallel  bool
	readAhead int
}

// WithKind forces endianness/version detection to a specific Kind instead
// of sniffing it from the magic bytes. Needed for the AVM variant, whose
// magic is indistinguishable from plain BigEndian (spec.md §9).
func WithKind(k Kind) ReaderOption {
	return func(c *readerConfig) { c.kind = &k }
}

// WithParallelReads sets the read-ahead depth that Inode.OpenParallel gives
// its ParallelFileReader, which prefetches that many blocks on background
// goroutines. depth <= 0 leaves OpenParallel at its default depth of 8.
// Files opened through Inode.OpenFile or Reader.FS always read
// sequentially, whatever this option says.
func WithParallelReads(depth int) ReaderOption {
	return func(c *readerConfig) {
		c.parallel = depth > 0
		c.readAhead = depth
	}
}

// WriterOption configures NewWriter.
type WriterOption func(*writerConfig)

type writerConfig struct {
	kind        Kind
	comp        CompId
	settings    Settings
	blockSize   uint32
	exportable  bool
	dedup       bool
	padLen      uint32
}

func defaultWriterConfig() *writerConfig {
	return &writerConfig{
		kind:      LittleEndian,
		comp:      CompGzip,
		blockSize: 131072,
		dedup:     true,
		padLen:    4096,
	}
}

// WithWriterKind selects the endianness/version variant to emit. Defaults
// to LittleEndian, the variant every modern squashfs tool produces.
func WithWriterKind(k Kind) WriterOption {
	return func(c *writerConfig) { c.kind = k }
}

// WithCompressor selects the data/metadata compressor and its options.
func WithCompressor(id CompId, settings Settings) WriterOption {
	return func(c *writerConfig) { c.comp = id; c.settings = settings }
}

// WithBlockSize sets the data block size (spec.md §3: power of two, 4KiB-1MiB).
func WithBlockSize(size uint32) WriterOption {
	return func(c *writerConfig) { c.blockSize = size }
}

// WithExportTable sets the EXPORTABLE superblock flag. No NFS export table
// is written: the superblock's export table offset stays NotSet.
func WithExportTable() WriterOption {
	return func(c *writerConfig) { c.exportable = true }
}

// WithoutDedup disables the content-hash data block dedup pass, emitting
// every data block even if byte-identical to one already written.
func WithoutDedup() WriterOption {
	return func(c *writerConfig) { c.dedup = false }
}

// WithPadding sets the image's trailing pad length. 0 disables padding.
func WithPadding(n uint32) WriterOption {
	return func(c *writerConfig) { c.padLen = n }
}
