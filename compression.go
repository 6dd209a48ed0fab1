package squashfs

import "sync"

// CompId is the on-disk compressor identifier (superblock "compressor" field).
type CompId uint16

const (
	CompNone CompId = 0
	CompGzip CompId = 1
	CompLzma CompId = 2
	CompLzo  CompId = 3
	CompXz   CompId = 4
	CompLz4  CompId = 5
	CompZstd CompId = 6
)

func (c CompId) String() string {
	switch c {
	case CompNone:
		return "none"
	case CompGzip:
		return "gzip"
	case CompLzma:
		return "lzma"
	case CompLzo:
		return "lzo"
	case CompXz:
		return "xz"
	case CompLz4:
		return "lz4"
	case CompZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Settings carries the per-algorithm knobs the writer exposes (§4.2:
// "Applies algorithm-specific settings: dictionary size and BCJ filters for
// xz, preset level for gzip/zstd/lzo, etc."). Only the fields relevant to
// the chosen CompId are consulted; everything else is ignored.
type Settings struct {
	// Level is the generic compression-level knob (gzip, zstd, lzo).
	Level int
	// DictSize is the xz/lzma dictionary size in bytes. Zero means the
	// codec's default.
	DictSize uint32
	// Filters lists xz BCJ filter names ("x86", "arm", ...) to record in the
	// xz compression-options block. The xz compressor does not apply them to
	// the data it compresses.
	Filters []string
}

// Compressor is the pluggable per-algorithm codec behind the compression
// facade (§4.2). Implementations are registered once at init() time by each
// compress_*.go file, mirroring the teacher's comp_xz.go/comp_zstd.go
// init()-based registration.
type Compressor interface {
	// Decompress fills and returns a buffer holding the uncompressed form
	// of input. For buffer-oriented codecs the returned slice may reuse
	// capacity from a previous call; callers must not retain it past their
	// next call into the same Compressor.
	Decompress(input []byte) ([]byte, error)

	// Compress returns the compressed form of input using the given
	// settings. The caller is responsible for comparing the result's
	// length against len(input) and falling back to storing input
	// uncompressed when compression doesn't help (§4.3, §8 property 3).
	Compress(input []byte, settings Settings) ([]byte, error)

	// Options returns the serialized compression-options payload for this
	// codec's current settings, or nil if this codec carries no options
	// metadata block (§4.2 compression_options). The returned bytes, if
	// non-nil, become the single metadata block emitted right after the
	// superblock with the COMPRESSOR_OPTIONS flag set.
	Options(settings Settings) ([]byte, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[CompId]func() Compressor{}
)

// RegisterCompressor registers a Compressor factory against a CompId. Called
// from each compress_*.go file's init(), generalizing the teacher's
// RegisterCompHandler/RegisterDecompressor pattern into a single entry
// point that covers both directions plus options.
func RegisterCompressor(id CompId, factory func() Compressor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[id] = factory
}

func lookupCompressor(id CompId) (Compressor, error) {
	registryMu.RLock()
	factory, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, newError(UnsupportedCompression, id.String(), nil)
	}
	return factory(), nil
}

// decompress fills output-equivalent semantics for id (§4.2). CompNone is
// handled here directly since it never needs a registered Compressor.
func decompress(id CompId, input []byte) ([]byte, error) {
	if id == CompNone {
		return input, nil
	}
	c, err := lookupCompressor(id)
	if err != nil {
		return nil, err
	}
	out, err := c.Decompress(input)
	if err != nil {
		return nil, newError(UnsupportedCompression, id.String(), err)
	}
	return out, nil
}

// compress returns the compressed form of input for id (§4.2). CompNone
// always "fails" to compress in the sense that callers should store input
// verbatim; compress returns input unchanged with a nil error so the normal
// compress-then-compare-lengths fallback logic still applies uniformly.
func compress(id CompId, input []byte, settings Settings) ([]byte, error) {
	if id == CompNone {
		return input, nil
	}
	c, err := lookupCompressor(id)
	if err != nil {
		return nil, err
	}
	return c.Compress(input, settings)
}

// compressionOptions returns the options metadata payload for id, or nil if
// none applies.
func compressionOptions(id CompId, settings Settings) ([]byte, error) {
	if id == CompNone {
		return nil, nil
	}
	c, err := lookupCompressor(id)
	if err != nil {
		return nil, err
	}
	return c.Options(settings)
}
