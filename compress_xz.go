package squashfs

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// xzCompressor implements the SquashFS "xz" compressor id, grounded
// directly on the teacher's comp_xz.go (same library, same
// Writer/Reader pair), extended with a dictionary-size setting. BCJ filter
// names from Settings.Filters are recorded in the options payload only;
// Compress does not apply any BCJ filter.
type xzCompressor struct{}

func init() {
	RegisterCompressor(CompXz, func() Compressor { return xzCompressor{} })
}

func (xzCompressor) Decompress(input []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (xzCompressor) Compress(input []byte, settings Settings) ([]byte, error) {
	cfg := xz.WriterConfig{}
	if settings.DictSize != 0 {
		cfg.DictCap = int(settings.DictSize)
	}
	if err := cfg.Verify(); err != nil {
		cfg = xz.WriterConfig{}
	}
	var out bytes.Buffer
	w, err := cfg.NewWriter(&out)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(input); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Options is the squashfs xz compression_options payload:
// { dictionary_size: u32, filters: u32 (bitmask) }.
func (xzCompressor) Options(settings Settings) ([]byte, error) {
	dict := settings.DictSize
	if dict == 0 {
		dict = 1 << 20 // 1 MiB default dictionary
	}
	var filterMask uint32
	for _, f := range settings.Filters {
		switch f {
		case "x86":
			filterMask |= 1 << 0
		case "arm":
			filterMask |= 1 << 1
		case "armthumb":
			filterMask |= 1 << 2
		case "powerpc":
			filterMask |= 1 << 3
		case "sparc":
			filterMask |= 1 << 4
		case "ia64":
			filterMask |= 1 << 5
		}
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], dict)
	binary.LittleEndian.PutUint32(buf[4:8], filterMask)
	return buf, nil
}

// lzmaCompressor implements the SquashFS "lzma" compressor id: a raw LZMA1
// stream (no .xz container), as opposed to CompXz's full xz container.
// Grounded on the same teacher dependency (ulikunitz/xz), using its lzma
// subpackage directly.
type lzmaCompressor struct{}

func init() {
	RegisterCompressor(CompLzma, func() Compressor { return lzmaCompressor{} })
}

func (lzmaCompressor) Decompress(input []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (lzmaCompressor) Compress(input []byte, settings Settings) ([]byte, error) {
	cfg := lzma.WriterConfig{}
	if settings.DictSize != 0 {
		cfg.DictCap = int(settings.DictSize)
	}
	var out bytes.Buffer
	w, err := cfg.NewWriter(&out)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(input); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// lzma carries no compression_options metadata block in SquashFS.
func (lzmaCompressor) Options(settings Settings) ([]byte, error) {
	return nil, nil
}
