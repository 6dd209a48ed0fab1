package squashfs

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
)

// lz4Compressor implements the SquashFS "lz4" compressor id. SquashFS lz4
// blocks are raw LZ4 blocks with no frame header, so this uses
// lz4.CompressBlock/UncompressBlock directly rather than the framed
// lz4.Writer/Reader pair. Grounded on diskfs-go-diskfs's go.mod dependency
// on pierrec/lz4 (the only pack repo carrying an LZ4 library).
//
// Per spec.md §4.2, lz4 is "buffer-oriented": the output buffer is sized to
// its capacity up front and truncated to the actual decompressed length
// afterwards, since UncompressBlock has no way to report the needed size in
// advance the way a streaming decoder would.
type lz4Compressor struct{}

func init() {
	RegisterCompressor(CompLz4, func() Compressor { return lz4Compressor{} })
}

// maxBlockSize is the largest SquashFS block size (1 MiB, spec.md §3); used
// as the decompression buffer capacity for both data and (8 KiB-capped)
// metadata blocks.
const maxBlockSize = 1 << 20

func (lz4Compressor) Decompress(input []byte) ([]byte, error) {
	out := make([]byte, maxBlockSize)
	n, err := lz4.UncompressBlock(input, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func (lz4Compressor) Compress(input []byte, settings Settings) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(input)))
	var c lz4.Compressor
	n, err := c.CompressBlock(input, out)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// CompressBlock returns n == 0 when the input is incompressible;
		// the caller's compress-then-compare-lengths fallback will store
		// the block uncompressed, so just hand back a copy of input (no
		// shorter than input) to force that path deterministically.
		return append([]byte(nil), input...), nil
	}
	return out[:n], nil
}

// Options is the squashfs lz4 compression_options payload: { version: u32, flags: u32 }.
func (lz4Compressor) Options(settings Settings) ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], 1) // LZ4_LEGACY
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	return buf, nil
}
