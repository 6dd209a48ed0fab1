package squashfs

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"
)

// gzipCompressor implements the SquashFS "gzip" compressor id, which is
// actually zlib-framed deflate (RFC1950), not gzip-framed deflate
// (RFC1952) — real unsquashfs/mksquashfs images carry a zlib stream here.
// klauspost/compress/zlib is API-compatible with stdlib compress/zlib and
// is the teacher go.mod's own compression dependency, reused for the zlib
// subpackage instead of the xz/zstd ones the teacher wired up.
type gzipCompressor struct{}

func init() {
	RegisterCompressor(CompGzip, func() Compressor { return gzipCompressor{} })
}

func (gzipCompressor) Decompress(input []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (gzipCompressor) Compress(input []byte, settings Settings) ([]byte, error) {
	level := settings.Level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var out bytes.Buffer
	w, err := zlib.NewWriterLevel(&out, level)
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

// Options is the squashfs compression_options payload for the gzip
// compressor: { compression_level: u32, window_size: u16, strategies: u16 }.
func (gzipCompressor) Options(settings Settings) ([]byte, error) {
	level := settings.Level
	if level == 0 {
		level = 9
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(level))
	binary.LittleEndian.PutUint16(buf[4:6], 15) // window size
	binary.LittleEndian.PutUint16(buf[6:8], 0)  // strategies: default
	return buf, nil
}
