package squashfs

// lzoCompressor is a deliberate capability gap: no LZO library exists
// anywhere in the retrieved example pack (checked every go.mod under
// _examples/), and this project never fabricates a dependency to fill a
// hole. Per spec.md §4.2 ("decompress ... fails with UnsupportedCompression
// if the id is unknown or unbuilt"), CompLzo is registered so that it is a
// recognized id (superblock parsing, String(), etc. all work normally) but
// every actual (de)compression attempt fails with ErrUnsupportedCompression,
// exactly the "known but unbuilt" case the spec describes.
type lzoCompressor struct{}

func init() {
	RegisterCompressor(CompLzo, func() Compressor { return lzoCompressor{} })
}

func (lzoCompressor) Decompress(input []byte) ([]byte, error) {
	return nil, ErrUnsupportedCompression
}

func (lzoCompressor) Compress(input []byte, settings Settings) ([]byte, error) {
	return nil, ErrUnsupportedCompression
}

func (lzoCompressor) Options(settings Settings) ([]byte, error) {
	return nil, ErrUnsupportedCompression
}
