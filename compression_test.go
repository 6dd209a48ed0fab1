package squashfs

import "testing"

// The compress/decompress facade and the per-codec registry are both
// unexported, so this lives in-package rather than in squashfs_test.

func TestCompressDecompressRoundTrip(t *testing.T) {
	ids := []CompId{CompGzip, CompZstd, CompXz, CompLz4}
	input := []byte("the quick brown fox jumps over the lazy dog, repeated. " +
		"the quick brown fox jumps over the lazy dog, repeated again.")

	for _, id := range ids {
		compressed, err := compress(id, input, Settings{})
		if err != nil {
			t.Fatalf("%s: compress: %s", id, err)
		}
		out, err := decompress(id, compressed)
		if err != nil {
			t.Fatalf("%s: decompress: %s", id, err)
		}
		if string(out) != string(input) {
			t.Errorf("%s: round trip mismatch: got %q", id, out)
		}
	}
}

func TestCompressNone(t *testing.T) {
	input := []byte("stored verbatim")
	out, err := compress(CompNone, input, Settings{})
	if err != nil {
		t.Fatalf("compress(CompNone): %s", err)
	}
	if string(out) != string(input) {
		t.Errorf("CompNone should pass data through unchanged, got %q", out)
	}
	back, err := decompress(CompNone, out)
	if err != nil {
		t.Fatalf("decompress(CompNone): %s", err)
	}
	if string(back) != string(input) {
		t.Errorf("CompNone decompress mismatch: got %q", back)
	}
}

// TestLzoUnsupported verifies the deliberate capability gap: CompLzo is
// registered so superblocks naming it are at least recognized, but both
// directions fail with UnsupportedCompression since no LZO implementation
// exists in this codebase's dependency graph.
func TestLzoUnsupported(t *testing.T) {
	if _, err := compress(CompLzo, []byte("data"), Settings{}); err == nil {
		t.Errorf("expected compress(CompLzo) to fail, got nil error")
	} else if e, ok := err.(*Error); !ok || e.Kind != UnsupportedCompression {
		t.Errorf("expected UnsupportedCompression, got %v", err)
	}
	if _, err := decompress(CompLzo, []byte("data")); err == nil {
		t.Errorf("expected decompress(CompLzo) to fail, got nil error")
	} else if e, ok := err.(*Error); !ok || e.Kind != UnsupportedCompression {
		t.Errorf("expected UnsupportedCompression, got %v", err)
	}
}

func TestCompressionOptionsPresence(t *testing.T) {
	// gzip, xz, zstd and lz4 all carry a compression-options block in this
	// implementation; CompLzma does not, since its Options returns nil.
	withOpts := []CompId{CompGzip, CompXz, CompZstd, CompLz4}
	for _, id := range withOpts {
		opts, err := compressionOptions(id, Settings{})
		if err != nil {
			t.Fatalf("compressionOptions(%s): %s", id, err)
		}
		if opts == nil {
			t.Errorf("expected a compression-options block for %s, got nil", id)
		}
	}
}
