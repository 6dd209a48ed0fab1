package squashfs_test

import (
	"io/fs"
	"testing"

	"github.com/oklabs/squashfs"
)

// TestCompressionString exercises CompId's String() labeling, used in log
// lines and error messages throughout the codec.
func TestCompressionString(t *testing.T) {
	cases := map[squashfs.CompId]string{
		squashfs.CompNone: "none",
		squashfs.CompGzip: "gzip",
		squashfs.CompLzma: "lzma",
		squashfs.CompLzo:  "lzo",
		squashfs.CompXz:   "xz",
		squashfs.CompLz4:  "lz4",
		squashfs.CompZstd: "zstd",
	}
	for id, want := range cases {
		if got := id.String(); got != want {
			t.Errorf("CompId(%d).String() = %q, want %q", id, got, want)
		}
	}
	if got := squashfs.CompId(99).String(); got != "unknown" {
		t.Errorf("unrecognized CompId should stringify to %q, got %q", "unknown", got)
	}
}

// TestModeConversionsRoundTrip checks UnixToMode/ModeToUnix agree on the
// basic file-type bits for every node type this package writes.
func TestModeConversionsRoundTrip(t *testing.T) {
	cases := []fs.FileMode{
		0644,
		fs.ModeDir | 0755,
		fs.ModeSymlink | 0777,
		fs.ModeDevice | 0660,
		fs.ModeDevice | fs.ModeCharDevice | 0660,
		fs.ModeNamedPipe | 0600,
		fs.ModeSocket | 0600,
	}
	for _, want := range cases {
		unix := squashfs.ModeToUnix(want)
		got := squashfs.UnixToMode(unix)
		if got != want {
			t.Errorf("UnixToMode(ModeToUnix(%v)) = %v, want %v", want, got, want)
		}
	}
}

// TestTypeBasic verifies the extended-type-to-basic-type fold used
// throughout the inode decoder.
func TestTypeBasic(t *testing.T) {
	pairs := []struct {
		ext, basic squashfs.Type
	}{
		{squashfs.XDirType, squashfs.DirType},
		{squashfs.XFileType, squashfs.FileType},
		{squashfs.XSymlinkType, squashfs.SymlinkType},
		{squashfs.XBlockDevType, squashfs.BlockDevType},
		{squashfs.XCharDevType, squashfs.CharDevType},
		{squashfs.XFifoType, squashfs.FifoType},
		{squashfs.XSocketType, squashfs.SocketType},
	}
	for _, p := range pairs {
		if p.ext.Basic() != p.basic {
			t.Errorf("%v.Basic() = %v, want %v", p.ext, p.ext.Basic(), p.basic)
		}
		if p.basic.Basic() != p.basic {
			t.Errorf("basic type %v should fold to itself, got %v", p.basic, p.basic.Basic())
		}
	}
}

// TestFSCompatibility checks the Reader's io/fs.FS view satisfies the
// interfaces http.FileServer and friends rely on.
func TestFSCompatibility(t *testing.T) {
	_, rd := buildRoundTripImage(t)
	fsys := rd.FS()

	var _ fs.FS = fsys

	sub, err := fs.Sub(fsys, "pkgconfig")
	if err != nil {
		t.Fatalf("fs.Sub: %s", err)
	}
	data, err := fs.ReadFile(sub, "zlib.pc")
	if err != nil {
		t.Fatalf("ReadFile through sub-fs: %s", err)
	}
	if len(data) == 0 {
		t.Errorf("expected non-empty content through sub-fs")
	}

	f, err := fsys.Open("pkgconfig/zlib.pc")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer f.Close()
	if _, ok := f.(fs.ReadDirFile); ok {
		t.Errorf("a regular file should not implement fs.ReadDirFile")
	}

	dirFile, err := fsys.Open("pkgconfig")
	if err != nil {
		t.Fatalf("Open directory: %s", err)
	}
	defer dirFile.Close()
	rdf, ok := dirFile.(fs.ReadDirFile)
	if !ok {
		t.Fatalf("directory handle should implement fs.ReadDirFile")
	}
	if _, err := rdf.ReadDir(-1); err != nil {
		t.Errorf("ReadDir(-1) on directory: %s", err)
	}
	buf := make([]byte, 16)
	if _, err := dirFile.Read(buf); err == nil {
		t.Errorf("expected Read on a directory handle to fail")
	}
}
