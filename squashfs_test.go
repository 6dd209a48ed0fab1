package squashfs_test

import (
	"bytes"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/oklabs/squashfs"
)

// staticFile turns a byte slice into the open func PushFile expects.
func staticFile(content []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(content)), nil
	}
}

// buildRoundTripImage writes a small, self-contained image covering a
// nested directory, a regular file, and a symlink, and returns both the raw
// bytes and an opened Reader over them.
func buildRoundTripImage(t *testing.T, opts ...squashfs.WriterOption) ([]byte, *squashfs.Reader) {
	t.Helper()
	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf, opts...)
	if err != nil {
		t.Fatalf("NewWriter: %s", err)
	}

	now := time.Unix(1700000000, 0)
	if err := w.PushDir("pkgconfig", 0755, 0, 0, now); err != nil {
		t.Fatalf("PushDir pkgconfig: %s", err)
	}
	if err := w.PushFile("pkgconfig/zlib.pc", 0644, 0, 0, now, staticFile([]byte("Name: zlib\nVersion: 1.3\n"))); err != nil {
		t.Fatalf("PushFile zlib.pc: %s", err)
	}
	if err := w.PushDir("lib", 0755, 0, 0, now); err != nil {
		t.Fatalf("PushDir lib: %s", err)
	}
	if err := w.PushSymlink("lib/libz.so", "libz.so.1", 0, 0, now); err != nil {
		t.Fatalf("PushSymlink: %s", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	data := buf.Bytes()
	rd, err := squashfs.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	return data, rd
}

func TestRoundTrip(t *testing.T) {
	_, rd := buildRoundTripImage(t)

	data, err := fs.ReadFile(rd.FS(), "pkgconfig/zlib.pc")
	if err != nil {
		t.Fatalf("ReadFile pkgconfig/zlib.pc: %s", err)
	}
	if string(data) != "Name: zlib\nVersion: 1.3\n" {
		t.Errorf("unexpected content: %q", data)
	}

	st, err := fs.Stat(rd.FS(), "lib")
	if err != nil {
		t.Fatalf("Stat lib: %s", err)
	}
	if !st.IsDir() {
		t.Errorf("lib should be a directory")
	}

	entries, err := fs.ReadDir(rd.FS(), "pkgconfig")
	if err != nil {
		t.Fatalf("ReadDir pkgconfig: %s", err)
	}
	if len(entries) != 1 || entries[0].Name() != "zlib.pc" {
		t.Errorf("unexpected pkgconfig entries: %v", entries)
	}

	root, err := rd.RootInode()
	if err != nil {
		t.Fatalf("RootInode: %s", err)
	}
	symInode, err := rd.LookupRelativeInode(mustLookupDir(t, rd, root, "lib"), "libz.so")
	if err != nil {
		t.Fatalf("LookupRelativeInode lib/libz.so: %s", err)
	}
	if !symInode.Type.IsSymlink() {
		t.Errorf("lib/libz.so should be a symlink, got type %v", symInode.Type)
	}
	target, err := symInode.Readlink()
	if err != nil {
		t.Fatalf("Readlink: %s", err)
	}
	if string(target) != "libz.so.1" {
		t.Errorf("unexpected symlink target %q", target)
	}
}

func mustLookupDir(t *testing.T, rd *squashfs.Reader, root *squashfs.Inode, name string) *squashfs.Inode {
	t.Helper()
	ino, err := rd.LookupPath(root, name)
	if err != nil {
		t.Fatalf("LookupPath %s: %s", name, err)
	}
	return ino
}

func TestNotADirectory(t *testing.T) {
	_, rd := buildRoundTripImage(t)
	if _, err := fs.ReadFile(rd.FS(), "pkgconfig/zlib.pc/nope"); err == nil {
		t.Errorf("expected an error descending through a file, got nil")
	}
}

func TestFileNotFound(t *testing.T) {
	_, rd := buildRoundTripImage(t)
	if _, err := fs.ReadFile(rd.FS(), "pkgconfig/missing.pc"); err == nil {
		t.Errorf("expected an error reading a missing file, got nil")
	}
}

func TestWriterCompressorVariants(t *testing.T) {
	for _, id := range []squashfs.CompId{squashfs.CompGzip, squashfs.CompZstd, squashfs.CompXz, squashfs.CompLz4} {
		id := id
		t.Run(id.String(), func(t *testing.T) {
			_, rd := buildRoundTripImage(t, squashfs.WithCompressor(id, squashfs.Settings{}))
			if rd.SB.Comp != id {
				t.Errorf("expected superblock compressor %s, got %s", id, rd.SB.Comp)
			}
			data, err := fs.ReadFile(rd.FS(), "pkgconfig/zlib.pc")
			if err != nil {
				t.Fatalf("ReadFile under %s: %s", id, err)
			}
			if string(data) != "Name: zlib\nVersion: 1.3\n" {
				t.Errorf("unexpected content under %s: %q", id, data)
			}
		})
	}
}
