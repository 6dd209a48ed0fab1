package squashfs_test

import (
	"bytes"
	"fmt"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/oklabs/squashfs"
)

func TestPushDeviceFifoSocket(t *testing.T) {
	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %s", err)
	}
	now := time.Unix(1700000000, 0)
	if err := w.PushDir("dev", 0755, 0, 0, now); err != nil {
		t.Fatalf("PushDir dev: %s", err)
	}
	const rdev = (8 << 8) | 1 // major 8, minor 1, linux MKDEV packing
	if err := w.PushDevice("dev/sda1", false, rdev, 0660, 0, 0, now); err != nil {
		t.Fatalf("PushDevice: %s", err)
	}
	if err := w.PushDevice("dev/tty0", true, rdev, 0660, 0, 0, now); err != nil {
		t.Fatalf("PushDevice char: %s", err)
	}
	if err := w.PushFifo("dev/fifo1", 0600, 0, 0, now); err != nil {
		t.Fatalf("PushFifo: %s", err)
	}
	if err := w.PushSocket("dev/sock1", 0600, 0, 0, now); err != nil {
		t.Fatalf("PushSocket: %s", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	data := buf.Bytes()
	rd, err := squashfs.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}

	entries, err := fs.ReadDir(rd.FS(), "dev")
	if err != nil {
		t.Fatalf("ReadDir dev: %s", err)
	}
	seen := map[string]fs.DirEntry{}
	for _, e := range entries {
		seen[e.Name()] = e
	}
	for _, name := range []string{"sda1", "tty0", "fifo1", "sock1"} {
		if _, ok := seen[name]; !ok {
			t.Errorf("missing dev/%s in listing", name)
		}
	}

	check := func(name string, want fs.FileMode) {
		info, err := seen[name].Info()
		if err != nil {
			t.Errorf("Info(%s): %s", name, err)
			return
		}
		if info.Mode()&want != want {
			t.Errorf("%s: mode %v missing bits %v", name, info.Mode(), want)
		}
	}
	check("sda1", fs.ModeDevice)
	check("tty0", fs.ModeDevice|fs.ModeCharDevice)
	check("fifo1", fs.ModeNamedPipe)
	check("sock1", fs.ModeSocket)

	info, err := seen["sda1"].Info()
	if err != nil {
		t.Fatalf("Info(sda1): %s", err)
	}
	ino, ok := info.Sys().(*squashfs.Inode)
	if !ok {
		t.Fatalf("Sys() did not return *squashfs.Inode")
	}
	if ino.Rdev != rdev {
		t.Errorf("sda1 Rdev = %#x, want %#x", ino.Rdev, rdev)
	}
}

// TestDedupReducesSize checks that pushing identical content under two
// different file names produces a smaller image with dedup enabled than
// with WithoutDedup, exercising the content-hash block reuse path.
func TestDedupReducesSize(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789abcdef"), 4096) // 64 KiB, 16 blocks @ 4 KiB
	now := time.Unix(1700000000, 0)

	build := func(opts ...squashfs.WriterOption) int {
		var buf bytes.Buffer
		opts = append(opts, squashfs.WithBlockSize(4096))
		w, err := squashfs.NewWriter(&buf, opts...)
		if err != nil {
			t.Fatalf("NewWriter: %s", err)
		}
		for _, name := range []string{"a.bin", "b.bin"} {
			if err := w.PushFile(name, 0644, 0, 0, now, staticFile(content)); err != nil {
				t.Fatalf("PushFile %s: %s", name, err)
			}
		}
		if err := w.Finalize(); err != nil {
			t.Fatalf("Finalize: %s", err)
		}
		return buf.Len()
	}

	withDedup := build()
	withoutDedup := build(squashfs.WithoutDedup())

	if withDedup >= withoutDedup {
		t.Errorf("expected dedup image (%d bytes) to be smaller than non-dedup image (%d bytes)", withDedup, withoutDedup)
	}
}

func TestWriterRejectsDuplicatePath(t *testing.T) {
	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %s", err)
	}
	now := time.Unix(1700000000, 0)
	if err := w.PushFile("a.txt", 0644, 0, 0, now, staticFile([]byte("one"))); err != nil {
		t.Fatalf("PushFile: %s", err)
	}
	if err := w.PushFile("a.txt", 0644, 0, 0, now, staticFile([]byte("two"))); err == nil {
		t.Errorf("expected an error pushing a duplicate path")
	}
}

func TestWriterRejectsMissingParent(t *testing.T) {
	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %s", err)
	}
	now := time.Unix(1700000000, 0)
	if err := w.PushFile("no/such/dir/file.txt", 0644, 0, 0, now, staticFile([]byte("x"))); err == nil {
		t.Errorf("expected an error pushing into a non-existent parent directory")
	}
}

func TestPushDirAllMirrorsFS(t *testing.T) {
	src := fstest.MapFS{
		"file1.txt":             {Data: []byte("hello world")},
		"dir1/file2.txt":        {Data: []byte("file in dir1")},
		"dir1/subdir/file3.txt": {Data: []byte("nested file")},
		"dir2/file4.txt":        {Data: []byte("file in dir2")},
	}

	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %s", err)
	}
	if err := w.PushDirAll(src); err != nil {
		t.Fatalf("PushDirAll: %s", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	data := buf.Bytes()
	rd, err := squashfs.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	for name, f := range src {
		got, err := fs.ReadFile(rd.FS(), name)
		if err != nil {
			t.Errorf("ReadFile(%s): %s", name, err)
			continue
		}
		if !bytes.Equal(got, f.Data) {
			t.Errorf("ReadFile(%s) = %q, want %q", name, got, f.Data)
		}
	}
}

func TestWriterCustomBlockSizeAndPadding(t *testing.T) {
	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf, squashfs.WithBlockSize(65536), squashfs.WithPadding(1024))
	if err != nil {
		t.Fatalf("NewWriter: %s", err)
	}
	if err := w.PushFile("f.bin", 0644, 0, 0, time.Unix(1700000000, 0), staticFile([]byte("x"))); err != nil {
		t.Fatalf("PushFile: %s", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}
	if buf.Len()%1024 != 0 {
		t.Errorf("expected image length to be padded to a multiple of 1024, got %d", buf.Len())
	}

	data := buf.Bytes()
	rd, err := squashfs.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	if rd.SB.BlockSize != 65536 {
		t.Errorf("expected block size 65536, got %d", rd.SB.BlockSize)
	}
}

func ExampleWriter() {
	var buf bytes.Buffer
	w, _ := squashfs.NewWriter(&buf)
	_ = w.PushFile("hello.txt", 0644, 0, 0, time.Unix(0, 0), staticFile([]byte("hi")))
	_ = w.Finalize()
	fmt.Println(buf.Len() > 0)
	// Output: true
}
