package squashfs_test

import (
	"io"
	"testing"

	"github.com/oklabs/squashfs"
)

// mockReader implements io.ReaderAt and can be used to simulate
// errors or invalid data for testing error handling
type mockReader struct {
	data  []byte
	errAt int64
	errMsg error
}

func (m *mockReader) ReadAt(p []byte, off int64) (int, error) {
	if m.errMsg != nil && off >= m.errAt {
		return 0, m.errMsg
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// TestErrorHandling tests various error conditions using mock readers
func TestErrorHandling(t *testing.T) {
	// Invalid data (no recognizable magic header)
	invalidData := make([]byte, squashfs.SuperblockSize)
	mockInvalid := &mockReader{data: invalidData}

	_, err := squashfs.Open(mockInvalid, int64(len(invalidData)))
	if err == nil {
		t.Errorf("expected error with invalid data, got none")
	}

	// Valid magic but truncated before a full header can be read.
	truncatedData := []byte{'h', 's', 'q', 's'}
	mockTruncated := &mockReader{
		data:  truncatedData,
		errAt: 4,
		errMsg: io.ErrUnexpectedEOF,
	}

	_, err = squashfs.Open(mockTruncated, squashfs.SuperblockSize)
	if err == nil {
		t.Errorf("expected error with truncated data, got none")
	}
}

// TestInvalidSuperblock tests handling of invalid superblock data
func TestInvalidSuperblock(t *testing.T) {
	// Valid magic, but BlockSize/BlockLog disagree with each other.
	data := make([]byte, squashfs.SuperblockSize)
	copy(data[0:4], []byte{'h', 's', 'q', 's'})
	copy(data[12:16], []byte{0x00, 0x10, 0x00, 0x00}) // BlockSize = 4096 LE
	copy(data[22:24], []byte{0x0B, 0x00})              // BlockLog = 11, should be 12
	copy(data[28:30], []byte{0x04, 0x00})              // VMajor = 4, so the version check passes

	mock := &mockReader{data: data}
	_, err := squashfs.Open(mock, int64(len(data)))
	if err == nil {
		t.Errorf("expected error with inconsistent block size/log, got none")
	}
}

// TestSniffAmbiguousBigEndian verifies that Sniff always resolves the
// big-endian magic to plain BigEndian, never AVM, since the two are
// byte-for-byte indistinguishable by magic alone.
func TestSniffAmbiguousBigEndian(t *testing.T) {
	k, err := squashfs.Sniff(squashfs.BigEndian.Magic)
	if err != nil {
		t.Fatalf("Sniff failed: %s", err)
	}
	if k.String() != squashfs.BigEndian.String() {
		t.Errorf("expected Sniff to resolve to BigEndian, got %s", k)
	}
}

// TestSniffUnrecognized verifies an unrecognized magic is rejected.
func TestSniffUnrecognized(t *testing.T) {
	_, err := squashfs.Sniff([4]byte{'x', 'x', 'x', 'x'})
	if err == nil {
		t.Errorf("expected error for unrecognized magic")
	}
}
