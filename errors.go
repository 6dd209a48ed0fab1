package squashfs

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories this package can
// return, per spec.md §4.8/§7.
type ErrorKind int

const (
	// CorruptedOrInvalidSquashfs covers format errors: out-of-range
	// superblock fields, offsets beyond the image, decompressed table
	// counts disagreeing with the superblock, oversized metadata blocks.
	CorruptedOrInvalidSquashfs ErrorKind = iota + 1
	// FileNotFound is returned when resolving a path within the image fails.
	FileNotFound
	// UnexpectedInode is returned when an inode's type disagrees with what
	// the caller's position in the tree required (e.g. a directory entry
	// pointing at something that parses as a file inode).
	UnexpectedInode
	// UnsupportedInode is returned for a recognized but unhandled inode
	// variant in a particular code path.
	UnsupportedInode
	// UnsupportedCompression is returned when a compressor id is either
	// unrecognized or recognized but not wired to a working implementation.
	UnsupportedCompression
	// IdNotFoundInTable is returned when a uid/gid index has no entry in
	// the id table.
	IdNotFoundInTable
	// InvalidCompressionOption is returned when a compression-options
	// metadata block fails to parse or carries an invalid setting.
	InvalidCompressionOption
	// IoError wraps a failure from the underlying source/sink.
	IoError
	// ParseError wraps a structural mismatch detected by the binary decoder
	// (this package's analogue of backhand's DekuParseError).
	ParseError
)

func (k ErrorKind) String() string {
	switch k {
	case CorruptedOrInvalidSquashfs:
		return "corrupted or invalid squashfs image"
	case FileNotFound:
		return "file not found"
	case UnexpectedInode:
		return "unexpected inode type"
	case UnsupportedInode:
		return "unsupported inode variant"
	case UnsupportedCompression:
		return "unsupported compression"
	case IdNotFoundInTable:
		return "id not found in id table"
	case InvalidCompressionOption:
		return "invalid compression option"
	case IoError:
		return "io error"
	case ParseError:
		return "parse error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the single error type this package returns. It carries a closed
// ErrorKind plus free-form context and, where applicable, a wrapped cause so
// errors.Is/errors.As keep working against both *Error.Kind and the wrapped
// transport/parse error.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("squashfs: %s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("squashfs: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, someKindError) work by comparing kinds, so callers
// can match on category without caring about the message/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors usable with errors.Is(err, squashfs.ErrFileNotFound) etc,
// in the teacher's errors.go sentinel-variable style, backed by the closed
// ErrorKind enum above.
var (
	ErrCorrupted                = &Error{Kind: CorruptedOrInvalidSquashfs, Message: "corrupted or invalid squashfs"}
	ErrFileNotFound             = &Error{Kind: FileNotFound, Message: "file not found"}
	ErrUnexpectedInode          = &Error{Kind: UnexpectedInode, Message: "unexpected inode type"}
	ErrUnsupportedInode         = &Error{Kind: UnsupportedInode, Message: "unsupported inode variant"}
	ErrUnsupportedCompression   = &Error{Kind: UnsupportedCompression, Message: "unsupported compression"}
	ErrIdNotFound               = &Error{Kind: IdNotFoundInTable, Message: "id not found in id table"}
	ErrInvalidCompressionOption = &Error{Kind: InvalidCompressionOption, Message: "invalid compression option"}

	// ErrInvalidVersion is returned when the superblock's version doesn't
	// match the Kind's expectation (this package only speaks v4.0).
	ErrInvalidVersion = &Error{Kind: CorruptedOrInvalidSquashfs, Message: "invalid file version, expected squashfs 4.0"}

	// ErrInodeNotExported is returned when resolving an inode number that
	// isn't in the cache and there is no NFS export table to fall back to.
	ErrInodeNotExported = &Error{Kind: FileNotFound, Message: "unknown squashfs inode and no NFS export table"}

	// ErrTooManySymlinks guards symlink-resolution recursion, kept from the
	// teacher's errors.go since path resolution with symlinks is still in
	// scope for the reader's tree-walking helpers.
	ErrTooManySymlinks = errors.New("squashfs: too many levels of symbolic links")

	// ErrNotDirectory is returned when directory-only operations are
	// attempted against a non-directory node, kept from the teacher.
	ErrNotDirectory = errors.New("squashfs: not a directory")
)

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return newError(IoError, "i/o failure", err)
}
