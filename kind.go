package squashfs

import "encoding/binary"

// Kind bundles the endian, magic and version policy that parameterizes
// every binary structure in this package. Nothing here is ever read from a
// global — a Kind is always threaded explicitly through the superblock,
// inode, directory and metadata codecs so the same code can serve the
// little-endian, big-endian and mixed-endian (AVM) variants of the v4.0
// wire format.
type Kind struct {
	name string

	// Magic is the 4 raw magic bytes expected at offset 0, in on-disk order.
	Magic [4]byte

	// TypeOrder is the byte order used for most superblock/inode/directory
	// integer fields.
	TypeOrder binary.ByteOrder

	// DataOrder is the byte order used for metadata-block length words and
	// for fragment and id table entries. A file inode's data-block size
	// entries use TypeOrder. On every known variant except the mixed AVM
	// one this is the same as TypeOrder.
	DataOrder binary.ByteOrder

	VMajor uint16
	VMinor uint16
}

// LittleEndian is the standard little-endian SquashFS 4.0 variant (magic "hsqs").
var LittleEndian = Kind{
	name:      "le",
	Magic:     [4]byte{'h', 's', 'q', 's'},
	TypeOrder: binary.LittleEndian,
	DataOrder: binary.LittleEndian,
	VMajor:    4,
	VMinor:    0,
}

// BigEndian is the standard big-endian SquashFS 4.0 variant (magic "sqsh"),
// as produced by some embedded-vendor toolchains.
var BigEndian = Kind{
	name:      "be",
	Magic:     [4]byte{'s', 'q', 's', 'h'},
	TypeOrder: binary.BigEndian,
	DataOrder: binary.BigEndian,
	VMajor:    4,
	VMinor:    0,
}

// AVM is a vendor-specific mixed-endian variant: big-endian types (the same
// magic as plain BigEndian, so on-disk it cannot be distinguished from it by
// magic alone — see Sniff) but little-endian metadata-block length words
// and fragment/id table entries.
var AVM = Kind{
	name:      "avm",
	Magic:     [4]byte{'s', 'q', 's', 'h'},
	TypeOrder: binary.BigEndian,
	DataOrder: binary.LittleEndian,
	VMajor:    4,
	VMinor:    0,
}

// String returns a short human-readable label, mostly useful in error messages.
func (k Kind) String() string {
	return k.name
}

// Sniff inspects the first 4 bytes of an image and returns the matching
// predefined Kind. Big-endian magic is ambiguous between BigEndian and AVM
// (spec.md §9 "Kind selection on read") and Sniff always resolves that case
// to plain BigEndian; callers that know they're dealing with the AVM
// variant must pass WithKind(AVM) explicitly to Open.
func Sniff(head [4]byte) (Kind, error) {
	switch head {
	case LittleEndian.Magic:
		return LittleEndian, nil
	case BigEndian.Magic:
		return BigEndian, nil
	default:
		return Kind{}, newError(CorruptedOrInvalidSquashfs, "unrecognized squashfs magic", nil)
	}
}
