package core

import (
	"encoding/binary"
	"fmt"
)

// Version is a 128-bit monotonically increasing counter identifying a
// committed state of an object. It is represented as two uint64 words
// because the wire format (spec §6) carries a 128-bit version field.
type Version struct {
	Hi uint64
	Lo uint64
}

// Reserved version values (spec §3).
var (
	// VersionNone means "no version has ever been committed".
	VersionNone = Version{0, 0}

	// VersionFirst is the first real version minted on any object.
	VersionFirst = Version{0, 1}

	// VersionInvalid marks an object or slave in an invalid state.
	// It is 0xFFFF...FE, i.e. VersionHead - 1.
	VersionInvalid = Version{^uint64(0), ^uint64(0) - 1}

	// VersionHead is never stored; it is a sentinel meaning "the latest
	// available version".
	VersionHead = Version{^uint64(0), ^uint64(0)}
)

// IsReal reports whether v is a real, storable version: FIRST <= v < INVALID.
func (v Version) IsReal() bool {
	return v.Compare(VersionFirst) >= 0 && v.Compare(VersionInvalid) < 0
}

// Compare returns -1, 0, or 1 if v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	if v.Hi != o.Hi {
		if v.Hi < o.Hi {
			return -1
		}
		return 1
	}
	switch {
	case v.Lo < o.Lo:
		return -1
	case v.Lo > o.Lo:
		return 1
	default:
		return 0
	}
}

// Next returns v+1. It does not check for overflow into the reserved range;
// callers mint ~2^128 versions before that becomes a concern.
func (v Version) Next() Version {
	if v.Lo == ^uint64(0) {
		return Version{v.Hi + 1, 0}
	}
	return Version{v.Hi, v.Lo + 1}
}

// String renders a real version as "v<lo>" when its high word is zero and
// "v<hi>:<lo>" otherwise, and the reserved sentinels by a symbolic name;
// used throughout logging.
func (v Version) String() string {
	switch v {
	case VersionNone:
		return "v-none"
	case VersionInvalid:
		return "v-invalid"
	case VersionHead:
		return "v-head"
	default:
		if v.Hi == 0 {
			return fmt.Sprintf("v%d", v.Lo)
		}
		return fmt.Sprintf("v%d:%d", v.Hi, v.Lo)
	}
}

// MarshalBinary encodes the version as 16 bytes, little-endian, low word
// first, matching the wire format in spec §6.
func (v Version) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], v.Lo)
	binary.LittleEndian.PutUint64(buf[8:16], v.Hi)
	return buf, nil
}

// UnmarshalBinary decodes a version from 16 bytes written by MarshalBinary.
func (v *Version) UnmarshalBinary(buf []byte) error {
	if len(buf) != 16 {
		return fmt.Errorf("changecore: version frame must be 16 bytes, got %d", len(buf))
	}
	v.Lo = binary.LittleEndian.Uint64(buf[0:8])
	v.Hi = binary.LittleEndian.Uint64(buf[8:16])
	return nil
}

// ObjectVersion bundles an object identifier and a version, used when
// logging subscription and commit events. Recovered from the original
// eq::net::ObjectVersion helper (lib/net/object.h), dropped by the
// distilled spec but still useful for log lines throughout the CM.
type ObjectVersion struct {
	Id      ObjectId
	Version Version
}

// String renders as "id <id> v<version>".
func (ov ObjectVersion) String() string {
	return fmt.Sprintf("id %s %s", ov.Id, ov.Version)
}
