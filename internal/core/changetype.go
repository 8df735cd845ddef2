package core

import "fmt"

// ChangeType selects how an object's versions are serialized and retained.
// It is immutable once an object is attached to a session.
type ChangeType int

const (
	// STATIC objects are not versioned at all; they are distributed by
	// identity only. Commit and Sync are no-ops.
	STATIC ChangeType = iota

	// INSTANCE objects carry a full snapshot on every committed version.
	INSTANCE

	// DELTA objects carry an initial snapshot followed by incremental
	// diffs produced by Pack/Unpack.
	DELTA

	// UNBUFFERED objects are versioned like INSTANCE but versions are not
	// retained once every current subscriber has received them.
	UNBUFFERED
)

// String returns a human-readable label for the ChangeType.
func (t ChangeType) String() string {
	switch t {
	case STATIC:
		return "static"
	case INSTANCE:
		return "instance"
	case DELTA:
		return "delta"
	case UNBUFFERED:
		return "unbuffered"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(t))
	}
}

// ParseChangeType converts a string representation back to a ChangeType.
// It returns an error for unknown values.
func ParseChangeType(s string) (ChangeType, error) {
	switch s {
	case "static", "":
		return STATIC, nil
	case "instance":
		return INSTANCE, nil
	case "delta":
		return DELTA, nil
	case "unbuffered":
		return UNBUFFERED, nil
	default:
		return STATIC, fmt.Errorf("changecore: unknown change type %q (valid: static, instance, delta, unbuffered)", s)
	}
}

// AutoObsoletePolicy selects how SetAutoObsolete's count argument is
// interpreted by a master change manager.
type AutoObsoletePolicy int

const (
	// CountVersions retains the last N committed versions plus the head.
	CountVersions AutoObsoletePolicy = iota

	// CountCommits retains the versions minted by the last N Commit calls
	// that produced bytes, which may be fewer than N versions if some
	// commits were empty. Takes precedence over CountVersions (spec §4.3).
	CountCommits
)

func (p AutoObsoletePolicy) String() string {
	if p == CountCommits {
		return "count-commits"
	}
	return "count-versions"
}
