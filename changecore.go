package changecore

import "github.com/clustermesh/changecore/internal/core"

// Identifiers (internal/core/ids.go).
type (
	ObjectId   = core.ObjectId
	NodeId     = core.NodeId
	InstanceId = core.InstanceId
)

const InstanceIdInvalid = core.InstanceIdInvalid

var (
	NewObjectId = core.NewObjectId
	NewNodeId   = core.NewNodeId
)

// Versions (internal/core/version.go).
type (
	Version       = core.Version
	ObjectVersion = core.ObjectVersion
)

var (
	VersionNone    = core.VersionNone
	VersionFirst   = core.VersionFirst
	VersionInvalid = core.VersionInvalid
	VersionHead    = core.VersionHead
)

// Change types and retention policy (internal/core/changetype.go).
type (
	ChangeType         = core.ChangeType
	AutoObsoletePolicy = core.AutoObsoletePolicy
)

const (
	STATIC     = core.STATIC
	INSTANCE   = core.INSTANCE
	DELTA      = core.DELTA
	UNBUFFERED = core.UNBUFFERED

	CountVersions = core.CountVersions
	CountCommits  = core.CountCommits
)

var ParseChangeType = core.ParseChangeType

// Errors (internal/core/errors.go).
var (
	ErrNotFound          = core.ErrNotFound
	ErrBadVersion        = core.ErrBadVersion
	ErrDuplicateId       = core.ErrDuplicateId
	ErrDisconnected      = core.ErrDisconnected
	ErrPayloadTooLarge   = core.ErrPayloadTooLarge
	ErrProtocolViolation = core.ErrProtocolViolation
	ErrNotSupported      = core.ErrNotSupported
	ErrAlreadyMaster     = core.ErrAlreadyMaster
	ErrNotSynced         = core.ErrNotSynced
)
