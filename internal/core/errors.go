package core

import "errors"

// Error kinds reported by the core (spec §7). Errors detected inside
// command handlers are converted into reply status codes where a reply
// exists; application-thread API calls report these synchronously.
var (
	// ErrNotFound indicates a session lookup for an objectId returned
	// nothing. Fatal to the requesting operation, recoverable by the
	// caller.
	ErrNotFound = errors.New("changecore: object not found")

	// ErrBadVersion indicates Sync(v) asked for a version older than
	// current, or a master commit was attempted on a slave.
	ErrBadVersion = errors.New("changecore: bad version")

	// ErrDuplicateId indicates registration tried to reuse an id already
	// live in the same session.
	ErrDuplicateId = errors.New("changecore: duplicate object id")

	// ErrDisconnected indicates the messaging layer reported subscriber
	// loss. A master removes a subscriber whose send fails; the per-commit
	// fan-out does so silently, while AddSlave and SendInstanceData also
	// return the failed send's error to their caller.
	ErrDisconnected = errors.New("changecore: subscriber disconnected")

	// ErrPayloadTooLarge indicates a serialized snapshot exceeded the
	// configured frame limit. The commit fails and no version is minted.
	ErrPayloadTooLarge = errors.New("changecore: payload exceeds frame limit")

	// ErrProtocolViolation indicates a received packet broke the framing a
	// slave expects: a DELTA slave returns it when the first frame it
	// receives is a delta rather than an instance. The packet is dropped
	// and the slave's state is left as it was; the slave is not marked for
	// resync, and the instanceId on a received packet is not checked.
	ErrProtocolViolation = errors.New("changecore: protocol violation")

	// ErrNotSupported indicates an operation that is valid on the
	// ChangeManager interface in general but not on this variant (for
	// example SendInstanceData on a slave CM).
	ErrNotSupported = errors.New("changecore: operation not supported by this change manager")

	// ErrAlreadyMaster indicates BecomeMaster was called on an object
	// that is already a master.
	ErrAlreadyMaster = errors.New("changecore: object is already master")

	// ErrNotSynced indicates BecomeMaster was called on a slave that has
	// not synced to head.
	ErrNotSynced = errors.New("changecore: object must be synced to head before becoming master")
)
