package core

import "github.com/google/uuid"

// ObjectId is a session-unique 128-bit identifier assigned on registration.
type ObjectId = uuid.UUID

// NodeId is a globally unique node identifier supplied by the messaging
// layer. The core never constructs one itself outside of tests.
type NodeId = uuid.UUID

// InstanceId distinguishes distinct copies of the same object residing on
// one node. It is node-unique, not session-unique.
type InstanceId uint32

// InstanceIdInvalid marks the absence of an instance (an object that has
// not yet been mapped locally, or a master with no local instance id).
const InstanceIdInvalid InstanceId = 0

// NewObjectId generates a fresh session-unique object identifier.
func NewObjectId() ObjectId {
	return uuid.New()
}

// NewNodeId generates a fresh node identifier. Production callers obtain a
// NodeId from the messaging layer; this is provided for tests and for
// single-process demos that have no external node registry.
func NewNodeId() NodeId {
	return uuid.New()
}
