// Package changecore provides the distributed object change-management core
// of a cluster-computing networking library.
//
// Applications register in-memory objects on one node (the master) and map
// read-only or synchronized copies (slaves) on other nodes. The core
// guarantees that every slave can observe a consistent, monotonically
// advancing sequence of versions of the master's state, delivered over a
// node-to-node messaging layer.
//
// # Basic usage
//
// Register a master object, commit a version, and map a slave on another
// node once its subscribe has been accepted:
//
//	sess := changecore.NewSession(changecore.NewNodeId(), 0)
//	obj := changecore.NewObject(myInstanceData{})
//	obj.SetupChangeManager(changecore.DELTA, true, changecore.InstanceIdInvalid, changecore.InstanceIdInvalid, sender)
//	sess.RegisterObject(obj, masterHandler)
//
//	obj.Commit() // mints version 1
//
//	peer := changecore.NewSession(changecore.NewNodeId(), 0) // the other node's session
//	slave := changecore.NewObjectWithId(obj.Id(), myInstanceData{})
//	peer.MapObject(slave, changecore.DELTA, changecore.InstanceIdInvalid, changecore.InstanceIdInvalid, slaveHandler)
//	slave.Sync(context.Background(), changecore.VersionHead)
//
// # Change types
//
// Objects are versioned according to one of four change types: STATIC
// (no versioning), INSTANCE (full snapshot per version), DELTA (initial
// snapshot plus diffs), or UNBUFFERED (versioned but not retained). See
// ChangeType and the internal/cm package for the change-manager variants
// implementing each policy.
//
// # Concurrency
//
// Objects are not thread-safe by default: Commit/Sync are expected to be
// called from a single application goroutine while inbound packets are
// processed on the object's command queue. Call Object.MakeThreadSafe to
// promote an object for multi-goroutine use.
package changecore
