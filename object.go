package changecore

import (
	"context"
	"sync"

	"github.com/clustermesh/changecore/internal/cm"
	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/version"
)

// PushRecord is a single received version (full snapshot or delta) ready
// to be delivered to a slave object's change manager via Push.
type PushRecord = version.Record

// VersionStore is the subset of a master object's retained-version store
// that a background sweeper needs, exposed without requiring callers
// outside this module to import the internal package that defines the
// concrete type.
type VersionStore interface {
	// GC runs the configured auto-obsolete retention policy immediately,
	// as if a commit had just happened, and returns how many records it
	// dropped.
	GC() int
}

// Codec is implemented by the application value an Object distributes:
// the Go equivalent of the original's getInstanceData/applyInstanceData
// virtual methods (spec §4.1).
type Codec = cm.Codec

// DeltaCodec additionally supports incremental pack/unpack, used by DELTA
// objects; an object that only implements Codec still works under DELTA,
// falling back to full snapshots every commit.
type DeltaCodec = cm.DeltaCodec

// DirtyChecker lets an object short-circuit CommitNB before serializing
// anything (spec §4.2).
type DirtyChecker = cm.DirtyChecker

// CommitToken is returned by CommitNB and consumed exactly once by
// CommitSync.
type CommitToken = cm.CommitToken

// Sender is the contract a master object's change manager uses to push
// data to subscribers; supplied by a transport implementation such as
// internal/transport.
type Sender = cm.Sender

// SubscribeRequest carries the fields of an incoming subscribe needed to
// add a slave to a master object (spec §6).
type SubscribeRequest = cm.SubscribeRequest

// NewHeadNotifier receives a hint-only callback when a slave object's head
// version advances due to newly arrived data. Applications must treat it
// as a hint and never call Sync from within it (spec §5).
type NewHeadNotifier interface {
	NotifyNewHeadVersion(v Version)
}

// NewMasterAnnouncer tells a node that an object has a new master, used by
// BecomeMaster to inform the previous master it has been superseded (spec
// §4.5). Supplied by a transport implementation such as
// internal/transport.NodeAnnouncer.
type NewMasterAnnouncer interface {
	AnnounceNewMaster(node core.NodeId, objectId core.ObjectId, asOf core.Version) error
}

// Object binds one application value to exactly one change manager
// variant at a time (spec §4.4), matching the original's eq::net::Object.
// SetupChangeManager attaches it, BecomeMaster promotes it in place, and
// Commit/Sync drive version traffic through whichever variant is
// currently installed. The zero-value-adjacent state before
// SetupChangeManager runs the NullCM singleton (spec §9, "Replacing the
// global ZERO CM"): every mutator fails with ErrBadVersion, every observer
// reports VersionNone.
type Object struct {
	id core.ObjectId

	mu               sync.Mutex
	active           cm.ChangeManager
	codec            Codec
	instanceId       InstanceId
	masterInstanceId InstanceId
	changeType       ChangeType
	sender           Sender
	notify           NewHeadNotifier
	threadSafe       bool
	maxPayloadBytes  int64

	// masterNode and announcer record, for a mapped slave, which node its
	// master runs on and how to reach it, so a later BecomeMaster can
	// announce the promotion back to it (spec §4.5). Set via
	// SetMasterAnnouncer; both are the zero value on a master or an
	// object that was never mapped as a slave, in which case BecomeMaster
	// skips the announcement.
	masterNode core.NodeId
	announcer  NewMasterAnnouncer

	// commitMu, when threadSafe is set, serializes CommitNB/CommitSync/Sync
	// against each other so an application whose own state is touched from
	// multiple goroutines gets the same guarantee the original's
	// makeThreadSafe() promotion gave it (spec §5). Objects pay nothing for
	// this until MakeThreadSafe is called.
	commitMu sync.Mutex
}

// NewObject returns a freshly identified, unattached object wrapping
// codec.
func NewObject(codec Codec) *Object {
	return &Object{id: core.NewObjectId(), active: cm.Null, codec: codec}
}

// NewObjectWithId returns an unattached object using a caller-supplied
// identifier, for when the id is already known from elsewhere rather than
// minted fresh — e.g. a slave subscribing to an object whose id it learned
// out of band from its master.
func NewObjectWithId(id core.ObjectId, codec Codec) *Object {
	return &Object{id: id, active: cm.Null, codec: codec}
}

// Id returns the object's stable identifier.
func (o *Object) Id() ObjectId { return o.id }

// SetNotifier installs the callback invoked when this object, as a slave,
// receives a new head version (spec §5).
func (o *Object) SetNotifier(n NewHeadNotifier) {
	o.mu.Lock()
	o.notify = n
	o.mu.Unlock()
}

// NotifyNewHeadVersion implements cm.SlaveNotifier, relaying to the
// application-supplied NewHeadNotifier if one is set.
func (o *Object) NotifyNewHeadVersion(v core.Version) {
	o.mu.Lock()
	n := o.notify
	o.mu.Unlock()
	if n != nil {
		n.NotifyNewHeadVersion(v)
	}
}

// SetMasterAnnouncer records the node a mapped slave's master currently
// runs on and how to reach it, so a later BecomeMaster can announce the
// promotion back to it via ObjectNewMaster (spec §4.5). A no-op call (nil
// announcer) disables the announcement.
func (o *Object) SetMasterAnnouncer(node NodeId, announcer NewMasterAnnouncer) {
	o.mu.Lock()
	o.masterNode = node
	o.announcer = announcer
	o.mu.Unlock()
}

// SetMaxPayloadBytes sets the serialized-snapshot size limit a master
// change manager enforces on commit (spec §7, PayloadTooLarge). Zero (the
// default) means no limit. Takes effect on the next SetupChangeManager or
// BecomeMaster call.
func (o *Object) SetMaxPayloadBytes(n int64) {
	o.mu.Lock()
	o.maxPayloadBytes = n
	o.mu.Unlock()
}

// GetMasterInstanceID returns the InstanceId this object's master uses for
// itself: a master reports its own, a slave reports the one it recorded at
// setup time (spec §6).
func (o *Object) GetMasterInstanceID() InstanceId {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active.GetMasterInstanceID()
}

// SendInstanceData forces a fresh full snapshot out to specific
// already-subscribed nodes, bypassing the normal per-commit fan-out (spec
// §4.2, recovered from the original's objectCM.h sendInstanceData).
// Returns ErrNotSupported if the active change manager is not a master
// variant that supports it.
func (o *Object) SendInstanceData(nodes []NodeId) error {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	m, ok := active.(cm.MasterCM)
	if !ok {
		return core.ErrNotSupported
	}
	return m.SendInstanceData(nodes)
}

// SetupChangeManager attaches a change manager variant for changeType, as
// master or slave, replacing whatever was previously installed. sender is
// only used by master variants; pass nil for a slave object.
func (o *Object) SetupChangeManager(changeType ChangeType, isMaster bool, instanceId, masterInstanceId InstanceId, sender Sender) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setupLocked(changeType, isMaster, instanceId, masterInstanceId, sender)
}

func (o *Object) setupLocked(changeType ChangeType, isMaster bool, instanceId, masterInstanceId InstanceId, sender Sender) error {
	oc := cm.ObjectCore{Id: o.id, InstanceId: instanceId, MasterInstanceId: masterInstanceId, ChangeType: changeType}

	var next cm.ChangeManager
	switch changeType {
	case STATIC:
		if isMaster {
			next = cm.NewStaticMaster(oc)
		} else {
			next = cm.NewStaticSlave(oc)
		}
	case INSTANCE:
		if isMaster {
			next = cm.NewFullMaster(oc, o.codec, sender, o.maxPayloadBytes)
		} else {
			next = cm.NewFullSlave(oc, o.codec, o)
		}
	case DELTA:
		if isMaster {
			next = cm.NewDeltaMaster(oc, o.codec, sender, o.maxPayloadBytes)
		} else {
			next = cm.NewDeltaSlave(oc, o.codec, o)
		}
	case UNBUFFERED:
		if isMaster {
			next = cm.NewUnbufferedMaster(oc, o.codec, sender, o.maxPayloadBytes)
		} else {
			// No distinct unbuffered slave variant: an unbuffered slave
			// only ever holds the single instance frame it was seeded
			// with, which is exactly what fullSlaveCM implements (spec
			// §4.2, UnbufferedMasterCM doc note).
			next = cm.NewFullSlave(oc, o.codec, o)
		}
	default:
		return core.ErrNotSupported
	}

	if err := next.Init(); err != nil {
		return err
	}
	o.active = next
	o.changeType = changeType
	o.instanceId = instanceId
	o.masterInstanceId = masterInstanceId
	o.sender = sender
	return nil
}

// BecomeMaster promotes a mapped slave object to master in place (spec
// §4.5). It is only valid on a slave that has synced to head: a slave
// still holding data it has received but not applied would silently drop
// it on promotion, so ErrNotSynced is returned instead and nothing
// changes. The new master epoch starts a fresh version sequence at 1,
// seeded from the object's current codec state; it does not migrate
// other slaves that were subscribed to the previous master; recorded as
// the chosen resolution of spec §9's migration Open Question: each
// subscriber re-subscribes against the new master explicitly instead of
// being silently redirected. If SetMasterAnnouncer previously recorded
// the slave's master and a way to reach it, that node is sent an
// ObjectNewMaster notice once promotion succeeds.
func (o *Object) BecomeMaster(sender Sender) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active.IsMaster() {
		return core.ErrAlreadyMaster
	}
	if o.active.GetVersion() != o.active.GetHeadVersion() {
		return core.ErrNotSynced
	}
	asOf := o.active.GetVersion()
	masterNode, announcer := o.masterNode, o.announcer

	if err := o.setupLocked(o.changeType, true, o.instanceId, core.InstanceIdInvalid, sender); err != nil {
		return err
	}
	if announcer != nil {
		return announcer.AnnounceNewMaster(masterNode, o.id, asOf)
	}
	return nil
}

// IsMaster reports whether this object currently holds the master role.
func (o *Object) IsMaster() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active.IsMaster()
}

// ChangeType reports the change type this object is currently configured
// for.
func (o *Object) ChangeType() ChangeType {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.changeType
}

// MakeThreadSafe promotes this object so CommitNB, CommitSync, and Sync
// serialize against each other and against concurrent calls from other
// goroutines (spec §5, "thread safety is opt-in"). Objects are not
// thread-safe by default, matching the original's makeThreadSafe(): an
// object only ever touched from one goroutine pays no locking cost for
// this.
func (o *Object) MakeThreadSafe() {
	o.mu.Lock()
	o.threadSafe = true
	o.mu.Unlock()
}

// IsThreadSafe reports whether MakeThreadSafe has been called.
func (o *Object) IsThreadSafe() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.threadSafe
}

// CommitNB begins an asynchronous commit, returning a token to be passed
// to CommitSync once the caller is ready to learn the resulting version
// (spec §4.2).
func (o *Object) CommitNB() (CommitToken, error) {
	o.mu.Lock()
	active := o.active
	safe := o.threadSafe
	o.mu.Unlock()
	if safe {
		o.commitMu.Lock()
		defer o.commitMu.Unlock()
	}
	return active.CommitNB()
}

// CommitSync blocks until tok's commit has been assigned a version (or
// determined to produce no new version) and returns it.
func (o *Object) CommitSync(tok CommitToken) (Version, error) {
	o.mu.Lock()
	active := o.active
	safe := o.threadSafe
	o.mu.Unlock()
	if safe {
		o.commitMu.Lock()
		defer o.commitMu.Unlock()
	}
	return active.CommitSync(tok)
}

// Commit is shorthand for CommitNB immediately followed by CommitSync,
// for callers that have no use for the async split (spec §4.2).
func (o *Object) Commit() (Version, error) {
	tok, err := o.CommitNB()
	if err != nil {
		return VersionNone, err
	}
	return o.CommitSync(tok)
}

// Sync advances a slave object's applied version to at least target.
// target == VersionHead never blocks, applying whatever has already
// arrived. ctx lets a caller abandon a blocked wait, e.g. when the object
// is concurrently unmapped (spec §5). On a slave, a target older than the
// current version fails with ErrBadVersion and changes nothing.
func (o *Object) Sync(ctx context.Context, target Version) (Version, error) {
	o.mu.Lock()
	active := o.active
	safe := o.threadSafe
	o.mu.Unlock()
	if safe {
		o.commitMu.Lock()
		defer o.commitMu.Unlock()
	}
	if target != VersionHead && !active.IsMaster() {
		if cur := active.GetVersion(); target.Compare(cur) < 0 {
			return cur, core.ErrBadVersion
		}
	}
	return active.Sync(ctx, target)
}

// GetHeadVersion returns the latest version known to this object: the
// master's own latest commit, or the latest version a slave has received
// but not necessarily applied.
func (o *Object) GetHeadVersion() Version {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active.GetHeadVersion()
}

// GetVersion returns the version currently reflected in the object's
// codec state.
func (o *Object) GetVersion() Version {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active.GetVersion()
}

// GetOldestVersion returns the oldest version still retained (master) or
// applied (slave).
func (o *Object) GetOldestVersion() Version {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active.GetOldestVersion()
}

// SetAutoObsolete configures the master's retention policy (spec §4.3). A
// no-op on a slave or unattached object.
func (o *Object) SetAutoObsolete(count uint32, policy AutoObsoletePolicy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active.SetAutoObsolete(count, policy)
}

// GetAutoObsolete returns the master's current retention count.
func (o *Object) GetAutoObsolete() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active.GetAutoObsolete()
}

// Store returns this object's retained-version store for registration
// with a background sweeper, and false if the active change manager
// variant keeps no store (NullCM, STATIC, or a slave).
func (o *Object) Store() (VersionStore, bool) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	type storeProvider interface{ Store() *version.Store }
	sp, ok := active.(storeProvider)
	if !ok {
		return nil, false
	}
	return sp.Store(), true
}

// AddSlave registers a new subscriber against this master object,
// returning the version it should start from (spec §4.2, §6).
func (o *Object) AddSlave(req SubscribeRequest) (Version, error) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	return active.AddSlave(req)
}

// RemoveSlave drops a subscriber, e.g. on disconnect.
func (o *Object) RemoveSlave(node NodeId) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	active.RemoveSlave(node)
}

// ApplyMapData applies the mapping-time state captured at subscribe time,
// used by variants (e.g. DELTA) whose slave needs to record an initial
// position distinct from any buffered record.
func (o *Object) ApplyMapData(v Version) error {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	return active.ApplyMapData(v)
}

// Unmap detaches the object from its change manager, cancelling any
// blocked Sync and returning it to NullCM (spec §4.4, §5 cancellation).
// Any slave-side buffered-but-unapplied data is discarded.
func (o *Object) Unmap() {
	o.mu.Lock()
	defer o.mu.Unlock()
	type unmapper interface{ Unmap() }
	if u, ok := o.active.(unmapper); ok {
		u.Unmap()
	}
	o.active = cm.Null
}

// Push delivers a received instance or delta record to this object's
// slave change manager, returning ErrNotSupported if the active variant
// is not a slave capable of receiving pushed records (e.g. NullCM or a
// master).
func (o *Object) Push(rec PushRecord) error {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	type pusher interface {
		Push(rec version.Record) error
	}
	p, ok := active.(pusher)
	if !ok {
		return core.ErrNotSupported
	}
	return p.Push(rec)
}
