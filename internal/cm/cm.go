// Package cm implements the seven change-manager variants that back
// changecore.Object (spec §4.2, §9): NullCM, StaticMasterCM/StaticSlaveCM,
// FullMasterCM/FullSlaveCM, DeltaMasterCM/DeltaSlaveCM, UnbufferedMasterCM.
//
// What: one tagged-variant dispatch set implementing a shared
// ChangeManager interface, in place of the C++ original's virtual-dispatch
// class hierarchy (spec §9, "Replacing C++ dynamic dispatch").
// How: master-side shared state (version counter, subscriber list,
// retained records) lives in a common masterCore embedded into the four
// master variants (spec §9, "state shared across variants... lives in a
// common substructure composed into the master variants"), grounded on the
// teacher's StorageBackend/StorageMode tagged dispatch
// (internal/storage/storage_backend.go) and on embedding *Table into
// MVCCTable (internal/storage/mvcc.go).
// Why: application code never depends on which variant an object uses; it
// is selected once at attach time by changecore.ChangeType and is
// thereafter opaque.
package cm

import (
	"context"
	"fmt"
	"sync"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/stream"
	"github.com/clustermesh/changecore/internal/version"
)

// Codec is implemented by the application object a ChangeManager is bound
// to. It is the Go equivalent of the original's
// getInstanceData/applyInstanceData/pack/unpack virtual methods.
type Codec interface {
	// GetInstanceData serializes a full snapshot of current state.
	GetInstanceData(os *stream.OutputStream) error

	// ApplyInstanceData deserializes a full snapshot into current state.
	ApplyInstanceData(is *stream.InputStream) error
}

// DeltaCodec additionally supports incremental pack/unpack, required by
// DELTA objects. Pack's default behavior (when an object does not
// implement DeltaCodec) falls back to GetInstanceData, matching the
// original's virtual-method default.
type DeltaCodec interface {
	Codec
	Pack(os *stream.OutputStream) error
	Unpack(is *stream.InputStream) error
}

// DirtyChecker lets an object short-circuit CommitNB before any
// serialization happens (spec §4.2). Objects that don't implement it are
// always considered dirty.
type DirtyChecker interface {
	IsDirty() bool
}

// CommitToken is returned by CommitNB and consumed exactly once by
// CommitSync (spec §4.2).
type CommitToken uint64

// ObjectCore is the small explicit value the CM variants are constructed
// from and operate on, replacing the original's friend-class coupling
// between Object and its ObjectCM (spec §9, "Replacing friend-class
// coupling").
type ObjectCore struct {
	Id               core.ObjectId
	InstanceId       core.InstanceId
	MasterInstanceId core.InstanceId
	ChangeType       core.ChangeType
}

// Subscription is a master-side record of one slave subscriber (spec §3).
type Subscription struct {
	Node            core.NodeId
	InstanceId      core.InstanceId
	LastSentVersion core.Version
}

// SubscribeRequest carries the fields of an incoming ObjectSubscribe
// packet relevant to AddSlave (spec §6).
type SubscribeRequest struct {
	Node                  core.NodeId
	InstanceId            core.InstanceId
	RequestedStartVersion core.Version
}

// Sender is the narrow contract onto the messaging layer a master CM needs:
// push a record to one subscriber. It deliberately knows nothing about
// connections, routing, or node lifetime (spec §1 scope exclusions) — the
// node/session layer supplies an implementation.
type Sender interface {
	SendInstance(node core.NodeId, instanceID core.InstanceId, firstUsable core.Version, rec version.Record) error
	SendDelta(node core.NodeId, instanceID core.InstanceId, rec version.Record) error
}

// SlaveNotifier receives the hint-only new-head-version notification (spec
// §5: "applications must treat it as a hint, never sync from within it").
type SlaveNotifier interface {
	NotifyNewHeadVersion(v core.Version)
}

// MasterCM is implemented by every master change manager variant,
// recovering the original's sendInstanceData operation (spec §4.2): force
// a fresh full snapshot out to specific already-subscribed nodes, outside
// the normal per-commit fan-out. STATIC's implementation is a no-op,
// since a STATIC object carries no versioned instance data to resend; the
// type assertion against this interface fails for every slave variant, so
// callers see ErrNotSupported the same way they do for AddSlave on a
// slave.
type MasterCM interface {
	SendInstanceData(nodes []core.NodeId) error
}

// ChangeManager is the uniform operation set every variant implements
// (spec §4.2).
type ChangeManager interface {
	Init() error

	CommitNB() (CommitToken, error)
	CommitSync(CommitToken) (core.Version, error)

	SetAutoObsolete(count uint32, policy core.AutoObsoletePolicy)
	GetAutoObsolete() uint32

	// Sync advances current to at least target. HEAD never blocks. A
	// cancelable ctx lets a slave's blocked Sync return early if the
	// object is unmapped while waiting (spec §5, cancellation).
	Sync(ctx context.Context, target core.Version) (core.Version, error)

	GetHeadVersion() core.Version
	GetVersion() core.Version
	GetOldestVersion() core.Version

	IsMaster() bool
	GetMasterInstanceID() core.InstanceId

	AddSlave(req SubscribeRequest) (core.Version, error)
	RemoveSlave(node core.NodeId)

	ApplyMapData(v core.Version) error
}

// errNoPendingCommit is returned when CommitSync is called with a token
// that was never issued or already consumed.
var errNoPendingCommit = fmt.Errorf("cm: commit token not pending")

// pendingCommit holds the serialized payload between CommitNB and
// CommitSync.
type pendingCommit struct {
	wrote   bool
	isDelta bool
	payload []byte
}

// tokenSource issues monotonically increasing CommitTokens and tracks
// pending commits for every master variant without duplicating the
// bookkeeping. take retires a token in whatever order CommitSync presents
// it; issue order is not enforced, and the version a commit mints follows
// the order in which CommitSync calls reach the store.
type tokenSource struct {
	mu      sync.Mutex
	next    uint64
	pending map[CommitToken]pendingCommit
}

func newTokenSource() *tokenSource {
	return &tokenSource{pending: make(map[CommitToken]pendingCommit)}
}

func (ts *tokenSource) issue(pc pendingCommit) CommitToken {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.next++
	tok := CommitToken(ts.next)
	ts.pending[tok] = pc
	return tok
}

func (ts *tokenSource) take(tok CommitToken) (pendingCommit, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	pc, ok := ts.pending[tok]
	if !ok {
		return pendingCommit{}, errNoPendingCommit
	}
	delete(ts.pending, tok)
	return pc, nil
}

// isDirty consults codec's optional DirtyChecker, defaulting to true.
func isDirty(codec Codec) bool {
	if dc, ok := codec.(DirtyChecker); ok {
		return dc.IsDirty()
	}
	return true
}

// packDelta serializes a change via DeltaCodec.Pack if implemented,
// falling back to GetInstanceData (spec: "The default implementation uses
// the data provided by setInstanceData").
func packDelta(codec Codec, os *stream.OutputStream) error {
	if dc, ok := codec.(DeltaCodec); ok {
		return dc.Pack(os)
	}
	return codec.GetInstanceData(os)
}

// unpackDelta mirrors packDelta for the read side.
func unpackDelta(codec Codec, is *stream.InputStream) error {
	if dc, ok := codec.(DeltaCodec); ok {
		return dc.Unpack(is)
	}
	return codec.ApplyInstanceData(is)
}
