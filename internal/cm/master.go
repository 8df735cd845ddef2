package cm

import (
	"sync"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/stream"
	"github.com/clustermesh/changecore/internal/version"
)

// masterCore is the shared substructure embedded into every master
// variant: the object identity, the version store, the subscriber list,
// and the commit-token bookkeeping. Only the master's queue thread may
// mutate the subscriber list (spec §5, "Shared resources"); callers of
// this package are expected to honor that contract the same way the
// teacher confines DB mutation to its single dispatch path.
type masterCore struct {
	oc    ObjectCore
	codec Codec

	mu    sync.Mutex
	subs  map[core.NodeId]*Subscription
	store *version.Store
	tok   *tokenSource

	sender Sender

	// maxPayloadBytes is the frame size limit enforced on commit (spec
	// §7, PayloadTooLarge). Zero means no limit.
	maxPayloadBytes int64
}

func newMasterCore(oc ObjectCore, codec Codec, sender Sender, maxPayloadBytes int64) masterCore {
	return masterCore{
		oc:              oc,
		codec:           codec,
		subs:            make(map[core.NodeId]*Subscription),
		store:           version.NewStore(),
		tok:             newTokenSource(),
		sender:          sender,
		maxPayloadBytes: maxPayloadBytes,
	}
}

// checkPayloadSize enforces maxPayloadBytes against a just-serialized
// commit payload (spec §7: "serialized snapshot exceeds configured frame
// limit; commit fails, no version minted").
func (m *masterCore) checkPayloadSize(n int) error {
	if m.maxPayloadBytes > 0 && int64(n) > m.maxPayloadBytes {
		return core.ErrPayloadTooLarge
	}
	return nil
}

func (m *masterCore) IsMaster() bool                       { return true }
func (m *masterCore) GetMasterInstanceID() core.InstanceId { return m.oc.InstanceId }

func (m *masterCore) SetAutoObsolete(count uint32, policy core.AutoObsoletePolicy) {
	m.store.SetAutoObsolete(count, policy)
}

func (m *masterCore) GetAutoObsolete() uint32 { return m.store.GetAutoObsolete() }

func (m *masterCore) GetHeadVersion() core.Version {
	if h := m.store.Head(); h != core.VersionNone {
		return h
	}
	return core.VersionNone
}

func (m *masterCore) GetVersion() core.Version       { return m.GetHeadVersion() }
func (m *masterCore) GetOldestVersion() core.Version { return m.store.Oldest() }

// Store exposes the underlying version store so a background sweeper
// (internal/version.Sweeper) can register it for periodic retention GC.
// Not part of the ChangeManager interface: callers that need it type-assert
// against this method set, since NullCM and the STATIC variants have no
// store to expose.
func (m *masterCore) Store() *version.Store { return m.store }

// RemoveSlave drops a subscriber, e.g. on ErrDisconnected from the
// messaging layer (spec §4.3, §7: "master removes the subscriber
// silently, outstanding commits for that subscriber are dropped").
func (m *masterCore) RemoveSlave(node core.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, node)
}

// sendToAll pushes a freshly minted record to every current subscriber,
// removing any that fail (treated as disconnected per spec §7). Because
// sends happen synchronously right after the version is minted, no
// subscriber is ever left needing a version the store has already
// discarded — the "don't discard unacknowledged versions" invariant (spec
// §4.3) holds by construction rather than by tracking per-subscriber acks.
func (m *masterCore) sendToAll(rec version.Record, firstUsableForNew core.Version, asDelta bool) {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		var err error
		if asDelta {
			err = m.sender.SendDelta(s.Node, s.InstanceId, rec)
		} else {
			err = m.sender.SendInstance(s.Node, s.InstanceId, firstUsableForNew, rec)
		}
		if err != nil {
			m.RemoveSlave(s.Node)
			continue
		}
		m.mu.Lock()
		if live, ok := m.subs[s.Node]; ok {
			live.LastSentVersion = rec.Version
		}
		m.mu.Unlock()
	}
}

// registerSubscriber records a subscription; a re-subscribe from the same
// node replaces the earlier record, including its LastSentVersion.
func (m *masterCore) registerSubscriber(req SubscribeRequest, lastSent core.Version) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[req.Node] = &Subscription{
		Node:            req.Node,
		InstanceId:      req.InstanceId,
		LastSentVersion: lastSent,
	}
}

// SendInstanceData re-sends a fresh full snapshot to nodes, bypassing the
// normal per-commit fan-out (spec §4.2, recovered from the original's
// objectCM.h sendInstanceData). Nodes not currently subscribed are
// skipped. On a send failure the failing subscriber is removed and the
// error returned; nodes after it in the list are not sent to.
func (m *masterCore) SendInstanceData(nodes []core.NodeId) error {
	os := stream.NewOutputStream()
	if err := m.codec.GetInstanceData(os); err != nil {
		return err
	}
	rec := version.Record{Version: m.GetHeadVersion(), Payload: append([]byte(nil), os.Bytes()...)}

	m.mu.Lock()
	subs := make([]*Subscription, 0, len(nodes))
	for _, n := range nodes {
		if s, ok := m.subs[n]; ok {
			subs = append(subs, s)
		}
	}
	m.mu.Unlock()

	for _, s := range subs {
		if err := m.sender.SendInstance(s.Node, s.InstanceId, rec.Version, rec); err != nil {
			m.RemoveSlave(s.Node)
			return err
		}
	}
	return nil
}

// seedFirstVersion mints version 1 by capturing a full instance snapshot,
// used when the first subscriber arrives before any commit has happened
// (spec §4.2, DeltaMasterCM: "Version 1 is a full snapshot (captured at
// first subscribe or first commit)").
func (m *masterCore) seedFirstVersion() (version.Record, error) {
	os := stream.NewOutputStream()
	if err := m.codec.GetInstanceData(os); err != nil {
		return version.Record{}, err
	}
	rec := version.Record{Version: core.VersionFirst, Payload: append([]byte(nil), os.Bytes()...), IsDelta: false, CommitSeq: 1}
	if err := m.store.Append(rec); err != nil {
		return version.Record{}, err
	}
	return rec, nil
}
