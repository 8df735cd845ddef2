package cm

import (
	"context"
	"sync"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/stream"
	"github.com/clustermesh/changecore/internal/version"
)

// fullMasterCM implements INSTANCE on the master: every committed version
// is a full snapshot (spec §4.2, FullMasterCM).
type fullMasterCM struct {
	masterCore
}

// NewFullMaster constructs a master change manager for an INSTANCE object.
// maxPayloadBytes is the commit-time frame limit (spec §7); zero means no
// limit.
func NewFullMaster(oc ObjectCore, codec Codec, sender Sender, maxPayloadBytes int64) ChangeManager {
	return &fullMasterCM{masterCore: newMasterCore(oc, codec, sender, maxPayloadBytes)}
}

func (f *fullMasterCM) Init() error { return nil }

func (f *fullMasterCM) CommitNB() (CommitToken, error) {
	if !isDirty(f.codec) {
		return f.tok.issue(pendingCommit{wrote: false}), nil
	}
	os := stream.NewOutputStream()
	if err := f.codec.GetInstanceData(os); err != nil {
		return 0, err
	}
	if err := f.checkPayloadSize(len(os.Bytes())); err != nil {
		return 0, err
	}
	return f.tok.issue(pendingCommit{wrote: os.Wrote(), payload: append([]byte(nil), os.Bytes()...)}), nil
}

func (f *fullMasterCM) CommitSync(tok CommitToken) (core.Version, error) {
	pc, err := f.tok.take(tok)
	if err != nil {
		return core.VersionNone, err
	}
	if !pc.wrote {
		return f.GetHeadVersion(), nil
	}

	rec := f.store.AppendNext(pc.payload, false)
	f.sendToAll(rec, core.VersionNone, false)
	return rec.Version, nil
}

func (f *fullMasterCM) Sync(_ context.Context, _ core.Version) (core.Version, error) {
	return f.GetHeadVersion(), nil
}

func (f *fullMasterCM) AddSlave(req SubscribeRequest) (core.Version, error) {
	f.mu.Lock()
	empty := f.store.Head() == core.VersionNone
	f.mu.Unlock()
	if empty {
		if _, err := f.seedFirstVersion(); err != nil {
			return core.VersionNone, err
		}
	}

	firstUsable := req.RequestedStartVersion
	oldest := f.store.Oldest()
	if firstUsable.Compare(oldest) < 0 {
		firstUsable = oldest
	}
	head := f.store.Head()
	if firstUsable.Compare(head) > 0 {
		firstUsable = head
	}

	f.registerSubscriber(req, firstUsable)

	for _, rec := range f.store.Records(firstUsable) {
		if err := f.sender.SendInstance(req.Node, req.InstanceId, firstUsable, rec); err != nil {
			f.RemoveSlave(req.Node)
			return core.VersionNone, err
		}
	}
	return firstUsable, nil
}

func (f *fullMasterCM) ApplyMapData(core.Version) error { return nil } // master has no map step

// fullSlaveCM implements INSTANCE on a slave: receives whole-snapshot
// versions into an incoming queue and applies them on Sync (spec §4.2,
// FullSlaveCM).
type fullSlaveCM struct {
	oc     ObjectCore
	codec  Codec
	notify SlaveNotifier

	mu      sync.Mutex
	cond    *sync.Cond
	current core.Version
	head    core.Version
	pending map[core.Version]version.Record // received, not yet applied
	unmapped bool
}

// NewFullSlave constructs a slave change manager for an INSTANCE object.
func NewFullSlave(oc ObjectCore, codec Codec, notify SlaveNotifier) ChangeManager {
	s := &fullSlaveCM{oc: oc, codec: codec, notify: notify, pending: make(map[core.Version]version.Record)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *fullSlaveCM) Init() error { return nil }

func (s *fullSlaveCM) CommitNB() (CommitToken, error) {
	return 0, core.ErrBadVersion
}
func (s *fullSlaveCM) CommitSync(CommitToken) (core.Version, error) {
	return core.VersionNone, core.ErrBadVersion
}

func (s *fullSlaveCM) SetAutoObsolete(uint32, core.AutoObsoletePolicy) {}
func (s *fullSlaveCM) GetAutoObsolete() uint32                        { return 0 }

func (s *fullSlaveCM) IsMaster() bool                       { return false }
func (s *fullSlaveCM) GetMasterInstanceID() core.InstanceId { return s.oc.MasterInstanceId }

func (s *fullSlaveCM) GetHeadVersion() core.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}
func (s *fullSlaveCM) GetVersion() core.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
func (s *fullSlaveCM) GetOldestVersion() core.Version { return s.GetVersion() }

func (s *fullSlaveCM) AddSlave(SubscribeRequest) (core.Version, error) {
	return core.VersionNone, core.ErrNotSupported
}
func (s *fullSlaveCM) RemoveSlave(core.NodeId) {}

// Push is called by the command router when an ObjectInstance packet
// arrives for this slave (spec §3: "incomingQueue is an ordered sequence
// of received but not-yet-applied version records").
func (s *fullSlaveCM) Push(rec version.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Version.Compare(s.current) <= 0 {
		return nil // stale retransmit, ignore
	}
	s.pending[rec.Version] = rec
	if rec.Version.Compare(s.head) > 0 {
		s.head = rec.Version
	}
	s.cond.Broadcast()
	if s.notify != nil {
		s.notify.NotifyNewHeadVersion(s.head)
	}
	return nil
}

func (s *fullSlaveCM) ApplyMapData(v core.Version) error {
	s.mu.Lock()
	s.current = v
	if v.Compare(s.head) > 0 {
		s.head = v
	}
	s.mu.Unlock()
	return nil
}

// Unmap cancels any in-progress Sync, returning the current version
// unchanged (spec §5, cancellation).
func (s *fullSlaveCM) Unmap() {
	s.mu.Lock()
	s.unmapped = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *fullSlaveCM) Sync(ctx context.Context, target core.Version) (core.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target == core.VersionHead {
		s.applyContiguous()
		return s.current, nil
	}

	for s.current.Compare(target) < 0 {
		if s.unmapped {
			return s.current, nil
		}
		if err := ctx.Err(); err != nil {
			return s.current, err
		}
		if _, ok := s.pending[s.current.Next()]; !ok {
			s.waitOnCond(ctx)
			continue
		}
		if err := s.applyOne(s.current.Next()); err != nil {
			return s.current, err
		}
	}
	return s.current, nil
}

// waitOnCond blocks on s.cond, honoring ctx cancellation by spawning a
// one-shot waiter that broadcasts when ctx is done.
func (s *fullSlaveCM) waitOnCond(ctx context.Context) {
	if ctx.Done() == nil {
		s.cond.Wait()
		return
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()
	s.cond.Wait()
	close(done)
}

// applyContiguous applies every buffered record starting at current+1 for
// as long as there is no gap.
func (s *fullSlaveCM) applyContiguous() {
	for {
		next := s.current.Next()
		if _, ok := s.pending[next]; !ok {
			return
		}
		if err := s.applyOne(next); err != nil {
			return
		}
	}
}

// applyOne applies the buffered record at version v, which must already be
// present in s.pending. Caller must hold s.mu.
func (s *fullSlaveCM) applyOne(v core.Version) error {
	rec := s.pending[v]
	delete(s.pending, v)
	is := stream.NewInputStream(rec.Payload)
	if err := s.codec.ApplyInstanceData(is); err != nil {
		return err
	}
	s.current = v
	return nil
}
