package cm

import (
	"context"
	"sync"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/stream"
	"github.com/clustermesh/changecore/internal/version"
)

// deltaMasterCM implements DELTA on the master: version 1 is always a full
// snapshot, subsequent versions are deltas produced by Pack (spec §4.2,
// DeltaMasterCM).
//
// Simplification (documented in DESIGN.md): the version-1 instance frame
// is permanently pinned in the version store so that any retained delta
// chain always has a reachable instance anchor, rather than implementing
// the more elaborate "re-snapshot the oldest retained version when its
// instance anchor would be evicted" scheme the original leaves unspecified.
type deltaMasterCM struct {
	masterCore
	anchorPinned bool
}

// NewDeltaMaster constructs a master change manager for a DELTA object.
// codec must implement DeltaCodec to get real incremental payloads; a
// plain Codec works too, falling back to full snapshots every commit.
func NewDeltaMaster(oc ObjectCore, codec Codec, sender Sender, maxPayloadBytes int64) ChangeManager {
	return &deltaMasterCM{masterCore: newMasterCore(oc, codec, sender, maxPayloadBytes)}
}

func (d *deltaMasterCM) Init() error { return nil }

func (d *deltaMasterCM) CommitNB() (CommitToken, error) {
	if !isDirty(d.codec) {
		return d.tok.issue(pendingCommit{wrote: false}), nil
	}

	d.mu.Lock()
	firstCommit := d.store.Head() == core.VersionNone
	d.mu.Unlock()

	os := stream.NewOutputStream()
	var err error
	if firstCommit {
		err = d.codec.GetInstanceData(os)
	} else {
		err = packDelta(d.codec, os)
	}
	if err != nil {
		return 0, err
	}
	if err := d.checkPayloadSize(len(os.Bytes())); err != nil {
		return 0, err
	}
	return d.tok.issue(pendingCommit{wrote: os.Wrote(), isDelta: !firstCommit, payload: append([]byte(nil), os.Bytes()...)}), nil
}

func (d *deltaMasterCM) CommitSync(tok CommitToken) (core.Version, error) {
	pc, err := d.tok.take(tok)
	if err != nil {
		return core.VersionNone, err
	}
	if !pc.wrote {
		return d.GetHeadVersion(), nil
	}

	rec := d.store.AppendNext(pc.payload, pc.isDelta)
	if rec.Version == core.VersionFirst && !d.anchorPinned {
		d.store.Pin(core.VersionFirst)
		d.anchorPinned = true
	}
	d.sendToAll(rec, core.VersionNone, pc.isDelta)
	return rec.Version, nil
}

func (d *deltaMasterCM) Sync(_ context.Context, _ core.Version) (core.Version, error) {
	return d.GetHeadVersion(), nil
}

func (d *deltaMasterCM) AddSlave(req SubscribeRequest) (core.Version, error) {
	d.mu.Lock()
	empty := d.store.Head() == core.VersionNone
	d.mu.Unlock()
	if empty {
		if _, err := d.seedFirstVersion(); err != nil {
			return core.VersionNone, err
		}
		d.store.Pin(core.VersionFirst)
		d.anchorPinned = true
	}

	// New subscribers always replay from the instance anchor forward: the
	// delta chain is only meaningful when applied in order starting at
	// version 1 (spec §4.2: "the first record applied to any slave is
	// always an instance frame").
	firstUsable := core.VersionFirst
	d.registerSubscriber(req, core.VersionNone)

	for _, rec := range d.store.Records(firstUsable) {
		var sendErr error
		if rec.IsDelta {
			sendErr = d.sender.SendDelta(req.Node, req.InstanceId, rec)
		} else {
			sendErr = d.sender.SendInstance(req.Node, req.InstanceId, firstUsable, rec)
		}
		if sendErr != nil {
			d.RemoveSlave(req.Node)
			return core.VersionNone, sendErr
		}
	}
	return firstUsable, nil
}

func (d *deltaMasterCM) ApplyMapData(core.Version) error { return nil }

// deltaSlaveCM implements DELTA on a slave: as fullSlaveCM, but records
// carry an instance/delta flag routed to ApplyInstanceData or Unpack
// accordingly (spec §4.2, DeltaSlaveCM).
type deltaSlaveCM struct {
	oc     ObjectCore
	codec  Codec
	notify SlaveNotifier

	mu       sync.Mutex
	cond     *sync.Cond
	current  core.Version
	head     core.Version
	pending  map[core.Version]version.Record
	unmapped bool
	appliedAnyInstance bool
}

// NewDeltaSlave constructs a slave change manager for a DELTA object.
func NewDeltaSlave(oc ObjectCore, codec Codec, notify SlaveNotifier) ChangeManager {
	s := &deltaSlaveCM{oc: oc, codec: codec, notify: notify, pending: make(map[core.Version]version.Record)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *deltaSlaveCM) Init() error { return nil }

func (s *deltaSlaveCM) CommitNB() (CommitToken, error) { return 0, core.ErrBadVersion }
func (s *deltaSlaveCM) CommitSync(CommitToken) (core.Version, error) {
	return core.VersionNone, core.ErrBadVersion
}

func (s *deltaSlaveCM) SetAutoObsolete(uint32, core.AutoObsoletePolicy) {}
func (s *deltaSlaveCM) GetAutoObsolete() uint32                        { return 0 }

func (s *deltaSlaveCM) IsMaster() bool                       { return false }
func (s *deltaSlaveCM) GetMasterInstanceID() core.InstanceId { return s.oc.MasterInstanceId }

func (s *deltaSlaveCM) GetHeadVersion() core.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}
func (s *deltaSlaveCM) GetVersion() core.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
func (s *deltaSlaveCM) GetOldestVersion() core.Version { return s.GetVersion() }

func (s *deltaSlaveCM) AddSlave(SubscribeRequest) (core.Version, error) {
	return core.VersionNone, core.ErrNotSupported
}
func (s *deltaSlaveCM) RemoveSlave(core.NodeId) {}

func (s *deltaSlaveCM) Push(rec version.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Version.Compare(s.current) <= 0 {
		return nil
	}
	if !s.appliedAnyInstance && len(s.pending) == 0 && rec.IsDelta {
		// Protocol violation: the first record a delta slave ever sees
		// must be an instance frame (spec §4.2 invariant).
		return core.ErrProtocolViolation
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

func (s *deltaSlaveCM) ApplyMapData(v core.Version) error {
	s.mu.Lock()
	s.current = v
	s.appliedAnyInstance = true
	if v.Compare(s.head) > 0 {
		s.head = v
	}
	s.mu.Unlock()
	return nil
}

func (s *deltaSlaveCM) Unmap() {
	s.mu.Lock()
	s.unmapped = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *deltaSlaveCM) Sync(ctx context.Context, target core.Version) (core.Version, error) {
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

func (s *deltaSlaveCM) waitOnCond(ctx context.Context) {
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

func (s *deltaSlaveCM) applyContiguous() {
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

func (s *deltaSlaveCM) applyOne(v core.Version) error {
	rec := s.pending[v]
	delete(s.pending, v)
	is := stream.NewInputStream(rec.Payload)
	var err error
	if rec.IsDelta {
		err = unpackDelta(s.codec, is)
	} else {
		err = s.codec.ApplyInstanceData(is)
		s.appliedAnyInstance = true
	}
	if err != nil {
		return err
	}
	s.current = v
	return nil
}
