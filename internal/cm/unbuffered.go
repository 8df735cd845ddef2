package cm

import (
	"context"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/stream"
	"github.com/clustermesh/changecore/internal/version"
)

// unbufferedMasterCM implements UNBUFFERED: versions are minted and sent
// but never retained (spec §4.2, UnbufferedMasterCM). There is no slave
// variant distinct from fullSlaveCM — an unbuffered slave buffers exactly
// the one instance frame it was seeded with, so fullSlaveCM is reused for
// that role by the object façade.
type unbufferedMasterCM struct {
	masterCore
}

// NewUnbufferedMaster constructs a master change manager for an
// UNBUFFERED object.
func NewUnbufferedMaster(oc ObjectCore, codec Codec, sender Sender, maxPayloadBytes int64) ChangeManager {
	return &unbufferedMasterCM{masterCore: newMasterCore(oc, codec, sender, maxPayloadBytes)}
}

func (u *unbufferedMasterCM) Init() error { return nil }

func (u *unbufferedMasterCM) CommitNB() (CommitToken, error) {
	if !isDirty(u.codec) {
		return u.tok.issue(pendingCommit{wrote: false}), nil
	}
	os := stream.NewOutputStream()
	if err := u.codec.GetInstanceData(os); err != nil {
		return 0, err
	}
	if err := u.checkPayloadSize(len(os.Bytes())); err != nil {
		return 0, err
	}
	return u.tok.issue(pendingCommit{wrote: os.Wrote(), payload: append([]byte(nil), os.Bytes()...)}), nil
}

func (u *unbufferedMasterCM) CommitSync(tok CommitToken) (core.Version, error) {
	pc, err := u.tok.take(tok)
	if err != nil {
		return core.VersionNone, err
	}
	if !pc.wrote {
		return u.GetHeadVersion(), nil
	}

	rec := u.store.AppendNext(pc.payload, false)
	u.sendToAll(rec, core.VersionNone, false)

	// Once sent, nothing is retained: a version becomes eligible for
	// discard as soon as every current subscriber has it (spec §4.2).
	// sendToAll is synchronous, so that condition is already true here.
	u.store.Obsolete(rec.Version)
	return rec.Version, nil
}

func (u *unbufferedMasterCM) Sync(_ context.Context, _ core.Version) (core.Version, error) {
	return u.GetHeadVersion(), nil
}

// AddSlave always captures a fresh snapshot rather than replaying retained
// history, since UNBUFFERED retains nothing (spec §4.2: "New subscribers
// joining after a version has been discarded receive a fresh
// getInstanceData snapshot and begin at the current head").
func (u *unbufferedMasterCM) AddSlave(req SubscribeRequest) (core.Version, error) {
	os := stream.NewOutputStream()
	if err := u.codec.GetInstanceData(os); err != nil {
		return core.VersionNone, err
	}
	payload := append([]byte(nil), os.Bytes()...)

	u.mu.Lock()
	head := u.store.Head()
	u.mu.Unlock()

	v := head
	rec := version.Record{Payload: payload, IsDelta: false}
	if v == core.VersionNone {
		v = core.VersionFirst
		rec.Version = v
		if err := u.store.Append(rec); err != nil {
			return core.VersionNone, err
		}
	} else {
		rec.Version = v
	}

	u.registerSubscriber(req, v)
	if err := u.sender.SendInstance(req.Node, req.InstanceId, v, rec); err != nil {
		u.RemoveSlave(req.Node)
		return core.VersionNone, err
	}
	u.store.Obsolete(v)
	return v, nil
}

func (u *unbufferedMasterCM) ApplyMapData(core.Version) error { return nil }
