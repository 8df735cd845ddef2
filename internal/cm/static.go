package cm

import (
	"context"

	"github.com/clustermesh/changecore/internal/core"
)

// staticMasterCM and staticSlaveCM implement STATIC: version is
// permanently VersionNone, Commit/Sync are no-ops (spec §4.2). Used when
// an object is read-only and distributed by identity alone.
type staticMasterCM struct {
	oc ObjectCore
}

// NewStaticMaster constructs a master change manager for a STATIC object.
func NewStaticMaster(oc ObjectCore) ChangeManager { return &staticMasterCM{oc: oc} }

func (s *staticMasterCM) Init() error { return nil }

func (s *staticMasterCM) CommitNB() (CommitToken, error) { return 0, nil }
func (s *staticMasterCM) CommitSync(CommitToken) (core.Version, error) {
	return core.VersionNone, nil
}

func (s *staticMasterCM) SetAutoObsolete(uint32, core.AutoObsoletePolicy) {}
func (s *staticMasterCM) GetAutoObsolete() uint32                        { return 0 }

func (s *staticMasterCM) Sync(context.Context, core.Version) (core.Version, error) {
	return core.VersionNone, nil
}

func (s *staticMasterCM) GetHeadVersion() core.Version   { return core.VersionNone }
func (s *staticMasterCM) GetVersion() core.Version       { return core.VersionNone }
func (s *staticMasterCM) GetOldestVersion() core.Version { return core.VersionNone }

func (s *staticMasterCM) IsMaster() bool                       { return true }
func (s *staticMasterCM) GetMasterInstanceID() core.InstanceId { return s.oc.InstanceId }

func (s *staticMasterCM) AddSlave(req SubscribeRequest) (core.Version, error) {
	return core.VersionNone, nil
}
func (s *staticMasterCM) RemoveSlave(core.NodeId) {}

func (s *staticMasterCM) ApplyMapData(core.Version) error { return nil }

// SendInstanceData is a no-op: a STATIC object carries no versioned
// instance data to resend (spec §4.2).
func (s *staticMasterCM) SendInstanceData([]core.NodeId) error { return nil }

type staticSlaveCM struct {
	oc ObjectCore
}

// NewStaticSlave constructs a slave change manager for a STATIC object.
func NewStaticSlave(oc ObjectCore) ChangeManager { return &staticSlaveCM{oc: oc} }

func (s *staticSlaveCM) Init() error { return nil }

func (s *staticSlaveCM) CommitNB() (CommitToken, error) { return 0, core.ErrBadVersion }
func (s *staticSlaveCM) CommitSync(CommitToken) (core.Version, error) {
	return core.VersionNone, core.ErrBadVersion
}

func (s *staticSlaveCM) SetAutoObsolete(uint32, core.AutoObsoletePolicy) {}
func (s *staticSlaveCM) GetAutoObsolete() uint32                        { return 0 }

func (s *staticSlaveCM) Sync(context.Context, core.Version) (core.Version, error) {
	return core.VersionNone, nil
}

func (s *staticSlaveCM) GetHeadVersion() core.Version   { return core.VersionNone }
func (s *staticSlaveCM) GetVersion() core.Version       { return core.VersionNone }
func (s *staticSlaveCM) GetOldestVersion() core.Version { return core.VersionNone }

func (s *staticSlaveCM) IsMaster() bool                       { return false }
func (s *staticSlaveCM) GetMasterInstanceID() core.InstanceId { return s.oc.MasterInstanceId }

func (s *staticSlaveCM) AddSlave(SubscribeRequest) (core.Version, error) {
	return core.VersionNone, core.ErrNotSupported
}
func (s *staticSlaveCM) RemoveSlave(core.NodeId) {}

func (s *staticSlaveCM) ApplyMapData(core.Version) error { return nil }
