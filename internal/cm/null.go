package cm

import (
	"context"

	"github.com/clustermesh/changecore/internal/core"
)

// nullCM is the default change manager for unattached objects (spec §9,
// "Replacing the global ZERO CM"). All mutators error; observers return
// VersionNone. It is a single immutable package-level value, matching the
// original's ObjectCM::ZERO singleton.
type nullCM struct{}

// Null is the shared NullCM instance installed on every unattached object.
var Null ChangeManager = nullCM{}

func (nullCM) Init() error { return nil }

func (nullCM) CommitNB() (CommitToken, error) { return 0, core.ErrBadVersion }
func (nullCM) CommitSync(CommitToken) (core.Version, error) {
	return core.VersionNone, core.ErrBadVersion
}

func (nullCM) SetAutoObsolete(uint32, core.AutoObsoletePolicy) {}
func (nullCM) GetAutoObsolete() uint32                        { return 0 }

func (nullCM) Sync(context.Context, core.Version) (core.Version, error) {
	return core.VersionNone, core.ErrBadVersion
}

func (nullCM) GetHeadVersion() core.Version   { return core.VersionNone }
func (nullCM) GetVersion() core.Version       { return core.VersionNone }
func (nullCM) GetOldestVersion() core.Version { return core.VersionNone }

func (nullCM) IsMaster() bool                       { return false }
func (nullCM) GetMasterInstanceID() core.InstanceId { return core.InstanceIdInvalid }

func (nullCM) AddSlave(SubscribeRequest) (core.Version, error) {
	return core.VersionNone, core.ErrBadVersion
}
func (nullCM) RemoveSlave(core.NodeId) {}

func (nullCM) ApplyMapData(core.Version) error { return core.ErrBadVersion }
