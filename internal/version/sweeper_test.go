package version

import (
	"testing"

	"github.com/clustermesh/changecore/internal/core"
)

func TestSweeperRegisterSweepUnregister(t *testing.T) {
	s := NewStore()
	s.SetAutoObsolete(0, core.CountVersions)

	v := core.VersionFirst
	mustAppend(t, s, v, "1")
	for i := 0; i < 3; i++ {
		v = v.Next()
		mustAppend(t, s, v, "x")
	}
	s.Obsolete(v) // nothing auto-reclaims since autoObsoleteCount==0; GC reclaims nothing either
	if got := len(s.Records(core.VersionNone)); got != 1 {
		t.Fatalf("expected only the head retained after Obsolete, got %d records", got)
	}

	sw := NewSweeper(nil)
	sw.Register("obj-1", s)
	sw.sweepOnce() // should be a no-op; nothing left to collect
	if got := len(s.Records(core.VersionNone)); got != 1 {
		t.Fatalf("sweep changed record count unexpectedly: %d", got)
	}

	sw.Unregister("obj-1")
	if _, ok := sw.stores["obj-1"]; ok {
		t.Fatalf("expected obj-1 to be unregistered")
	}
}
