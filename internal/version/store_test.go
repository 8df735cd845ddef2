package version

import (
	"testing"

	"github.com/clustermesh/changecore/internal/core"
)

func mustAppend(t *testing.T, s *Store, v core.Version, payload string) {
	t.Helper()
	if err := s.Append(Record{Version: v, Payload: []byte(payload)}); err != nil {
		t.Fatalf("Append(%s): %v", v, err)
	}
}

func TestAppendContiguity(t *testing.T) {
	s := NewStore()
	mustAppend(t, s, core.VersionFirst, "A")
	if s.Head() != core.VersionFirst {
		t.Fatalf("head = %s, want %s", s.Head(), core.VersionFirst)
	}
	if err := s.Append(Record{Version: core.VersionFirst.Next().Next(), Payload: []byte("gap")}); err == nil {
		t.Fatalf("expected error appending a non-contiguous version")
	}
}

func TestRetentionCountVersions(t *testing.T) {
	s := NewStore()
	s.SetAutoObsolete(1, core.CountVersions)

	v := core.VersionFirst
	mustAppend(t, s, v, "1")
	for i := 0; i < 4; i++ {
		v = v.Next()
		mustAppend(t, s, v, "x")
	}
	// 5 commits, keep 1 + head => oldest should be head-1.
	if got, want := s.Head(), v; got != want {
		t.Fatalf("head = %s, want %s", got, want)
	}
	wantOldest := v
	for i := 0; i < 1; i++ {
		wantOldest = core.Version{Hi: wantOldest.Hi, Lo: wantOldest.Lo - 1}
	}
	if s.Oldest() != wantOldest {
		t.Fatalf("oldest = %s, want %s (head - retain count)", s.Oldest(), wantOldest)
	}
}

func TestRetentionCountCommitsTakesPrecedence(t *testing.T) {
	s := NewStore()
	s.SetAutoObsolete(2, core.CountCommits)
	s.SetAutoObsolete(100, core.CountVersions) // should be overridden back...
	s.SetAutoObsolete(2, core.CountCommits)     // ...by re-asserting commits mode

	v := core.VersionFirst
	mustAppend(t, s, v, "1")
	for i := 0; i < 3; i++ {
		v = v.Next()
		mustAppend(t, s, v, "x")
	}
	if got := len(s.Records(core.VersionNone)); got > 3 {
		t.Fatalf("expected at most 3 retained records (2 + head), got %d", got)
	}
}

func TestPinPreventsDiscard(t *testing.T) {
	s := NewStore()
	s.SetAutoObsolete(0, core.CountVersions) // no auto policy; only explicit Obsolete

	v := core.VersionFirst
	mustAppend(t, s, v, "1")
	pinned := v
	s.Pin(pinned)

	for i := 0; i < 3; i++ {
		v = v.Next()
		mustAppend(t, s, v, "x")
	}

	s.Obsolete(v) // try to drop everything up to head
	if _, ok := s.Get(pinned); !ok {
		t.Fatalf("pinned version %s was discarded", pinned)
	}

	s.Unpin(pinned)
	s.Obsolete(v.Next().Next()) // head can never be obsoleted below but everything else can
	if _, ok := s.Get(pinned); ok {
		t.Fatalf("version %s should have been discarded after unpin", pinned)
	}
}

func TestObsoleteNeverDropsHead(t *testing.T) {
	s := NewStore()
	v := core.VersionFirst
	mustAppend(t, s, v, "1")
	s.Obsolete(v) // obsolete(head) is a no-op per spec §8 boundary behaviors
	if _, ok := s.Get(v); !ok {
		t.Fatalf("head version must never be dropped by Obsolete")
	}
}

func TestGCIsIdempotent(t *testing.T) {
	s := NewStore()
	s.SetAutoObsolete(1, core.CountVersions)
	mustAppend(t, s, core.VersionFirst, "1")
	if n := s.GC(); n != 0 {
		t.Fatalf("GC on a single-record store should drop nothing, dropped %d", n)
	}
}
