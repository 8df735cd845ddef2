// Package version implements the in-memory ring of committed versions for a
// single master change manager (spec §4.3).
//
// What: An ordered, contiguous, strictly-increasing sequence of version
// records, with two retention policies (count-versions, count-commits) and
// pinning so a version a subscriber still needs is never discarded.
// How: A mutex-guarded slice acts as the ring; Append/Obsolete/GC mutate it
// under the master's queue-thread contract described in spec §5 (callers
// are expected to serialize access to a single Store through the owning
// CM's queue, but the Store itself is safe to call from any goroutine).
// Why: Modeled directly on the teacher's MVCC garbage collector
// (internal/storage/mvcc.go: MVCCManager.GCWatermark, MVCCTable.GarbageCollect)
// which walks a version chain and stops at a watermark derived from the
// oldest thing still referencing old data — here a subscriber pin plays the
// role the teacher's oldest-active-transaction plays.
package version

import (
	"fmt"
	"sync"

	"github.com/clustermesh/changecore/internal/core"
)

// Record is a single committed version: its payload and the commit
// sequence number that produced it (spec §3).
type Record struct {
	Version   core.Version
	Payload   []byte
	IsDelta   bool
	CommitSeq uint64
}

// Store is the per-master version ring.
type Store struct {
	mu sync.Mutex

	records []Record // contiguous, strictly increasing by Version

	head   core.Version
	oldest core.Version

	autoObsoleteCount  uint32
	autoObsoletePolicy core.AutoObsoletePolicy

	commitsRetained uint64 // commits represented by records currently retained

	pins map[core.Version]int // subscriber refcounts; >0 means "do not discard"
}

// NewStore returns an empty version store with no retained records.
func NewStore() *Store {
	return &Store{
		head:               core.VersionNone,
		oldest:             core.VersionNone,
		autoObsoletePolicy: core.CountVersions,
		pins:               make(map[core.Version]int),
	}
}

// SetAutoObsolete sets the retention policy (spec §4.3).
func (s *Store) SetAutoObsolete(count uint32, policy core.AutoObsoletePolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoObsoleteCount = count
	s.autoObsoletePolicy = policy
}

// GetAutoObsolete returns the current retention count.
func (s *Store) GetAutoObsolete() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoObsoleteCount
}

// Append adds a newly committed record. v must be exactly the current
// head's Next(), or VersionFirst if the store is empty; this mirrors the
// "versions in the queue are contiguous and strictly increasing" invariant
// (spec §3).
func (s *Store) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := core.VersionFirst
	if len(s.records) > 0 {
		want = s.head.Next()
	}
	if rec.Version != want {
		return fmt.Errorf("version: non-contiguous append, have head %s, got %s, want %s", s.head, rec.Version, want)
	}

	s.records = append(s.records, rec)
	s.head = rec.Version
	if len(s.records) == 1 {
		s.oldest = rec.Version
	}
	s.commitsRetained++

	s.applyRetention()
	return nil
}

// AppendNext mints the version immediately following the current head (or
// VersionFirst if the store is empty) and appends it in the same critical
// section, so concurrent committers can never race on what "next" means:
// versions are assigned in the order AppendNext calls take the store's
// lock.
func (s *Store) AppendNext(payload []byte, isDelta bool) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := core.VersionFirst
	if len(s.records) > 0 {
		next = s.head.Next()
	}
	rec := Record{Version: next, Payload: payload, IsDelta: isDelta}

	s.records = append(s.records, rec)
	s.head = rec.Version
	if len(s.records) == 1 {
		s.oldest = rec.Version
	}
	s.commitsRetained++

	s.applyRetention()
	return rec
}

// Head returns the latest committed version, or VersionNone if nothing has
// been committed yet.
func (s *Store) Head() core.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Oldest returns the oldest retained version, or VersionNone if empty.
func (s *Store) Oldest() core.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oldest
}

// Records returns a copy of all retained records from (and including) from
// up to and including the head. If from is VersionNone or older than
// Oldest(), it returns all retained records.
func (s *Store) Records(from core.Version) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Version.Compare(from) >= 0 {
			out = append(out, r)
		}
	}
	return out
}

// Get returns the record for an exact version, if retained.
func (s *Store) Get(v core.Version) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Version == v {
			return r, true
		}
	}
	return Record{}, false
}

// Pin marks a version as required by a subscriber, preventing its
// discard until Unpin is called. Multiple subscribers needing the same
// version stack refcounts.
func (s *Store) Pin(v core.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[v]++
}

// Unpin releases a pin previously taken with Pin.
func (s *Store) Unpin(v core.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pins[v] <= 1 {
		delete(s.pins, v)
		return
	}
	s.pins[v]--
}

// Obsolete explicitly drops all versions <= v, except the head, overriding
// both retention policies for that range (spec §9's resolved open
// question: explicit Obsolete always wins for versions <= v). Pinned
// versions are never dropped regardless of v.
func (s *Store) Obsolete(v core.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropThrough(v)
}

// GC runs the configured auto-obsolete retention policy, as if a commit had
// just happened. It is safe to call periodically from a background
// sweeper; it is idempotent when nothing is eligible for collection.
func (s *Store) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.records)
	s.applyRetention()
	return before - len(s.records)
}

// applyRetention drops records per the configured policy. Caller must hold
// s.mu.
func (s *Store) applyRetention() {
	if len(s.records) == 0 || s.autoObsoleteCount == 0 {
		return
	}

	var keepFrom int
	switch s.autoObsoletePolicy {
	case core.CountCommits:
		// Retain versions minted by the last N non-empty commits.
		if s.commitsRetained <= uint64(s.autoObsoleteCount) {
			return
		}
		drop := int(s.commitsRetained - uint64(s.autoObsoleteCount))
		if drop > len(s.records)-1 {
			drop = len(s.records) - 1
		}
		keepFrom = drop
	default: // CountVersions
		if len(s.records) <= int(s.autoObsoleteCount)+1 {
			return
		}
		keepFrom = len(s.records) - (int(s.autoObsoleteCount) + 1)
	}

	s.dropIndicesBelow(keepFrom)
}

// dropThrough drops all retained records with Version <= v, except the
// head, honoring pins. Caller must hold s.mu.
func (s *Store) dropThrough(v core.Version) {
	idx := 0
	for idx < len(s.records)-1 { // never drop the head (last element)
		r := s.records[idx]
		if r.Version.Compare(v) > 0 {
			break
		}
		if s.pins[r.Version] > 0 {
			break // a pinned version blocks dropping anything at/after it
		}
		idx++
	}
	s.dropIndicesBelow(idx)
}

// dropIndicesBelow drops s.records[0:keepFrom], honoring pins: the actual
// drop point is clamped to the first pinned version still in that range.
// Caller must hold s.mu.
func (s *Store) dropIndicesBelow(keepFrom int) {
	if keepFrom <= 0 || keepFrom > len(s.records) {
		if keepFrom > len(s.records) {
			keepFrom = len(s.records)
		} else {
			return
		}
	}

	cut := keepFrom
	for i := 0; i < keepFrom; i++ {
		if s.pins[s.records[i].Version] > 0 {
			cut = i
			break
		}
	}
	if cut <= 0 {
		return
	}

	dropped := s.records[:cut]
	s.records = append([]Record(nil), s.records[cut:]...)
	s.commitsRetained -= uint64(len(dropped))
	if len(s.records) > 0 {
		s.oldest = s.records[0].Version
	}
}
