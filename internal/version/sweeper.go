package version

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// Collectible is anything a Sweeper can periodically run retention GC
// against. *Store satisfies it directly; the indirection lets callers
// outside this package register a store without naming the concrete
// Store type.
type Collectible interface {
	GC() int
}

// Sweeper periodically runs GC across every registered Store. It exists
// because auto-obsolete-on-commit only ever reclaims space when a new
// commit happens; an UNBUFFERED or low-traffic master can otherwise sit on
// obsolete-but-unreclaimed records indefinitely. This is a convenience, not
// a correctness mechanism: explicit Obsolete and the on-commit retention
// policy in applyRetention remain the primary guarantees required by
// spec §4.3.
//
// Grounded on nothing in the teacher's own GC path (which runs
// synchronously from MVCCTable.GarbageCollect) but scheduled with
// github.com/robfig/cron/v3, a direct teacher dependency otherwise unused
// by the storage or engine packages.
type Sweeper struct {
	mu      sync.Mutex
	stores  map[string]Collectible
	cron    *cron.Cron
	entryID cron.EntryID
	logger  *log.Logger
}

// NewSweeper creates a sweeper that is not yet running. Call Start to
// begin executing on the given cron schedule (standard 5-field expression,
// e.g. "*/30 * * * * *" is NOT standard cron — use "@every 30s" for
// sub-minute intervals, which robfig/cron supports natively).
func NewSweeper(logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		stores: make(map[string]Collectible),
		cron:   cron.New(),
		logger: logger,
	}
}

// Register adds a store to the sweep set under a name used for logging.
func (sw *Sweeper) Register(name string, s Collectible) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.stores[name] = s
}

// Unregister removes a store from the sweep set, e.g. when its object is
// detached from the session.
func (sw *Sweeper) Unregister(name string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	delete(sw.stores, name)
}

// Start begins running GC across all registered stores on the given cron
// schedule.
func (sw *Sweeper) Start(schedule string) error {
	id, err := sw.cron.AddFunc(schedule, sw.sweepOnce)
	if err != nil {
		return err
	}
	sw.entryID = id
	sw.cron.Start()
	return nil
}

// Stop halts the background schedule. Safe to call even if Start was never
// called.
func (sw *Sweeper) Stop() {
	ctx := sw.cron.Stop()
	<-ctx.Done()
}

func (sw *Sweeper) sweepOnce() {
	sw.mu.Lock()
	snapshot := make(map[string]Collectible, len(sw.stores))
	for k, v := range sw.stores {
		snapshot[k] = v
	}
	sw.mu.Unlock()

	for name, s := range snapshot {
		if n := s.GC(); n > 0 {
			sw.logger.Printf("version sweeper: reclaimed %d records from %s", n, name)
		}
	}
}
