// Package dispatch implements the per-object command queue that serializes
// all mutation of a single object's change manager through one goroutine
// (spec §4.6, §5: "each object's incoming commands -- subscribe, instance
// data, delta, commit notifications -- are processed by a single consumer
// so the change manager never has to protect its own state against
// concurrent callers").
//
// What: One queue per mapped object, each drained by exactly one worker
// goroutine, in place of a generic worker pool.
// How: Adapted from the teacher's ConcurrencyManager/WorkerPool
// (internal/storage/concurrency.go): the same request/result/stats/timeout
// shape, but the pool size is fixed at one consumer per queue instead of
// fanning a shared queue out across N workers, because command order
// within one object must be preserved.
// Why: A change manager variant (internal/cm) assumes its queue-thread
// contract holds; this package is what makes that contract true at
// runtime instead of just documented.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clustermesh/changecore/internal/core"
)

// Result is the outcome a Handler reports for one processed command,
// mirroring the original's HANDLED/DISCARD/ERROR command-dispatch result
// (spec §4.6).
type Result int

const (
	// HANDLED means the command was processed normally.
	HANDLED Result = iota
	// DISCARD means the command was recognized but intentionally ignored
	// (e.g. a stale retransmit, or a packet for an object that has since
	// been unmapped).
	DISCARD
	// ERROR means processing failed; the error accompanying the result
	// describes why.
	ERROR
)

func (r Result) String() string {
	switch r {
	case HANDLED:
		return "HANDLED"
	case DISCARD:
		return "DISCARD"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Handler processes one packet already routed to a specific object's
// queue. It must not block indefinitely; ctx carries the per-command
// deadline set by the submitter.
type Handler func(ctx context.Context, packet any) (Result, error)

// command is one unit of work submitted to a Queue.
type command struct {
	packet any
	ctx    context.Context
	result chan outcome
}

type outcome struct {
	res Result
	err error
}

// QueueStats tracks per-object dispatch metrics, mirroring the teacher's
// ConcurrencyStats.
type QueueStats struct {
	Handled   atomic.Uint64
	Discarded atomic.Uint64
	Errored   atomic.Uint64
	Queued    atomic.Int64
}

// Queue is a single object's command queue, drained by exactly one
// goroutine.
type Queue struct {
	id      core.ObjectId
	handler Handler

	in     chan command
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stats QueueStats
}

// newQueue constructs a queue for id with the given buffer size and
// handler, but does not start its consumer goroutine.
func newQueue(id core.ObjectId, size int, handler Handler) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		id:      id,
		handler: handler,
		in:      make(chan command, size),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// start launches the single consumer goroutine.
func (q *Queue) start() {
	go q.run()
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			return
		case cmd := <-q.in:
			q.stats.Queued.Add(-1)
			res, err := q.handler(cmd.ctx, cmd.packet)
			switch res {
			case HANDLED:
				q.stats.Handled.Add(1)
			case DISCARD:
				q.stats.Discarded.Add(1)
			case ERROR:
				q.stats.Errored.Add(1)
			}
			select {
			case cmd.result <- outcome{res: res, err: err}:
			case <-cmd.ctx.Done():
			}
		}
	}
}

// submit enqueues packet and blocks until the handler has processed it or
// ctx is done, whichever comes first.
func (q *Queue) submit(ctx context.Context, packet any) (Result, error) {
	cmd := command{packet: packet, ctx: ctx, result: make(chan outcome, 1)}
	q.stats.Queued.Add(1)

	select {
	case q.in <- cmd:
	case <-ctx.Done():
		q.stats.Queued.Add(-1)
		return ERROR, ctx.Err()
	case <-q.ctx.Done():
		q.stats.Queued.Add(-1)
		return ERROR, errQueueClosed
	}

	select {
	case o := <-cmd.result:
		return o.res, o.err
	case <-ctx.Done():
		return ERROR, ctx.Err()
	}
}

// stop signals the consumer goroutine to exit and waits for it to finish.
func (q *Queue) stop() {
	q.cancel()
	<-q.done
}

// Stats returns a point-in-time snapshot of this queue's counters.
func (q *Queue) Stats() QueueStats {
	var s QueueStats
	s.Handled.Store(q.stats.Handled.Load())
	s.Discarded.Store(q.stats.Discarded.Load())
	s.Errored.Store(q.stats.Errored.Load())
	s.Queued.Store(q.stats.Queued.Load())
	return s
}

var errQueueClosed = errors.New("dispatch: queue closed")

// DefaultQueueSize is used by Router.Register when a caller does not need
// a custom buffer size.
const DefaultQueueSize = 256

// DefaultCommandTimeout bounds how long Dispatch waits for a registered
// handler to finish one command when the caller supplies a context with no
// deadline of its own.
const DefaultCommandTimeout = 5 * time.Second

// Router fans incoming packets out to one queue per mapped object,
// creating and tearing down queues as objects are mapped and unmapped.
type Router struct {
	mu        sync.Mutex
	queues    map[core.ObjectId]*Queue
	queueSize int
}

// NewRouter returns a router whose queues use queueSize as their buffer
// capacity (DefaultQueueSize if <= 0).
func NewRouter(queueSize int) *Router {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Router{queues: make(map[core.ObjectId]*Queue), queueSize: queueSize}
}

// Register creates and starts a queue for id, replacing any existing one.
// Call this when an object is mapped or attached to a change manager.
func (r *Router) Register(id core.ObjectId, handler Handler) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.queues[id]; ok {
		old.stop()
	}
	q := newQueue(id, r.queueSize, handler)
	q.start()
	r.queues[id] = q
	return q
}

// Deregister stops and removes id's queue, e.g. on Unmap. Any command
// still in flight is abandoned once its submitter's context expires.
func (r *Router) Deregister(id core.ObjectId) {
	r.mu.Lock()
	q, ok := r.queues[id]
	delete(r.queues, id)
	r.mu.Unlock()
	if ok {
		q.stop()
	}
}

// Dispatch routes packet to id's queue and blocks for the result. It
// returns DISCARD, nil if no queue is registered for id (the object is
// unmapped or unknown), matching the original's "packet for an unmapped
// object is silently discarded" behavior (spec §7).
func (r *Router) Dispatch(ctx context.Context, id core.ObjectId, packet any) (Result, error) {
	r.mu.Lock()
	q, ok := r.queues[id]
	r.mu.Unlock()
	if !ok {
		return DISCARD, nil
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCommandTimeout)
		defer cancel()
	}
	return q.submit(ctx, packet)
}

// Stats returns a snapshot of id's queue counters, or ok=false if id has
// no registered queue.
func (r *Router) Stats(id core.ObjectId) (QueueStats, bool) {
	r.mu.Lock()
	q, ok := r.queues[id]
	r.mu.Unlock()
	if !ok {
		return QueueStats{}, false
	}
	return q.Stats(), true
}

// Shutdown stops every registered queue. Safe to call once during process
// teardown.
func (r *Router) Shutdown() {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.queues = make(map[core.ObjectId]*Queue)
	r.mu.Unlock()

	for _, q := range queues {
		q.stop()
	}
}

// RegisteredCount reports how many object queues are currently live,
// exposed for tests and diagnostics.
func (r *Router) RegisteredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}

// ErrUnknownObject names the "no queue" case for callers that need to
// distinguish it from a DISCARD produced by a handler; nothing in this
// package returns it, and Dispatch only reports DISCARD.
var ErrUnknownObject = fmt.Errorf("dispatch: no queue registered for object")
