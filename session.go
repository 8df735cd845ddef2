package changecore

import (
	"context"
	"sync"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/dispatch"
)

// Session is a single node's registry of active objects (spec §4.4,
// §4.5): it rejects duplicate registration of the same object id and
// routes inbound wire packets to the right object's command queue, one
// queue per mapped object (internal/dispatch).
type Session struct {
	node core.NodeId

	mu      sync.RWMutex
	objects map[core.ObjectId]*Object

	router *dispatch.Router
}

// NewSession returns an empty session identifying itself as node, with
// queueSize as each object's command queue capacity (dispatch.DefaultQueueSize
// if <= 0).
func NewSession(node NodeId, queueSize int) *Session {
	return &Session{
		node:    node,
		objects: make(map[core.ObjectId]*Object),
		router:  dispatch.NewRouter(queueSize),
	}
}

// Node returns this session's node identifier.
func (s *Session) Node() NodeId { return s.node }

// RegisterObject adds obj to the session under its own Id and starts its
// command queue with handler. Registering an id that is already mapped in
// this session fails with ErrDuplicateId (spec §4.4).
func (s *Session) RegisterObject(obj *Object, handler dispatch.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[obj.Id()]; exists {
		return ErrDuplicateId
	}
	s.objects[obj.Id()] = obj
	s.router.Register(obj.Id(), handler)
	return nil
}

// DeregisterObject removes obj from the session and stops its command
// queue. It is not an error to deregister an object that was never
// registered.
func (s *Session) DeregisterObject(obj *Object) {
	s.mu.Lock()
	delete(s.objects, obj.Id())
	s.mu.Unlock()
	s.router.Deregister(obj.Id())
}

// Lookup returns the object registered under id, if any.
func (s *Session) Lookup(id ObjectId) (*Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	return obj, ok
}

// MapObject attaches a slave change manager of changeType to obj and
// registers it in the session in one step, the common path for a
// slave-initiated subscribe (spec §4.4, §6).
func (s *Session) MapObject(obj *Object, changeType ChangeType, instanceId, masterInstanceId InstanceId, handler dispatch.Handler) error {
	if err := obj.SetupChangeManager(changeType, false, instanceId, masterInstanceId, nil); err != nil {
		return err
	}
	return s.RegisterObject(obj, handler)
}

// UnmapObject detaches obj from its change manager and removes it from
// the session. It fails with ErrNotFound if obj was never registered
// here.
func (s *Session) UnmapObject(obj *Object) error {
	s.mu.RLock()
	_, ok := s.objects[obj.Id()]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	obj.Unmap()
	s.DeregisterObject(obj)
	return nil
}

// Dispatch routes an inbound wire packet to the command queue of the
// object it names. Returns DISCARD, nil if no object with that id is
// currently mapped in this session (spec §7).
func (s *Session) Dispatch(ctx context.Context, id ObjectId, packet any) (dispatch.Result, error) {
	return s.router.Dispatch(ctx, id, packet)
}

// ObjectCount reports how many objects are currently registered.
func (s *Session) ObjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Shutdown tears down every object's command queue. Safe to call once
// during process teardown.
func (s *Session) Shutdown() {
	s.router.Shutdown()
}
