// Command changenode runs a single changecore node: a gRPC server
// accepting subscribe/push traffic from peers, and a background sweeper
// reclaiming obsolete versions from every master object it hosts.
//
// What: the process wiring around changecore.Session, grounded on the
// teacher's cmd/server/main.go (flag parsing, a server struct answering
// RPCs, a single main that starts the listener).
// How: Subscribe is answered directly against the target object's change
// manager (AddSlave); PushInstance/PushDelta/Unsubscribe are routed
// through the session's per-object dispatch queue so they interleave
// correctly with local commits on the same object.
package main

import (
	"context"
	"fmt"
	"log"

	changecore "github.com/clustermesh/changecore"
	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/dispatch"
	"github.com/clustermesh/changecore/internal/transport"
)

// changeServer bridges inbound gRPC traffic to a Session, implementing
// transport.ChangeServer.
type changeServer struct {
	session *changecore.Session
	peers   *peerBook
}

func newChangeServer(session *changecore.Session, peers *peerBook) *changeServer {
	return &changeServer{session: session, peers: peers}
}

func (s *changeServer) PushInstance(ctx context.Context, req *dispatch.ObjectInstance) (*transport.Ack, error) {
	res, err := s.session.Dispatch(ctx, req.ObjectId, *req)
	if err != nil {
		return nil, err
	}
	if res == dispatch.ERROR {
		return nil, fmt.Errorf("changenode: push instance for %s rejected", req.ObjectId)
	}
	return &transport.Ack{}, nil
}

func (s *changeServer) PushDelta(ctx context.Context, req *dispatch.ObjectDelta) (*transport.Ack, error) {
	res, err := s.session.Dispatch(ctx, req.ObjectId, *req)
	if err != nil {
		return nil, err
	}
	if res == dispatch.ERROR {
		return nil, fmt.Errorf("changenode: push delta for %s rejected", req.ObjectId)
	}
	return &transport.Ack{}, nil
}

// Subscribe answers a prospective slave directly against the target
// object's master change manager: there is no queued command involved
// because the subscriber is not yet a party to that object's ordered
// traffic (spec §6).
func (s *changeServer) Subscribe(_ context.Context, req *dispatch.ObjectSubscribe) (*dispatch.ObjectSubscribeReply, error) {
	s.peers.register(req.Node, req.Address)

	obj, ok := s.session.Lookup(req.ObjectId)
	if !ok {
		return &dispatch.ObjectSubscribeReply{ObjectId: req.ObjectId, Accepted: false, Reason: "object not mapped on this node"}, nil
	}
	if !obj.IsMaster() {
		return &dispatch.ObjectSubscribeReply{ObjectId: req.ObjectId, Accepted: false, Reason: "object is not master here"}, nil
	}
	firstUsable, err := obj.AddSlave(changecore.SubscribeRequest{
		Node:                  req.Node,
		InstanceId:            req.InstanceId,
		RequestedStartVersion: req.RequestedStartVersion,
	})
	if err != nil {
		return &dispatch.ObjectSubscribeReply{ObjectId: req.ObjectId, Accepted: false, Reason: err.Error()}, nil
	}
	return &dispatch.ObjectSubscribeReply{
		ObjectId:         req.ObjectId,
		FirstUsable:      firstUsable,
		MasterInstanceId: obj.GetMasterInstanceID(),
		Accepted:         true,
	}, nil
}

// NewMaster handles an ObjectNewMaster announcement from a slave that has
// just promoted itself: there is nothing to apply locally yet (spec §9's
// migration Open Question resolves re-subscription as explicit), so this
// only logs the transition for now.
func (s *changeServer) NewMaster(_ context.Context, req *dispatch.ObjectNewMaster) (*transport.Ack, error) {
	log.Printf("changenode: object %s has new master %s as of version %s", req.ObjectId, req.NewMasterNode, req.AsOfVersion)
	return &transport.Ack{}, nil
}

func (s *changeServer) Unsubscribe(ctx context.Context, req *dispatch.ObjectUnsubscribe) (*transport.Ack, error) {
	res, err := s.session.Dispatch(ctx, req.ObjectId, *req)
	if err != nil {
		return nil, err
	}
	if res == dispatch.ERROR {
		return nil, fmt.Errorf("changenode: unsubscribe for %s rejected", req.ObjectId)
	}
	return &transport.Ack{}, nil
}

// slaveHandler is the per-object dispatch.Handler registered for a mapped
// slave object: it applies received instance/delta frames and drops a
// node's subscription on request, each serialized through that object's
// single command queue (spec §4.6).
func slaveHandler(obj *changecore.Object) dispatch.Handler {
	return func(_ context.Context, packet any) (dispatch.Result, error) {
		switch p := packet.(type) {
		case dispatch.ObjectInstance:
			if err := obj.Push(p.ToRecord()); err != nil {
				return dispatch.ERROR, err
			}
			return dispatch.HANDLED, nil
		case dispatch.ObjectDelta:
			if err := obj.Push(p.ToRecord()); err != nil {
				return dispatch.ERROR, err
			}
			return dispatch.HANDLED, nil
		default:
			return dispatch.DISCARD, nil
		}
	}
}

// masterHandler is the per-object dispatch.Handler registered for a
// mapped master object: it removes subscribers that asked to unsubscribe,
// the one inbound command a master's queue needs to process besides
// commits (which originate locally, not over the wire).
func masterHandler(obj *changecore.Object) dispatch.Handler {
	return func(_ context.Context, packet any) (dispatch.Result, error) {
		switch p := packet.(type) {
		case dispatch.ObjectUnsubscribe:
			obj.RemoveSlave(p.Node)
			return dispatch.HANDLED, nil
		default:
			return dispatch.DISCARD, nil
		}
	}
}

// headLogger is a minimal changecore.NewHeadNotifier that logs, standing
// in for whatever an application does when a slave object's head version
// advances (spec §5).
type headLogger struct {
	node core.NodeId
	obj  *changecore.Object
}

func (h headLogger) NotifyNewHeadVersion(v changecore.Version) {
	log.Printf("changenode: object %s observed new head version %s", h.obj.Id(), v)
}
