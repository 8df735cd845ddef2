// Package transport implements the gRPC-based messaging layer connecting
// changecore nodes (spec §6): the RPCs a master uses to push instance and
// delta frames to subscribers, and the RPC a prospective slave uses to
// subscribe.
//
// What: A ChangeServer interface plus a hand-registered grpc.ServiceDesc,
// and a Client/NodeSender pair that implements cm.Sender over it.
// How: Grounded on the teacher's cmd/server/main.go: no protobuf codegen,
// a manual grpc.ServiceDesc with a JSON wire codec (the teacher's
// jsonCodec), and a thin client dialing peer addresses on demand.
// Why: The change manager package (internal/cm) depends only on the
// narrow Sender interface; this package is the one piece of the system
// that actually moves bytes between processes, kept separate so internal/cm
// stays transport-agnostic and unit-testable without a network.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/dispatch"
	"github.com/clustermesh/changecore/internal/version"
)

// jsonCodec replaces protobuf wire encoding with plain JSON, exactly as
// the teacher's cmd/server/main.go does for its hand-rolled TinySQL
// service: every message type here is a plain Go struct with exported
// fields, so there is nothing protobuf-specific to generate.
type jsonCodec struct{}

func (jsonCodec) Name() string                          { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)          { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error     { return json.Unmarshal(data, v) }

// Ack is the empty acknowledgment returned by the push RPCs.
type Ack struct{}

// ChangeServer is implemented by a node to receive inbound change traffic
// from peers (spec §6: ObjectInstance, ObjectDelta, ObjectSubscribe,
// ObjectUnsubscribe, ObjectNewMaster).
type ChangeServer interface {
	PushInstance(ctx context.Context, req *dispatch.ObjectInstance) (*Ack, error)
	PushDelta(ctx context.Context, req *dispatch.ObjectDelta) (*Ack, error)
	Subscribe(ctx context.Context, req *dispatch.ObjectSubscribe) (*dispatch.ObjectSubscribeReply, error)
	Unsubscribe(ctx context.Context, req *dispatch.ObjectUnsubscribe) (*Ack, error)
	NewMaster(ctx context.Context, req *dispatch.ObjectNewMaster) (*Ack, error)
}

// RegisterChangeServer wires srv into s using a manually built
// grpc.ServiceDesc, mirroring registerTinySQLServer in the teacher's
// cmd/server/main.go.
func RegisterChangeServer(s *grpc.Server, srv ChangeServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "changecore.Change",
		HandlerType: (*ChangeServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "PushInstance", Handler: pushInstanceHandler},
			{MethodName: "PushDelta", Handler: pushDeltaHandler},
			{MethodName: "Subscribe", Handler: subscribeHandler},
			{MethodName: "Unsubscribe", Handler: unsubscribeHandler},
			{MethodName: "NewMaster", Handler: newMasterHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "changecore",
	}, srv)
}

func pushInstanceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(dispatch.ObjectInstance)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChangeServer).PushInstance(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/changecore.Change/PushInstance"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChangeServer).PushInstance(ctx, req.(*dispatch.ObjectInstance))
	}
	return interceptor(ctx, in, info, handler)
}

func pushDeltaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(dispatch.ObjectDelta)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChangeServer).PushDelta(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/changecore.Change/PushDelta"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChangeServer).PushDelta(ctx, req.(*dispatch.ObjectDelta))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(dispatch.ObjectSubscribe)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChangeServer).Subscribe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/changecore.Change/Subscribe"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChangeServer).Subscribe(ctx, req.(*dispatch.ObjectSubscribe))
	}
	return interceptor(ctx, in, info, handler)
}

func unsubscribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(dispatch.ObjectUnsubscribe)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChangeServer).Unsubscribe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/changecore.Change/Unsubscribe"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChangeServer).Unsubscribe(ctx, req.(*dispatch.ObjectUnsubscribe))
	}
	return interceptor(ctx, in, info, handler)
}

func newMasterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(dispatch.ObjectNewMaster)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChangeServer).NewMaster(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/changecore.Change/NewMaster"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChangeServer).NewMaster(ctx, req.(*dispatch.ObjectNewMaster))
	}
	return interceptor(ctx, in, info, handler)
}

// AddressBook resolves a node identifier to a dialable gRPC address. A
// node registry (outside this package's scope, spec §1) supplies the
// concrete mapping.
type AddressBook interface {
	Address(node core.NodeId) (string, bool)
}

// Client dials peer addresses on demand and caches the connections,
// exposing the five RPCs above as plain Go methods.
type Client struct {
	book AddressBook

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewClient returns a client resolving peer addresses through book.
func NewClient(book AddressBook) *Client {
	return &Client{book: book, conns: make(map[string]*grpc.ClientConn)}
}

func (c *Client) connFor(node core.NodeId) (*grpc.ClientConn, error) {
	addr, ok := c.book.Address(node)
	if !ok {
		return nil, fmt.Errorf("transport: no known address for node %s", node)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", addr, err)
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *Client) PushInstance(ctx context.Context, node core.NodeId, req *dispatch.ObjectInstance) error {
	conn, err := c.connFor(node)
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, "/changecore.Change/PushInstance", req, new(Ack))
}

func (c *Client) PushDelta(ctx context.Context, node core.NodeId, req *dispatch.ObjectDelta) error {
	conn, err := c.connFor(node)
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, "/changecore.Change/PushDelta", req, new(Ack))
}

func (c *Client) Subscribe(ctx context.Context, node core.NodeId, req *dispatch.ObjectSubscribe) (*dispatch.ObjectSubscribeReply, error) {
	conn, err := c.connFor(node)
	if err != nil {
		return nil, err
	}
	reply := new(dispatch.ObjectSubscribeReply)
	if err := conn.Invoke(ctx, "/changecore.Change/Subscribe", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Unsubscribe(ctx context.Context, node core.NodeId, req *dispatch.ObjectUnsubscribe) error {
	conn, err := c.connFor(node)
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, "/changecore.Change/Unsubscribe", req, new(Ack))
}

func (c *Client) NewMaster(ctx context.Context, node core.NodeId, req *dispatch.ObjectNewMaster) error {
	conn, err := c.connFor(node)
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, "/changecore.Change/NewMaster", req, new(Ack))
}

// Close tears down every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport: closing connection to %s: %w", addr, err)
		}
	}
	c.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}

// CallTimeout bounds each RPC that NodeSender and NodeAnnouncer issue.
// Client's own methods use the caller's context as given.
const CallTimeout = 5 * time.Second

// NodeSender implements cm.Sender over a Client, the adapter a master
// change manager uses to reach subscribers on other nodes (spec §6).
// Each NodeSender is scoped to one object, since Sender's calls carry an
// InstanceId but not the ObjectId the push actually belongs to.
type NodeSender struct {
	objectId core.ObjectId
	client   *Client
}

// NewNodeSender returns a Sender that pushes objectId's version traffic
// through client.
func NewNodeSender(objectId core.ObjectId, client *Client) *NodeSender {
	return &NodeSender{objectId: objectId, client: client}
}

func (n *NodeSender) SendInstance(node core.NodeId, instanceID core.InstanceId, firstUsable core.Version, rec version.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), CallTimeout)
	defer cancel()
	return n.client.PushInstance(ctx, node, &dispatch.ObjectInstance{
		ObjectId:    n.objectId,
		InstanceId:  instanceID,
		Version:     rec.Version,
		FirstUsable: firstUsable,
		Payload:     rec.Payload,
	})
}

func (n *NodeSender) SendDelta(node core.NodeId, instanceID core.InstanceId, rec version.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), CallTimeout)
	defer cancel()
	return n.client.PushDelta(ctx, node, &dispatch.ObjectDelta{
		ObjectId:   n.objectId,
		InstanceId: instanceID,
		Version:    rec.Version,
		Payload:    rec.Payload,
	})
}

// NodeAnnouncer implements changecore.NewMasterAnnouncer over a Client,
// letting a freshly promoted master notify the node it took over from
// (spec §4.5).
type NodeAnnouncer struct {
	self   core.NodeId
	client *Client
}

// NewNodeAnnouncer returns an announcer that identifies itself as self
// and reaches peers through client.
func NewNodeAnnouncer(self core.NodeId, client *Client) *NodeAnnouncer {
	return &NodeAnnouncer{self: self, client: client}
}

func (n *NodeAnnouncer) AnnounceNewMaster(node core.NodeId, objectId core.ObjectId, asOf core.Version) error {
	ctx, cancel := context.WithTimeout(context.Background(), CallTimeout)
	defer cancel()
	return n.client.NewMaster(ctx, node, &dispatch.ObjectNewMaster{
		ObjectId:      objectId,
		NewMasterNode: n.self,
		AsOfVersion:   asOf,
	})
}
