package transport

import (
	"context"
	"testing"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/dispatch"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	var codec jsonCodec
	want := dispatch.ObjectInstance{ObjectId: core.NewObjectId(), Version: core.VersionFirst, Payload: []byte("x")}
	buf, err := codec.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got dispatch.ObjectInstance
	if err := codec.Unmarshal(buf, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ObjectId != want.ObjectId || got.Version != want.Version || string(got.Payload) != string(want.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

type fakeChangeServer struct {
	gotInstance  *dispatch.ObjectInstance
	gotNewMaster *dispatch.ObjectNewMaster
}

func (f *fakeChangeServer) PushInstance(_ context.Context, req *dispatch.ObjectInstance) (*Ack, error) {
	f.gotInstance = req
	return &Ack{}, nil
}
func (f *fakeChangeServer) PushDelta(context.Context, *dispatch.ObjectDelta) (*Ack, error) {
	return &Ack{}, nil
}
func (f *fakeChangeServer) Subscribe(context.Context, *dispatch.ObjectSubscribe) (*dispatch.ObjectSubscribeReply, error) {
	return &dispatch.ObjectSubscribeReply{Accepted: true}, nil
}
func (f *fakeChangeServer) Unsubscribe(context.Context, *dispatch.ObjectUnsubscribe) (*Ack, error) {
	return &Ack{}, nil
}
func (f *fakeChangeServer) NewMaster(_ context.Context, req *dispatch.ObjectNewMaster) (*Ack, error) {
	f.gotNewMaster = req
	return &Ack{}, nil
}

func TestPushInstanceHandlerDecodesAndRoutes(t *testing.T) {
	srv := &fakeChangeServer{}
	want := &dispatch.ObjectInstance{ObjectId: core.NewObjectId(), Payload: []byte("snap")}
	dec := func(v any) error {
		*v.(*dispatch.ObjectInstance) = *want
		return nil
	}
	resp, err := pushInstanceHandler(srv, context.Background(), dec, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if _, ok := resp.(*Ack); !ok {
		t.Fatalf("handler returned %T, want *Ack", resp)
	}
	if srv.gotInstance == nil || srv.gotInstance.ObjectId != want.ObjectId {
		t.Fatalf("server did not receive decoded request")
	}
}

func TestNewMasterHandlerDecodesAndRoutes(t *testing.T) {
	srv := &fakeChangeServer{}
	want := &dispatch.ObjectNewMaster{ObjectId: core.NewObjectId(), NewMasterNode: core.NewNodeId(), AsOfVersion: core.VersionFirst}
	dec := func(v any) error {
		*v.(*dispatch.ObjectNewMaster) = *want
		return nil
	}
	resp, err := newMasterHandler(srv, context.Background(), dec, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if _, ok := resp.(*Ack); !ok {
		t.Fatalf("handler returned %T, want *Ack", resp)
	}
	if srv.gotNewMaster == nil || srv.gotNewMaster.ObjectId != want.ObjectId {
		t.Fatalf("server did not receive decoded request")
	}
}

type staticAddressBook map[core.NodeId]string

func (b staticAddressBook) Address(node core.NodeId) (string, bool) {
	addr, ok := b[node]
	return addr, ok
}

func TestClientReturnsErrorForUnknownNode(t *testing.T) {
	c := NewClient(staticAddressBook{})
	if _, err := c.connFor(core.NewNodeId()); err == nil {
		t.Fatalf("connFor for unregistered node: expected error")
	}
}
