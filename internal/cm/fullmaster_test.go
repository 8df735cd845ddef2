package cm

import (
	"testing"

	"github.com/clustermesh/changecore/internal/core"
)

// TestFullMasterSendInstanceDataResendsToSubscribedNode exercises the
// recovered sendInstanceData operation: it reaches a subscribed node
// through the normal sender, drops a node that fails to receive it (same
// as a commit's fan-out would), and is a quiet no-op for a node that
// isn't subscribed at all.
func TestFullMasterSendInstanceDataResendsToSubscribedNode(t *testing.T) {
	codec := &stringCodec{value: "A", dirty: true}
	sender := newRelaySender()
	oc := ObjectCore{Id: core.NewObjectId(), InstanceId: 1, ChangeType: core.INSTANCE}
	master := NewFullMaster(oc, codec, sender, 0)

	tok, _ := master.CommitNB()
	if _, err := master.CommitSync(tok); err != nil {
		t.Fatalf("CommitSync: %v", err)
	}

	slave := NewFullSlave(ObjectCore{Id: oc.Id, InstanceId: 2, MasterInstanceId: 1, ChangeType: core.INSTANCE}, &stringCodec{}, nil)
	node := asNode(core.InstanceId(2))
	sender.slaves[node] = slave.(*fullSlaveCM)

	if _, err := master.AddSlave(SubscribeRequest{Node: node, InstanceId: 2, RequestedStartVersion: core.VersionNone}); err != nil {
		t.Fatalf("AddSlave: %v", err)
	}

	md, ok := master.(MasterCM)
	if !ok {
		t.Fatalf("fullMasterCM does not implement MasterCM")
	}
	if err := md.SendInstanceData([]core.NodeId{node}); err != nil {
		t.Fatalf("SendInstanceData: %v", err)
	}

	// a node that was never subscribed is silently skipped.
	if err := md.SendInstanceData([]core.NodeId{core.NewNodeId()}); err != nil {
		t.Fatalf("SendInstanceData for unsubscribed node: %v", err)
	}

	sender.fail[node] = true
	if err := md.SendInstanceData([]core.NodeId{node}); err == nil {
		t.Fatalf("SendInstanceData to a disconnected node = nil error, want error")
	}

	// the failed send drops the subscriber, same as sendToAll does.
	if err := md.SendInstanceData([]core.NodeId{node}); err != nil {
		t.Fatalf("SendInstanceData after subscriber dropped = %v, want nil", err)
	}
}

// TestStaticMasterSendInstanceDataIsNoop covers the STATIC variant: no
// versioned instance data exists to resend.
func TestStaticMasterSendInstanceDataIsNoop(t *testing.T) {
	master := NewStaticMaster(ObjectCore{Id: core.NewObjectId(), ChangeType: core.STATIC})
	md, ok := master.(MasterCM)
	if !ok {
		t.Fatalf("staticMasterCM does not implement MasterCM")
	}
	if err := md.SendInstanceData([]core.NodeId{core.NewNodeId()}); err != nil {
		t.Fatalf("SendInstanceData on STATIC master: %v", err)
	}
}

// TestSlaveVariantsDoNotImplementMasterCM documents that SendInstanceData
// is master-only: a caller type-asserting against MasterCM on a slave
// variant gets ErrNotSupported rather than a panic or silent success.
func TestSlaveVariantsDoNotImplementMasterCM(t *testing.T) {
	slaves := []ChangeManager{
		NewFullSlave(ObjectCore{ChangeType: core.INSTANCE}, &stringCodec{}, nil),
		NewDeltaSlave(ObjectCore{ChangeType: core.DELTA}, &stringCodec{}, nil),
		NewStaticSlave(ObjectCore{ChangeType: core.STATIC}),
		Null,
	}
	for _, s := range slaves {
		if _, ok := s.(MasterCM); ok {
			t.Fatalf("%T unexpectedly implements MasterCM", s)
		}
	}
}

// TestFullMasterCommitRejectsOversizedPayload covers spec §7's
// PayloadTooLarge: a commit whose serialized snapshot exceeds the
// configured frame limit fails and mints no version.
func TestFullMasterCommitRejectsOversizedPayload(t *testing.T) {
	codec := &stringCodec{value: "this payload is too big for the limit", dirty: true}
	master := NewFullMaster(ObjectCore{ChangeType: core.INSTANCE}, codec, newRelaySender(), 4)

	if _, err := master.CommitNB(); err != core.ErrPayloadTooLarge {
		t.Fatalf("CommitNB over the frame limit = %v, want ErrPayloadTooLarge", err)
	}
	if master.GetHeadVersion() != core.VersionNone {
		t.Fatalf("GetHeadVersion after rejected commit = %s, want VersionNone", master.GetHeadVersion())
	}
}

// TestFullMasterCommitAllowsPayloadUnderLimit is the control case for the
// previous test: a limit that comfortably fits the payload does not
// interfere with a normal commit.
func TestFullMasterCommitAllowsPayloadUnderLimit(t *testing.T) {
	codec := &stringCodec{value: "small", dirty: true}
	master := NewFullMaster(ObjectCore{ChangeType: core.INSTANCE}, codec, newRelaySender(), 1<<20)

	tok, err := master.CommitNB()
	if err != nil {
		t.Fatalf("CommitNB: %v", err)
	}
	if _, err := master.CommitSync(tok); err != nil {
		t.Fatalf("CommitSync: %v", err)
	}
}
