package changecore

import (
	"context"
	"testing"
	"time"

	"github.com/clustermesh/changecore/internal/stream"
)

// nullTestCodec is a Codec that writes a single observable byte but can
// report IsDirty(), enough to drive Commit() through a change manager
// without needing real application payloads.
type nullTestCodec struct {
	dirty bool
}

func (c *nullTestCodec) GetInstanceData(os *stream.OutputStream) error {
	os.WriteBlob([]byte{1})
	return nil
}
func (c *nullTestCodec) ApplyInstanceData(is *stream.InputStream) error {
	_, err := is.ReadBlob()
	return err
}
func (c *nullTestCodec) IsDirty() bool { return c.dirty }

// noopSender discards every send; used where tests only care about
// master-side state, not delivery.
type noopSender struct{}

func (noopSender) SendInstance(NodeId, InstanceId, Version, PushRecord) error { return nil }
func (noopSender) SendDelta(NodeId, InstanceId, PushRecord) error             { return nil }

func TestUnattachedObjectUsesNullCM(t *testing.T) {
	obj := NewObject(&nullTestCodec{})
	if obj.IsMaster() {
		t.Fatalf("fresh object reports IsMaster() = true")
	}
	if v := obj.GetHeadVersion(); v != VersionNone {
		t.Fatalf("fresh object GetHeadVersion() = %s, want VersionNone", v)
	}
	if _, err := obj.CommitNB(); err != ErrBadVersion {
		t.Fatalf("CommitNB on unattached object = %v, want ErrBadVersion", err)
	}
}

func TestSetupChangeManagerAndCommit(t *testing.T) {
	codec := &nullTestCodec{dirty: true}
	obj := NewObject(codec)
	if err := obj.SetupChangeManager(INSTANCE, true, 1, InstanceIdInvalid, noopSender{}); err != nil {
		t.Fatalf("SetupChangeManager: %v", err)
	}
	v, err := obj.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if v != VersionFirst {
		t.Fatalf("Commit() = %s, want %s", v, VersionFirst)
	}
}

func TestBecomeMasterRejectsWhenAlreadyMaster(t *testing.T) {
	codec := &nullTestCodec{dirty: true}
	obj := NewObject(codec)
	if err := obj.SetupChangeManager(DELTA, true, 1, InstanceIdInvalid, noopSender{}); err != nil {
		t.Fatalf("SetupChangeManager: %v", err)
	}
	if err := obj.BecomeMaster(noopSender{}); err != ErrAlreadyMaster {
		t.Fatalf("BecomeMaster on existing master = %v, want ErrAlreadyMaster", err)
	}
}

func TestBecomeMasterPromotesSlave(t *testing.T) {
	codec := &nullTestCodec{dirty: true}
	obj := NewObject(codec)
	if err := obj.SetupChangeManager(DELTA, false, 2, 1, nil); err != nil {
		t.Fatalf("SetupChangeManager: %v", err)
	}
	if obj.IsMaster() {
		t.Fatalf("slave object reports IsMaster() = true")
	}
	if err := obj.BecomeMaster(noopSender{}); err != nil {
		t.Fatalf("BecomeMaster: %v", err)
	}
	if !obj.IsMaster() {
		t.Fatalf("promoted object reports IsMaster() = false")
	}
	v, err := obj.Commit()
	if err != nil {
		t.Fatalf("Commit after BecomeMaster: %v", err)
	}
	if v != VersionFirst {
		t.Fatalf("first commit after promotion = %s, want %s", v, VersionFirst)
	}
}

func TestBecomeMasterRejectsUnsyncedSlave(t *testing.T) {
	codec := &nullTestCodec{dirty: true}
	obj := NewObject(codec)
	if err := obj.SetupChangeManager(DELTA, false, 2, 1, nil); err != nil {
		t.Fatalf("SetupChangeManager: %v", err)
	}
	if err := obj.Push(PushRecord{Version: VersionFirst, Payload: []byte{1}}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := obj.BecomeMaster(noopSender{}); err != ErrNotSynced {
		t.Fatalf("BecomeMaster on a slave with unapplied data = %v, want ErrNotSynced", err)
	}
	if obj.IsMaster() {
		t.Fatalf("object promoted despite ErrNotSynced")
	}
}

func TestBecomeMasterAnnouncesPreviousMaster(t *testing.T) {
	codec := &nullTestCodec{dirty: true}
	obj := NewObject(codec)
	if err := obj.SetupChangeManager(DELTA, false, 2, 1, nil); err != nil {
		t.Fatalf("SetupChangeManager: %v", err)
	}
	prevMaster := NewNodeId()
	announcer := &recordingAnnouncer{}
	obj.SetMasterAnnouncer(prevMaster, announcer)

	if err := obj.BecomeMaster(noopSender{}); err != nil {
		t.Fatalf("BecomeMaster: %v", err)
	}
	if announcer.node != prevMaster || announcer.objectId != obj.Id() {
		t.Fatalf("AnnounceNewMaster called with (%s, %s), want (%s, %s)", announcer.node, announcer.objectId, prevMaster, obj.Id())
	}
}

// recordingAnnouncer is a NewMasterAnnouncer that records its last call,
// standing in for the transport-level announcer in tests that don't need
// a real network round trip.
type recordingAnnouncer struct {
	node     NodeId
	objectId ObjectId
	asOf     Version
}

func (a *recordingAnnouncer) AnnounceNewMaster(node NodeId, objectId ObjectId, asOf Version) error {
	a.node, a.objectId, a.asOf = node, objectId, asOf
	return nil
}

func TestUnmapReturnsObjectToNullCM(t *testing.T) {
	codec := &nullTestCodec{dirty: true}
	obj := NewObject(codec)
	if err := obj.SetupChangeManager(INSTANCE, false, 2, 1, nil); err != nil {
		t.Fatalf("SetupChangeManager: %v", err)
	}
	obj.Unmap()
	if _, err := obj.CommitNB(); err != ErrBadVersion {
		t.Fatalf("CommitNB after Unmap = %v, want ErrBadVersion", err)
	}
}

func TestObjectIsNotThreadSafeByDefault(t *testing.T) {
	obj := NewObject(&nullTestCodec{dirty: true})
	if obj.IsThreadSafe() {
		t.Fatalf("fresh object reports IsThreadSafe() = true")
	}
	obj.MakeThreadSafe()
	if !obj.IsThreadSafe() {
		t.Fatalf("IsThreadSafe() = false after MakeThreadSafe")
	}
}

func TestThreadSafeObjectSerializesConcurrentCommits(t *testing.T) {
	codec := &nullTestCodec{dirty: true}
	obj := NewObject(codec)
	if err := obj.SetupChangeManager(INSTANCE, true, 1, InstanceIdInvalid, noopSender{}); err != nil {
		t.Fatalf("SetupChangeManager: %v", err)
	}
	obj.MakeThreadSafe()

	const n = 20
	versions := make(chan Version, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			v, err := obj.Commit()
			versions <- v
			errs <- err
		}()
	}
	seen := make(map[Version]bool, n)
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Commit: %v", err)
		}
		v := <-versions
		if seen[v] {
			t.Fatalf("version %s committed more than once under MakeThreadSafe", v)
		}
		seen[v] = true
	}
}

func TestNewObjectWithIdUsesSuppliedId(t *testing.T) {
	id := NewObjectId()
	obj := NewObjectWithId(id, &nullTestCodec{})
	if obj.Id() != id {
		t.Fatalf("Id() = %s, want %s", obj.Id(), id)
	}
}

func TestSyncHeadNeverBlocksAfterUnmap(t *testing.T) {
	codec := &nullTestCodec{dirty: true}
	obj := NewObject(codec)
	if err := obj.SetupChangeManager(INSTANCE, false, 2, 1, nil); err != nil {
		t.Fatalf("SetupChangeManager: %v", err)
	}
	obj.Unmap()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		obj.Sync(ctx, VersionHead)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("Sync(HEAD) blocked on an unmapped (NullCM) object")
	}
}
