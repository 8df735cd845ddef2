package changecore

import (
	"context"
	"testing"

	"github.com/clustermesh/changecore/internal/dispatch"
)

func handleNoop(context.Context, any) (dispatch.Result, error) {
	return dispatch.HANDLED, nil
}

func TestRegisterObjectRejectsDuplicateId(t *testing.T) {
	s := NewSession(NewNodeId(), 4)
	obj := NewObject(&nullTestCodec{dirty: true})

	if err := s.RegisterObject(obj, handleNoop); err != nil {
		t.Fatalf("first RegisterObject: %v", err)
	}
	if err := s.RegisterObject(obj, handleNoop); err != ErrDuplicateId {
		t.Fatalf("second RegisterObject = %v, want ErrDuplicateId", err)
	}
	if s.ObjectCount() != 1 {
		t.Fatalf("ObjectCount = %d, want 1", s.ObjectCount())
	}
}

func TestMapObjectAndDispatch(t *testing.T) {
	s := NewSession(NewNodeId(), 4)
	obj := NewObject(&nullTestCodec{dirty: true})

	seen := make(chan any, 1)
	handler := func(_ context.Context, packet any) (dispatch.Result, error) {
		seen <- packet
		return dispatch.HANDLED, nil
	}

	if err := s.MapObject(obj, INSTANCE, 2, 1, handler); err != nil {
		t.Fatalf("MapObject: %v", err)
	}
	if obj.IsMaster() {
		t.Fatalf("mapped slave object reports IsMaster() = true")
	}

	res, err := s.Dispatch(context.Background(), obj.Id(), "hello")
	if err != nil || res != dispatch.HANDLED {
		t.Fatalf("Dispatch = %s, %v; want HANDLED, nil", res, err)
	}
	if got := <-seen; got != "hello" {
		t.Fatalf("handler saw %v, want %q", got, "hello")
	}
}

func TestUnmapObjectRemovesFromSession(t *testing.T) {
	s := NewSession(NewNodeId(), 4)
	obj := NewObject(&nullTestCodec{dirty: true})
	if err := s.MapObject(obj, INSTANCE, 2, 1, handleNoop); err != nil {
		t.Fatalf("MapObject: %v", err)
	}
	if err := s.UnmapObject(obj); err != nil {
		t.Fatalf("UnmapObject: %v", err)
	}
	if s.ObjectCount() != 0 {
		t.Fatalf("ObjectCount after UnmapObject = %d, want 0", s.ObjectCount())
	}
	res, err := s.Dispatch(context.Background(), obj.Id(), "x")
	if err != nil || res != dispatch.DISCARD {
		t.Fatalf("Dispatch after UnmapObject = %s, %v; want DISCARD, nil", res, err)
	}
}

func TestUnmapObjectUnknownFails(t *testing.T) {
	s := NewSession(NewNodeId(), 4)
	obj := NewObject(&nullTestCodec{})
	if err := s.UnmapObject(obj); err != ErrNotFound {
		t.Fatalf("UnmapObject on unregistered object = %v, want ErrNotFound", err)
	}
}
