package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clustermesh/changecore/internal/core"
)

func TestDispatchHandlesEveryConcurrentCommand(t *testing.T) {
	r := NewRouter(8)
	id := core.NewObjectId()

	var mu sync.Mutex
	var seen []int

	r.Register(id, func(_ context.Context, packet any) (Result, error) {
		n := packet.(int)
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return HANDLED, nil
	})
	defer r.Shutdown()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Dispatch(context.Background(), id, i)
			if err != nil || res != HANDLED {
				t.Errorf("Dispatch(%d) = %v, %v", i, res, err)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatalf("handled %d commands, want %d", len(seen), n)
	}
}

func TestDispatchToUnregisteredObjectDiscards(t *testing.T) {
	r := NewRouter(8)
	res, err := r.Dispatch(context.Background(), core.NewObjectId(), "anything")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != DISCARD {
		t.Fatalf("Dispatch to unknown object = %s, want DISCARD", res)
	}
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	r := NewRouter(8)
	id := core.NewObjectId()
	wantErr := errors.New("boom")
	r.Register(id, func(context.Context, any) (Result, error) {
		return ERROR, wantErr
	})
	defer r.Shutdown()

	res, err := r.Dispatch(context.Background(), id, "x")
	if res != ERROR || !errors.Is(err, wantErr) {
		t.Fatalf("Dispatch = %s, %v; want ERROR, %v", res, err, wantErr)
	}
}

func TestDeregisterStopsQueue(t *testing.T) {
	r := NewRouter(8)
	id := core.NewObjectId()
	r.Register(id, func(context.Context, any) (Result, error) { return HANDLED, nil })
	if r.RegisteredCount() != 1 {
		t.Fatalf("RegisteredCount = %d, want 1", r.RegisteredCount())
	}
	r.Deregister(id)
	if r.RegisteredCount() != 0 {
		t.Fatalf("RegisteredCount after Deregister = %d, want 0", r.RegisteredCount())
	}
	res, err := r.Dispatch(context.Background(), id, "x")
	if err != nil || res != DISCARD {
		t.Fatalf("Dispatch after Deregister = %s, %v; want DISCARD, nil", res, err)
	}
}

func TestDispatchHonorsContextTimeout(t *testing.T) {
	r := NewRouter(1)
	id := core.NewObjectId()
	block := make(chan struct{})
	r.Register(id, func(ctx context.Context, _ any) (Result, error) {
		<-block
		return HANDLED, nil
	})
	defer func() {
		close(block)
		r.Shutdown()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Dispatch(ctx, id, "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dispatch error = %v, want DeadlineExceeded", err)
	}
}
