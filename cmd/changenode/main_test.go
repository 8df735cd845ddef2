package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/stream"
)

func TestBuildChangenode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	out := filepath.Join(os.TempDir(), "changenode_bin")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", out, ".")
	cmd.Env = os.Environ()
	if outp, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(out)
		t.Fatalf("go build failed: %v\n%s", err, string(outp))
	}
	_ = os.Remove(out)
}

func TestPeerBookAddressOnlyResolvesRegisteredNodes(t *testing.T) {
	known := core.NewNodeId()
	b := newPeerBook()
	b.register(known, "localhost:9191")

	if addr, ok := b.Address(known); !ok || addr != "localhost:9191" {
		t.Fatalf("Address(known) = %q, %v; want localhost:9191, true", addr, ok)
	}
	if _, ok := b.Address(core.NewNodeId()); ok {
		t.Fatalf("Address(unknown) = true, want false")
	}
}

func TestPeerBookRegisterIgnoresEmptyAddress(t *testing.T) {
	node := core.NewNodeId()
	b := newPeerBook()
	b.register(node, "")

	if _, ok := b.Address(node); ok {
		t.Fatalf("Address after registering empty address = true, want false")
	}
}

func TestDemoValueRoundTrips(t *testing.T) {
	v := &demoValue{n: 42}
	os := stream.NewOutputStream()
	if err := v.GetInstanceData(os); err != nil {
		t.Fatalf("GetInstanceData: %v", err)
	}

	got := &demoValue{}
	is := stream.NewInputStream(os.Bytes())
	if err := got.ApplyInstanceData(is); err != nil {
		t.Fatalf("ApplyInstanceData: %v", err)
	}
	if got.n != 42 {
		t.Fatalf("n = %d, want 42", got.n)
	}
}
