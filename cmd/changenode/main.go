package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	changecore "github.com/clustermesh/changecore"
	"github.com/clustermesh/changecore/internal/core"
	"github.com/clustermesh/changecore/internal/dispatch"
	"github.com/clustermesh/changecore/internal/stream"
	"github.com/clustermesh/changecore/internal/transport"
	"github.com/clustermesh/changecore/internal/version"

	"github.com/google/uuid"
	"google.golang.org/grpc"
)

var (
	flagListen     = flag.String("listen", ":9191", "gRPC listen address")
	flagConfig     = flag.String("config", "", "path to a YAML config file (optional; defaults used if empty)")
	flagSweep      = flag.Bool("sweep", true, "run the background retention sweeper")
	flagDemo       = flag.Bool("demo", false, "map a single in-memory demo object as master and commit a few versions")
	flagJoinAddr   = flag.String("join", "", "gRPC address of a master node to subscribe to (requires -join-object)")
	flagJoinObject = flag.String("join-object", "", "object id (UUID) on the master named by -join to subscribe to")
)

func main() {
	flag.Parse()

	cfg := changecore.DefaultConfig()
	if *flagConfig != "" {
		loaded, err := changecore.LoadConfig(*flagConfig)
		if err != nil {
			log.Fatalf("changenode: %v", err)
		}
		cfg = loaded
	}

	node := changecore.NewNodeId()
	session := changecore.NewSession(node, cfg.QueueSize)
	defer session.Shutdown()

	peers := newPeerBook()

	logger := log.New(os.Stdout, "changenode: ", log.LstdFlags)

	var sweeper *version.Sweeper
	if *flagSweep && cfg.SweepInterval > 0 {
		sweeper = version.NewSweeper(logger)
		if err := sweeper.Start(fmt.Sprintf("@every %s", cfg.SweepInterval)); err != nil {
			log.Fatalf("changenode: starting sweeper: %v", err)
		}
		defer sweeper.Stop()
	}

	if *flagDemo {
		runDemo(session, peers, cfg, sweeper, logger)
	}

	if *flagJoinAddr != "" {
		if err := runJoin(session, node, peers, cfg, *flagListen, *flagJoinAddr, *flagJoinObject, logger); err != nil {
			log.Fatalf("changenode: join: %v", err)
		}
	}

	lis, err := net.Listen("tcp", *flagListen)
	if err != nil {
		log.Fatalf("changenode: listen on %s: %v", *flagListen, err)
	}

	gs := grpc.NewServer()
	transport.RegisterChangeServer(gs, newChangeServer(session, peers))

	go func() {
		logger.Printf("node %s serving on %s", node, *flagListen)
		if err := gs.Serve(lis); err != nil {
			log.Fatalf("changenode: serve: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Printf("shutting down")
	gs.GracefulStop()
}

// demoValue is a trivial Codec used only to exercise a master object end
// to end when -demo is passed: a single counter, snapshotted whole on
// every commit.
type demoValue struct {
	n int
}

func (d *demoValue) GetInstanceData(os *stream.OutputStream) error {
	os.WriteUint64(uint64(d.n))
	return nil
}

func (d *demoValue) ApplyInstanceData(is *stream.InputStream) error {
	n, err := is.ReadUint64()
	if err != nil {
		return err
	}
	d.n = int(n)
	return nil
}

// runDemo maps one master object locally, commits a handful of versions,
// and registers its store with the sweeper, so a fresh checkout has
// something to observe besides an idle listener. Its sender dials real
// peer connections through peers, so a -join slave subscribing to this
// node actually receives pushed versions over the wire.
func runDemo(session *changecore.Session, peers *peerBook, cfg changecore.Config, sweeper *version.Sweeper, logger *log.Logger) {
	value := &demoValue{}
	obj := changecore.NewObject(value)
	client := transport.NewClient(peers)
	sender := transport.NewNodeSender(obj.Id(), client)
	if err := obj.SetupChangeManager(cfg.ChangeType(), true, core.InstanceIdInvalid, core.InstanceIdInvalid, sender); err != nil {
		log.Fatalf("changenode: demo setup: %v", err)
	}
	obj.SetMaxPayloadBytes(cfg.MaxPayloadBytes)
	obj.SetAutoObsolete(cfg.AutoObsoleteCount, cfg.ObsoletePolicy())

	if err := session.RegisterObject(obj, masterHandler(obj)); err != nil {
		log.Fatalf("changenode: demo register: %v", err)
	}

	if sweeper != nil {
		if store, ok := obj.Store(); ok {
			sweeper.Register(obj.Id().String(), store)
		}
	}

	for i := 0; i < 3; i++ {
		value.n++
		v, err := obj.Commit()
		if err != nil {
			log.Fatalf("changenode: demo commit: %v", err)
		}
		logger.Printf("demo object %s committed version %s (n=%d)", obj.Id(), v, value.n)
	}
}

// peerBook is the minimal node registry this demo carries in place of a
// real one (out of scope, spec §1): every node address this process has
// learned of, either from its own -join dial or from an inbound
// ObjectSubscribe's Address field, keyed by NodeId and safe for
// concurrent use from the gRPC server and the demo's own sender.
type peerBook struct {
	mu        sync.Mutex
	addresses map[core.NodeId]string
}

func newPeerBook() *peerBook {
	return &peerBook{addresses: make(map[core.NodeId]string)}
}

func (b *peerBook) register(node core.NodeId, addr string) {
	if addr == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addresses[node] = addr
}

func (b *peerBook) Address(node core.NodeId) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr, ok := b.addresses[node]
	return addr, ok
}

// runJoin subscribes to objectIdStr on the master listening at addr and
// maps it locally as a slave, logging every received version. masterKey
// is a locally-minted stand-in for the master's real NodeId, since this
// demo has no node registry to resolve one from an address ahead of
// time; selfAddr is this node's own listen address, passed along on the
// subscribe request so the master can push back to it and, after a
// BecomeMaster on this node, announce the change to it in turn.
func runJoin(session *changecore.Session, node core.NodeId, peers *peerBook, cfg changecore.Config, selfAddr, addr, objectIdStr string, logger *log.Logger) error {
	objectId, err := uuid.Parse(objectIdStr)
	if err != nil {
		return fmt.Errorf("parsing -join-object: %w", err)
	}

	masterKey := core.NewNodeId()
	peers.register(masterKey, addr)
	client := transport.NewClient(peers)

	reply, err := client.Subscribe(context.Background(), masterKey, &dispatch.ObjectSubscribe{
		ObjectId:              objectId,
		Node:                  node,
		InstanceId:            core.InstanceIdInvalid,
		RequestedStartVersion: core.VersionFirst,
		Address:               selfAddr,
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", addr, err)
	}
	if !reply.Accepted {
		return fmt.Errorf("master rejected subscribe: %s", reply.Reason)
	}

	value := &demoValue{}
	obj := changecore.NewObjectWithId(objectId, value)
	if err := obj.SetupChangeManager(cfg.ChangeType(), false, core.InstanceIdInvalid, reply.MasterInstanceId, nil); err != nil {
		return fmt.Errorf("setting up slave change manager: %w", err)
	}
	obj.SetNotifier(headLogger{node: node, obj: obj})
	obj.SetMasterAnnouncer(masterKey, transport.NewNodeAnnouncer(node, client))

	if err := session.RegisterObject(obj, slaveHandler(obj)); err != nil {
		return fmt.Errorf("registering joined object: %w", err)
	}

	logger.Printf("joined object %s at %s, first usable version %s", objectId, addr, reply.FirstUsable)
	return nil
}
