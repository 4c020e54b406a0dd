// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trumanellis/indranet/blobstore"
	"github.com/trumanellis/indranet/config"
	"github.com/trumanellis/indranet/handler"
	"github.com/trumanellis/indranet/identity"
	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/internal/kvstore"
	"github.com/trumanellis/indranet/pending"
	"github.com/trumanellis/indranet/realm"
	"github.com/trumanellis/indranet/router"
	"github.com/trumanellis/indranet/telemetry"
	"github.com/trumanellis/indranet/transport"
)

// Node is a fully wired indranet node: identity, realm registry and
// home, router, pending store, blob store, handler, transport, and
// the diagnostics HTTP server, all built from one config.Config.
type Node struct {
	cfg config.Config
	log log.Logger

	self netids.PeerIdentity

	kv       *kvstore.Store
	pending  *pending.Store
	blobs    *blobstore.Store
	registry *realm.Registry
	home     *realm.Home
	router   *router.Router
	handler  *handler.Handler
	net      transport.Transport
	book     *transport.StaticAddressBook

	metrics    *telemetry.Metrics
	health     *telemetry.Registry
	promReg    *prometheus.Registry
	diagServer *http.Server

	seenMu *sync.Mutex
	seen   map[netids.PeerIdentity]struct{}

	stopGC chan struct{}
	wg     sync.WaitGroup
}

// memoryNetwork is shared by every in-process node started with
// transport "memory" in a single run, e.g. a test harness or local
// multi-node demo under one binary.
var memoryNetwork = transport.NewMemoryNetwork()

// NewNode builds and opens every subsystem but does not yet serve
// traffic; call Run to start it.
func NewNode(cfg config.Config, transportKind string) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("indranode: invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("indranode: create data dir: %w", err)
	}

	logger := telemetry.NewProduction("indranode")

	id, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("indranode: generate identity: %w", err)
	}
	logger.Info("node identity generated", "peer", id.PeerID.String())

	kv, err := kvstore.Open(filepath.Join(cfg.DataDir, "node.db"))
	if err != nil {
		return nil, fmt.Errorf("indranode: open kvstore: %w", err)
	}

	blobs, err := blobstore.Open(filepath.Join(cfg.DataDir, "blobs"), kv)
	if err != nil {
		return nil, fmt.Errorf("indranode: open blobstore: %w", err)
	}

	pendingStore, err := pending.Open(filepath.Join(cfg.DataDir, "pending.log"), pending.Config{
		MaxTotal:   cfg.PendingMaxTotal,
		MaxPerPeer: cfg.PendingMaxPerPeer,
	})
	if err != nil {
		return nil, fmt.Errorf("indranode: open pending store: %w", err)
	}

	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)
	health := telemetry.NewRegistry()

	registry := realm.NewRegistry(id.PeerID, metrics)
	registry.SetPendingStore(pendingStore)

	home, err := realm.OpenHome(id.PeerID, registry, blobs)
	if err != nil {
		return nil, fmt.Errorf("indranode: open home realm: %w", err)
	}

	book := transport.NewStaticAddressBook(nil)

	var seenMu sync.Mutex
	seen := make(map[netids.PeerIdentity]struct{})

	// directlyConnected reports a transport path to peer: either a
	// configured dial endpoint (zmq) or a peer this node has already
	// exchanged a frame with this run (any transport, including
	// memory). It says nothing about whether peer is online right now;
	// that is PresenceTracker's job, updated as frames arrive.
	directlyConnected := func(peer netids.PeerIdentity) bool {
		if _, ok := book.Endpoint(peer); ok {
			return true
		}
		seenMu.Lock()
		_, ok := seen[peer]
		seenMu.Unlock()
		return ok
	}
	rtr := router.New(cfg.StaleTimeout, cfg.BackpropTimeout, directlyConnected, metrics, logger)

	var net transport.Transport
	switch transportKind {
	case "memory":
		net = memoryNetwork.Join(id.PeerID)
	case "zmq":
		zt, err := transport.NewZMQTransport(context.Background(), id.PeerID, cfg.ListenAddress, book, logger)
		if err != nil {
			return nil, fmt.Errorf("indranode: start zmq transport: %w", err)
		}
		net = zt
	default:
		return nil, fmt.Errorf("indranode: unknown transport kind %q", transportKind)
	}

	h := handler.New(id, registry, registry, net, cfg.AllowLegacyUnsigned, rtr, cfg.TTLDefault, metrics, logger)

	n := &Node{
		cfg:      cfg,
		log:      logger,
		self:     id.PeerID,
		kv:       kv,
		pending:  pendingStore,
		blobs:    blobs,
		registry: registry,
		home:     home,
		router:   rtr,
		handler:  h,
		net:      net,
		book:     book,
		metrics:  metrics,
		health:   health,
		promReg:  promReg,
		seenMu:   &seenMu,
		seen:     seen,
		stopGC:   make(chan struct{}),
	}

	health.Register("blobstore", telemetry.ReadyCheck(func(ctx context.Context) (interface{}, error) {
		return map[string]string{"data_dir": cfg.DataDir}, nil
	}))
	health.Register("pending", telemetry.ReadyCheck(func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	}))

	return n, nil
}

// AddPeer records peer's dialable endpoint for the ZMQ transport's
// address book. A no-op for the in-memory transport, which resolves
// peers by identity alone.
func (n *Node) AddPeer(peer netids.PeerIdentity, endpoint string) {
	n.book.Set(peer, endpoint)
}

// onlineDispatcher wraps handler.Handler to detect a peer's first
// inbound frame and fire OnPeerOnline before delivering, the way
// transport.OnlineObserver is meant to be driven from Serve.
type onlineDispatcher struct {
	n *Node
}

func (d *onlineDispatcher) HandleInbound(sender netids.PeerIdentity, raw []byte) {
	d.n.seenMu.Lock()
	_, already := d.n.seen[sender]
	d.n.seen[sender] = struct{}{}
	d.n.seenMu.Unlock()

	d.n.router.Presence().Connected(sender)

	if !already {
		d.n.handler.OnPeerOnline(sender, d.n.registry.Interfaces())
		d.n.flushHeld(sender)
	}
	d.n.handler.HandleInbound(sender, raw)
}

// flushHeld resends every packet the router held for peer while it
// was offline, now that it has sent its first frame this run (spec
// §8 S2: "packets held while offline are delivered once the
// destination comes back online").
func (n *Node) flushHeld(peer netids.PeerIdentity) {
	held := n.router.Hold().Flush(peer)
	now := time.Now()
	for _, pkt := range held {
		if err := n.net.Send(peer, pkt.Payload); err != nil {
			n.log.Warn("hold flush send failed", "peer", peer.String(), "error", err)
			continue
		}
		n.router.DeliverDirect(pkt, now)
	}
}

// Run starts the diagnostics server, the transport's Serve loop, and
// the periodic expired-grant and back-prop sweeps (gcLoop). It blocks until
// ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	if n.cfg.DiagnosticsAddress != "" {
		mux := telemetry.NewMux(n.health, n.promReg)
		n.diagServer = &http.Server{Addr: n.cfg.DiagnosticsAddress, Handler: mux}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.diagServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.log.Error("diagnostics server failed", "error", err)
			}
		}()
		n.log.Info("diagnostics server listening", "address", n.cfg.DiagnosticsAddress)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.gcLoop(ctx)
	}()

	n.log.Info("node serving", "peer", n.self.String(), "listen", n.cfg.ListenAddress)
	return n.net.Serve(ctx, &onlineDispatcher{n: n})
}

// gcLoop periodically sweeps expired artifact grants and stale router
// state, mirroring the original "background reaper" behavior
// (SPEC_FULL §3).
func (n *Node) gcLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.BlobGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopGC:
			return
		case now := <-ticker.C:
			n.home.Index().GCExpired(uint64(now.Unix()))
			n.router.SweepBackprop(now)
		}
	}
}

// Close releases every subsystem the node opened.
func (n *Node) Close() error {
	close(n.stopGC)
	if n.diagServer != nil {
		_ = n.diagServer.Close()
	}
	_ = n.net.Close()
	n.wg.Wait()

	var firstErr error
	if err := n.pending.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := n.kv.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
