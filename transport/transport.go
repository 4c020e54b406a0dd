// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport implements spec §4.10's pluggable transport: the
// thing that moves a SignedMessage's raw bytes to a peer and delivers
// inbound bytes back to handler.Handler. NAT traversal and peer
// discovery are explicit non-goals (spec.md); this package assumes a
// reachable endpoint is already known for every peer it sends to.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/log"

	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/telemetry"
)

// Dispatcher is the inbound sink a Transport hands decoded frames to.
// handler.Handler implements this.
type Dispatcher interface {
	HandleInbound(sender netids.PeerIdentity, raw []byte)
}

// AddressBook resolves a peer identity to a dialable endpoint, kept
// separate from Transport itself so discovery/config can populate it
// independently of the transport's connection lifecycle.
type AddressBook interface {
	Endpoint(peer netids.PeerIdentity) (string, bool)
}

// StaticAddressBook is the simplest AddressBook: a mutable map of
// known peer endpoints, fine for a config file or test fixture.
type StaticAddressBook struct {
	mu   sync.RWMutex
	addr map[netids.PeerIdentity]string
}

// NewStaticAddressBook returns an AddressBook backed by a copy of addr.
func NewStaticAddressBook(addr map[netids.PeerIdentity]string) *StaticAddressBook {
	cp := make(map[netids.PeerIdentity]string, len(addr))
	for k, v := range addr {
		cp[k] = v
	}
	return &StaticAddressBook{addr: cp}
}

// Endpoint implements AddressBook.
func (b *StaticAddressBook) Endpoint(peer netids.PeerIdentity) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.addr[peer]
	return ep, ok
}

// Set records (or updates) peer's dialable endpoint.
func (b *StaticAddressBook) Set(peer netids.PeerIdentity, endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addr[peer] = endpoint
}

// Remove forgets peer's endpoint, e.g. once it is known to have gone
// offline so a stale dial target isn't retried.
func (b *StaticAddressBook) Remove(peer netids.PeerIdentity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.addr, peer)
}

// ErrUnknownPeer is returned by Send when the AddressBook has no
// endpoint for the destination peer.
var ErrUnknownPeer = fmt.Errorf("transport: no known endpoint for peer")

// OnlineObserver is notified of peer online/offline transitions so
// the router's Hold-queue flush and handler's proactive resync
// (SPEC_FULL §3) can both react to the same transition.
type OnlineObserver interface {
	OnPeerOnline(peer netids.PeerIdentity, interfaces []netids.InterfaceId)
}

// Transport is the interface every concrete transport (ZeroMQ,
// in-memory loopback for tests) implements. It satisfies
// handler.Sender directly via Send.
type Transport interface {
	// Send delivers data to peer, dialing a new connection if none is
	// open yet. Per-peer send ordering is preserved (spec §4.1
	// "per-peer transport send ordering is preserved by the transport
	// layer"); cross-peer ordering is not.
	Send(peer netids.PeerIdentity, data []byte) error

	// Serve blocks, delivering every inbound frame to dispatch.Handle
	// Inbound, until ctx is canceled or Close is called.
	Serve(ctx context.Context, dispatch Dispatcher) error

	// Close releases every socket the transport holds open.
	Close() error
}

func componentLog(logger log.Logger) log.Logger {
	if logger == nil {
		logger = telemetry.NewNoOpLogger()
	}
	return telemetry.Component(logger, "transport")
}
