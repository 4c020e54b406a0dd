// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"fmt"
	"sync"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// MemoryNetwork is a shared in-process switchboard: every MemoryTransport
// registered on the same MemoryNetwork can Send to every other one by
// PeerIdentity, with no sockets involved. Intended for tests exercising
// handler/router/realm wiring without a real ZeroMQ endpoint.
type MemoryNetwork struct {
	mu    sync.Mutex
	peers map[netids.PeerIdentity]*MemoryTransport
}

// NewMemoryNetwork returns an empty switchboard.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{peers: make(map[netids.PeerIdentity]*MemoryTransport)}
}

// MemoryTransport is a Transport backed by a MemoryNetwork. Send writes
// directly into the destination's inbound channel; Serve drains this
// transport's own inbound channel.
type MemoryTransport struct {
	self    netids.PeerIdentity
	net     *MemoryNetwork
	inbound chan inboundFrame

	mu     sync.Mutex
	closed bool
}

type inboundFrame struct {
	sender netids.PeerIdentity
	data   []byte
}

// Join registers self on net and returns its Transport handle. Join
// panics if self is already registered, since two live transports for
// the same identity on one switchboard is always a test-setup bug.
func (n *MemoryNetwork) Join(self netids.PeerIdentity) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.peers[self]; exists {
		panic(fmt.Sprintf("transport: peer %s already joined this network", self))
	}
	t := &MemoryTransport{
		self:    self,
		net:     n,
		inbound: make(chan inboundFrame, 256),
	}
	n.peers[self] = t
	return t
}

// Leave unregisters self, e.g. to simulate it going offline.
func (n *MemoryNetwork) Leave(self netids.PeerIdentity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, self)
}

// Send implements Transport and handler.Sender.
func (t *MemoryTransport) Send(peer netids.PeerIdentity, data []byte) error {
	t.net.mu.Lock()
	dest, ok := t.net.peers[peer]
	t.net.mu.Unlock()
	if !ok {
		return ErrUnknownPeer
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	dest.mu.Lock()
	closed := dest.closed
	dest.mu.Unlock()
	if closed {
		return fmt.Errorf("transport: peer %s is closed", peer)
	}

	select {
	case dest.inbound <- inboundFrame{sender: t.self, data: cp}:
		return nil
	default:
		return fmt.Errorf("transport: peer %s inbound queue full", peer)
	}
}

// Serve delivers every frame sent to self until ctx is canceled or
// Close is called.
func (t *MemoryTransport) Serve(ctx context.Context, dispatch Dispatcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-t.inbound:
			if !ok {
				return nil
			}
			dispatch.HandleInbound(frame.sender, frame.data)
		}
	}
}

// Close unregisters self from its network and stops Serve.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.net.Leave(t.self)
	close(t.inbound)
	return nil
}
