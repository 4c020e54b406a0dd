// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	netids "github.com/trumanellis/indranet/internal/ids"
)

func peerID(b byte) netids.PeerIdentity {
	var p netids.PeerIdentity
	p[0] = b
	return p
}

type recordingDispatcher struct {
	mu       sync.Mutex
	received []inboundFrame
	seen     chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{seen: make(chan struct{}, 16)}
}

func (d *recordingDispatcher) HandleInbound(sender netids.PeerIdentity, raw []byte) {
	d.mu.Lock()
	d.received = append(d.received, inboundFrame{sender: sender, data: raw})
	d.mu.Unlock()
	d.seen <- struct{}{}
}

func (d *recordingDispatcher) waitForOne(t *testing.T) inboundFrame {
	t.Helper()
	select {
	case <-d.seen:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received[len(d.received)-1]
}

func TestStaticAddressBook_SetRemoveAndDefensiveCopy(t *testing.T) {
	alice := peerID(1)
	seed := map[netids.PeerIdentity]string{alice: "tcp://127.0.0.1:1111"}
	book := NewStaticAddressBook(seed)

	seed[alice] = "tcp://mutated:9999"
	ep, ok := book.Endpoint(alice)
	require.True(t, ok)
	require.Equal(t, "tcp://127.0.0.1:1111", ep)

	bob := peerID(2)
	_, ok = book.Endpoint(bob)
	require.False(t, ok)

	book.Set(bob, "tcp://127.0.0.1:2222")
	ep, ok = book.Endpoint(bob)
	require.True(t, ok)
	require.Equal(t, "tcp://127.0.0.1:2222", ep)

	book.Remove(alice)
	_, ok = book.Endpoint(alice)
	require.False(t, ok)
}

func TestMemoryTransport_SendDeliversToDispatcher(t *testing.T) {
	net := NewMemoryNetwork()
	alice := peerID(1)
	bob := peerID(2)

	aliceT := net.Join(alice)
	bobT := net.Join(bob)
	defer aliceT.Close()
	defer bobT.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatch := newRecordingDispatcher()
	go bobT.Serve(ctx, dispatch)

	require.NoError(t, aliceT.Send(bob, []byte("hello")))

	frame := dispatch.waitForOne(t)
	require.Equal(t, alice, frame.sender)
	require.Equal(t, []byte("hello"), frame.data)
}

func TestMemoryTransport_SendToUnknownPeerFails(t *testing.T) {
	net := NewMemoryNetwork()
	alice := net.Join(peerID(1))
	defer alice.Close()

	err := alice.Send(peerID(99), []byte("x"))
	require.ErrorIs(t, err, ErrUnknownPeer)
}

func TestMemoryTransport_CloseStopsDelivery(t *testing.T) {
	net := NewMemoryNetwork()
	alice := net.Join(peerID(1))
	bob := net.Join(peerID(2))
	defer alice.Close()

	require.NoError(t, bob.Close())

	err := alice.Send(peerID(2), []byte("x"))
	require.ErrorIs(t, err, ErrUnknownPeer)
}

func TestMemoryTransport_ServeStopsOnContextCancel(t *testing.T) {
	net := NewMemoryNetwork()
	alice := net.Join(peerID(1))
	defer alice.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- alice.Serve(ctx, newRecordingDispatcher()) }()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop after context cancel")
	}
}
