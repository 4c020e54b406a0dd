// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"sync"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// PresenceTracker records which peers are directly connected right
// now, grounded on the teacher's uptime.Manager shape (a connected-set
// keyed by peer, mutated on Connected/Disconnected).
type PresenceTracker struct {
	mu        sync.RWMutex
	connected map[netids.PeerIdentity]struct{}
}

// NewPresenceTracker returns an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{connected: make(map[netids.PeerIdentity]struct{})}
}

// Connected marks peer as directly reachable.
func (t *PresenceTracker) Connected(peer netids.PeerIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected[peer] = struct{}{}
}

// Disconnected marks peer as no longer directly reachable.
func (t *PresenceTracker) Disconnected(peer netids.PeerIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.connected, peer)
}

// IsOnline reports whether peer is directly connected.
func (t *PresenceTracker) IsOnline(peer netids.PeerIdentity) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.connected[peer]
	return ok
}

// Online returns a snapshot of every directly connected peer.
func (t *PresenceTracker) Online() []netids.PeerIdentity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]netids.PeerIdentity, 0, len(t.connected))
	for p := range t.connected {
		out = append(out, p)
	}
	return out
}
