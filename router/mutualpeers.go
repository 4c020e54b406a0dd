// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"sync"

	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/utils/set"
)

// MutualPeerTracker caches, for every directly connected peer P, the
// set of peers P is itself directly connected to (as reported by P).
// This drives relay-candidate selection: a peer Q is a mutual relay
// for destination D iff the current node is connected to Q and Q is
// connected to D (spec §4.4).
type MutualPeerTracker struct {
	mu sync.RWMutex
	// neighborsOf[P] = the set of peers P reports being connected to.
	neighborsOf map[netids.PeerIdentity]set.Set[netids.PeerIdentity]
}

// NewMutualPeerTracker returns an empty tracker.
func NewMutualPeerTracker() *MutualPeerTracker {
	return &MutualPeerTracker{neighborsOf: make(map[netids.PeerIdentity]set.Set[netids.PeerIdentity])}
}

// UpdateNeighbors replaces the cached neighbor set reported by peer.
func (t *MutualPeerTracker) UpdateNeighbors(peer netids.PeerIdentity, neighbors []netids.PeerIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := set.NewSet[netids.PeerIdentity](len(neighbors))
	s.Add(neighbors...)
	t.neighborsOf[peer] = s
}

// Forget drops cached neighbor info for peer (called eagerly on
// disconnect, spec §5 "mutual-peer cache entries are removed eagerly
// on disconnect").
func (t *MutualPeerTracker) Forget(peer netids.PeerIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.neighborsOf, peer)
}

// MutualRelaysFor returns every directly connected peer Q such that Q
// reports being connected to dest.
func (t *MutualPeerTracker) MutualRelaysFor(dest netids.PeerIdentity, directlyConnected []netids.PeerIdentity) []netids.PeerIdentity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []netids.PeerIdentity
	for _, q := range directlyConnected {
		neighbors, ok := t.neighborsOf[q]
		if ok && neighbors.Contains(dest) {
			out = append(out, q)
		}
	}
	return out
}
