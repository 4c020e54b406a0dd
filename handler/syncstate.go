// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package handler

import (
	"sync"

	"github.com/google/uuid"

	netids "github.com/trumanellis/indranet/internal/ids"
)

type syncKey struct {
	peer  netids.PeerIdentity
	iface netids.InterfaceId
}

// SyncStateTracker correlates in-flight sync requests per (peer,
// interface) pair. A new request supersedes any prior one for the
// same pair (spec §5: "a superseding sync request from the same peer
// supersedes in-flight state in the sync-state tracker"), so a late
// response or timeout for a stale request is recognizably stale.
type SyncStateTracker struct {
	mu       sync.Mutex
	inFlight map[syncKey]uuid.UUID
}

// NewSyncStateTracker returns an empty tracker.
func NewSyncStateTracker() *SyncStateTracker {
	return &SyncStateTracker{inFlight: make(map[syncKey]uuid.UUID)}
}

// Begin starts (or supersedes) tracking for peer/iface and returns the
// new correlation id.
func (t *SyncStateTracker) Begin(peer netids.PeerIdentity, iface netids.InterfaceId) uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.New()
	t.inFlight[syncKey{peer, iface}] = id
	return id
}

// IsCurrent reports whether id is still the most recently issued
// correlation id for peer/iface.
func (t *SyncStateTracker) IsCurrent(peer netids.PeerIdentity, iface netids.InterfaceId, id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.inFlight[syncKey{peer, iface}]
	return ok && current == id
}

// Clear drops any in-flight tracking for peer/iface, called once a
// response has been handled.
func (t *SyncStateTracker) Clear(peer netids.PeerIdentity, iface netids.InterfaceId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, syncKey{peer, iface})
}
