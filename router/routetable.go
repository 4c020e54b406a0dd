// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"sync"
	"time"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// ewmaAlpha weights how quickly the smoothed metric reacts to a new
// sample; lower values mean slower, steadier adjustment. Chosen so a
// single timeout visibly deprioritizes a route without requiring
// several consecutive failures (SPEC_FULL §3, grounded on router.rs's
// EWMA metric rather than a bare hop count).
const ewmaAlpha = 0.3

// timeoutPenalty is added to a route's metric on a failed
// back-propagation confirmation, on top of the EWMA smoothing, so a
// recently timed-out relay is deprioritized quickly.
const timeoutPenalty = 10.0

// RouteTableEntry is one learned route (spec §3 "Route table entry").
type RouteTableEntry struct {
	Destination   netids.PeerIdentity
	NextHop       netids.PeerIdentity
	HopCount      int
	Metric        float64
	LastConfirmed time.Time
	LastUsed      time.Time
}

// RouteTable is the in-memory, last-write-wins table of learned
// routes, pruned lazily for staleness.
type RouteTable struct {
	mu           sync.RWMutex
	entries      map[netids.PeerIdentity]RouteTableEntry
	staleTimeout time.Duration
}

// NewRouteTable constructs a table that considers an entry stale after
// staleTimeout has passed since its last confirmation.
func NewRouteTable(staleTimeout time.Duration) *RouteTable {
	return &RouteTable{
		entries:      make(map[netids.PeerIdentity]RouteTableEntry),
		staleTimeout: staleTimeout,
	}
}

// RecordSuccess learns or updates the route to destination via
// nextHop, lowering its EWMA metric (lower is better).
func (t *RouteTable) RecordSuccess(destination, nextHop netids.PeerIdentity, hopCount int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries[destination]
	sample := float64(hopCount)
	metric := sample
	if ok && existing.NextHop == nextHop {
		metric = ewmaAlpha*sample + (1-ewmaAlpha)*existing.Metric
	}

	t.entries[destination] = RouteTableEntry{
		Destination:   destination,
		NextHop:       nextHop,
		HopCount:      hopCount,
		Metric:        metric,
		LastConfirmed: now,
		LastUsed:      now,
	}
}

// RecordTimeout penalizes destination's current route after a
// back-propagation confirmation for it timed out, without discarding
// the entry outright (a later success can recover it).
func (t *RouteTable) RecordTimeout(destination netids.PeerIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[destination]
	if !ok {
		return
	}
	entry.Metric += timeoutPenalty
	t.entries[destination] = entry
}

// Lookup returns destination's current route, if any and not stale.
func (t *RouteTable) Lookup(destination netids.PeerIdentity, now time.Time) (RouteTableEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[destination]
	if !ok {
		return RouteTableEntry{}, false
	}
	if now.Sub(entry.LastConfirmed) > t.staleTimeout {
		return RouteTableEntry{}, false
	}
	return entry, true
}

// PruneStale removes every entry whose last confirmation exceeds the
// stale timeout, as a lazy background sweep (spec §5 "route-table
// entries are pruned lazily").
func (t *RouteTable) PruneStale(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	pruned := 0
	for dest, entry := range t.entries {
		if now.Sub(entry.LastConfirmed) > t.staleTimeout {
			delete(t.entries, dest)
			pruned++
		}
	}
	return pruned
}
