// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"sync"
	"time"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// BackpropStatus is the outcome of a back-propagation record once it
// leaves the active table.
type BackpropStatus int

const (
	BackpropPending BackpropStatus = iota
	BackpropComplete
	BackpropTimedOut
)

// backpropRecord tracks confirmation of a successful delivery walking
// back up the relay path (spec §3 "Back-prop record", §4.4).
type backpropRecord struct {
	path               []netids.PeerIdentity
	nextConfirmerIndex int
	startedAt          time.Time
}

// BackpropTracker tracks in-flight back-propagation confirmations,
// keyed by packet id.
type BackpropTracker struct {
	mu      sync.Mutex
	records map[netids.EventId]*backpropRecord
	timeout time.Duration
}

// NewBackpropTracker constructs a tracker whose records expire after
// timeout with no advance.
func NewBackpropTracker(timeout time.Duration) *BackpropTracker {
	return &BackpropTracker{
		records: make(map[netids.EventId]*backpropRecord),
		timeout: timeout,
	}
}

// Start begins tracking confirmation for packetID along path (already
// reversed: path = reverse(visited ++ destination), so path[0] is the
// destination itself). The first confirmer expected is path[1], the
// relay that delivered directly to the destination; confirmation then
// walks up through path[2], path[3], ... until it reaches the origin
// at path[len(path)-1]. A path of length 1 (no relay hops at all) has
// no further confirmer to expect and is left pending until it expires
// via SweepExpired — DeliverDirect already recorded the one-hop route
// success synchronously, so nothing more is learned by completing it.
func (t *BackpropTracker) Start(packetID netids.EventId, path []netids.PeerIdentity, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(path) == 0 {
		return
	}
	t.records[packetID] = &backpropRecord{
		path:               path,
		nextConfirmerIndex: 1,
		startedAt:          now,
	}
}

// Advance records a confirmation for packetID from confirmer. If
// confirmer is not the expected next hop the confirmation is ignored.
// Returns (complete, found): complete is true once the back-prop has
// walked all the way back to the origin.
func (t *BackpropTracker) Advance(packetID netids.EventId, confirmer netids.PeerIdentity) (complete bool, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[packetID]
	if !ok {
		return false, false
	}

	if rec.nextConfirmerIndex >= len(rec.path) || rec.path[rec.nextConfirmerIndex] != confirmer {
		return false, true
	}

	rec.nextConfirmerIndex++
	if rec.nextConfirmerIndex == len(rec.path) {
		delete(t.records, packetID)
		return true, true
	}
	return false, true
}

// ExpiredRecord names a back-prop record that timed out, along with
// the destination its route-table entry should be penalized for.
type ExpiredRecord struct {
	PacketID    netids.EventId
	Destination netids.PeerIdentity
}

// SweepExpired removes every record that has not advanced within
// timeout of its start, returning them as TimedOut.
func (t *BackpropTracker) SweepExpired(now time.Time) []ExpiredRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []ExpiredRecord
	for id, rec := range t.records {
		if now.Sub(rec.startedAt) > t.timeout {
			expired = append(expired, ExpiredRecord{PacketID: id, Destination: rec.path[0]})
			delete(t.records, id)
		}
	}
	return expired
}

// Pending reports whether packetID currently has an in-flight record.
func (t *BackpropTracker) Pending(packetID netids.EventId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[packetID]
	return ok
}
