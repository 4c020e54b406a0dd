// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package crdt

import (
	"fmt"
	"sort"
	"sync"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// memberState is an add/remove LWW register for one member,
// resolved per spec §4.2: "concurrent add and remove on different
// replicas resolve with add wins iff the add's causal timestamp
// strictly follows the remove, else remove wins."
type memberState struct {
	present   bool
	timestamp uint64 // Lamport-style logical clock, not wall time
}

// Document is the CRDT backing one n-interface: a membership set and
// an append-only, per-sender-chained event log. Merges are
// commutative, associative, and idempotent (spec §8 property 1).
type Document struct {
	mu sync.RWMutex

	members map[netids.PeerIdentity]memberState
	events  map[netids.EventId]InterfaceEvent
	// maxSeq tracks, per sender hash, the highest sequence appended so
	// far, whether locally or by a sync merge; MaxSequence exposes it
	// for ninterface's append-order check.
	maxSeq map[uint64]uint64
	clock  uint64
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		members: make(map[netids.PeerIdentity]memberState),
		events:  make(map[netids.EventId]InterfaceEvent),
		maxSeq:  make(map[uint64]uint64),
	}
}

func (d *Document) tick() uint64 {
	d.clock++
	return d.clock
}

// AddMember idempotently adds peer to the membership set at the
// current logical time.
func (d *Document) AddMember(peer netids.PeerIdentity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addMemberLocked(peer, d.tick())
}

func (d *Document) addMemberLocked(peer netids.PeerIdentity, at uint64) {
	existing, ok := d.members[peer]
	if ok && existing.present && existing.timestamp >= at {
		return
	}
	if !ok || at > existing.timestamp || !existing.present {
		d.members[peer] = memberState{present: true, timestamp: at}
	}
}

// RemoveMember idempotently removes peer from the membership set at
// the current logical time.
func (d *Document) RemoveMember(peer netids.PeerIdentity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeMemberLocked(peer, d.tick())
}

func (d *Document) removeMemberLocked(peer netids.PeerIdentity, at uint64) {
	d.members[peer] = memberState{present: false, timestamp: at}
}

// mergeMemberState resolves a remote membership observation against the
// local one: higher timestamp wins; on a tie, remove wins (spec
// §4.2). This makes the merge commutative and associative regardless
// of application order.
func mergeMemberState(local, remote memberState) memberState {
	if remote.timestamp > local.timestamp {
		return remote
	}
	if remote.timestamp < local.timestamp {
		return local
	}
	// Tie: remove wins.
	if !local.present || !remote.present {
		return memberState{present: false, timestamp: local.timestamp}
	}
	return local
}

// Members returns the current membership set.
func (d *Document) Members() []netids.PeerIdentity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]netids.PeerIdentity, 0, len(d.members))
	for peer, st := range d.members {
		if st.present {
			out = append(out, peer)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

// IsMember reports whether peer currently belongs to the interface.
func (d *Document) IsMember(peer netids.PeerIdentity) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.members[peer]
	return ok && st.present
}

// ErrSequenceViolation is the error ninterface.Interface.Append wraps
// when an event's sequence does not immediately follow the sender's
// last known sequence (spec §4.3). Document itself never returns it.
var ErrSequenceViolation = fmt.Errorf("crdt: event sequence does not follow sender's last sequence")

// AppendEvent records event under its EventId and reports whether it
// was new. An append whose EventId is already present is a no-op,
// whatever its payload. Document performs no sequence check of its
// own; the n-interface enforces the "sequence must equal max_seen+1
// for this sender" rule before calling.
func (d *Document) AppendEvent(event InterfaceEvent) (appended bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendLocked(event)
}

func (d *Document) appendLocked(event InterfaceEvent) bool {
	if _, exists := d.events[event.ID]; exists {
		return false
	}
	d.events[event.ID] = event
	if event.ID.Sequence > d.maxSeq[event.ID.SenderHash] {
		d.maxSeq[event.ID.SenderHash] = event.ID.Sequence
	}
	return true
}

// MaxSequence returns the highest sequence number seen for
// senderHash, or 0 if none.
func (d *Document) MaxSequence(senderHash uint64) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.maxSeq[senderHash]
}

// HasEvent reports whether id is already present in the log.
func (d *Document) HasEvent(id netids.EventId) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.events[id]
	return ok
}

// Events returns every event in the log, totally ordered by
// (sequence, sender_hash) as required by spec §4.2.
func (d *Document) Events() []InterfaceEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]InterfaceEvent, 0, len(d.events))
	for _, ev := range d.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID, out[j].ID
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.SenderHash < b.SenderHash
	})
	return out
}
