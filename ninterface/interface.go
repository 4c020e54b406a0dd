// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ninterface wraps one crdt.Document with per-peer delivery
// bookkeeping, the unit spec §4.3 calls an n-interface (SPEC_FULL §0).
package ninterface

import (
	"fmt"
	"sync"

	"github.com/luxfi/log"

	"github.com/trumanellis/indranet/crdt"
	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/pending"
	"github.com/trumanellis/indranet/telemetry"
	"github.com/trumanellis/indranet/utils/set"
)

// ErrSequenceViolation re-exports crdt's sequence-continuity error:
// a local append whose sequence does not equal the sender's
// max_seen+1 is rejected here, before it ever reaches the document
// (spec §4.3).
var ErrSequenceViolation = crdt.ErrSequenceViolation

// Subscriber receives every event newly committed to this interface's
// log, whether appended locally or merged in from a peer. It must not
// perform blocking I/O inline — the writer lock is held across the
// call (spec §9: "the writer lock MUST NEVER be held across a
// suspension point" bounds subscribers to CPU-only work, like
// queuing onto a channel a dispatcher drains later).
type Subscriber func(crdt.InterfaceEvent)

// Interface is the live, in-memory view of one n-interface: its CRDT
// document plus who still needs which events.
type Interface struct {
	mu sync.RWMutex

	id   netids.InterfaceId
	self netids.PeerIdentity
	doc  *crdt.Document

	pending   map[netids.PeerIdentity]set.Set[netids.EventId]
	delivered map[netids.PeerIdentity]netids.EventId

	// store mirrors every pending/delivered transition into the
	// durable pending.Store the node opened at startup, so a crash and
	// reload sees the same queues this in-memory view does (spec §3's
	// Lifecycle: "pending queues are durable"). May be nil in tests
	// that don't care about durability.
	store *pending.Store

	subscribers []Subscriber

	metrics *telemetry.Metrics
	log     log.Logger
}

// New constructs an interface around doc. self identifies the owning
// node; fan-out skips only an event's sender, not self.
// store, if non-nil, receives every pending/delivered transition this
// interface makes, in lockstep with its own in-memory bookkeeping.
func New(id netids.InterfaceId, self netids.PeerIdentity, doc *crdt.Document, store *pending.Store, metrics *telemetry.Metrics, logger log.Logger) *Interface {
	if metrics == nil {
		metrics = telemetry.NewUnregisteredMetrics()
	}
	if logger == nil {
		logger = telemetry.NewNoOpLogger()
	}
	return &Interface{
		id:        id,
		self:      self,
		doc:       doc,
		pending:   make(map[netids.PeerIdentity]set.Set[netids.EventId]),
		delivered: make(map[netids.PeerIdentity]netids.EventId),
		store:     store,
		metrics:   metrics,
		log:       telemetry.Component(logger, "ninterface"),
	}
}

// ID returns the interface's identifier.
func (i *Interface) ID() netids.InterfaceId { return i.id }

// Document exposes the underlying CRDT document for save/load and
// direct inspection by tests and the realm façade.
func (i *Interface) Document() *crdt.Document { return i.doc }

// Subscribe registers fn to be called for every event newly committed
// to the log (local append or remote merge).
func (i *Interface) Subscribe(fn Subscriber) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.subscribers = append(i.subscribers, fn)
}

func (i *Interface) notifyLocked(events ...crdt.InterfaceEvent) {
	for _, ev := range events {
		for _, sub := range i.subscribers {
			sub(ev)
		}
	}
}

// Append validates event's sequence against the sender's last known
// sequence, commits it to the document, and fans it out to
// pending[M] for every other current member M (spec §4.3).
func (i *Interface) Append(event crdt.InterfaceEvent) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	expected := i.doc.MaxSequence(event.ID.SenderHash) + 1
	if event.ID.Sequence != expected {
		return fmt.Errorf("ninterface: %w: sender %s sequence %d, expected %d",
			ErrSequenceViolation, event.EventSender(), event.ID.Sequence, expected)
	}

	if !i.doc.AppendEvent(event) {
		return nil // duplicate append, no-op per CRDT invariant
	}

	sender := event.EventSender()
	for _, member := range i.doc.Members() {
		if member == sender {
			continue
		}
		i.addPendingLocked(member, event.ID)
	}

	i.metrics.EventsAppended.WithLabelValues(eventKindLabel(event.Kind)).Inc()
	i.notifyLocked(event)
	return nil
}

// MergeRemote commits events received via sync (not subject to the
// local sequence-continuity check, since remote delivery order is not
// guaranteed) and fans out the new ones exactly like Append.
func (i *Interface) MergeRemote(msg crdt.SyncMessage) []crdt.InterfaceEvent {
	i.mu.Lock()
	defer i.mu.Unlock()

	newEvents := i.doc.ApplySyncMessage(msg)
	for _, event := range newEvents {
		sender := event.EventSender()
		for _, member := range i.doc.Members() {
			if member == sender {
				continue
			}
			i.addPendingLocked(member, event.ID)
		}
		i.metrics.EventsAppended.WithLabelValues(eventKindLabel(event.Kind)).Inc()
	}
	i.notifyLocked(newEvents...)
	return newEvents
}

func (i *Interface) addPendingLocked(peer netids.PeerIdentity, id netids.EventId) {
	if last, ok := i.delivered[peer]; ok && id.LessOrEqual(last) {
		return
	}
	s := i.pending[peer]
	s.Add(id)
	i.pending[peer] = s
	i.metrics.PendingQueueDepth.WithLabelValues(peer.String()).Set(float64(s.Len()))

	if i.store != nil {
		if err := i.store.MarkPending(peer, id); err != nil {
			i.log.Warn("durable pending mark failed", "peer", peer.String(), "event", id.String(), "error", err)
		}
	}
}

// MarkDelivered removes id from pending[peer] and advances
// delivered[peer] if doing so closes a contiguous prefix of that
// sender's events.
func (i *Interface) MarkDelivered(peer netids.PeerIdentity, id netids.EventId) {
	i.mu.Lock()
	defer i.mu.Unlock()

	closesPrefix := true
	if s, ok := i.pending[peer]; ok {
		s.Remove(id)
		i.metrics.PendingQueueDepth.WithLabelValues(peer.String()).Set(float64(s.Len()))
		for other := range s {
			if other.SenderHash == id.SenderHash && other.Sequence < id.Sequence {
				closesPrefix = false
				break
			}
		}
	}
	if closesPrefix {
		i.advanceDeliveredLocked(peer, id)
	}

	if i.store != nil {
		if err := i.store.MarkDelivered(peer, id); err != nil {
			i.log.Warn("durable pending mark-delivered failed", "peer", peer.String(), "event", id.String(), "error", err)
		}
	}
}

// MarkDeliveredUpTo removes every pending entry for peer with the
// same sender_hash and sequence <= id.Sequence, and raises
// delivered[peer] to max(current, id).
func (i *Interface) MarkDeliveredUpTo(peer netids.PeerIdentity, id netids.EventId) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if s, ok := i.pending[peer]; ok {
		for pendingID := range s {
			if pendingID.SenderHash == id.SenderHash && pendingID.Sequence <= id.Sequence {
				s.Remove(pendingID)
			}
		}
		i.metrics.PendingQueueDepth.WithLabelValues(peer.String()).Set(float64(s.Len()))
	}
	i.advanceDeliveredLocked(peer, id)

	if i.store != nil {
		if err := i.store.MarkDeliveredUpTo(peer, id); err != nil {
			i.log.Warn("durable pending mark-delivered-up-to failed", "peer", peer.String(), "event", id.String(), "error", err)
		}
	}
}

func (i *Interface) advanceDeliveredLocked(peer netids.PeerIdentity, id netids.EventId) {
	current, ok := i.delivered[peer]
	if !ok || current.Less(id) {
		i.delivered[peer] = id
	}
}

// PendingFor returns a snapshot of event ids still owed to peer.
func (i *Interface) PendingFor(peer netids.PeerIdentity) []netids.EventId {
	i.mu.RLock()
	defer i.mu.RUnlock()

	s, ok := i.pending[peer]
	if !ok {
		return nil
	}
	out := make([]netids.EventId, 0, s.Len())
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Delivered returns the highest EventId known delivered to peer, and
// whether any delivery has been recorded at all.
func (i *Interface) Delivered(peer netids.PeerIdentity) (netids.EventId, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.delivered[peer]
	return id, ok
}

// GenerateSync produces a sync message for peer given its last-known
// heads, tracked by the caller's sync-state layer (handler package).
func (i *Interface) GenerateSync(peerHeads map[uint64][32]byte) crdt.SyncMessage {
	i.mu.RLock()
	defer i.mu.RUnlock()
	msg := i.doc.GenerateSyncMessage(peerHeads)
	if len(msg.Events) > 0 || msg.HasMembership {
		i.metrics.SyncMessagesGenerated.Inc()
	}
	return msg
}

// MergeSync is an alias for MergeRemote, named to mirror spec §4.3's
// generate_sync/merge_sync pairing.
func (i *Interface) MergeSync(msg crdt.SyncMessage) []crdt.InterfaceEvent {
	return i.MergeRemote(msg)
}

// AddMember admits peer to the interface's membership set.
func (i *Interface) AddMember(peer netids.PeerIdentity) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.doc.AddMember(peer)
}

// RemoveMember evicts peer from the interface's membership set and
// drops any pending bookkeeping for them.
func (i *Interface) RemoveMember(peer netids.PeerIdentity) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.doc.RemoveMember(peer)
	delete(i.pending, peer)
	delete(i.delivered, peer)

	if i.store != nil {
		if err := i.store.ClearPending(peer); err != nil {
			i.log.Warn("durable pending clear failed", "peer", peer.String(), "error", err)
		}
	}
}

// Members returns the current membership set.
func (i *Interface) Members() []netids.PeerIdentity {
	return i.doc.Members()
}

func eventKindLabel(kind crdt.EventKind) string {
	switch kind {
	case crdt.EventMessage:
		return "message"
	case crdt.EventMembershipChange:
		return "membership_change"
	case crdt.EventPresence:
		return "presence"
	case crdt.EventCustom:
		return "custom"
	case crdt.EventSyncMarker:
		return "sync_marker"
	default:
		return "unknown"
	}
}
