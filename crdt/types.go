// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crdt implements the append-only, conflict-free replicated
// event log and membership set that backs every n-interface
// (spec §4.2).
package crdt

import (
	netids "github.com/trumanellis/indranet/internal/ids"
)

// MembershipChangeKind enumerates the member lifecycle transitions
// carried by a MembershipChange event.
type MembershipChangeKind uint8

const (
	MembershipCreated MembershipChangeKind = iota
	MembershipInvited
	MembershipJoined
	MembershipLeft
	MembershipRemoved
)

// PresenceStatus enumerates the online states carried by a Presence
// event.
type PresenceStatus uint8

const (
	PresenceOnline PresenceStatus = iota
	PresenceAway
	PresenceBusy
	PresenceOffline
)

// EventKind tags which variant of InterfaceEvent is populated.
type EventKind uint8

const (
	EventMessage EventKind = iota
	EventMembershipChange
	EventPresence
	EventCustom
	EventSyncMarker
)

// InterfaceEvent is the tagged sum described in spec §3. Exactly one
// group of variant-specific fields is meaningful, selected by Kind.
type InterfaceEvent struct {
	Kind EventKind
	ID   netids.EventId

	// Message: sender, sequence (in ID), content.
	Sender  netids.PeerIdentity
	Content []byte

	// MembershipChange: actor, sequence (in ID), change.
	Actor  netids.PeerIdentity
	Change MembershipChangeKind

	// Presence: peer, status. Presence events are not part of the
	// per-sender sequence space (they report transient state, not an
	// append to a sender's durable log) so ID.Sequence is the local
	// monotonic counter of the interface's own event stream.
	Peer   netids.PeerIdentity
	Status PresenceStatus

	// Custom — the core stays oblivious to Type/Payload contents
	// (spec §9): it transports them unexamined. SchemaVersion lets
	// applications evolve Payload's shape forward without the core
	// caring (SPEC_FULL §3).
	Type          string
	Payload       []byte
	SchemaVersion uint32
}

// EventSender returns the PeerIdentity responsible for this event,
// used to route pending/delivered bookkeeping: Message and Custom
// events are attributed to Sender, MembershipChange to Actor,
// Presence to Peer, SyncMarker to the zero identity (it never enters
// pending tracking).
func (e InterfaceEvent) EventSender() netids.PeerIdentity {
	switch e.Kind {
	case EventMessage, EventCustom:
		return e.Sender
	case EventMembershipChange:
		return e.Actor
	case EventPresence:
		return e.Peer
	default:
		return netids.EmptyPeerIdentity
	}
}
