// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router implements the store-and-forward routing decision,
// mutual-peer tracking, route table, and back-propagation confirmation
// tracker (spec §4.4).
package router

import (
	netids "github.com/trumanellis/indranet/internal/ids"
)

// Packet is the unit the router decides how to forward.
type Packet struct {
	ID          netids.EventId
	Source      netids.PeerIdentity
	Destination netids.PeerIdentity
	Payload     []byte
	TTL         uint8

	// Visited is the ordered sequence of hops the packet has already
	// passed through, oldest first. It must stay a slice, not a map:
	// reversedPath walks it in order to reconstruct the exact back-prop
	// path, and map iteration order is not stable across runs.
	Visited      []netids.PeerIdentity
	RoutingHints []netids.PeerIdentity
}

// Visit returns a copy of packet with peer appended to Visited and TTL
// decremented by one, as required of every forwarded hop.
func (p Packet) Visit(peer netids.PeerIdentity) Packet {
	visited := make([]netids.PeerIdentity, len(p.Visited), len(p.Visited)+1)
	copy(visited, p.Visited)
	visited = append(visited, peer)
	next := p
	next.Visited = visited
	next.TTL--
	return next
}

func (p Packet) hasVisited(peer netids.PeerIdentity) bool {
	for _, v := range p.Visited {
		if v == peer {
			return true
		}
	}
	return false
}

// DropReason names why a packet was not forwarded.
type DropReason int

const (
	TtlExpired DropReason = iota
	NoRoute
)

func (r DropReason) String() string {
	switch r {
	case TtlExpired:
		return "ttl_expired"
	case NoRoute:
		return "no_route"
	default:
		return "unknown"
	}
}

// DecisionKind tags which routing action to take for a packet.
type DecisionKind int

const (
	DirectDelivery DecisionKind = iota
	Hold
	RelayThrough
	Drop
)

// Decision is the router's output for one packet (spec §4.4's table).
type Decision struct {
	Kind     DecisionKind
	Dest     netids.PeerIdentity
	NextHops []netids.PeerIdentity
	DropWhy  DropReason
}
