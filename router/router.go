// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"time"

	"github.com/luxfi/log"

	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/telemetry"
)

// Router decides, for every packet, one of DirectDelivery / Hold /
// RelayThrough / Drop (spec §4.4's table), and owns the supporting
// mutual-peer cache, route table, back-prop tracker, and hold store.
type Router struct {
	presence *PresenceTracker
	mutual   *MutualPeerTracker
	routes   *RouteTable
	backprop *BackpropTracker
	hold     *HoldStore

	// directlyConnected reports whether the current node itself has a
	// direct transport connection to peer, distinct from presence
	// (which the mutual-peer tracker reports about *other* peers'
	// neighbors). For the local node, online == directly connected.
	directlyConnected func(peer netids.PeerIdentity) bool

	metrics *telemetry.Metrics
	log     log.Logger
}

// New constructs a Router. directlyConnected reports whether the
// local node currently has a live transport connection to peer
// (distinct from route-table knowledge); it is supplied by the
// transport layer.
func New(staleTimeout, backpropTimeout time.Duration, directlyConnected func(netids.PeerIdentity) bool, metrics *telemetry.Metrics, logger log.Logger) *Router {
	if metrics == nil {
		metrics = telemetry.NewUnregisteredMetrics()
	}
	if logger == nil {
		logger = telemetry.NewNoOpLogger()
	}
	return &Router{
		presence:          NewPresenceTracker(),
		mutual:            NewMutualPeerTracker(),
		routes:            NewRouteTable(staleTimeout),
		backprop:          NewBackpropTracker(backpropTimeout),
		hold:              NewHoldStore(),
		directlyConnected: directlyConnected,
		metrics:           metrics,
		log:               telemetry.Component(logger, "router"),
	}
}

// Presence exposes the router's presence tracker for transport
// callbacks (Connected/Disconnected) to update.
func (r *Router) Presence() *PresenceTracker { return r.presence }

// MutualPeers exposes the mutual-peer cache for transport callbacks to
// update with each peer's reported neighbor set.
func (r *Router) MutualPeers() *MutualPeerTracker { return r.mutual }

// Routes exposes the route table for diagnostics and the periodic
// sweeper.
func (r *Router) Routes() *RouteTable { return r.routes }

// Backprop exposes the back-propagation tracker for the periodic
// sweeper and for wiring confirmations from the message handler.
func (r *Router) Backprop() *BackpropTracker { return r.backprop }

// Hold exposes the hold store so the transport's online-transition
// callback can flush it.
func (r *Router) Hold() *HoldStore { return r.hold }

// Route decides what to do with packet (spec §4.4).
func (r *Router) Route(packet Packet, now time.Time) Decision {
	if packet.TTL == 0 {
		r.metrics.PacketsRouted.WithLabelValues("drop_ttl_expired").Inc()
		return Decision{Kind: Drop, DropWhy: TtlExpired}
	}

	dest := packet.Destination
	if r.directlyConnected(dest) {
		if r.presence.IsOnline(dest) {
			r.metrics.PacketsRouted.WithLabelValues("direct").Inc()
			return Decision{Kind: DirectDelivery, Dest: dest}
		}
		r.metrics.PacketsRouted.WithLabelValues("hold").Inc()
		return Decision{Kind: Hold, Dest: dest}
	}

	candidates := r.relayCandidates(packet, now)
	if len(candidates) == 0 {
		r.metrics.PacketsRouted.WithLabelValues("drop_no_route").Inc()
		return Decision{Kind: Drop, DropWhy: NoRoute}
	}

	r.metrics.PacketsRouted.WithLabelValues("relay").Inc()
	return Decision{Kind: RelayThrough, NextHops: candidates}
}

// relayCandidates computes the filtered union of packet.RoutingHints
// and the mutual-peer set for packet.Destination: online, not already
// visited (spec §4.4).
func (r *Router) relayCandidates(packet Packet, now time.Time) []netids.PeerIdentity {
	seen := make(map[netids.PeerIdentity]struct{})
	var out []netids.PeerIdentity

	add := func(peer netids.PeerIdentity) {
		if _, dup := seen[peer]; dup {
			return
		}
		if packet.hasVisited(peer) {
			return
		}
		if !r.presence.IsOnline(peer) {
			return
		}
		seen[peer] = struct{}{}
		out = append(out, peer)
	}

	for _, hint := range packet.RoutingHints {
		add(hint)
	}

	online := r.presence.Online()
	for _, mutual := range r.mutual.MutualRelaysFor(packet.Destination, online) {
		add(mutual)
	}

	return out
}

// DeliverDirect records a successful direct delivery: updates the
// route table (destination reachable in one hop via itself) and
// begins back-propagation up the relay path.
func (r *Router) DeliverDirect(packet Packet, now time.Time) {
	r.routes.RecordSuccess(packet.Destination, packet.Destination, 1, now)
	path := reversedPath(packet)
	r.backprop.Start(packet.ID, path, now)
	r.metrics.BackpropRecordsActive.Inc()
}

// reversedPath builds reverse(visited ++ destination): the order a
// back-prop confirmation must walk, starting at the destination and
// ending at the packet's original sender. Visited is already in hop
// order, so no sorting or further bookkeeping is needed.
func reversedPath(packet Packet) []netids.PeerIdentity {
	full := make([]netids.PeerIdentity, 0, len(packet.Visited)+1)
	full = append(full, packet.Visited...)
	full = append(full, packet.Destination)
	reversed := make([]netids.PeerIdentity, len(full))
	for i, p := range full {
		reversed[len(full)-1-i] = p
	}
	return reversed
}

// ConfirmBackprop advances the back-prop record for packetID, having
// received a delivery confirmation from confirmer, and learns the
// route through confirmer on success.
func (r *Router) ConfirmBackprop(packetID netids.EventId, confirmer, destination netids.PeerIdentity, hopCount int, now time.Time) (complete bool) {
	complete, found := r.backprop.Advance(packetID, confirmer)
	if found && complete {
		r.routes.RecordSuccess(destination, confirmer, hopCount, now)
		r.metrics.BackpropRecordsActive.Dec()
	}
	return complete
}

// SweepBackprop expires stale back-prop records and penalizes their
// routes, returning the packet ids that timed out.
func (r *Router) SweepBackprop(now time.Time) []netids.EventId {
	expired := r.backprop.SweepExpired(now)
	ids := make([]netids.EventId, 0, len(expired))
	for _, rec := range expired {
		r.routes.RecordTimeout(rec.Destination)
		r.metrics.BackpropRecordsActive.Dec()
		ids = append(ids, rec.PacketID)
	}
	return ids
}
