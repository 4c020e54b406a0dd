// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"sync"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// HoldStore keeps packets the router decided to Hold for a
// destination that is offline but directly known, flushing them once
// the destination transitions back online (spec §4.4's Hold action).
// Held packets live in memory only; they are not written to disk and
// do not survive a restart.
type HoldStore struct {
	mu   sync.Mutex
	held map[netids.PeerIdentity][]Packet
}

// NewHoldStore returns an empty hold store.
func NewHoldStore() *HoldStore {
	return &HoldStore{held: make(map[netids.PeerIdentity][]Packet)}
}

// Hold queues packet in memory for later delivery to its destination.
func (h *HoldStore) Hold(packet Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.held[packet.Destination] = append(h.held[packet.Destination], packet)
}

// Flush returns and clears every packet held for peer, called when
// peer transitions offline→online (S2 in spec §8's scenarios).
func (h *HoldStore) Flush(peer netids.PeerIdentity) []Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	packets := h.held[peer]
	delete(h.held, peer)
	return packets
}

// Count returns the number of packets currently held for peer.
func (h *HoldStore) Count(peer netids.PeerIdentity) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.held[peer])
}
