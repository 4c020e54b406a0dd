// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package realm

import (
	"sort"
	"sync"

	"github.com/trumanellis/indranet/artifact"
	netids "github.com/trumanellis/indranet/internal/ids"
)

// PeerRealm is a realm view scoped to a set of co-stewards rather
// than a single owner (SPEC_FULL §3): the subset of one owner's
// artifact index visible to every member of the set at once. Unlike
// Home.SharedWith, which recomputes one member's view from the index
// on every call, PeerRealm maintains an incremental accumulator updated by exactly
// one entry per mutation, attached as an artifact.ArtifactIndex
// mutation hook.
type PeerRealm struct {
	mu      sync.RWMutex
	members []netids.PeerIdentity
	clock   func() uint64

	accessible map[netids.ArtifactId]artifact.HomeArtifactEntry
}

// NewPeerRealm constructs a view over members. clock supplies the
// logical "now" used to evaluate Timed grants at the moment each
// mutation is observed; nil defaults to an always-zero clock (no
// grant ever expires under it).
func NewPeerRealm(members []netids.PeerIdentity, clock func() uint64) *PeerRealm {
	if clock == nil {
		clock = func() uint64 { return 0 }
	}
	cp := make([]netids.PeerIdentity, len(members))
	copy(cp, members)
	return &PeerRealm{
		members:    cp,
		clock:      clock,
		accessible: make(map[netids.ArtifactId]artifact.HomeArtifactEntry),
	}
}

// Attach registers the view as a mutation hook on idx, and seeds it
// with idx's current state.
func (p *PeerRealm) Attach(idx *artifact.ArtifactIndex) {
	idx.OnMutation(p.observe)
	for _, entry := range idx.Entries() {
		p.observe(entry)
	}
}

// observe updates the accumulator for exactly the one entry that
// changed, without rescanning the rest of the index.
func (p *PeerRealm) observe(entry artifact.HomeArtifactEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.visibleToAllLocked(entry) {
		p.accessible[entry.ID] = entry
	} else {
		delete(p.accessible, entry.ID)
	}
	return nil
}

func (p *PeerRealm) visibleToAllLocked(entry artifact.HomeArtifactEntry) bool {
	if entry.Status != artifact.Active {
		return false
	}
	now := p.clock()
	for _, member := range p.members {
		if !grantedTo(entry, member, now) {
			return false
		}
	}
	return true
}

func grantedTo(entry artifact.HomeArtifactEntry, member netids.PeerIdentity, now uint64) bool {
	for _, g := range entry.Grants {
		if g.Grantee != member {
			continue
		}
		if g.Mode == artifact.Timed && g.ExpiresAt <= now {
			return false
		}
		return true
	}
	return false
}

// AccessibleByAll returns the current intersection view, sorted by
// artifact id for deterministic iteration.
func (p *PeerRealm) AccessibleByAll() []artifact.HomeArtifactEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]artifact.HomeArtifactEntry, 0, len(p.accessible))
	for _, entry := range p.accessible {
		out = append(out, entry)
	}
	sortByID(out)
	return out
}

func sortByID(entries []artifact.HomeArtifactEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID.Hex() < entries[j].ID.Hex()
	})
}

// Members returns the co-steward set this view is scoped to.
func (p *PeerRealm) Members() []netids.PeerIdentity {
	cp := make([]netids.PeerIdentity, len(p.members))
	copy(cp, p.members)
	return cp
}
