// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package artifact implements the per-owner artifact index: an
// in-memory table binding content-addressed blobs to a mutable set of
// access grants and a lifecycle state (spec §4.6).
package artifact

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/log"

	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/telemetry"
)

// AccessMode governs how long a grant lasts.
type AccessMode int

const (
	// Revocable grants may be removed by RevokeAccess or wiped by
	// Recall.
	Revocable AccessMode = iota
	// Permanent grants are never removed by RevokeAccess or Recall.
	Permanent
	// Timed grants expire at a fixed logical time, after which
	// GCExpired strips them.
	Timed
)

// AccessGrant binds one grantee to a mode for a single artifact.
type AccessGrant struct {
	Grantee   netids.PeerIdentity
	Mode      AccessMode
	ExpiresAt uint64 // meaningful only when Mode == Timed
	GrantedAt uint64
	GrantedBy netids.PeerIdentity
}

func (g AccessGrant) active(now uint64) bool {
	if g.Mode == Timed && g.ExpiresAt <= now {
		return false
	}
	return true
}

// Status is the lifecycle state of a HomeArtifactEntry.
type Status int

const (
	Active Status = iota
	Recalled
	Transferred
)

// Provenance records where a transferred-in entry came from.
type Provenance struct {
	OriginalSteward netids.PeerIdentity
	ReceivedFrom    netids.PeerIdentity
	ReceivedAt      uint64
	Via             netids.ArtifactId
}

// HomeArtifactEntry is one blob's entry in an owner's artifact index.
type HomeArtifactEntry struct {
	ID        netids.ArtifactId
	Name      string
	Mime      string
	Size      uint64
	CreatedAt uint64

	Status     Status
	RecalledAt uint64
	TransferTo netids.PeerIdentity
	TransferAt uint64

	Grants     []AccessGrant
	Provenance *Provenance

	// Version is an optimistic-concurrency counter incremented on
	// every mutating operation, used by Transfer to serialize
	// concurrent transfers of the same entry from multiple replicas
	// of the owner (SPEC_FULL §3, resolving spec §9's open question).
	Version uint64
}

func (e HomeArtifactEntry) grantFor(grantee netids.PeerIdentity) (AccessGrant, bool) {
	for _, g := range e.Grants {
		if g.Grantee == grantee {
			return g, true
		}
	}
	return AccessGrant{}, false
}

// Errors returned by ArtifactIndex operations, named per spec §7's
// Grant/Revoke/Transfer error-kind table.
var (
	ErrGrantNotFound       = errors.New("artifact: grant: not found")
	ErrGrantRecalled       = errors.New("artifact: grant: entry recalled")
	ErrGrantTransferred    = errors.New("artifact: grant: entry transferred")
	ErrGrantAlreadyGranted = errors.New("artifact: grant: already granted")

	ErrRevokeNotFound  = errors.New("artifact: revoke: not found")
	ErrRevokeNotActive = errors.New("artifact: revoke: not active")
	ErrRevokeCannot    = errors.New("artifact: revoke: cannot revoke a permanent grant")

	ErrTransferNotFound  = errors.New("artifact: transfer: not found")
	ErrTransferNotActive = errors.New("artifact: transfer: entry not active or version mismatch")
)

// MutationHook is invoked after every mutating operation with the
// affected entry, letting a Reconciler keep sync channels in step
// with grant changes (spec §4.6 "automatic sync reconciliation"). A
// returned error is logged, not propagated to the mutation's caller:
// reconciliation is retried on the next mutation or on ReconcileAll,
// so a transient failure here must never fail the CRDT update itself.
type MutationHook func(entry HomeArtifactEntry) error

// ArtifactIndex is one owner's artifact index, an in-memory map of
// entries keyed by ArtifactId. Each entry's Version counts its
// mutations and Transfer checks it. The index has no operation that
// merges entries from another replica.
type ArtifactIndex struct {
	mu      sync.RWMutex
	owner   netids.PeerIdentity
	entries map[netids.ArtifactId]HomeArtifactEntry
	hooks   []MutationHook
	log     log.Logger
}

// New constructs an empty index for owner.
func New(owner netids.PeerIdentity) *ArtifactIndex {
	return &ArtifactIndex{
		owner:   owner,
		entries: make(map[netids.ArtifactId]HomeArtifactEntry),
		log:     telemetry.Component(telemetry.NewNoOpLogger(), "artifact"),
	}
}

// SetLogger replaces the index's logger.
func (idx *ArtifactIndex) SetLogger(logger log.Logger) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.log = telemetry.Component(logger, "artifact")
}

// OnMutation registers fn to be called after every mutating
// operation.
func (idx *ArtifactIndex) OnMutation(fn MutationHook) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.hooks = append(idx.hooks, fn)
}

func (idx *ArtifactIndex) fireLocked(entry HomeArtifactEntry) {
	for _, h := range idx.hooks {
		if err := h(entry); err != nil {
			idx.log.Warn("mutation hook failed", "artifact", entry.ID.String(), "error", err)
		}
	}
}

// Store records entry, idempotent by id: re-storing an id already
// present is a no-op (spec §4.6 "store(entry) — idempotent by id").
func (idx *ArtifactIndex) Store(entry HomeArtifactEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.entries[entry.ID]; exists {
		return
	}
	entry.Version = 1
	idx.entries[entry.ID] = entry
	idx.fireLocked(entry)
}

// Get returns a copy of the entry for id, if present.
func (idx *ArtifactIndex) Get(id netids.ArtifactId) (HomeArtifactEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[id]
	return e, ok
}

// Grant adds an access grant for grantee to id's entry.
func (idx *ArtifactIndex) Grant(id netids.ArtifactId, grantee netids.PeerIdentity, mode AccessMode, expiresAt uint64, grantedBy netids.PeerIdentity, now uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[id]
	if !ok {
		return ErrGrantNotFound
	}
	switch entry.Status {
	case Recalled:
		return ErrGrantRecalled
	case Transferred:
		return ErrGrantTransferred
	}
	if _, exists := entry.grantFor(grantee); exists {
		return ErrGrantAlreadyGranted
	}

	entry.Grants = append(entry.Grants, AccessGrant{
		Grantee:   grantee,
		Mode:      mode,
		ExpiresAt: expiresAt,
		GrantedAt: now,
		GrantedBy: grantedBy,
	})
	entry.Version++
	idx.entries[id] = entry
	idx.fireLocked(entry)
	return nil
}

// RevokeAccess removes grantee's grant from id's entry unless it is
// Permanent.
func (idx *ArtifactIndex) RevokeAccess(id netids.ArtifactId, grantee netids.PeerIdentity) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[id]
	if !ok {
		return ErrRevokeNotFound
	}
	grant, exists := entry.grantFor(grantee)
	if !exists {
		return ErrRevokeNotActive
	}
	if grant.Mode == Permanent {
		return ErrRevokeCannot
	}

	filtered := make([]AccessGrant, 0, len(entry.Grants)-1)
	for _, g := range entry.Grants {
		if g.Grantee != grantee {
			filtered = append(filtered, g)
		}
	}
	entry.Grants = filtered
	entry.Version++
	idx.entries[id] = entry
	idx.fireLocked(entry)
	return nil
}

// Recall sets id's status to Recalled, deletes every non-Permanent
// grant, and makes the blob eligible for local deletion. Idempotent.
func (idx *ArtifactIndex) Recall(id netids.ArtifactId, at uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[id]
	if !ok {
		return ErrRevokeNotFound
	}
	if entry.Status == Recalled {
		return nil
	}

	var kept []AccessGrant
	for _, g := range entry.Grants {
		if g.Mode == Permanent {
			kept = append(kept, g)
		}
	}
	entry.Grants = kept
	entry.Status = Recalled
	entry.RecalledAt = at
	entry.Version++
	idx.entries[id] = entry
	idx.fireLocked(entry)
	return nil
}

// Transfer sets id's status to Transferred{to, now} iff the entry is
// currently Active and expectedVersion matches its current version
// (optimistic concurrency, serializing concurrent transfers of the
// same entry from two replicas of the owner). It returns the new
// entry for the recipient's index: Active, carrying a Revocable grant
// back to owner, every Permanent grant inherited from the source, and
// provenance recording the transfer.
func (idx *ArtifactIndex) Transfer(id netids.ArtifactId, to netids.PeerIdentity, owner netids.PeerIdentity, now uint64, expectedVersion uint64) (HomeArtifactEntry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[id]
	if !ok {
		return HomeArtifactEntry{}, ErrTransferNotFound
	}
	if entry.Status != Active || entry.Version != expectedVersion {
		return HomeArtifactEntry{}, ErrTransferNotActive
	}

	var permanentGrants []AccessGrant
	for _, g := range entry.Grants {
		if g.Mode == Permanent {
			permanentGrants = append(permanentGrants, g)
		}
	}

	entry.Status = Transferred
	entry.TransferTo = to
	entry.TransferAt = now
	entry.Grants = nil
	entry.Version++
	idx.entries[id] = entry
	idx.fireLocked(entry)

	recipientGrants := append([]AccessGrant{{
		Grantee:   owner,
		Mode:      Revocable,
		GrantedAt: now,
		GrantedBy: owner,
	}}, permanentGrants...)

	return HomeArtifactEntry{
		ID:        id,
		Name:      entry.Name,
		Mime:      entry.Mime,
		Size:      entry.Size,
		CreatedAt: entry.CreatedAt,
		Status:    Active,
		Grants:    recipientGrants,
		Provenance: &Provenance{
			OriginalSteward: firstSteward(entry.Provenance, owner),
			ReceivedFrom:    owner,
			ReceivedAt:      now,
			Via:             id,
		},
		Version: 1,
	}, nil
}

func firstSteward(existing *Provenance, fallback netids.PeerIdentity) netids.PeerIdentity {
	if existing != nil {
		return existing.OriginalSteward
	}
	return fallback
}

// AccessibleBy returns every Active entry with a current, non-expired
// grant for member.
func (idx *ArtifactIndex) AccessibleBy(member netids.PeerIdentity, now uint64) []HomeArtifactEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []HomeArtifactEntry
	for _, e := range idx.entries {
		if e.Status != Active {
			continue
		}
		if g, ok := e.grantFor(member); ok && g.active(now) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// AccessibleByAll returns the intersection of AccessibleBy across
// every member in members — the "realm view" of what blobs are
// visible to a whole set of co-stewards.
func (idx *ArtifactIndex) AccessibleByAll(members []netids.PeerIdentity, now uint64) []HomeArtifactEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(members) == 0 {
		return nil
	}

	var out []HomeArtifactEntry
	for _, e := range idx.entries {
		if e.Status != Active {
			continue
		}
		visibleToAll := true
		for _, m := range members {
			g, ok := e.grantFor(m)
			if !ok || !g.active(now) {
				visibleToAll = false
				break
			}
		}
		if visibleToAll {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// GCExpired strips every Timed grant whose ExpiresAt <= now across all
// entries.
func (idx *ArtifactIndex) GCExpired(now uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for id, entry := range idx.entries {
		var kept []AccessGrant
		changed := false
		for _, g := range entry.Grants {
			if g.Mode == Timed && g.ExpiresAt <= now {
				changed = true
				continue
			}
			kept = append(kept, g)
		}
		if !changed {
			continue
		}
		entry.Grants = kept
		entry.Version++
		idx.entries[id] = entry
		idx.fireLocked(entry)
	}
}

// Entries returns every entry in the index, sorted by ID for
// deterministic iteration in tests and diagnostics.
func (idx *ArtifactIndex) Entries() []HomeArtifactEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]HomeArtifactEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []HomeArtifactEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return fmt.Sprintf("%x", entries[i].ID) < fmt.Sprintf("%x", entries[j].ID)
	})
}
