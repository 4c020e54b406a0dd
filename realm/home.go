// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package realm

import (
	"fmt"

	"github.com/trumanellis/indranet/artifact"
	"github.com/trumanellis/indranet/blobstore"
	"github.com/trumanellis/indranet/crdt"
	netids "github.com/trumanellis/indranet/internal/ids"
)

// Home is the personal realm unique to each member: a deterministic
// interface id derived from the member's own identity (so every
// device they own converges on the same interface, spec §4.9), its
// artifact index, and the blob store backing its artifacts.
type Home struct {
	id    netids.InterfaceId
	self  netids.PeerIdentity
	index *artifact.ArtifactIndex
	blobs *blobstore.Store

	registry   *Registry
	reconciler *artifact.Reconciler
}

// OpenHome constructs (or reattaches to) self's home realm, registers
// its deterministic interface with registry, bootstraps it with a
// Created membership event if it has none yet, and reconciles every
// already-granted artifact's sync channel (mirroring the original's
// "reconcile_artifact_sync on startup" behavior, SPEC_FULL §3).
func OpenHome(self netids.PeerIdentity, registry *Registry, blobs *blobstore.Store) (*Home, error) {
	id := netids.HomeInterfaceId(self)

	iface := registry.ensure(id)
	if len(iface.Members()) == 0 {
		iface.AddMember(self)
		created := crdt.InterfaceEvent{
			Kind:   crdt.EventMembershipChange,
			ID:     netids.EventId{SenderHash: netids.SenderHashOf(self), Sequence: 1},
			Actor:  self,
			Change: crdt.MembershipCreated,
		}
		if err := iface.Append(created); err != nil {
			return nil, fmt.Errorf("realm: bootstrap home interface: %w", err)
		}
	}

	index := artifact.New(self)
	reconciler := artifact.NewReconciler(self, registry)
	reconciler.Attach(index)

	h := &Home{
		id:         id,
		self:       self,
		index:      index,
		blobs:      blobs,
		registry:   registry,
		reconciler: reconciler,
	}

	if err := reconciler.ReconcileAll(index); err != nil {
		return nil, fmt.Errorf("realm: reconcile artifact sync on startup: %w", err)
	}
	return h, nil
}

// ID returns the home interface's deterministic id.
func (h *Home) ID() netids.InterfaceId { return h.id }

// Index exposes the underlying artifact index for direct inspection.
func (h *Home) Index() *artifact.ArtifactIndex { return h.index }

// Upload stores data as a new content-addressed artifact (deduping
// against an existing blob with the same hash) and adds an Active,
// ungranted entry to the index. Idempotent by content hash: uploading
// identical bytes twice returns the same id without creating a second
// entry.
func (h *Home) Upload(name, mime string, data []byte, createdAt uint64) (netids.ArtifactId, error) {
	id := blobstore.HashContent(data)
	if err := h.blobs.Put(id, data); err != nil {
		return id, fmt.Errorf("realm: store blob: %w", err)
	}
	if err := h.blobs.AddRef(id); err != nil {
		return id, fmt.Errorf("realm: ref blob: %w", err)
	}

	if _, exists := h.index.Get(id); !exists {
		h.index.Store(artifact.HomeArtifactEntry{
			ID:        id,
			Name:      name,
			Mime:      mime,
			Size:      uint64(len(data)),
			CreatedAt: createdAt,
			Status:    artifact.Active,
		})
	}
	return id, nil
}

// Fetch returns an uploaded artifact's bytes.
func (h *Home) Fetch(id netids.ArtifactId) ([]byte, error) {
	return h.blobs.Get(id)
}

// GrantAccess shares id with grantee under mode, triggering the
// reconciler to open (or update) the artifact's sync channel.
func (h *Home) GrantAccess(id netids.ArtifactId, grantee netids.PeerIdentity, mode artifact.AccessMode, expiresAt, now uint64) error {
	return h.index.Grant(id, grantee, mode, expiresAt, h.self, now)
}

// RevokeAccess removes grantee's access to id, triggering the
// reconciler to shrink or tear down the artifact's sync channel.
func (h *Home) RevokeAccess(id netids.ArtifactId, grantee netids.PeerIdentity) error {
	return h.index.RevokeAccess(id, grantee)
}

// Recall strips every revocable/timed grant on id, physically deletes
// the underlying blob's reference, and tears down its sync channel if
// no grantees remain.
func (h *Home) Recall(id netids.ArtifactId, at uint64) error {
	if err := h.index.Recall(id, at); err != nil {
		return err
	}
	return h.blobs.RemoveRef(id)
}

// Transfer hands id's ownership to to, zeroing this entry's grants
// and leaving the recipient's new entry for them to Store in their
// own index.
func (h *Home) Transfer(id netids.ArtifactId, to netids.PeerIdentity, now, expectedVersion uint64) (artifact.HomeArtifactEntry, error) {
	return h.index.Transfer(id, to, h.self, now, expectedVersion)
}

// SharedWith returns every artifact member currently has access to.
func (h *Home) SharedWith(member netids.PeerIdentity, now uint64) []artifact.HomeArtifactEntry {
	return h.index.AccessibleBy(member, now)
}
