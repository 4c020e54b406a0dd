// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package artifact

import (
	"sync"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// ChannelManager is implemented by the realm façade to create and
// tear down the n-interface used to share one artifact's bytes with
// its grantees.
type ChannelManager interface {
	EnsureChannel(owner netids.PeerIdentity, artifact netids.ArtifactId, grantees []netids.PeerIdentity) error
	TeardownChannel(owner netids.PeerIdentity, artifact netids.ArtifactId) error
}

// Reconciler watches an ArtifactIndex's mutations and keeps each
// artifact's sync channel in step with its grant set (spec §4.6
// "automatic sync reconciliation"): whenever grants become non-empty
// a channel is ensured to exist; whenever they go empty, or the entry
// is recalled or transferred, the channel is torn down. Reconcile is
// idempotent, so callers may invoke it on every mutation and again on
// startup to repair any channel desync.
type Reconciler struct {
	mu      sync.Mutex
	owner   netids.PeerIdentity
	manager ChannelManager

	// open tracks which artifacts currently have a channel. While one
	// is open, every reconcile re-issues EnsureChannel with the current
	// grantees; a channel that closes gets TeardownChannel once.
	open map[netids.ArtifactId]bool
}

// NewReconciler wires a Reconciler for owner's index to manager.
func NewReconciler(owner netids.PeerIdentity, manager ChannelManager) *Reconciler {
	return &Reconciler{
		owner:   owner,
		manager: manager,
		open:    make(map[netids.ArtifactId]bool),
	}
}

// Attach registers the reconciler as a mutation hook on idx.
func (r *Reconciler) Attach(idx *ArtifactIndex) {
	idx.OnMutation(r.Reconcile)
}

// Reconcile brings the channel for entry's artifact into step with
// its current status and grant set.
func (r *Reconciler) Reconcile(entry HomeArtifactEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantOpen := entry.Status == Active && len(entry.Grants) > 0

	switch {
	case wantOpen && !r.open[entry.ID]:
		grantees := make([]netids.PeerIdentity, 0, len(entry.Grants))
		for _, g := range entry.Grants {
			grantees = append(grantees, g.Grantee)
		}
		if err := r.manager.EnsureChannel(r.owner, entry.ID, grantees); err != nil {
			return err
		}
		r.open[entry.ID] = true
	case wantOpen && r.open[entry.ID]:
		grantees := make([]netids.PeerIdentity, 0, len(entry.Grants))
		for _, g := range entry.Grants {
			grantees = append(grantees, g.Grantee)
		}
		if err := r.manager.EnsureChannel(r.owner, entry.ID, grantees); err != nil {
			return err
		}
	case !wantOpen && r.open[entry.ID]:
		if err := r.manager.TeardownChannel(r.owner, entry.ID); err != nil {
			return err
		}
		delete(r.open, entry.ID)
	}
	return nil
}

// ReconcileAll re-runs Reconcile over every entry in idx, repairing
// channel state after a restart.
func (r *Reconciler) ReconcileAll(idx *ArtifactIndex) error {
	for _, entry := range idx.Entries() {
		if err := r.Reconcile(entry); err != nil {
			return err
		}
	}
	return nil
}
