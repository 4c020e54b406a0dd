// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package realm implements spec §4.9: the Home/Peer Realm façade
// binding a deterministic interface id to an owner, and reconciling
// per-artifact sync interfaces from artifact-index changes.
package realm

import (
	"fmt"
	"sync"

	"github.com/trumanellis/indranet/crdt"
	"github.com/trumanellis/indranet/envelope"
	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/ninterface"
	"github.com/trumanellis/indranet/pending"
	"github.com/trumanellis/indranet/telemetry"
)

// Registry is the node-wide lookup of live interfaces and their
// symmetric keys: the home interface, every direct-peer interface,
// and every per-artifact share interface. It implements
// handler.InterfaceSource, handler.KeyStore, and
// artifact.ChannelManager, so one Registry backs the whole node's
// message dispatch and sync-channel reconciliation.
type Registry struct {
	mu           sync.RWMutex
	self         netids.PeerIdentity
	ifs          map[netids.InterfaceId]*ninterface.Interface
	keys         map[netids.InterfaceId][]byte
	pendingStore *pending.Store
	metrics      *telemetry.Metrics
}

// NewRegistry constructs an empty Registry for self.
func NewRegistry(self netids.PeerIdentity, metrics *telemetry.Metrics) *Registry {
	if metrics == nil {
		metrics = telemetry.NewUnregisteredMetrics()
	}
	return &Registry{
		self:    self,
		ifs:     make(map[netids.InterfaceId]*ninterface.Interface),
		keys:    make(map[netids.InterfaceId][]byte),
		metrics: metrics,
	}
}

// SetPendingStore attaches the node's durable pending-delivery log.
// Every interface created after this call mirrors its pending/delivered
// transitions into store; interfaces created before it keep the store
// they were built with. Called once
// during node startup, before the home realm is opened.
func (r *Registry) SetPendingStore(store *pending.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingStore = store
}

// Interface implements handler.InterfaceSource.
func (r *Registry) Interface(id netids.InterfaceId) (*ninterface.Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.ifs[id]
	return iface, ok
}

// Key implements handler.KeyStore.
func (r *Registry) Key(id netids.InterfaceId) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[id]
	return key, ok
}

// Interfaces returns every interface id self currently belongs to,
// used by OnPeerOnline to decide which interfaces to proactively sync
// with a peer that just reconnected.
func (r *Registry) Interfaces() []netids.InterfaceId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]netids.InterfaceId, 0, len(r.ifs))
	for id, iface := range r.ifs {
		for _, m := range iface.Members() {
			if m == r.self {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// ensure registers a new, empty interface for id if one is not
// already present, and returns it. Idempotent. It creates no key;
// ensureKey does that.
func (r *Registry) ensure(id netids.InterfaceId) *ninterface.Interface {
	r.mu.Lock()
	defer r.mu.Unlock()
	if iface, ok := r.ifs[id]; ok {
		return iface
	}
	iface := ninterface.New(id, r.self, crdt.NewDocument(), r.pendingStore, r.metrics, nil)
	r.ifs[id] = iface
	return iface
}

func (r *Registry) ensureKey(id netids.InterfaceId) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.keys[id]; ok {
		return key, nil
	}
	key, err := envelope.GenerateInterfaceKey()
	if err != nil {
		return nil, err
	}
	r.keys[id] = key
	return key, nil
}

// Register installs an already-constructed interface and key,
// overwriting neither if either is already present. Nothing in this
// module calls it; OpenHome installs the home interface through
// ensure.
func (r *Registry) Register(iface *ninterface.Interface, key []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := iface.ID()
	if _, ok := r.ifs[id]; !ok {
		r.ifs[id] = iface
	}
	if _, ok := r.keys[id]; !ok {
		r.keys[id] = key
	}
}

// EnsureChannel implements artifact.ChannelManager: it brings the
// artifact's deterministic share interface's membership into step
// with owner + grantees, creating the interface and its key on first
// use.
func (r *Registry) EnsureChannel(owner netids.PeerIdentity, artifactID netids.ArtifactId, grantees []netids.PeerIdentity) error {
	id := netids.ArtifactShareInterfaceId(artifactID)
	iface := r.ensure(id)
	if _, err := r.ensureKey(id); err != nil {
		return fmt.Errorf("realm: generate share key for artifact %s: %w", artifactID.String(), err)
	}

	iface.AddMember(owner)
	want := make(map[netids.PeerIdentity]struct{}, len(grantees))
	for _, g := range grantees {
		want[g] = struct{}{}
		iface.AddMember(g)
	}
	for _, member := range iface.Members() {
		if member == owner {
			continue
		}
		if _, ok := want[member]; !ok {
			iface.RemoveMember(member)
		}
	}
	return nil
}

// TeardownChannel implements artifact.ChannelManager: it strips every
// grantee from the artifact's share interface, leaving only owner so
// the interface can be re-populated if access is granted again later.
func (r *Registry) TeardownChannel(owner netids.PeerIdentity, artifactID netids.ArtifactId) error {
	id := netids.ArtifactShareInterfaceId(artifactID)
	iface, ok := r.Interface(id)
	if !ok {
		return nil
	}
	for _, member := range iface.Members() {
		if member != owner {
			iface.RemoveMember(member)
		}
	}
	return nil
}

