// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ids defines the fixed-width identifiers shared across the
// n-interface, router, and artifact index subsystems.
package ids

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/trumanellis/indranet/utils/formatting"
)

// PeerIdentity is the opaque, fixed-width identifier of a node's
// long-lived signing identity. It is the BLAKE3 hash of the node's
// ML-DSA-65 verifying key, giving it cheap equality and hashing while
// keeping it independent of key size.
type PeerIdentity [32]byte

// EmptyPeerIdentity is the zero identity.
var EmptyPeerIdentity PeerIdentity

// String returns a short human-readable form (first 8 hex bytes).
func (p PeerIdentity) String() string {
	s, _ := formatting.Encode(formatting.HexNC, p[:8])
	return s
}

// Hex returns the full lowercase hex encoding.
func (p PeerIdentity) Hex() string {
	s, _ := formatting.Encode(formatting.HexNC, p[:])
	return s
}

// IsEmpty reports whether this is the zero identity.
func (p PeerIdentity) IsEmpty() bool {
	return p == EmptyPeerIdentity
}

// PeerIdentityFromPublicKey derives a PeerIdentity from a raw
// ML-DSA-65 verifying key.
func PeerIdentityFromPublicKey(pub []byte) PeerIdentity {
	return PeerIdentity(blake3.Sum256(pub))
}

// PeerIdentityFromHex parses a hex-encoded identity.
func PeerIdentityFromHex(s string) (PeerIdentity, error) {
	var p PeerIdentity
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("ids: invalid peer identity hex: %w", err)
	}
	if len(b) != len(p) {
		return p, fmt.Errorf("ids: peer identity must be %d bytes, got %d", len(p), len(b))
	}
	copy(p[:], b)
	return p, nil
}

// SenderHashOf derives the compact EventId.SenderHash used to key a
// sender's event chain: the first 8 bytes of the sender's
// PeerIdentity, interpreted little-endian. Collisions are possible in
// principle (64 of 256 bits) but astronomically unlikely for a live
// membership set; full disambiguation is not required because
// EventId is always interpreted alongside the already-validated
// member set of the interface it belongs to.
func SenderHashOf(p PeerIdentity) uint64 {
	var h uint64
	for i := 0; i < 8; i++ {
		h |= uint64(p[i]) << (8 * i)
	}
	return h
}

// EventId uniquely identifies an event within an interface log.
// Ordered lexicographically by (SenderHash, Sequence).
type EventId struct {
	SenderHash uint64
	Sequence   uint64
}

// Less implements the total order (sender hash, then sequence) used
// by ninterface's delivered watermark.
func (id EventId) Less(other EventId) bool {
	if id.SenderHash != other.SenderHash {
		return id.SenderHash < other.SenderHash
	}
	return id.Sequence < other.Sequence
}

// LessOrEqual reports id <= other under the same total order.
func (id EventId) LessOrEqual(other EventId) bool {
	return id == other || id.Less(other)
}

// String renders the EventId for logs.
func (id EventId) String() string {
	return fmt.Sprintf("%016x:%d", id.SenderHash, id.Sequence)
}

// InterfaceId is the 32-byte identifier of an n-interface.
type InterfaceId [32]byte

// EmptyInterfaceId is the zero interface id.
var EmptyInterfaceId InterfaceId

func (i InterfaceId) String() string {
	s, _ := formatting.Encode(formatting.HexNC, i[:8])
	return s
}
func (i InterfaceId) Hex() string {
	s, _ := formatting.Encode(formatting.HexNC, i[:])
	return s
}

// HomeInterfaceId derives the deterministic id for a member's home
// interface: BLAKE3("home-realm-v1:" || member_id).
func HomeInterfaceId(member PeerIdentity) InterfaceId {
	h := blake3.New()
	h.Write([]byte("home-realm-v1:"))
	h.Write(member[:])
	var out InterfaceId
	copy(out[:], h.Sum(nil))
	return out
}

// DirectInterfaceId derives the deterministic id for a direct-peer
// (DM) interface: BLAKE3("dm-v1:" || min(A,B) || max(A,B)).
func DirectInterfaceId(a, b PeerIdentity) InterfaceId {
	lo, hi := a, b
	if bytesGreater(lo[:], hi[:]) {
		lo, hi = hi, lo
	}
	h := blake3.New()
	h.Write([]byte("dm-v1:"))
	h.Write(lo[:])
	h.Write(hi[:])
	var out InterfaceId
	copy(out[:], h.Sum(nil))
	return out
}

func bytesGreater(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// ArtifactId is the 32-byte BLAKE3 hash of a blob's contents.
// Artifacts are content-addressed and self-verifying: recomputing the
// hash of the bytes must reproduce this id.
type ArtifactId [32]byte

// EmptyArtifactId is the zero artifact id.
var EmptyArtifactId ArtifactId

func (a ArtifactId) String() string {
	s, _ := formatting.Encode(formatting.HexNC, a[:8])
	return s
}
func (a ArtifactId) Hex() string {
	s, _ := formatting.Encode(formatting.HexNC, a[:])
	return s
}

// ArtifactIdFromContent hashes blob contents to its content address.
func ArtifactIdFromContent(content []byte) ArtifactId {
	return ArtifactId(blake3.Sum256(content))
}

// ArtifactIdFromHex parses a hex-encoded artifact id.
func ArtifactIdFromHex(s string) (ArtifactId, error) {
	var id ArtifactId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("ids: invalid artifact id hex: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("ids: artifact id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ArtifactShareInterfaceId derives the deterministic id of the
// n-interface used to sync one artifact's bytes to its current
// grantees: BLAKE3("artifact-share-v1:" || artifact_id).
func ArtifactShareInterfaceId(artifact ArtifactId) InterfaceId {
	h := blake3.New()
	h.Write([]byte("artifact-share-v1:"))
	h.Write(artifact[:])
	var out InterfaceId
	copy(out[:], h.Sum(nil))
	return out
}
