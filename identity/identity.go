// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package identity implements the long-lived post-quantum signing
// identity and per-interface key encapsulation described in spec
// §4.1. Signing uses ML-DSA-65 (FIPS 204, category 3); membership key
// distribution uses ML-KEM-768 (FIPS 203).
package identity

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// Wire sizes for ML-DSA-65, matching FIPS 204 category 3. Grounded on
// the teacher's pkg/wire credential-size table (MLDSA65SignatureSize /
// MLDSA65PublicKeySize), before that package's finality-policy code
// was trimmed as out of scope.
const (
	SignatureSize = mldsa65.SignatureSize
	PublicKeySize = mldsa65.PublicKeySize
)

// KEM ciphertext is ~1088 bytes per spec §4.1; mlkem768 reports the
// exact sizes via its scheme.
var kemScheme = mlkem768.Scheme()

// Identity is a node's long-lived signing and key-encapsulation
// material. It is held in memory only; this package provides no way
// to save or reload it. PeerIdentity is derived from the signing
// public key.
type Identity struct {
	PeerID netids.PeerIdentity

	signPub  *mldsa65.PublicKey
	signPriv *mldsa65.PrivateKey

	kemPub  mlkem768.PublicKey
	kemPriv mlkem768.PrivateKey
}

// Generate creates a fresh Identity with new ML-DSA-65 and ML-KEM-768
// key pairs.
func Generate() (*Identity, error) {
	signPub, signPriv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}

	kemPubKey, kemPrivKey, err := kemScheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate kem key: %w", err)
	}
	kemPub, ok := kemPubKey.(mlkem768.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: unexpected kem public key type %T", kemPubKey)
	}
	kemPriv, ok := kemPrivKey.(mlkem768.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: unexpected kem private key type %T", kemPrivKey)
	}

	pubBytes, err := signPub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("identity: marshal signing public key: %w", err)
	}

	return &Identity{
		PeerID:   netids.PeerIdentityFromPublicKey(pubBytes),
		signPub:  signPub,
		signPriv: signPriv,
		kemPub:   kemPub,
		kemPriv:  kemPriv,
	}, nil
}

// VerifyingKey returns the raw bytes of the ML-DSA-65 public key, the
// form carried on the wire as SignedMessage.sender_verifying_key.
func (id *Identity) VerifyingKey() []byte {
	b, _ := id.signPub.MarshalBinary()
	return b
}

// KEMPublicKey returns the raw bytes of this identity's ML-KEM-768
// public key, published so other members can encapsulate interface
// keys to it.
func (id *Identity) KEMPublicKey() []byte {
	b, _ := id.kemPub.MarshalBinary()
	return b
}

// Sign produces an ML-DSA-65 signature over msg.
func (id *Identity) Sign(msg []byte) []byte {
	return mldsa65.SignDeterministic(id.signPriv, msg, nil)
}

// Verify checks an ML-DSA-65 signature against a raw verifying key.
// Returns false (never panics) on malformed keys or signatures.
func Verify(verifyingKey, msg, sig []byte) bool {
	var pub mldsa65.PublicKey
	if err := pub.UnmarshalBinary(verifyingKey); err != nil {
		return false
	}
	return mldsa65.Verify(&pub, msg, nil, sig)
}

// DecapsulateInterfaceKey recovers a 32-byte interface key that was
// encapsulated to this identity's ML-KEM-768 public key.
func (id *Identity) DecapsulateInterfaceKey(kemCiphertext []byte) ([]byte, error) {
	shared, err := kemScheme.Decapsulate(id.kemPriv, kemCiphertext)
	if err != nil {
		return nil, fmt.Errorf("identity: kem decapsulate: %w", err)
	}
	return shared, nil
}

// EncapsulateTo generates a fresh KEM ciphertext and shared secret
// bound to the recipient's raw ML-KEM-768 public key.
func EncapsulateTo(recipientKEMPublicKey []byte) (ciphertext, sharedSecret []byte, err error) {
	pk, err := kemScheme.UnmarshalBinaryPublicKey(recipientKEMPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: unmarshal kem public key: %w", err)
	}
	ct, ss, err := kemScheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: kem encapsulate: %w", err)
	}
	return ct, ss, nil
}

// CiphertextSize is the fixed size of an ML-KEM-768 encapsulation,
// ~1088 bytes per spec §4.1.
func CiphertextSize() int { return kemScheme.CiphertextSize() }
