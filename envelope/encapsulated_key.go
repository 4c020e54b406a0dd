// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package envelope

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/trumanellis/indranet/identity"
	netids "github.com/trumanellis/indranet/internal/ids"
)

// EncapsulatedKey is how a holder admits a new member to an
// interface: the interface's symmetric key, wrapped so only the
// recipient's ML-KEM-768 private key can recover it (spec §4.1, §6).
type EncapsulatedKey struct {
	InterfaceID   netids.InterfaceId
	KEMCiphertext []byte
	EncryptedKey  []byte
	Nonce         [12]byte
}

// WrapInterfaceKey encapsulates interfaceKey to recipientKEMPublicKey:
// it derives a KEM shared secret, uses it as an AEAD key to wrap the
// 32-byte interface key, and returns the bundle to send over the
// wire.
func WrapInterfaceKey(interfaceID netids.InterfaceId, interfaceKey, recipientKEMPublicKey []byte) (EncapsulatedKey, error) {
	ciphertext, sharedSecret, err := identity.EncapsulateTo(recipientKEMPublicKey)
	if err != nil {
		return EncapsulatedKey{}, fmt.Errorf("envelope: encapsulate interface key: %w", err)
	}

	aead, err := chacha20poly1305.New(sharedSecret)
	if err != nil {
		return EncapsulatedKey{}, fmt.Errorf("envelope: init wrap aead: %w", err)
	}
	var nonce [12]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return EncapsulatedKey{}, fmt.Errorf("envelope: draw wrap nonce: %w", err)
	}

	encryptedKey := aead.Seal(nil, nonce[:], interfaceKey, nil)
	return EncapsulatedKey{
		InterfaceID:   interfaceID,
		KEMCiphertext: ciphertext,
		EncryptedKey:  encryptedKey,
		Nonce:         nonce,
	}, nil
}

// UnwrapInterfaceKey recovers the interface key from an
// EncapsulatedKey using the recipient's identity.
func UnwrapInterfaceKey(id *identity.Identity, ek EncapsulatedKey) ([]byte, error) {
	sharedSecret, err := id.DecapsulateInterfaceKey(ek.KEMCiphertext)
	if err != nil {
		return nil, fmt.Errorf("envelope: decapsulate interface key: %w", err)
	}

	aead, err := chacha20poly1305.New(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("envelope: init unwrap aead: %w", err)
	}
	interfaceKey, err := aead.Open(nil, ek.Nonce[:], ek.EncryptedKey, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return interfaceKey, nil
}
