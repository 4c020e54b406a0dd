// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package envelope implements spec §4.1: signing and verifying every
// wire message, and encrypting/decrypting n-interface event payloads
// with ChaCha20-Poly1305.
package envelope

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/trumanellis/indranet/identity"
	"github.com/trumanellis/indranet/wire"
)

// Error kinds surfaced by envelope processing (spec §7). Each is a
// distinguishable sentinel so dispatch code can tell decryption
// failure apart from signature failure apart from a bad version.
var (
	ErrSignatureVerificationFailed = errors.New("envelope: signature verification failed")
	ErrUnsupportedVersion          = errors.New("envelope: unsupported wire version")
	ErrLegacyModeDisabled          = errors.New("envelope: legacy unsigned messages disabled")
	ErrDecryption                  = errors.New("envelope: decryption failed")
)

// UnsupportedVersionError carries the offending and expected version
// numbers (spec §7 UnsupportedVersion{got, expected}).
type UnsupportedVersionError struct {
	Got, Expected uint8
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("envelope: unsupported wire version %d, expected %d", e.Got, e.Expected)
}

func (e *UnsupportedVersionError) Unwrap() error { return ErrUnsupportedVersion }

// Sign wraps message in a SignedMessage signed by id.
func Sign(id *identity.Identity, message wire.NetworkMessage) (wire.SignedMessage, error) {
	body, err := wire.SignedBody(message)
	if err != nil {
		return wire.SignedMessage{}, fmt.Errorf("envelope: encode message: %w", err)
	}
	return wire.SignedMessage{
		Version:            wire.CurrentVersion,
		Message:            message,
		Signature:          id.Sign(body),
		SenderVerifyingKey: id.VerifyingKey(),
	}, nil
}

// VerifyOptions configures strict vs. legacy-unsigned acceptance
// (spec §4.1's "legacy-mode toggle").
type VerifyOptions struct {
	AllowLegacyUnsigned bool
}

// Verify checks a decoded SignedMessage's version and signature.
// Production deployments pass VerifyOptions{AllowLegacyUnsigned:
// false}; unsigned messages (empty Signature and SenderVerifyingKey)
// are rejected unless legacy mode is explicitly enabled.
func Verify(sm wire.SignedMessage, opts VerifyOptions) error {
	if sm.Version != wire.CurrentVersion {
		return &UnsupportedVersionError{Got: sm.Version, Expected: wire.CurrentVersion}
	}

	if len(sm.Signature) == 0 && len(sm.SenderVerifyingKey) == 0 {
		if opts.AllowLegacyUnsigned {
			return nil
		}
		return ErrLegacyModeDisabled
	}

	body, err := wire.SignedBody(sm.Message)
	if err != nil {
		return fmt.Errorf("envelope: re-encode message for verification: %w", err)
	}
	if !identity.Verify(sm.SenderVerifyingKey, body, sm.Signature) {
		return ErrSignatureVerificationFailed
	}
	return nil
}

// Encrypt seals plaintext under key with a freshly drawn random
// 12-byte nonce (spec §4.1). The nonce is returned alongside the
// ciphertext for wire transmission.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce [12]byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nonce, fmt.Errorf("envelope: init aead: %w", err)
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("envelope: draw nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce[:], plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext under key and nonce. Tampering or the
// wrong key surfaces ErrDecryption rather than corrupting output
// silently (spec §4.1, §8 property 4).
func Decrypt(key, ciphertext []byte, nonce [12]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: init aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// GenerateInterfaceKey draws a fresh random 32-byte ChaCha20-Poly1305
// key for a new n-interface.
func GenerateInterfaceKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("envelope: generate interface key: %w", err)
	}
	return key, nil
}
