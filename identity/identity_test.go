package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerate_DistinctIdentities(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	require.NotEqual(t, a.PeerID, b.PeerID)
	require.NotEqual(t, a.VerifyingKey(), b.VerifyingKey())
}

func TestSignVerify_RoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello n-interface")
	sig := id.Sign(msg)

	require.True(t, Verify(id.VerifyingKey(), msg, sig))
	require.False(t, Verify(id.VerifyingKey(), msg, []byte("not a signature")))
}

func TestVerify_TamperedMessageFails(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello n-interface")
	sig := id.Sign(msg)

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF

	require.False(t, Verify(id.VerifyingKey(), tampered, sig))
}

func TestVerify_WrongKeyFails(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello")
	sig := a.Sign(msg)

	require.False(t, Verify(b.VerifyingKey(), msg, sig))
}

func TestKEM_EncapsulateDecapsulateRoundTrip(t *testing.T) {
	recipient, err := Generate()
	require.NoError(t, err)

	ct, secret, err := EncapsulateTo(recipient.KEMPublicKey())
	require.NoError(t, err)
	require.Len(t, secret, 32)

	recovered, err := recipient.DecapsulateInterfaceKey(ct)
	require.NoError(t, err)
	require.Equal(t, secret, recovered)
}

func TestKEM_WrongPrivateKeyNeverSilentlySucceeds(t *testing.T) {
	recipient, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	ct, secret, err := EncapsulateTo(recipient.KEMPublicKey())
	require.NoError(t, err)

	wrong, err := other.DecapsulateInterfaceKey(ct)
	// ML-KEM decapsulation is implicit-rejection: it never errors on a
	// mismatched key, it returns a different (wrong) shared secret.
	require.NoError(t, err)
	require.NotEqual(t, secret, wrong)
}
