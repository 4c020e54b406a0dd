package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trumanellis/indranet/identity"
	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/wire"
)

func testMessage(t *testing.T) wire.NetworkMessage {
	t.Helper()
	var iface netids.InterfaceId
	iface[0] = 5
	return wire.NetworkMessage{
		Tag: wire.TagEventAck,
		EventAck: &wire.EventAckMessage{
			InterfaceID: iface,
			UpTo:        netids.EventId{SenderHash: 1, Sequence: 3},
		},
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	sm, err := Sign(id, testMessage(t))
	require.NoError(t, err)

	require.NoError(t, Verify(sm, VerifyOptions{}))
}

func TestVerify_RejectsUnsupportedVersion(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	sm, err := Sign(id, testMessage(t))
	require.NoError(t, err)

	sm.Version = 2
	err = Verify(sm, VerifyOptions{})
	var uv *UnsupportedVersionError
	require.ErrorAs(t, err, &uv)
	require.Equal(t, uint8(2), uv.Got)
}

func TestVerify_TamperedSignatureFails(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	sm, err := Sign(id, testMessage(t))
	require.NoError(t, err)

	sm.Signature[0] ^= 0xFF
	require.ErrorIs(t, Verify(sm, VerifyOptions{}), ErrSignatureVerificationFailed)
}

func TestVerify_LegacyUnsignedRequiresOptIn(t *testing.T) {
	sm := wire.SignedMessage{Version: wire.CurrentVersion, Message: testMessage(t)}

	require.ErrorIs(t, Verify(sm, VerifyOptions{}), ErrLegacyModeDisabled)
	require.NoError(t, Verify(sm, VerifyOptions{AllowLegacyUnsigned: true}))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, err := GenerateInterfaceKey()
	require.NoError(t, err)

	plaintext := []byte("secret group message")
	ciphertext, nonce, err := Encrypt(key, plaintext)
	require.NoError(t, err)

	got, err := Decrypt(key, ciphertext, nonce)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	key, err := GenerateInterfaceKey()
	require.NoError(t, err)
	wrongKey, err := GenerateInterfaceKey()
	require.NoError(t, err)

	ciphertext, nonce, err := Encrypt(key, []byte("data"))
	require.NoError(t, err)

	_, err = Decrypt(wrongKey, ciphertext, nonce)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	key, err := GenerateInterfaceKey()
	require.NoError(t, err)

	ciphertext, nonce, err := Encrypt(key, []byte("data"))
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = Decrypt(key, ciphertext, nonce)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestEncapsulatedKey_WrapUnwrapRoundTrip(t *testing.T) {
	recipient, err := identity.Generate()
	require.NoError(t, err)

	interfaceKey, err := GenerateInterfaceKey()
	require.NoError(t, err)

	var ifaceID netids.InterfaceId
	ifaceID[0] = 1

	ek, err := WrapInterfaceKey(ifaceID, interfaceKey, recipient.KEMPublicKey())
	require.NoError(t, err)

	got, err := UnwrapInterfaceKey(recipient, ek)
	require.NoError(t, err)
	require.Equal(t, interfaceKey, got)
}

func TestEncapsulatedKey_WrongPrivateKeyFails(t *testing.T) {
	recipient, err := identity.Generate()
	require.NoError(t, err)
	attacker, err := identity.Generate()
	require.NoError(t, err)

	interfaceKey, err := GenerateInterfaceKey()
	require.NoError(t, err)

	var ifaceID netids.InterfaceId
	ek, err := WrapInterfaceKey(ifaceID, interfaceKey, recipient.KEMPublicKey())
	require.NoError(t, err)

	_, err = UnwrapInterfaceKey(attacker, ek)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestTamperSweep_AlwaysDetected(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		sm, err := Sign(id, testMessage(t))
		require.NoError(t, err)
		sm.Signature[i%len(sm.Signature)] ^= 0xFF
		require.Error(t, Verify(sm, VerifyOptions{}))
	}
}
