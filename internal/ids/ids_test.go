package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventId_Ordering(t *testing.T) {
	a := EventId{SenderHash: 1, Sequence: 5}
	b := EventId{SenderHash: 1, Sequence: 6}
	c := EventId{SenderHash: 2, Sequence: 1}

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, b.Less(c))
	require.True(t, a.LessOrEqual(a))
}

func TestDirectInterfaceId_OrderIndependent(t *testing.T) {
	var a, b PeerIdentity
	a[0] = 1
	b[0] = 2

	require.Equal(t, DirectInterfaceId(a, b), DirectInterfaceId(b, a))
}

func TestHomeInterfaceId_Deterministic(t *testing.T) {
	var member PeerIdentity
	member[0] = 7

	require.Equal(t, HomeInterfaceId(member), HomeInterfaceId(member))
	require.NotEqual(t, InterfaceId{}, HomeInterfaceId(member))
}

func TestArtifactIdFromContent_SelfVerifying(t *testing.T) {
	content := []byte("hello indra")
	id := ArtifactIdFromContent(content)
	require.Equal(t, id, ArtifactIdFromContent(content))

	other := ArtifactIdFromContent([]byte("different"))
	require.NotEqual(t, id, other)
}

func TestPeerIdentityFromHex_RoundTrip(t *testing.T) {
	var p PeerIdentity
	p[0] = 0xAB
	got, err := PeerIdentityFromHex(p.Hex())
	require.NoError(t, err)
	require.Equal(t, p, got)

	_, err = PeerIdentityFromHex("not-hex")
	require.Error(t, err)
}
