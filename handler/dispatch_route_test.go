package handler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trumanellis/indranet/crdt"
	"github.com/trumanellis/indranet/envelope"
	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/router"
	"github.com/trumanellis/indranet/wire"
)

func testEvent(ifaceID netids.InterfaceId, eventID netids.EventId) (crdt.InterfaceEvent, []byte, *fakeKeys) {
	key, err := envelope.GenerateInterfaceKey()
	if err != nil {
		panic(err)
	}
	keys := newFakeKeys()
	keys.byID[ifaceID] = key
	event := crdt.InterfaceEvent{
		Kind:    crdt.EventMessage,
		ID:      eventID,
		Content: []byte("hi"),
	}
	return event, key, keys
}

func newTestRouter(connected map[netids.PeerIdentity]bool) *router.Router {
	return router.New(0, 0, func(p netids.PeerIdentity) bool { return connected[p] }, nil, nil)
}

// TestSendEvent_DirectDeliveryGoesThroughRouter confirms a send to a
// peer the router considers online goes straight to transport and
// begins a back-prop record, rather than bypassing the router.
func TestSendEvent_DirectDeliveryGoesThroughRouter(t *testing.T) {
	ifaceID := testInterfaceID(1)
	eventID := netids.EventId{SenderHash: 1, Sequence: 1}
	event, _, keys := testEvent(ifaceID, eventID)

	bob := netids.PeerIdentity{2}
	rtr := newTestRouter(map[netids.PeerIdentity]bool{bob: true})
	rtr.Presence().Connected(bob)

	transport := &fakeSender{}
	h := New(mustIdentity(t), newFakeInterfaces(), keys, transport, false, rtr, 5, nil, nil)

	require.NoError(t, h.SendEvent(bob, ifaceID, event))

	sent := transport.last(t)
	require.Equal(t, bob, sent.peer)
	require.True(t, rtr.Backprop().Pending(eventID))
}

// TestSendEvent_HoldsWhenDestinationOffline confirms a send to a
// directly-known but currently offline peer is queued in the router's
// hold store instead of being sent or dropped.
func TestSendEvent_HoldsWhenDestinationOffline(t *testing.T) {
	ifaceID := testInterfaceID(1)
	eventID := netids.EventId{SenderHash: 1, Sequence: 1}
	event, _, keys := testEvent(ifaceID, eventID)

	bob := netids.PeerIdentity{2}
	rtr := newTestRouter(map[netids.PeerIdentity]bool{bob: true})

	transport := &fakeSender{}
	h := New(mustIdentity(t), newFakeInterfaces(), keys, transport, false, rtr, 5, nil, nil)

	require.NoError(t, h.SendEvent(bob, ifaceID, event))

	require.Empty(t, transport.sent)
	require.Equal(t, 1, rtr.Hold().Count(bob))
}

// TestSendEvent_RelaysThroughMutualPeer confirms a send to a peer with
// no direct connection, but reachable through a mutual relay, is
// wrapped in a TagRelay envelope and sent to the relay, not the
// final destination.
func TestSendEvent_RelaysThroughMutualPeer(t *testing.T) {
	ifaceID := testInterfaceID(1)
	eventID := netids.EventId{SenderHash: 1, Sequence: 1}
	event, _, keys := testEvent(ifaceID, eventID)

	dest := netids.PeerIdentity{3}
	relay := netids.PeerIdentity{2}
	rtr := newTestRouter(map[netids.PeerIdentity]bool{})
	rtr.Presence().Connected(relay)
	rtr.MutualPeers().UpdateNeighbors(relay, []netids.PeerIdentity{dest})

	transport := &fakeSender{}
	senderIdentity := mustIdentity(t)
	h := New(senderIdentity, newFakeInterfaces(), keys, transport, false, rtr, 5, nil, nil)

	require.NoError(t, h.SendEvent(dest, ifaceID, event))

	sent := transport.last(t)
	require.Equal(t, relay, sent.peer)

	msg := decodeSent(t, sent)
	require.Equal(t, wire.TagRelay, msg.Tag)
	require.Equal(t, eventID, msg.Relay.PacketID)
	require.Equal(t, dest, msg.Relay.Destination)
	require.Equal(t, uint8(4), msg.Relay.TTL) // decremented once by Packet.Visit
	require.Equal(t, []netids.PeerIdentity{senderIdentity.PeerID}, msg.Relay.Visited)
}

// TestHandleRelay_ForwardsToFinalHop confirms an inbound relay for a
// destination the router can deliver to directly is sent on unwrapped
// as the original inner bytes, and that a back-prop record is started
// for the packet.
func TestHandleRelay_ForwardsToFinalHop(t *testing.T) {
	dest := netids.PeerIdentity{4}
	upstream := netids.PeerIdentity{3}
	rtr := newTestRouter(map[netids.PeerIdentity]bool{dest: true})
	rtr.Presence().Connected(dest)

	transport := &fakeSender{}
	h := New(mustIdentity(t), newFakeInterfaces(), newFakeKeys(), transport, false, rtr, 5, nil, nil)

	eventID := netids.EventId{SenderHash: 1, Sequence: 1}
	innerPayload := []byte("already-signed-inner-bytes")
	relayMsg := wire.NetworkMessage{
		Tag: wire.TagRelay,
		Relay: &wire.RelayMessage{
			PacketID:    eventID,
			Destination: dest,
			TTL:         3,
			Visited:     []netids.PeerIdentity{{9}},
			Inner:       innerPayload,
		},
	}
	senderIdentity := mustIdentity(t)
	sm, err := envelope.Sign(senderIdentity, relayMsg)
	require.NoError(t, err)
	raw, err := wire.EncodeSignedMessage(sm)
	require.NoError(t, err)

	h.HandleInbound(upstream, raw)

	sent := transport.last(t)
	require.Equal(t, dest, sent.peer)
	require.Equal(t, innerPayload, sent.data)
	require.True(t, rtr.Backprop().Pending(eventID))
}
