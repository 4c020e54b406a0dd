package handler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trumanellis/indranet/crdt"
	"github.com/trumanellis/indranet/envelope"
	"github.com/trumanellis/indranet/identity"
	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/ninterface"
	"github.com/trumanellis/indranet/wire"
)

func testInterfaceID(b byte) netids.InterfaceId {
	var id netids.InterfaceId
	id[0] = b
	return id
}

type fakeInterfaces struct {
	byID map[netids.InterfaceId]*ninterface.Interface
}

func newFakeInterfaces() *fakeInterfaces {
	return &fakeInterfaces{byID: make(map[netids.InterfaceId]*ninterface.Interface)}
}

func (f *fakeInterfaces) Interface(id netids.InterfaceId) (*ninterface.Interface, bool) {
	iface, ok := f.byID[id]
	return iface, ok
}

func (f *fakeInterfaces) add(iface *ninterface.Interface) {
	f.byID[iface.ID()] = iface
}

type fakeKeys struct {
	byID map[netids.InterfaceId][]byte
}

func newFakeKeys() *fakeKeys { return &fakeKeys{byID: make(map[netids.InterfaceId][]byte)} }

func (f *fakeKeys) Key(id netids.InterfaceId) ([]byte, bool) {
	k, ok := f.byID[id]
	return k, ok
}

type sentMessage struct {
	peer netids.PeerIdentity
	data []byte
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSender) Send(peer netids.PeerIdentity, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{peer: peer, data: data})
	return nil
}

func (s *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

func decodeSent(t *testing.T, sm sentMessage) wire.NetworkMessage {
	t.Helper()
	decoded, err := wire.DecodeSignedMessage(sm.data)
	require.NoError(t, err)
	require.NoError(t, envelope.Verify(decoded, envelope.VerifyOptions{}))
	return decoded.Message
}

// TestHandleInbound_EventVerifyDecryptAppendAck exercises the full
// receive path: signature verification, decryption, sequence-checked
// append, and the resulting ack sent back to the sender.
func TestHandleInbound_EventVerifyDecryptAppendAck(t *testing.T) {
	senderIdentity := mustIdentity(t)
	alice := senderIdentity.PeerID
	bob := netids.PeerIdentity{2}

	ifaceID := testInterfaceID(9)
	doc := crdt.NewDocument()
	doc.AddMember(alice)
	doc.AddMember(bob)
	iface := ninterface.New(ifaceID, bob, doc, nil, nil, nil)

	interfaces := newFakeInterfaces()
	interfaces.add(iface)

	key, err := envelope.GenerateInterfaceKey()
	require.NoError(t, err)
	keys := newFakeKeys()
	keys.byID[ifaceID] = key

	transport := &fakeSender{}
	bobIdentity := mustIdentity(t)
	h := New(bobIdentity, interfaces, keys, transport, false, nil, 0, nil, nil)

	event := crdt.InterfaceEvent{
		Kind:    crdt.EventMessage,
		ID:      netids.EventId{SenderHash: netids.SenderHashOf(alice), Sequence: 1},
		Sender:  alice,
		Content: []byte("hello"),
	}
	ciphertext, nonce, err := envelope.Encrypt(key, crdt.EncodeEvent(event))
	require.NoError(t, err)

	inbound := wire.NetworkMessage{
		Tag: wire.TagInterfaceEvent,
		InterfaceEvt: &wire.InterfaceEventMessage{
			InterfaceID: ifaceID,
			Ciphertext:  ciphertext,
			EventID:     event.ID,
			Nonce:       nonce,
		},
	}
	sm, err := envelope.Sign(senderIdentity, inbound)
	require.NoError(t, err)
	raw, err := wire.EncodeSignedMessage(sm)
	require.NoError(t, err)

	h.HandleInbound(alice, raw)

	require.Len(t, doc.Heads(), 2) // sender's head plus membership head

	reply := decodeSent(t, transport.last(t))
	require.Equal(t, wire.TagEventAck, reply.Tag)
	require.Equal(t, event.ID, reply.EventAck.UpTo)
}

// TestHandleInbound_BadSignatureDropped confirms a tampered message
// never reaches the interface.
func TestHandleInbound_BadSignatureDropped(t *testing.T) {
	senderIdentity := mustIdentity(t)
	alice := senderIdentity.PeerID
	bob := netids.PeerIdentity{2}

	ifaceID := testInterfaceID(9)
	doc := crdt.NewDocument()
	doc.AddMember(alice)
	iface := ninterface.New(ifaceID, bob, doc, nil, nil, nil)

	interfaces := newFakeInterfaces()
	interfaces.add(iface)
	keys := newFakeKeys()
	transport := &fakeSender{}
	h := New(mustIdentity(t), interfaces, keys, transport, false, nil, 0, nil, nil)

	inbound := wire.NetworkMessage{
		Tag: wire.TagInterfaceEvent,
		InterfaceEvt: &wire.InterfaceEventMessage{
			InterfaceID: ifaceID,
			Ciphertext:  []byte("garbage"),
			EventID:     netids.EventId{SenderHash: netids.SenderHashOf(alice), Sequence: 1},
		},
	}
	sm, err := envelope.Sign(senderIdentity, inbound)
	require.NoError(t, err)
	sm.Signature[0] ^= 0xFF // corrupt
	raw, err := wire.EncodeSignedMessage(sm)
	require.NoError(t, err)

	h.HandleInbound(alice, raw)

	require.Empty(t, transport.sent)
}

// TestHandleSyncRequest_RepliesImmediately confirms an inbound
// SyncRequest merges the sender's state and produces a paired
// SyncResponse without waiting for a periodic tick.
func TestHandleSyncRequest_RepliesImmediately(t *testing.T) {
	senderIdentity := mustIdentity(t)
	alice := senderIdentity.PeerID
	bob := netids.PeerIdentity{2}

	ifaceID := testInterfaceID(5)
	localDoc := crdt.NewDocument()
	localDoc.AddMember(alice)
	localDoc.AddMember(bob)
	localEvent := crdt.InterfaceEvent{
		Kind:    crdt.EventMessage,
		ID:      netids.EventId{SenderHash: netids.SenderHashOf(bob), Sequence: 1},
		Sender:  bob,
		Content: []byte("from bob"),
	}
	localDoc.AppendEvent(localEvent)
	iface := ninterface.New(ifaceID, bob, localDoc, nil, nil, nil)

	interfaces := newFakeInterfaces()
	interfaces.add(iface)
	keys := newFakeKeys()
	transport := &fakeSender{}
	h := New(mustIdentity(t), interfaces, keys, transport, false, nil, 0, nil, nil)

	remoteDoc := crdt.NewDocument()
	remoteDoc.AddMember(alice)
	remoteEvent := crdt.InterfaceEvent{
		Kind:    crdt.EventMessage,
		ID:      netids.EventId{SenderHash: netids.SenderHashOf(alice), Sequence: 1},
		Sender:  alice,
		Content: []byte("from alice"),
	}
	remoteDoc.AppendEvent(remoteEvent)

	req := wire.NetworkMessage{
		Tag: wire.TagSyncRequest,
		SyncRequest: &wire.SyncRequestMessage{
			InterfaceID: ifaceID,
			Heads:       crdt.EncodeHeads(remoteDoc.Heads()),
			SyncData:    crdt.SerializeSyncMessage(remoteDoc.GenerateSyncMessage(nil)),
		},
	}
	sm, err := envelope.Sign(senderIdentity, req)
	require.NoError(t, err)
	raw, err := wire.EncodeSignedMessage(sm)
	require.NoError(t, err)

	h.HandleInbound(alice, raw)

	require.Contains(t, iface.Members(), alice)

	reply := decodeSent(t, transport.last(t))
	require.Equal(t, wire.TagSyncResponse, reply.Tag)

	respMsg, err := crdt.DeserializeSyncMessage(reply.SyncResponse.SyncData)
	require.NoError(t, err)
	require.Len(t, respMsg.Events, 1)
	require.Equal(t, localEvent.ID, respMsg.Events[0].ID)
}

// TestSyncStateTracker_SupersededRequestInvalidatesOldID confirms a
// later SendSyncRequest for the same peer/interface invalidates the
// correlation id of an earlier in-flight one.
func TestSyncStateTracker_SupersededRequestInvalidatesOldID(t *testing.T) {
	tr := NewSyncStateTracker()
	peer := netids.PeerIdentity{1}
	ifaceID := testInterfaceID(1)

	first := tr.Begin(peer, ifaceID)
	require.True(t, tr.IsCurrent(peer, ifaceID, first))

	second := tr.Begin(peer, ifaceID)
	require.False(t, tr.IsCurrent(peer, ifaceID, first))
	require.True(t, tr.IsCurrent(peer, ifaceID, second))
}
