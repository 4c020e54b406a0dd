package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"

	netids "github.com/trumanellis/indranet/internal/ids"
)

func peerWithByte(b byte) netids.PeerIdentity {
	var p netids.PeerIdentity
	p[0] = b
	return p
}

func messageEvent(sender netids.PeerIdentity, senderHash, seq uint64, content string) InterfaceEvent {
	return InterfaceEvent{
		Kind:    EventMessage,
		ID:      netids.EventId{SenderHash: senderHash, Sequence: seq},
		Sender:  sender,
		Content: []byte(content),
	}
}

func TestAppendEvent_DuplicateIsNoOp(t *testing.T) {
	d := NewDocument()
	alice := peerWithByte(1)

	require.True(t, d.AppendEvent(messageEvent(alice, 1, 1, "hi")))
	require.False(t, d.AppendEvent(messageEvent(alice, 1, 1, "hi")))
	require.Len(t, d.Events(), 1)
}

func TestEvents_TotalOrderBySequenceThenSender(t *testing.T) {
	d := NewDocument()
	a := peerWithByte(1)
	b := peerWithByte(2)

	d.AppendEvent(messageEvent(b, 2, 1, "b1"))
	d.AppendEvent(messageEvent(a, 1, 1, "a1"))
	d.AppendEvent(messageEvent(a, 1, 2, "a2"))

	events := d.Events()
	require.Len(t, events, 3)
	require.Equal(t, uint64(1), events[0].ID.Sequence)
	require.Equal(t, uint64(1), events[0].ID.SenderHash)
	require.Equal(t, uint64(1), events[1].ID.Sequence)
	require.Equal(t, uint64(2), events[1].ID.SenderHash)
	require.Equal(t, uint64(2), events[2].ID.Sequence)
}

func TestMembership_ConcurrentAddRemove_HigherTimestampWins(t *testing.T) {
	peer := peerWithByte(9)

	addFirst := NewDocument()
	addFirst.addMemberLocked(peer, 5)
	addFirst.removeMemberLocked(peer, 7)
	require.False(t, addFirst.IsMember(peer))

	removeFirst := NewDocument()
	removeFirst.removeMemberLocked(peer, 5)
	removeFirst.addMemberLocked(peer, 7)
	require.True(t, removeFirst.IsMember(peer))
}

func TestMembership_TieBreak_RemoveWins(t *testing.T) {
	local := memberState{present: true, timestamp: 10}
	remote := memberState{present: false, timestamp: 10}

	require.False(t, mergeMemberState(local, remote).present)
	require.False(t, mergeMemberState(remote, local).present)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	d := NewDocument()
	alice := peerWithByte(1)
	bob := peerWithByte(2)
	d.AddMember(alice)
	d.AddMember(bob)
	d.AppendEvent(messageEvent(alice, netids.SenderHashOf(alice), 1, "hello"))
	d.AppendEvent(InterfaceEvent{
		Kind:   EventMembershipChange,
		ID:     netids.EventId{SenderHash: netids.SenderHashOf(alice), Sequence: 2},
		Actor:  alice,
		Change: MembershipInvited,
	})

	blob := d.Save()
	reloaded, err := Load(blob)
	require.NoError(t, err)

	require.ElementsMatch(t, d.Members(), reloaded.Members())
	require.Equal(t, d.Events(), reloaded.Events())
}

// TestConvergence_SyncIsCommutativeAndIdempotent grounds spec §8
// property 1: replicas that apply the same set of changes, in any
// order, any number of times, converge to the same state.
func TestConvergence_SyncIsCommutativeAndIdempotent(t *testing.T) {
	alice := peerWithByte(1)
	bob := peerWithByte(2)

	replicaA := NewDocument()
	replicaA.AddMember(alice)
	replicaA.AddMember(bob)
	replicaA.AppendEvent(messageEvent(alice, netids.SenderHashOf(alice), 1, "from alice"))

	replicaB := NewDocument()
	replicaB.AddMember(alice)
	replicaB.AddMember(bob)
	replicaB.AppendEvent(messageEvent(bob, netids.SenderHashOf(bob), 1, "from bob"))

	// One sync round each way (scenario S7: concurrent appends on
	// different replicas, then a single sync exchange).
	msgToB := replicaA.GenerateSyncMessage(replicaB.Heads())
	msgToA := replicaB.GenerateSyncMessage(replicaA.Heads())

	replicaB.ApplySyncMessage(msgToB)
	replicaA.ApplySyncMessage(msgToA)

	require.Equal(t, replicaA.Events(), replicaB.Events())
	require.Equal(t, replicaA.Members(), replicaB.Members())

	// Re-applying the same sync messages must be a no-op (idempotent).
	newEvents := replicaA.ApplySyncMessage(msgToA)
	require.Empty(t, newEvents)
	require.Equal(t, replicaA.Events(), replicaB.Events())
}

func TestGenerateSyncMessage_EmptyWhenUpToDate(t *testing.T) {
	alice := peerWithByte(1)
	d := NewDocument()
	d.AddMember(alice)
	d.AppendEvent(messageEvent(alice, netids.SenderHashOf(alice), 1, "hi"))

	msg := d.GenerateSyncMessage(d.Heads())
	require.Empty(t, msg.Events)
	require.False(t, msg.HasMembership)
}

func TestSyncMessage_SerializeDeserialize_RoundTrip(t *testing.T) {
	alice := peerWithByte(1)
	d := NewDocument()
	d.AddMember(alice)
	d.AppendEvent(messageEvent(alice, netids.SenderHashOf(alice), 1, "hello"))
	d.AppendEvent(InterfaceEvent{
		Kind:          EventCustom,
		ID:            netids.EventId{SenderHash: netids.SenderHashOf(alice), Sequence: 2},
		Sender:        alice,
		Type:          "app.reaction",
		Payload:       []byte("\xf0\x9f\x91\x8d"),
		SchemaVersion: 1,
	})

	msg := d.GenerateSyncMessage(map[uint64][32]byte{})
	encoded := SerializeSyncMessage(msg)

	decoded, err := DeserializeSyncMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, msg.Events, decoded.Events)
	require.True(t, decoded.HasMembership)
	require.Equal(t, msg.Membership, decoded.Membership)
}

func TestHeads_MatchAfterFullSync(t *testing.T) {
	alice := peerWithByte(1)

	d1 := NewDocument()
	d1.AppendEvent(messageEvent(alice, netids.SenderHashOf(alice), 1, "x"))

	d2 := NewDocument()
	msg := d1.GenerateSyncMessage(d2.Heads())
	d2.ApplySyncMessage(msg)

	require.Equal(t, d1.Heads(), d2.Heads())
}

func TestHeads_DifferWhenEventLogsDiffer(t *testing.T) {
	alice := peerWithByte(1)

	d1 := NewDocument()
	d1.AppendEvent(messageEvent(alice, netids.SenderHashOf(alice), 1, "x"))

	d2 := NewDocument()
	d2.AppendEvent(messageEvent(alice, netids.SenderHashOf(alice), 1, "x"))
	d2.AppendEvent(messageEvent(alice, netids.SenderHashOf(alice), 2, "y"))

	require.NotEqual(t, d1.Heads(), d2.Heads())
}
