// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package crdt

import (
	"sort"

	"github.com/zeebo/blake3"

	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/wire"
)

// membershipHeadTag marks the reserved head slot carrying the
// membership set's digest. It is the all-ones value, so it collides
// with a real sender hash only for a PeerIdentity whose first 8 bytes
// are all 0xFF.
const membershipHeadTag = ^uint64(0)

// Heads returns the document's frontier: one digest per sender whose
// events it holds, plus one digest for the membership set. Two
// replicas with identical digests for every entry hold identical
// state (modulo hash collision); this is the diff key used by
// GenerateSyncMessage. Bounded by the number of concurrent writers
// plus one, per spec §3.
func (d *Document) Heads() map[uint64][32]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.headsLocked()
}

func (d *Document) headsLocked() map[uint64][32]byte {
	bySender := make(map[uint64][]netids.EventId)
	for id := range d.events {
		bySender[id.SenderHash] = append(bySender[id.SenderHash], id)
	}

	heads := make(map[uint64][32]byte, len(bySender)+1)
	for sender, ids := range bySender {
		sort.Slice(ids, func(i, j int) bool { return ids[i].Sequence < ids[j].Sequence })
		h := blake3.New()
		for _, id := range ids {
			h.Write(encodeEventID(id))
		}
		var digest [32]byte
		copy(digest[:], h.Sum(nil))
		heads[sender] = digest
	}
	heads[membershipHeadTag] = d.membershipDigestLocked()
	return heads
}

func (d *Document) membershipDigestLocked() [32]byte {
	peers := make([]netids.PeerIdentity, 0, len(d.members))
	for p := range d.members {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return string(peers[i][:]) < string(peers[j][:]) })

	h := blake3.New()
	for _, p := range peers {
		st := d.members[p]
		h.Write(p[:])
		if st.present {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
		var tsBuf [8]byte
		for i := 0; i < 8; i++ {
			tsBuf[i] = byte(st.timestamp >> (8 * i))
		}
		h.Write(tsBuf[:])
	}
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

func encodeEventID(id netids.EventId) []byte {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id.SenderHash >> (8 * i))
		buf[8+i] = byte(id.Sequence >> (8 * i))
	}
	return buf[:]
}

// SyncMessage is the payload exchanged to bring a peer up to date:
// the events it is believed to be missing, plus a full membership
// snapshot when the membership digests disagree.
type SyncMessage struct {
	Events        []InterfaceEvent
	Membership    []memberWireEntry
	HasMembership bool
}

type memberWireEntry struct {
	Peer      netids.PeerIdentity
	Present   bool
	Timestamp uint64
}

// GenerateSyncMessage produces a message containing the state this
// document believes peerHeads lacks. An empty result (nil Events,
// HasMembership false) means the peer is up to date (spec §4.2).
func (d *Document) GenerateSyncMessage(peerHeads map[uint64][32]byte) SyncMessage {
	d.mu.RLock()
	defer d.mu.RUnlock()

	local := d.headsLocked()
	var msg SyncMessage

	for sender, localDigest := range local {
		if sender == membershipHeadTag {
			continue
		}
		if peerDigest, ok := peerHeads[sender]; ok && peerDigest == localDigest {
			continue
		}
		for id, ev := range d.events {
			if id.SenderHash == sender {
				msg.Events = append(msg.Events, ev)
			}
		}
	}
	sort.Slice(msg.Events, func(i, j int) bool {
		a, b := msg.Events[i].ID, msg.Events[j].ID
		if a.SenderHash != b.SenderHash {
			return a.SenderHash < b.SenderHash
		}
		return a.Sequence < b.Sequence
	})

	if peerHeads[membershipHeadTag] != local[membershipHeadTag] {
		msg.HasMembership = true
		for peer, st := range d.members {
			msg.Membership = append(msg.Membership, memberWireEntry{Peer: peer, Present: st.present, Timestamp: st.timestamp})
		}
		sort.Slice(msg.Membership, func(i, j int) bool {
			return string(msg.Membership[i].Peer[:]) < string(msg.Membership[j].Peer[:])
		})
	}

	return msg
}

// ApplySyncMessage merges msg into the document, returning the events
// that were newly appended (for local broadcast by the caller). Merge
// is commutative, associative, and idempotent (spec §8 property 1):
// applying the same message twice, or two messages in either order,
// converges to the same state.
func (d *Document) ApplySyncMessage(msg SyncMessage) (newEvents []InterfaceEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ev := range msg.Events {
		if d.appendLocked(ev) {
			newEvents = append(newEvents, ev)
		}
	}

	if msg.HasMembership {
		for _, entry := range msg.Membership {
			remote := memberState{present: entry.Present, timestamp: entry.Timestamp}
			local, ok := d.members[entry.Peer]
			if !ok {
				d.members[entry.Peer] = remote
				continue
			}
			d.members[entry.Peer] = mergeMemberState(local, remote)
		}
	}

	return newEvents
}

// EncodeHeads serializes a heads map for wire transmission as the
// ordered HeadEntry list spec §6 uses for SyncRequest/SyncResponse.
// Order is deterministic (sorted by sender hash) so identical head
// sets always encode identically.
func EncodeHeads(heads map[uint64][32]byte) []wire.HeadEntry {
	keys := make([]uint64, 0, len(heads))
	for k := range heads {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]wire.HeadEntry, 0, len(heads))
	for _, k := range keys {
		out = append(out, wire.HeadEntry{SenderHash: k, Digest: heads[k]})
	}
	return out
}

// DecodeHeads is the inverse of EncodeHeads: it rebuilds the
// sender-keyed digest map a received HeadEntry list represents, for
// GenerateSyncMessage to diff against.
func DecodeHeads(entries []wire.HeadEntry) map[uint64][32]byte {
	heads := make(map[uint64][32]byte, len(entries))
	for _, e := range entries {
		heads[e.SenderHash] = e.Digest
	}
	return heads
}

// SerializeSyncMessage encodes a SyncMessage to bytes for the wire's
// opaque sync_data field.
func SerializeSyncMessage(msg SyncMessage) []byte {
	w := wire.NewWriter(256)
	w.PutUvarint(uint64(len(msg.Events)))
	for _, ev := range msg.Events {
		encodeEvent(w, ev)
	}
	if msg.HasMembership {
		w.PutByte(1)
		w.PutUvarint(uint64(len(msg.Membership)))
		for _, m := range msg.Membership {
			w.PutRaw(m.Peer[:])
			if m.Present {
				w.PutByte(1)
			} else {
				w.PutByte(0)
			}
			w.PutFixed64(m.Timestamp)
		}
	} else {
		w.PutByte(0)
	}
	return w.Bytes()
}

// DeserializeSyncMessage is the inverse of SerializeSyncMessage.
// Unknown trailing bytes inside a decoded event's Custom payload are
// tolerated, not the outer framing (spec §6 forward-compatibility
// applies to InterfaceEvent's inner fields, not this envelope).
func DeserializeSyncMessage(data []byte) (SyncMessage, error) {
	r := wire.NewReader(data)
	n, err := r.GetUvarint()
	if err != nil {
		return SyncMessage{}, err
	}
	msg := SyncMessage{}
	for i := uint64(0); i < n; i++ {
		ev, err := decodeEvent(r)
		if err != nil {
			return SyncMessage{}, err
		}
		msg.Events = append(msg.Events, ev)
	}
	hasMembership, err := r.GetByte()
	if err != nil {
		return SyncMessage{}, err
	}
	if hasMembership == 1 {
		msg.HasMembership = true
		mn, err := r.GetUvarint()
		if err != nil {
			return SyncMessage{}, err
		}
		for i := uint64(0); i < mn; i++ {
			peerBytes, err := r.GetRaw(32)
			if err != nil {
				return SyncMessage{}, err
			}
			var peer netids.PeerIdentity
			copy(peer[:], peerBytes)
			presentByte, err := r.GetByte()
			if err != nil {
				return SyncMessage{}, err
			}
			ts, err := r.GetFixed64()
			if err != nil {
				return SyncMessage{}, err
			}
			msg.Membership = append(msg.Membership, memberWireEntry{
				Peer: peer, Present: presentByte == 1, Timestamp: ts,
			})
		}
	}
	return msg, nil
}

func encodeEvent(w *wire.Writer, ev InterfaceEvent) {
	w.PutByte(byte(ev.Kind))
	w.PutFixed64(ev.ID.SenderHash)
	w.PutFixed64(ev.ID.Sequence)
	switch ev.Kind {
	case EventMessage:
		w.PutRaw(ev.Sender[:])
		w.PutBytes(ev.Content)
	case EventMembershipChange:
		w.PutRaw(ev.Actor[:])
		w.PutByte(byte(ev.Change))
	case EventPresence:
		w.PutRaw(ev.Peer[:])
		w.PutByte(byte(ev.Status))
	case EventCustom:
		w.PutRaw(ev.Sender[:])
		w.PutString(ev.Type)
		w.PutBytes(ev.Payload)
		w.PutUvarint(uint64(ev.SchemaVersion))
	case EventSyncMarker:
		// No additional fields.
	}
}

func decodeEvent(r *wire.Reader) (InterfaceEvent, error) {
	kindByte, err := r.GetByte()
	if err != nil {
		return InterfaceEvent{}, err
	}
	sh, err := r.GetFixed64()
	if err != nil {
		return InterfaceEvent{}, err
	}
	seq, err := r.GetFixed64()
	if err != nil {
		return InterfaceEvent{}, err
	}
	ev := InterfaceEvent{Kind: EventKind(kindByte), ID: netids.EventId{SenderHash: sh, Sequence: seq}}

	switch ev.Kind {
	case EventMessage:
		senderBytes, err := r.GetRaw(32)
		if err != nil {
			return InterfaceEvent{}, err
		}
		copy(ev.Sender[:], senderBytes)
		content, err := r.GetBytes()
		if err != nil {
			return InterfaceEvent{}, err
		}
		ev.Content = content
	case EventMembershipChange:
		actorBytes, err := r.GetRaw(32)
		if err != nil {
			return InterfaceEvent{}, err
		}
		copy(ev.Actor[:], actorBytes)
		changeByte, err := r.GetByte()
		if err != nil {
			return InterfaceEvent{}, err
		}
		ev.Change = MembershipChangeKind(changeByte)
	case EventPresence:
		peerBytes, err := r.GetRaw(32)
		if err != nil {
			return InterfaceEvent{}, err
		}
		copy(ev.Peer[:], peerBytes)
		statusByte, err := r.GetByte()
		if err != nil {
			return InterfaceEvent{}, err
		}
		ev.Status = PresenceStatus(statusByte)
	case EventCustom:
		senderBytes, err := r.GetRaw(32)
		if err != nil {
			return InterfaceEvent{}, err
		}
		copy(ev.Sender[:], senderBytes)
		typ, err := r.GetString()
		if err != nil {
			return InterfaceEvent{}, err
		}
		ev.Type = typ
		payload, err := r.GetBytes()
		if err != nil {
			return InterfaceEvent{}, err
		}
		ev.Payload = payload
		schemaVersion, err := r.GetUvarint()
		if err != nil {
			return InterfaceEvent{}, err
		}
		ev.SchemaVersion = uint32(schemaVersion)
	case EventSyncMarker:
		// No additional fields.
	}
	return ev, nil
}

// Save serializes the full document to an opaque byte blob for
// durable storage (spec §4.2 save/load round-trip).
func (d *Document) Save() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	w := wire.NewWriter(512)
	w.PutUvarint(uint64(len(d.members)))
	peers := make([]netids.PeerIdentity, 0, len(d.members))
	for p := range d.members {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return string(peers[i][:]) < string(peers[j][:]) })
	for _, p := range peers {
		st := d.members[p]
		w.PutRaw(p[:])
		if st.present {
			w.PutByte(1)
		} else {
			w.PutByte(0)
		}
		w.PutFixed64(st.timestamp)
	}

	events := d.eventsSortedLocked()
	w.PutUvarint(uint64(len(events)))
	for _, ev := range events {
		encodeEvent(w, ev)
	}
	w.PutFixed64(d.clock)

	return w.Bytes()
}

func (d *Document) eventsSortedLocked() []InterfaceEvent {
	out := make([]InterfaceEvent, 0, len(d.events))
	for _, ev := range d.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID, out[j].ID
		if a.SenderHash != b.SenderHash {
			return a.SenderHash < b.SenderHash
		}
		return a.Sequence < b.Sequence
	})
	return out
}

// Load reconstructs a document from bytes produced by Save. The
// round-trip Save∘Load yields a semantically identical document
// (spec §4.2).
func Load(data []byte) (*Document, error) {
	r := wire.NewReader(data)
	d := NewDocument()

	memberCount, err := r.GetUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < memberCount; i++ {
		peerBytes, err := r.GetRaw(32)
		if err != nil {
			return nil, err
		}
		var peer netids.PeerIdentity
		copy(peer[:], peerBytes)
		presentByte, err := r.GetByte()
		if err != nil {
			return nil, err
		}
		ts, err := r.GetFixed64()
		if err != nil {
			return nil, err
		}
		d.members[peer] = memberState{present: presentByte == 1, timestamp: ts}
	}

	eventCount, err := r.GetUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < eventCount; i++ {
		ev, err := decodeEvent(r)
		if err != nil {
			return nil, err
		}
		d.appendLocked(ev)
	}

	clock, err := r.GetFixed64()
	if err != nil {
		return nil, err
	}
	d.clock = clock

	return d, nil
}

// EncodeEvent serializes a single InterfaceEvent, for callers (the
// message handler) that need to encrypt one event's bytes rather than
// a whole sync message.
func EncodeEvent(ev InterfaceEvent) []byte {
	w := wire.NewWriter(64)
	encodeEvent(w, ev)
	return w.Bytes()
}

// DecodeEvent parses a single InterfaceEvent previously produced by
// EncodeEvent.
func DecodeEvent(data []byte) (InterfaceEvent, error) {
	r := wire.NewReader(data)
	return decodeEvent(r)
}
