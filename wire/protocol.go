// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"fmt"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// CurrentVersion is the only wire version this build speaks, per
// spec §4.1: receivers reject anything else.
const CurrentVersion uint8 = 1

// NetworkMessage tags, carried as the first byte of the encoded
// message body inside a SignedMessage. Unknown tags MUST cause
// rejection (spec §6); unlike InterfaceEvent's inner fields, this
// level of the protocol is not forward-compatible.
const (
	TagInterfaceEvent byte = iota
	TagSyncRequest
	TagSyncResponse
	TagEventAck
	TagRelay
)

// InterfaceEventMessage carries one encrypted event addressed to an
// interface.
type InterfaceEventMessage struct {
	InterfaceID netids.InterfaceId
	Ciphertext  []byte
	EventID     netids.EventId
	Nonce       [12]byte
}

// HeadEntry is one (sender, head digest) pair from a document's
// frontier (crdt.Document.Heads), carried on the wire so the receiver
// can decide what it's missing without a second round trip.
type HeadEntry struct {
	SenderHash uint64
	Digest     [32]byte
}

// SyncRequestMessage carries CRDT sync state the sender believes the
// receiver may be missing, keyed by the sender's known heads.
type SyncRequestMessage struct {
	InterfaceID netids.InterfaceId
	Heads       []HeadEntry
	SyncData    []byte
}

// SyncResponseMessage is the paired reply to a SyncRequestMessage.
type SyncResponseMessage struct {
	InterfaceID netids.InterfaceId
	SyncData    []byte
	Heads       []HeadEntry
}

// EventAckMessage acknowledges delivery of every event up to and
// including UpTo for the sender identified implicitly by UpTo's
// SenderHash.
type EventAckMessage struct {
	InterfaceID netids.InterfaceId
	UpTo        netids.EventId
}

// RelayMessage carries an already-signed SignedMessage (Inner) one hop
// further toward Destination, along with the routing metadata a relay
// needs to keep deciding: remaining hop budget and the ordered chain
// of peers already crossed (spec §4.4's RelayThrough action). Inner's
// own signature is never touched by a relay hop; only the outer
// SignedMessage wrapping this RelayMessage is signed per hop, by
// whichever node is forwarding it.
type RelayMessage struct {
	PacketID    netids.EventId
	Destination netids.PeerIdentity
	TTL         uint8
	Visited     []netids.PeerIdentity
	Inner       []byte
}

// NetworkMessage is the tagged union carried inside a SignedMessage.
// Exactly one field is populated; Tag says which.
type NetworkMessage struct {
	Tag          byte
	InterfaceEvt *InterfaceEventMessage
	SyncRequest  *SyncRequestMessage
	SyncResponse *SyncResponseMessage
	EventAck     *EventAckMessage
	Relay        *RelayMessage
}

// SignedMessage is the envelope wrapping every wire byte sequence
// (spec §4.1).
type SignedMessage struct {
	Version             uint8
	Message              NetworkMessage
	Signature            []byte
	SenderVerifyingKey   []byte
}

func encodeInterfaceID(w *Writer, id netids.InterfaceId) { w.PutRaw(id[:]) }

func decodeInterfaceID(r *Reader) (netids.InterfaceId, error) {
	var id netids.InterfaceId
	b, err := r.GetRaw(len(id))
	if err != nil {
		return id, wrapDecodeErr("interface_id", err)
	}
	copy(id[:], b)
	return id, nil
}

func encodeEventID(w *Writer, id netids.EventId) {
	w.PutFixed64(id.SenderHash)
	w.PutFixed64(id.Sequence)
}

func decodeEventID(r *Reader) (netids.EventId, error) {
	sh, err := r.GetFixed64()
	if err != nil {
		return netids.EventId{}, wrapDecodeErr("event_id.sender_hash", err)
	}
	seq, err := r.GetFixed64()
	if err != nil {
		return netids.EventId{}, wrapDecodeErr("event_id.sequence", err)
	}
	return netids.EventId{SenderHash: sh, Sequence: seq}, nil
}

func encodeHeads(w *Writer, heads []HeadEntry) {
	w.PutUvarint(uint64(len(heads)))
	for _, h := range heads {
		w.PutFixed64(h.SenderHash)
		w.PutRaw(h.Digest[:])
	}
}

func decodeHeads(r *Reader) ([]HeadEntry, error) {
	n, err := r.GetUvarint()
	if err != nil {
		return nil, wrapDecodeErr("heads.len", err)
	}
	heads := make([]HeadEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		sender, err := r.GetFixed64()
		if err != nil {
			return nil, wrapDecodeErr("heads[].sender_hash", err)
		}
		b, err := r.GetRaw(32)
		if err != nil {
			return nil, wrapDecodeErr("heads[].digest", err)
		}
		var digest [32]byte
		copy(digest[:], b)
		heads = append(heads, HeadEntry{SenderHash: sender, Digest: digest})
	}
	return heads, nil
}

func encodePeerList(w *Writer, peers []netids.PeerIdentity) {
	w.PutUvarint(uint64(len(peers)))
	for _, p := range peers {
		w.PutRaw(p[:])
	}
}

func decodePeerList(r *Reader) ([]netids.PeerIdentity, error) {
	n, err := r.GetUvarint()
	if err != nil {
		return nil, wrapDecodeErr("peer_list.len", err)
	}
	peers := make([]netids.PeerIdentity, 0, n)
	for i := uint64(0); i < n; i++ {
		b, err := r.GetRaw(32)
		if err != nil {
			return nil, wrapDecodeErr("peer_list[]", err)
		}
		var p netids.PeerIdentity
		copy(p[:], b)
		peers = append(peers, p)
	}
	return peers, nil
}

// EncodeNetworkMessage serializes the tagged NetworkMessage body.
func EncodeNetworkMessage(m NetworkMessage) ([]byte, error) {
	w := NewWriter(128)
	w.PutByte(m.Tag)
	switch m.Tag {
	case TagInterfaceEvent:
		ev := m.InterfaceEvt
		if ev == nil {
			return nil, fmt.Errorf("wire: nil InterfaceEvent for tagged message")
		}
		encodeInterfaceID(w, ev.InterfaceID)
		w.PutBytes(ev.Ciphertext)
		encodeEventID(w, ev.EventID)
		w.PutRaw(ev.Nonce[:])
	case TagSyncRequest:
		sr := m.SyncRequest
		if sr == nil {
			return nil, fmt.Errorf("wire: nil SyncRequest for tagged message")
		}
		encodeInterfaceID(w, sr.InterfaceID)
		encodeHeads(w, sr.Heads)
		w.PutBytes(sr.SyncData)
	case TagSyncResponse:
		sr := m.SyncResponse
		if sr == nil {
			return nil, fmt.Errorf("wire: nil SyncResponse for tagged message")
		}
		encodeInterfaceID(w, sr.InterfaceID)
		w.PutBytes(sr.SyncData)
		encodeHeads(w, sr.Heads)
	case TagEventAck:
		ack := m.EventAck
		if ack == nil {
			return nil, fmt.Errorf("wire: nil EventAck for tagged message")
		}
		encodeInterfaceID(w, ack.InterfaceID)
		encodeEventID(w, ack.UpTo)
	case TagRelay:
		rm := m.Relay
		if rm == nil {
			return nil, fmt.Errorf("wire: nil Relay for tagged message")
		}
		encodeEventID(w, rm.PacketID)
		w.PutRaw(rm.Destination[:])
		w.PutByte(rm.TTL)
		encodePeerList(w, rm.Visited)
		w.PutBytes(rm.Inner)
	default:
		return nil, fmt.Errorf("wire: unknown NetworkMessage tag %d", m.Tag)
	}
	return w.Bytes(), nil
}

// DecodeNetworkMessage parses a NetworkMessage body. An unrecognized
// tag is rejected per spec §6 ("Unknown enum variants at the
// NetworkMessage level MUST cause rejection").
func DecodeNetworkMessage(data []byte) (NetworkMessage, error) {
	r := NewReader(data)
	tag, err := r.GetByte()
	if err != nil {
		return NetworkMessage{}, wrapDecodeErr("tag", err)
	}

	switch tag {
	case TagInterfaceEvent:
		ifaceID, err := decodeInterfaceID(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		ciphertext, err := r.GetBytes()
		if err != nil {
			return NetworkMessage{}, wrapDecodeErr("ciphertext", err)
		}
		eventID, err := decodeEventID(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		nonceBytes, err := r.GetRaw(12)
		if err != nil {
			return NetworkMessage{}, wrapDecodeErr("nonce", err)
		}
		var nonce [12]byte
		copy(nonce[:], nonceBytes)
		return NetworkMessage{
			Tag: TagInterfaceEvent,
			InterfaceEvt: &InterfaceEventMessage{
				InterfaceID: ifaceID,
				Ciphertext:  ciphertext,
				EventID:     eventID,
				Nonce:       nonce,
			},
		}, nil

	case TagSyncRequest:
		ifaceID, err := decodeInterfaceID(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		heads, err := decodeHeads(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		syncData, err := r.GetBytes()
		if err != nil {
			return NetworkMessage{}, wrapDecodeErr("sync_data", err)
		}
		return NetworkMessage{
			Tag: TagSyncRequest,
			SyncRequest: &SyncRequestMessage{
				InterfaceID: ifaceID,
				Heads:       heads,
				SyncData:    syncData,
			},
		}, nil

	case TagSyncResponse:
		ifaceID, err := decodeInterfaceID(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		syncData, err := r.GetBytes()
		if err != nil {
			return NetworkMessage{}, wrapDecodeErr("sync_data", err)
		}
		heads, err := decodeHeads(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		return NetworkMessage{
			Tag: TagSyncResponse,
			SyncResponse: &SyncResponseMessage{
				InterfaceID: ifaceID,
				SyncData:    syncData,
				Heads:       heads,
			},
		}, nil

	case TagEventAck:
		ifaceID, err := decodeInterfaceID(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		upTo, err := decodeEventID(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		return NetworkMessage{
			Tag: TagEventAck,
			EventAck: &EventAckMessage{
				InterfaceID: ifaceID,
				UpTo:        upTo,
			},
		}, nil

	case TagRelay:
		packetID, err := decodeEventID(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		destBytes, err := r.GetRaw(32)
		if err != nil {
			return NetworkMessage{}, wrapDecodeErr("relay.destination", err)
		}
		var dest netids.PeerIdentity
		copy(dest[:], destBytes)
		ttl, err := r.GetByte()
		if err != nil {
			return NetworkMessage{}, wrapDecodeErr("relay.ttl", err)
		}
		visited, err := decodePeerList(r)
		if err != nil {
			return NetworkMessage{}, err
		}
		inner, err := r.GetBytes()
		if err != nil {
			return NetworkMessage{}, wrapDecodeErr("relay.inner", err)
		}
		return NetworkMessage{
			Tag: TagRelay,
			Relay: &RelayMessage{
				PacketID:    packetID,
				Destination: dest,
				TTL:         ttl,
				Visited:     visited,
				Inner:       inner,
			},
		}, nil

	default:
		return NetworkMessage{}, fmt.Errorf("wire: %w: tag %d", ErrUnknownVariant, tag)
	}
}

// ErrUnknownVariant is returned for an unrecognized NetworkMessage tag.
var ErrUnknownVariant = fmt.Errorf("unknown network message variant")

// EncodeSignedMessage serializes the full wire envelope.
func EncodeSignedMessage(sm SignedMessage) ([]byte, error) {
	body, err := EncodeNetworkMessage(sm.Message)
	if err != nil {
		return nil, err
	}
	w := NewWriter(len(body) + len(sm.Signature) + len(sm.SenderVerifyingKey) + 16)
	w.PutByte(sm.Version)
	w.PutBytes(body)
	w.PutBytes(sm.Signature)
	w.PutBytes(sm.SenderVerifyingKey)
	return w.Bytes(), nil
}

// DecodeSignedMessage parses a full wire envelope without verifying
// the signature; callers must call identity.Verify (or
// envelope.Verify) separately before trusting Message.
func DecodeSignedMessage(data []byte) (SignedMessage, error) {
	r := NewReader(data)
	version, err := r.GetByte()
	if err != nil {
		return SignedMessage{}, wrapDecodeErr("version", err)
	}
	body, err := r.GetBytes()
	if err != nil {
		return SignedMessage{}, wrapDecodeErr("message", err)
	}
	sig, err := r.GetBytes()
	if err != nil {
		return SignedMessage{}, wrapDecodeErr("signature", err)
	}
	key, err := r.GetBytes()
	if err != nil {
		return SignedMessage{}, wrapDecodeErr("sender_verifying_key", err)
	}
	msg, err := DecodeNetworkMessage(body)
	if err != nil {
		return SignedMessage{}, err
	}
	return SignedMessage{
		Version:            version,
		Message:            msg,
		Signature:          sig,
		SenderVerifyingKey: key,
	}, nil
}

// SignedBody returns the exact bytes that were signed: the encoded
// NetworkMessage (not the full SignedMessage, which would be
// circular).
func SignedBody(m NetworkMessage) ([]byte, error) {
	return EncodeNetworkMessage(m)
}
