// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package handler implements spec §4.7: verifying, decrypting, and
// dispatching inbound wire messages, and signing outbound ones. It is
// the only package that touches both envelope and ninterface.
package handler

import (
	"fmt"
	"time"

	"github.com/luxfi/log"

	"github.com/trumanellis/indranet/crdt"
	"github.com/trumanellis/indranet/envelope"
	"github.com/trumanellis/indranet/identity"
	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/ninterface"
	"github.com/trumanellis/indranet/router"
	"github.com/trumanellis/indranet/telemetry"
	"github.com/trumanellis/indranet/wire"
)

// defaultPacketTTL seeds locally originated packets when a Handler is
// constructed without an explicit hop budget (tests, mostly).
const defaultPacketTTL uint8 = 16

// InterfaceSource resolves a live Interface by id. The realm façade
// implements this; handler stays oblivious to how interfaces are
// created or persisted.
type InterfaceSource interface {
	Interface(id netids.InterfaceId) (*ninterface.Interface, bool)
}

// KeyStore resolves the symmetric interface key used to
// encrypt/decrypt events on a given interface.
type KeyStore interface {
	Key(id netids.InterfaceId) ([]byte, bool)
}

// Sender delivers a signed wire message's raw bytes to peer. The
// transport layer implements this.
type Sender interface {
	Send(peer netids.PeerIdentity, data []byte) error
}

// Handler dispatches inbound wire bytes and signs outbound ones
// (spec §4.1, §4.7). Every event it sends or relays is routed through
// a router.Router first, so Direct/Hold/Relay/Drop decisions, the
// hold queue, and back-propagation actually gate delivery instead of
// sitting unused beside a trivial always-direct send.
type Handler struct {
	id         *identity.Identity
	interfaces InterfaceSource
	keys       KeyStore
	transport  Sender
	verifyOpts envelope.VerifyOptions
	syncState  *SyncStateTracker

	router     *router.Router
	defaultTTL uint8

	metrics *telemetry.Metrics
	log     log.Logger
}

// New constructs a Handler. id signs every outbound message and
// identifies this node's own events. defaultTTL seeds the hop budget
// on packets this node originates; 0 falls back to defaultPacketTTL.
func New(id *identity.Identity, interfaces InterfaceSource, keys KeyStore, transport Sender, allowLegacyUnsigned bool, rtr *router.Router, defaultTTL uint8, metrics *telemetry.Metrics, logger log.Logger) *Handler {
	if metrics == nil {
		metrics = telemetry.NewUnregisteredMetrics()
	}
	if logger == nil {
		logger = telemetry.NewNoOpLogger()
	}
	if rtr == nil {
		rtr = router.New(5*time.Minute, 30*time.Second, func(netids.PeerIdentity) bool { return false }, metrics, logger)
	}
	if defaultTTL == 0 {
		defaultTTL = defaultPacketTTL
	}
	return &Handler{
		id:         id,
		interfaces: interfaces,
		keys:       keys,
		transport:  transport,
		verifyOpts: envelope.VerifyOptions{AllowLegacyUnsigned: allowLegacyUnsigned},
		syncState:  NewSyncStateTracker(),
		router:     rtr,
		defaultTTL: defaultTTL,
		metrics:    metrics,
		log:        telemetry.Component(logger, "handler"),
	}
}

// SyncState exposes the tracker so transport-level online callbacks
// can check whether a sync response is still expected.
func (h *Handler) SyncState() *SyncStateTracker { return h.syncState }

// HandleInbound parses, verifies, and dispatches one inbound wire
// message from sender. Every failure (malformed bytes, bad signature,
// unknown interface, decryption failure, sequence violation) is
// logged and counted, never propagated to the transport layer
// (spec §7): a single malformed message from a misbehaving peer must
// never take down the dispatch loop.
func (h *Handler) HandleInbound(sender netids.PeerIdentity, raw []byte) {
	sm, err := wire.DecodeSignedMessage(raw)
	if err != nil {
		h.drop(sender, "malformed", err)
		return
	}

	if err := envelope.Verify(sm, h.verifyOpts); err != nil {
		h.drop(sender, "verify_failed", err)
		return
	}

	switch sm.Message.Tag {
	case wire.TagInterfaceEvent:
		h.handleInterfaceEvent(sender, sm.Message.InterfaceEvt)
	case wire.TagSyncRequest:
		h.handleSyncRequest(sender, sm.Message.SyncRequest)
	case wire.TagSyncResponse:
		h.handleSyncResponse(sender, sm.Message.SyncResponse)
	case wire.TagEventAck:
		h.handleEventAck(sender, sm.Message.EventAck)
	case wire.TagRelay:
		h.handleRelay(sender, sm.Message.Relay)
	default:
		h.drop(sender, "unknown_tag", fmt.Errorf("tag %d", sm.Message.Tag))
	}
}

func (h *Handler) drop(sender netids.PeerIdentity, reason string, err error) {
	h.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	h.log.Warn("dropped inbound message", "peer", sender.String(), "reason", reason, "error", err)
}

func (h *Handler) handleInterfaceEvent(sender netids.PeerIdentity, m *wire.InterfaceEventMessage) {
	iface, ok := h.interfaces.Interface(m.InterfaceID)
	if !ok {
		h.drop(sender, "unknown_interface", fmt.Errorf("interface %x", m.InterfaceID))
		return
	}

	key, ok := h.keys.Key(m.InterfaceID)
	if !ok {
		h.drop(sender, "missing_key", fmt.Errorf("interface %x", m.InterfaceID))
		return
	}

	plaintext, err := envelope.Decrypt(key, m.Ciphertext, m.Nonce)
	if err != nil {
		h.drop(sender, "decrypt_failed", err)
		return
	}

	event, err := crdt.DecodeEvent(plaintext)
	if err != nil {
		h.drop(sender, "decode_failed", err)
		return
	}

	if err := iface.Append(event); err != nil {
		h.drop(sender, "sequence_violation", err)
		return
	}

	h.sendAck(sender, m.InterfaceID, event.ID)
}

func (h *Handler) handleSyncRequest(sender netids.PeerIdentity, m *wire.SyncRequestMessage) {
	iface, ok := h.interfaces.Interface(m.InterfaceID)
	if !ok {
		h.drop(sender, "unknown_interface", fmt.Errorf("interface %x", m.InterfaceID))
		return
	}

	iface.AddMember(sender)

	incoming, err := crdt.DeserializeSyncMessage(m.SyncData)
	if err != nil {
		h.drop(sender, "decode_failed", err)
		return
	}
	iface.MergeSync(incoming)

	// Reply immediately with whatever the sender's reported heads say
	// it's still missing, rather than waiting for the next periodic
	// tick (spec §4.3).
	response := iface.GenerateSync(crdt.DecodeHeads(m.Heads))
	h.sendSyncResponse(sender, m.InterfaceID, response)
}

func (h *Handler) handleSyncResponse(sender netids.PeerIdentity, m *wire.SyncResponseMessage) {
	iface, ok := h.interfaces.Interface(m.InterfaceID)
	if !ok {
		h.drop(sender, "unknown_interface", fmt.Errorf("interface %x", m.InterfaceID))
		return
	}

	msg, err := crdt.DeserializeSyncMessage(m.SyncData)
	if err != nil {
		h.drop(sender, "decode_failed", err)
		return
	}
	iface.MergeSync(msg)
	h.syncState.Clear(sender, m.InterfaceID)
}

func (h *Handler) handleEventAck(sender netids.PeerIdentity, m *wire.EventAckMessage) {
	iface, ok := h.interfaces.Interface(m.InterfaceID)
	if !ok {
		h.drop(sender, "unknown_interface", fmt.Errorf("interface %x", m.InterfaceID))
		return
	}
	iface.MarkDeliveredUpTo(sender, m.UpTo)

	// An ack closes the back-prop record this node started the moment
	// it directly delivered to sender: destination and confirmer are
	// the same peer here since this hop delivered straight to it.
	h.router.ConfirmBackprop(m.UpTo, sender, sender, 1, time.Now())
}

// handleRelay receives a packet forwarded by sender on its way to
// m.Destination and routes it exactly like a locally originated one:
// deliver directly, hold, relay further, or drop (spec §4.4's table
// applies identically at every hop).
func (h *Handler) handleRelay(sender netids.PeerIdentity, m *wire.RelayMessage) {
	if m == nil {
		h.drop(sender, "malformed", fmt.Errorf("nil relay message"))
		return
	}
	packet := router.Packet{
		ID:          m.PacketID,
		Source:      sender,
		Destination: m.Destination,
		Payload:     m.Inner,
		TTL:         m.TTL,
		Visited:     m.Visited,
	}
	if err := h.dispatchPacket(packet); err != nil {
		h.log.Warn("relay dispatch failed", "packet", m.PacketID.String(), "destination", m.Destination.String(), "error", err)
	}
}

func (h *Handler) sendAck(peer netids.PeerIdentity, ifaceID netids.InterfaceId, upTo netids.EventId) {
	msg := wire.NetworkMessage{
		Tag:      wire.TagEventAck,
		EventAck: &wire.EventAckMessage{InterfaceID: ifaceID, UpTo: upTo},
	}
	if err := h.signAndSend(peer, msg); err != nil {
		h.log.Warn("failed to send ack", "peer", peer.String(), "error", err)
	}
}

func (h *Handler) sendSyncResponse(peer netids.PeerIdentity, ifaceID netids.InterfaceId, sync crdt.SyncMessage) {
	msg := wire.NetworkMessage{
		Tag: wire.TagSyncResponse,
		SyncResponse: &wire.SyncResponseMessage{
			InterfaceID: ifaceID,
			SyncData:    crdt.SerializeSyncMessage(sync),
			Heads:       nil,
		},
	}
	if err := h.signAndSend(peer, msg); err != nil {
		h.log.Warn("failed to send sync response", "peer", peer.String(), "error", err)
	}
}

// SendEvent encrypts and signs event for ifaceID and routes it toward
// peer (spec §4.4): a Route decision of DirectDelivery, Hold, or
// RelayThrough actually determines what happens to the wire bytes,
// rather than always sending them straight to peer.
func (h *Handler) SendEvent(peer netids.PeerIdentity, ifaceID netids.InterfaceId, event crdt.InterfaceEvent) error {
	key, ok := h.keys.Key(ifaceID)
	if !ok {
		return fmt.Errorf("handler: no key for interface %x", ifaceID)
	}
	ciphertext, nonce, err := envelope.Encrypt(key, crdt.EncodeEvent(event))
	if err != nil {
		return fmt.Errorf("handler: encrypt event: %w", err)
	}
	msg := wire.NetworkMessage{
		Tag: wire.TagInterfaceEvent,
		InterfaceEvt: &wire.InterfaceEventMessage{
			InterfaceID: ifaceID,
			Ciphertext:  ciphertext,
			EventID:     event.ID,
			Nonce:       nonce,
		},
	}
	data, err := h.signMessage(msg)
	if err != nil {
		return err
	}

	packet := router.Packet{
		ID:          event.ID,
		Source:      h.id.PeerID,
		Destination: peer,
		Payload:     data,
		TTL:         h.defaultTTL,
	}
	return h.dispatchPacket(packet)
}

// dispatchPacket routes packet and carries out whichever action the
// router decided: send it straight through, hold it for the
// destination's next online transition, forward it one hop closer via
// a relay, or drop it. It is shared by locally originated sends
// (SendEvent) and inbound relays (handleRelay), since both obey the
// same table.
func (h *Handler) dispatchPacket(packet router.Packet) error {
	now := time.Now()
	decision := h.router.Route(packet, now)

	switch decision.Kind {
	case router.DirectDelivery:
		if err := h.transport.Send(decision.Dest, packet.Payload); err != nil {
			return fmt.Errorf("handler: direct send to %s: %w", decision.Dest.String(), err)
		}
		h.router.DeliverDirect(packet, now)
		return nil

	case router.Hold:
		h.router.Hold().Hold(packet)
		return nil

	case router.RelayThrough:
		hop := packet.Visit(h.id.PeerID)
		relay := wire.NetworkMessage{
			Tag: wire.TagRelay,
			Relay: &wire.RelayMessage{
				PacketID:    hop.ID,
				Destination: hop.Destination,
				TTL:         hop.TTL,
				Visited:     hop.Visited,
				Inner:       hop.Payload,
			},
		}
		return h.signAndSend(decision.NextHops[0], relay)

	default: // router.Drop
		return fmt.Errorf("handler: packet %s dropped: %s", packet.ID.String(), decision.DropWhy.String())
	}
}

// SendSyncRequest issues a sync request for ifaceID to peer, seeded
// with the local document's current heads, and begins tracking a
// correlation id for the in-flight exchange. A request that
// supersedes an existing one for the same peer/interface invalidates
// the older correlation id (spec §5).
func (h *Handler) SendSyncRequest(peer netids.PeerIdentity, ifaceID netids.InterfaceId) error {
	iface, ok := h.interfaces.Interface(ifaceID)
	if !ok {
		return fmt.Errorf("handler: unknown interface %x", ifaceID)
	}

	h.syncState.Begin(peer, ifaceID)

	heads := iface.Document().Heads()
	sync := iface.GenerateSync(nil) // full state: the peer's own heads will trim the response
	msg := wire.NetworkMessage{
		Tag: wire.TagSyncRequest,
		SyncRequest: &wire.SyncRequestMessage{
			InterfaceID: ifaceID,
			Heads:       crdt.EncodeHeads(heads),
			SyncData:    crdt.SerializeSyncMessage(sync),
		},
	}
	return h.signAndSend(peer, msg)
}

// signMessage signs message with this node's identity and encodes the
// full wire envelope.
func (h *Handler) signMessage(message wire.NetworkMessage) ([]byte, error) {
	sm, err := envelope.Sign(h.id, message)
	if err != nil {
		return nil, fmt.Errorf("handler: sign message: %w", err)
	}
	data, err := wire.EncodeSignedMessage(sm)
	if err != nil {
		return nil, fmt.Errorf("handler: encode message: %w", err)
	}
	return data, nil
}

func (h *Handler) signAndSend(peer netids.PeerIdentity, message wire.NetworkMessage) error {
	data, err := h.signMessage(message)
	if err != nil {
		return err
	}
	return h.transport.Send(peer, data)
}

// OnPeerOnline issues an unsolicited sync request to peer for every
// interface it belongs to, supplementing the router's hold-queue
// flush with proactive CRDT catch-up on reconnect (S2 in spec §8).
func (h *Handler) OnPeerOnline(peer netids.PeerIdentity, interfaces []netids.InterfaceId) {
	for _, ifaceID := range interfaces {
		if err := h.SendSyncRequest(peer, ifaceID); err != nil {
			h.log.Warn("proactive sync request failed", "peer", peer.String(), "interface", fmt.Sprintf("%x", ifaceID), "error", err)
		}
	}
}
