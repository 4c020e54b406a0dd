package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	netids "github.com/trumanellis/indranet/internal/ids"
)

func TestSignedMessage_RoundTrip(t *testing.T) {
	var iface netids.InterfaceId
	iface[0] = 9

	msg := NetworkMessage{
		Tag: TagInterfaceEvent,
		InterfaceEvt: &InterfaceEventMessage{
			InterfaceID: iface,
			Ciphertext:  []byte("ciphertext-bytes"),
			EventID:     netids.EventId{SenderHash: 42, Sequence: 7},
			Nonce:       [12]byte{1, 2, 3},
		},
	}

	sm := SignedMessage{
		Version:            CurrentVersion,
		Message:            msg,
		Signature:          []byte("sig"),
		SenderVerifyingKey: []byte("verifying-key"),
	}

	encoded, err := EncodeSignedMessage(sm)
	require.NoError(t, err)

	decoded, err := DecodeSignedMessage(encoded)
	require.NoError(t, err)

	require.Equal(t, sm.Version, decoded.Version)
	require.Equal(t, sm.Signature, decoded.Signature)
	require.Equal(t, sm.SenderVerifyingKey, decoded.SenderVerifyingKey)
	require.Equal(t, *msg.InterfaceEvt, *decoded.Message.InterfaceEvt)
}

func TestDecodeNetworkMessage_UnknownTagRejected(t *testing.T) {
	w := NewWriter(4)
	w.PutByte(0xFE)
	_, err := DecodeNetworkMessage(w.Bytes())
	require.ErrorIs(t, err, ErrUnknownVariant)
}

func TestSyncMessages_RoundTrip(t *testing.T) {
	var iface netids.InterfaceId
	iface[1] = 3
	heads := []HeadEntry{{SenderHash: 1, Digest: [32]byte{1}}, {SenderHash: 2, Digest: [32]byte{2}}}

	req := NetworkMessage{
		Tag: TagSyncRequest,
		SyncRequest: &SyncRequestMessage{
			InterfaceID: iface,
			Heads:       heads,
			SyncData:    []byte("req-data"),
		},
	}
	encodedReq, err := EncodeNetworkMessage(req)
	require.NoError(t, err)
	decodedReq, err := DecodeNetworkMessage(encodedReq)
	require.NoError(t, err)
	require.Equal(t, *req.SyncRequest, *decodedReq.SyncRequest)

	resp := NetworkMessage{
		Tag: TagSyncResponse,
		SyncResponse: &SyncResponseMessage{
			InterfaceID: iface,
			SyncData:    []byte("resp-data"),
			Heads:       heads,
		},
	}
	encodedResp, err := EncodeNetworkMessage(resp)
	require.NoError(t, err)
	decodedResp, err := DecodeNetworkMessage(encodedResp)
	require.NoError(t, err)
	require.Equal(t, *resp.SyncResponse, *decodedResp.SyncResponse)
}

func TestEventAck_RoundTrip(t *testing.T) {
	var iface netids.InterfaceId
	ack := NetworkMessage{
		Tag: TagEventAck,
		EventAck: &EventAckMessage{
			InterfaceID: iface,
			UpTo:        netids.EventId{SenderHash: 1, Sequence: 100},
		},
	}
	encoded, err := EncodeNetworkMessage(ack)
	require.NoError(t, err)
	decoded, err := DecodeNetworkMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, *ack.EventAck, *decoded.EventAck)
}

func TestReader_TruncatedBuffer(t *testing.T) {
	_, err := DecodeSignedMessage([]byte{1})
	require.ErrorIs(t, err, ErrTruncated)
}
