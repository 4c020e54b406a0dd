// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/log"
	"github.com/luxfi/zmq4"

	netids "github.com/trumanellis/indranet/internal/ids"
)

// ZMQTransport is a ROUTER/DEALER transport (grounded on the
// teacher's own `utils/networking/zmq4` package, both its API usage
// of `github.com/luxfi/zmq4` and its ROUTER/DEALER responsibility
// split — see DESIGN.md for why that import was used over the
// unresolvable one in a sibling teacher file): one bound ROUTER
// socket receives from every peer that has ever dialed in, and one
// DEALER socket per destination peer sends outbound, each DEALER's
// own ZMQ socket identity set to this node's PeerIdentity so the
// remote ROUTER can attribute frames without a separate handshake.
type ZMQTransport struct {
	self netids.PeerIdentity
	book AddressBook
	log  log.Logger

	router zmq4.Socket

	mu      sync.Mutex
	dealers map[netids.PeerIdentity]zmq4.Socket
	closed  bool
}

// NewZMQTransport binds a ROUTER socket at listenEndpoint (e.g.
// "tcp://0.0.0.0:7777") for self, resolving outbound destinations
// through book.
func NewZMQTransport(ctx context.Context, self netids.PeerIdentity, listenEndpoint string, book AddressBook, logger log.Logger) (*ZMQTransport, error) {
	router := zmq4.NewRouter(ctx, zmq4.WithID(zmq4.SocketIdentity(self[:])))
	if err := router.Listen(listenEndpoint); err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", listenEndpoint, err)
	}
	return &ZMQTransport{
		self:    self,
		book:    book,
		log:     componentLog(logger),
		router:  router,
		dealers: make(map[netids.PeerIdentity]zmq4.Socket),
	}, nil
}

// dealerFor returns the (lazily dialed) DEALER socket used to send to
// peer, dialing on first use and reusing the connection after.
func (t *ZMQTransport) dealerFor(ctx context.Context, peer netids.PeerIdentity) (zmq4.Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transport: closed")
	}
	if sock, ok := t.dealers[peer]; ok {
		return sock, nil
	}

	endpoint, ok := t.book.Endpoint(peer)
	if !ok {
		return nil, ErrUnknownPeer
	}

	dealer := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(t.self[:])))
	if err := dealer.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("transport: dial %s for peer %s: %w", endpoint, peer, err)
	}
	t.dealers[peer] = dealer
	return dealer, nil
}

// Send implements handler.Sender and Transport.
func (t *ZMQTransport) Send(peer netids.PeerIdentity, data []byte) error {
	sock, err := t.dealerFor(context.Background(), peer)
	if err != nil {
		return err
	}
	if err := sock.Send(zmq4.NewMsg(data)); err != nil {
		return fmt.Errorf("transport: send to %s: %w", peer, err)
	}
	return nil
}

// Serve reads every frame the ROUTER socket receives and dispatches
// it, attributing the sender by the ZMQ identity frame DEALER sockets
// set on connect. Blocks until ctx is canceled.
func (t *ZMQTransport) Serve(ctx context.Context, dispatch Dispatcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := t.router.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Warn("router recv failed", "error", err)
			continue
		}
		if len(msg.Frames) < 2 {
			t.log.Warn("dropped frame with no identity", "frames", len(msg.Frames))
			continue
		}

		var sender netids.PeerIdentity
		idBytes := msg.Frames[0]
		if len(idBytes) != len(sender) {
			t.log.Warn("dropped frame with malformed identity", "len", len(idBytes))
			continue
		}
		copy(sender[:], idBytes)

		dispatch.HandleInbound(sender, msg.Frames[1])
	}
}

// Close releases every open socket.
func (t *ZMQTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	for peer, sock := range t.dealers {
		if err := sock.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport: close dealer for %s: %w", peer, err)
		}
	}
	if err := t.router.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("transport: close router: %w", err)
	}
	return firstErr
}
