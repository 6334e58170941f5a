// Package websocket implements the RFC 6455 WebSocket surface that streams
// the event store's alert/metric push feed to browser clients: a hand-rolled
// handshake and frame codec (no client-to-server payloads are expected) and
// a per-connection subscriber satisfying internal/alert.Subscriber.
package websocket

import (
	"errors"
	"sync"
)

// errBufferFull is returned by Send when a client's outbound buffer is
// saturated; the caller (internal/alert.Store) treats any error as cause to
// drop the subscriber.
var errBufferFull = errors.New("websocket: client send buffer full")

// subscriber adapts a single WebSocket connection to alert.Subscriber: a
// bounded, non-blocking outbound queue drained by the connection's write
// loop. A full buffer means the client is too slow or gone; Send reports
// that as an error rather than blocking the broadcasting goroutine.
type subscriber struct {
	id   string
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// newSubscriber returns a subscriber with a queue depth of bufSize frames.
func newSubscriber(id string, bufSize int) *subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &subscriber{id: id, send: make(chan []byte, bufSize)}
}

// Send implements alert.Subscriber. It never blocks: a full buffer or a
// closed subscriber both return an error.
func (s *subscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("websocket: subscriber closed")
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return errBufferFull
	}
}

// close marks the subscriber closed and closes its channel, unblocking the
// connection's write loop. Safe to call more than once.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
