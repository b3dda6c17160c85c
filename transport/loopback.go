package transport

import (
	"context"
	"sync"

	"github.com/godbusd/dbus/message"
)

// Loopback is an in-memory Transport pair: writes on one end arrive as
// reads on the other. It stands in for a scripted peer in tests (ping-pong,
// unknown method, and similar end-to-end exchanges).
//
// The shutdown discipline mirrors the single-channel, reference-counted
// bus used elsewhere in this ecosystem for in-memory message relaying: a
// side that calls Shutdown closes its outgoing channel, which the peer
// observes as ErrEndOfStream on its next Recv, and further Sends on the
// shut-down side fail immediately rather than panicking on a closed
// channel.
type Loopback struct {
	mu      sync.Mutex
	out     chan *message.Message
	in      chan *message.Message
	closed  bool
}

// NewLoopbackPair returns two Loopback transports, each other's peer.
func NewLoopbackPair() (a, b *Loopback) {
	c1 := make(chan *message.Message, 16)
	c2 := make(chan *message.Message, 16)
	a = &Loopback{out: c1, in: c2}
	b = &Loopback{out: c2, in: c1}
	return
}

func (l *Loopback) Send(ctx context.Context, msg *message.Message) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrEndOfStream
	}
	l.mu.Unlock()

	select {
	case l.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loopback) Recv(ctx context.Context) (*message.Message, error) {
	select {
	case m, ok := <-l.in:
		if !ok {
			return nil, ErrEndOfStream
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown closes this end's outgoing channel, which surfaces as
// ErrEndOfStream to whatever is reading from the peer end. It is
// idempotent.
func (l *Loopback) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.out)
	return nil
}

var _ Transport = (*Loopback)(nil)
