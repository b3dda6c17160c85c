// Copyright 2024 The godbusd Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dbus

import (
	"context"
	"errors"

	"github.com/godbusd/dbus/message"
	"github.com/godbusd/dbus/transport"
)

// serve is the dispatcher: the one goroutine that ever reads from the
// transport. It runs until the connection crashes, either because the
// transport failed or because something else (a failed send, an
// explicit Close) crashed the connection out from under it. The
// dispatcher's own lifetime is not tied to any caller-supplied context;
// the documented way to stop it is Close, not context cancellation.
func (c *Connection) serve() {
	ctx := context.Background()
	for {
		c.downMu.Lock()
		downCh := c.downCh
		c.downMu.Unlock()
		if downCh != nil {
			select {
			case <-downCh:
				continue
			case <-c.crashed:
				return
			}
		}

		msg, err := c.recvRacingCrash(ctx)
		if err != nil {
			c.setCrash(translateRecvErr(err))
			return
		}

		filtered, ok := runFilters(c.snapshotIncoming(), msg, c.log)
		if !ok {
			continue
		}

		c.route(ctx, filtered)
	}
}

// recvRacingCrash reads the next message, but returns early with the
// connection's crash error the instant something else crashes the
// connection while the read is still pending. The spawned goroutine
// outlives the select when the crash wins; it exits once the pending Recv
// returns. With a transport whose Shutdown unblocks a pending Recv, that
// happens as part of the same crash; the in-memory Loopback's Shutdown
// only closes its outgoing side, so there the goroutine waits until the
// peer end sends or shuts down.
func (c *Connection) recvRacingCrash(ctx context.Context) (*message.Message, error) {
	type result struct {
		msg *message.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := c.transport.Recv(ctx)
		ch <- result{m, err}
	}()

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-c.crashed:
		_, err := c.get()
		return nil, err
	}
}

// translateRecvErr maps a raw transport failure onto one of the fatal
// error kinds. An error that is already one of ours (the crash path
// above, or a transport that returns our own sentinels directly) passes
// through unchanged.
func translateRecvErr(err error) error {
	switch {
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrConnectionLost):
		return err
	case errors.Is(err, transport.ErrEndOfStream):
		return ErrConnectionLost
	}

	var protoErr *transport.ProtocolError
	if errors.As(err, &protoErr) {
		return &ProtocolError{Err: protoErr.Err}
	}

	var ourProto *ProtocolError
	var ourTransport *TransportError
	if errors.As(err, &ourProto) || errors.As(err, &ourTransport) {
		return err
	}

	return &TransportError{Err: err}
}

// route dispatches one message already past the incoming filter chain.
func (c *Connection) route(ctx context.Context, msg *message.Message) {
	switch msg.Type {
	case message.TypeMethodReturn, message.TypeError:
		c.handleReply(msg)
	case message.TypeSignal:
		c.handleSignal(msg)
	case message.TypeMethodCall:
		c.routeMethodCall(ctx, msg)
	default:
		c.log.Warningf("dbus: dropping message of unknown type %v", msg.Type)
	}
}
