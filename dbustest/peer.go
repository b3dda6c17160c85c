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

// Package dbustest provides a scripted peer for driving a Connection
// under test without a real bus: it reads whatever the connection under
// test sends and lets the test script reply, emit signals, or simulate a
// disconnect on demand.
package dbustest

import (
	"context"
	"testing"
	"time"

	"github.com/godbusd/dbus/message"
	"github.com/godbusd/dbus/transport"
)

// Peer is the other end of an in-memory transport pair, intended to be
// driven directly from a test's goroutine.
type Peer struct {
	t   testing.TB
	tr  transport.Transport
	ctx context.Context
}

// NewPeer wraps t around a raw transport (typically the peer half
// returned by dbus.Loopback) for scripted reads and writes.
func NewPeer(t testing.TB, tr transport.Transport) *Peer {
	return &Peer{t: t, tr: tr, ctx: context.Background()}
}

// Recv reads the next message the connection under test sent, failing
// the test if none arrives within timeout.
func (p *Peer) Recv(timeout time.Duration) *message.Message {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	msg, err := p.tr.Recv(ctx)
	if err != nil {
		p.t.Fatalf("dbustest: peer Recv: %v", err)
	}
	return msg
}

// Send writes msg to the connection under test.
func (p *Peer) Send(msg *message.Message) {
	p.t.Helper()
	if err := p.tr.Send(p.ctx, msg); err != nil {
		p.t.Fatalf("dbustest: peer Send: %v", err)
	}
}

// ReplyTo sends a Method-Return addressed back to call with the given
// body.
func (p *Peer) ReplyTo(call *message.Message, body []interface{}) {
	p.Send(&message.Message{
		Type:        message.TypeMethodReturn,
		ReplySerial: call.Serial,
		Destination: call.Sender,
		Body:        body,
	})
}

// ErrorTo sends an Error reply addressed back to call.
func (p *Peer) ErrorTo(call *message.Message, name string, body []interface{}) {
	p.Send(&message.Message{
		Type:        message.TypeError,
		ReplySerial: call.Serial,
		Destination: call.Sender,
		ErrorName:   name,
		Body:        body,
	})
}

// EmitSignal sends a signal as if from the bus or another peer.
func (p *Peer) EmitSignal(sender, path, iface, member string, body []interface{}) {
	p.Send(&message.Message{
		Type:      message.TypeSignal,
		Sender:    sender,
		Path:      path,
		Interface: iface,
		Member:    member,
		Body:      body,
	})
}

// Hangup closes this end of the transport, which surfaces as end-of-stream
// to the connection under test's dispatcher.
func (p *Peer) Hangup() {
	_ = p.tr.Shutdown()
}
