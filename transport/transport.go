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

// Package transport defines the abstract bidirectional framed message
// channel the connection core is built on, plus an in-memory Loopback
// implementation for tests. Real transports (unix socket, tcp, launchd,
// nonce-tcp, ...) and SASL authentication live outside this module.
package transport

import (
	"context"
	"errors"

	"github.com/godbusd/dbus/message"
)

// ErrEndOfStream is returned by Recv when the peer has cleanly closed the
// connection, distinct from any other read failure.
var ErrEndOfStream = errors.New("transport: end of stream")

// ProtocolError wraps a wire-format violation detected by a transport or
// codec.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "transport: protocol error: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// Transport is the collaborator interface the connection core consumes.
// A single Transport is owned exclusively by one Connection.
type Transport interface {
	// Send writes one message. Implementations should return *message.
	// DataError-wrapped errors for marshalling faults and any other error
	// for transport-level faults (the core treats all non-DataError send
	// failures as fatal).
	Send(ctx context.Context, msg *message.Message) error

	// Recv reads the next message, blocking until one is available. It
	// returns ErrEndOfStream on clean peer shutdown and a *ProtocolError
	// for wire-format violations.
	Recv(ctx context.Context) (*message.Message, error)

	// Shutdown releases any underlying resources. It is safe to call more
	// than once; errors from a second call are swallowed by the core.
	Shutdown() error
}

// Dialer authenticates a new Transport for one of the addresses in an
// address list, returning the server's GUID alongside it. Transport
// establishment and SASL authentication are not this module's concern;
// OfAddresses in the core only consumes this interface.
type Dialer interface {
	Dial(ctx context.Context, kind string, params map[string]string) (guid string, t Transport, err error)
}
