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
	"errors"
	"fmt"
)

// ErrConnectionClosed is the error stored on the state cell after a user
// call to Close.
var ErrConnectionClosed = errors.New("dbus: connection closed")

// ErrConnectionLost is the error stored on the state cell when the
// transport reports end-of-stream unexpectedly.
var ErrConnectionLost = errors.New("dbus: connection lost")

// ErrFilterDropped is returned to a caller whose outgoing message was
// dropped by a filter. It is never fatal.
var ErrFilterDropped = errors.New("dbus: message dropped by outgoing filter")

// ProtocolError wraps a wire-format violation surfaced by the transport;
// it is fatal to the connection.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "dbus: protocol error: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError wraps any transport fault other than clean end-of-stream;
// it is fatal to the connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "dbus: transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// NotRunningError is returned by every public operation the instant the
// state cell is observed to be Crashed; it carries the original fatal
// cause.
type NotRunningError struct {
	Cause error
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("dbus: connection not running: %v", e.Cause)
}
func (e *NotRunningError) Unwrap() error { return e.Cause }
