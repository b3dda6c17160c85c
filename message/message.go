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

// Package message defines the wire-independent representation of a D-Bus
// message, the four message types, and the small set of collaborator
// interfaces (codec, error registry) that the connection core in package
// dbus consumes but does not implement.
package message

// Type identifies one of the four D-Bus message kinds.
type Type byte

const (
	// TypeInvalid is the zero value and is never a valid message on the wire.
	TypeInvalid Type = iota
	TypeMethodCall
	TypeMethodReturn
	TypeError
	TypeSignal
)

func (t Type) String() string {
	switch t {
	case TypeMethodCall:
		return "method_call"
	case TypeMethodReturn:
		return "method_return"
	case TypeError:
		return "error"
	case TypeSignal:
		return "signal"
	default:
		return "invalid"
	}
}

// Flags carries the two message flags this core cares about.
type Flags struct {
	NoReplyExpected bool
	NoAutoStart     bool
}

// Message is the tuple every connection operation reads and writes. Body
// encoding/decoding against a declared signature is the responsibility of
// a Codec; Message stores already-decoded Go values.
type Message struct {
	Serial      uint32
	Type        Type
	Flags       Flags
	Sender      string
	Destination string
	Path        string
	Interface   string
	Member      string
	ErrorName   string
	ReplySerial uint32
	Signature   string
	Body        []interface{}
}

// IsReplyExpected reports whether a Method-Call message wants a reply.
// Non-method-call messages never expect a reply.
func (m *Message) IsReplyExpected() bool {
	return m.Type == TypeMethodCall && !m.Flags.NoReplyExpected
}

// Error represents a D-Bus error reply as a native Go error. It is produced
// from an incoming Error message's ErrorName and, if present, the first
// string element of the body.
type Error struct {
	Name string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Name + ": " + e.Msg
	}
	return e.Name
}

// NewError builds an Error from a reply message's name and body: the
// message text is the first body element if it is a string, else empty.
func NewError(name string, body []interface{}) *Error {
	msg := ""
	if len(body) > 0 {
		if s, ok := body[0].(string); ok {
			msg = s
		}
	}
	return &Error{Name: name, Msg: msg}
}

// Well-known error names used by the inline protocol handlers in the core.
const (
	ErrNameFailed        = "org.freedesktop.DBus.Error.Failed"
	ErrNameUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
)

// Peer interface name and member names handled inline by the core.
const (
	InterfacePeer           = "org.freedesktop.DBus.Peer"
	InterfaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	MemberPing              = "Ping"
	MemberGetMachineId      = "GetMachineId"
	MemberIntrospect        = "Introspect"
)

// Bus bookkeeping constants: the bus driver's own name and object path,
// and the three signals it emits for name ownership changes.
const (
	BusServiceName         = "org.freedesktop.DBus"
	BusObjectPath          = "/org/freedesktop/DBus"
	SignalNameOwnerChanged = "NameOwnerChanged"
	SignalNameAcquired     = "NameAcquired"
	SignalNameLost         = "NameLost"
)
