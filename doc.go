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

// Package dbus implements the core of a client-side D-Bus connection: the
// runtime object that turns one authenticated, ordered byte-stream
// transport into a bidirectional, asynchronous message exchange with a
// D-Bus peer.
//
// The primary elements of interest are:
//
//   - Connection, constructed via OfTransport, OfAddresses or Loopback,
//     which owns the one dispatcher goroutine that reads the transport
//     and routes every incoming message to the right reply waiter,
//     signal receiver or exported object.
//
//   - ExportedObject, which a caller implements to answer incoming
//     method calls addressed to one object path.
//
//   - Filter, for rewriting or vetoing messages as they cross the
//     connection in either direction.
//
// The message representation and codec interface (package message), the
// transport and dialer interfaces (package transport), match-rule
// serialization (package match) and introspection XML (package
// introspect) are satellite concerns with their own packages; this
// package only consumes them. Wire marshalling, transport establishment
// and authentication are left to transport implementations outside this
// module.
package dbus
