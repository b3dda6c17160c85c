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
	"github.com/op/go-logging"

	"github.com/godbusd/dbus/message"
)

// Config carries the optional construction-time settings a Connection
// accepts: a plain options struct rather than a generic config-loading
// framework, since this is a library entry point, not a CLI.
type Config struct {
	logger          *logging.Logger
	onDisconnect    func(error)
	machineIDDir    string
	exitedPeersSize int
	registry        *SharedGUIDRegistry
	codec           message.Codec
}

// Option mutates a Config being built up by Of* constructors.
type Option func(*Config)

// WithLogger overrides the package-default logger for one connection.
func WithLogger(l *logging.Logger) Option {
	return func(c *Config) { c.logger = l }
}

// WithDisconnectHandler installs the fatal-error handler invoked at most
// once when the connection crashes, except when the crash cause is
// ErrConnectionClosed. It is called by the crash routine itself, on the
// goroutine that crashed the connection (the dispatcher or a failing
// send), after the transport is shut down; it does not wait for the
// dispatcher goroutine to exit.
func WithDisconnectHandler(f func(error)) Option {
	return func(c *Config) { c.onDisconnect = f }
}

// WithMachineIDDir overrides the directory the Peer.GetMachineId handler
// persists its generated UUID to.
func WithMachineIDDir(dir string) Option {
	return func(c *Config) { c.machineIDDir = dir }
}

// WithExitedPeersCapacity overrides the default capacity (100) of the
// exited-peers LRU cache.
func WithExitedPeersCapacity(n int) Option {
	return func(c *Config) { c.exitedPeersSize = n }
}

// WithSharedGUIDRegistry overrides the package-default registry OfTransport
// and OfAddresses consult for GUID-based connection sharing. Most callers
// never need this; it exists for tests and programs that want an isolated
// pool of shared connections instead of the one every caller in the
// process shares by default.
func WithSharedGUIDRegistry(r *SharedGUIDRegistry) Option {
	return func(c *Config) { c.registry = r }
}

// WithCodec overrides the Codec used to validate outgoing method call
// bodies against their declared signature and to decode reply bodies in
// MethodCallInto. Defaults to message.NativeCodec{}, suitable for the
// loopback transport and for tests; a real wire transport supplies its
// own signature-aware codec here.
func WithCodec(codec message.Codec) Option {
	return func(c *Config) { c.codec = codec }
}

func newConfig(opts []Option) *Config {
	c := &Config{exitedPeersSize: 100}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = defaultLogger()
	}
	if c.registry == nil {
		c.registry = globalRegistry
	}
	if c.codec == nil {
		c.codec = message.NativeCodec{}
	}
	return c
}
