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
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/op/go-logging"

	"github.com/godbusd/dbus/internal/addr"
	"github.com/godbusd/dbus/message"
	"github.com/godbusd/dbus/transport"
)

// Connection is the packed connection: the sole entry point for every
// public operation, and the single place that knows whether the
// underlying transport is still usable. Its fields are partitioned into
// independent locks rather than one big mutex, the way a connection with
// several independently-mutated tables (replies in flight, exported
// objects, signal receivers, acquired names) usually ends up looking in
// Go once goroutines replace a single-threaded event loop.
type Connection struct {
	// Set once at construction, read without a lock thereafter.
	transport transport.Transport
	guid      string
	shared    bool
	registry  *SharedGUIDRegistry
	log       *logging.Logger
	machineID *machineID
	codec     message.Codec

	// mu guards the running/crashed state of the connection.
	mu       sync.RWMutex
	crashErr error
	crashed  chan struct{} // closed exactly once, by setCrash

	// outgoingM linearises sends: serial assignment, outgoing filtering,
	// reply registration and the transport write happen while it is held.
	outgoingM  sync.Mutex
	nextSerial uint32

	namesMu       sync.RWMutex
	name          string
	acquiredNames map[string]struct{}

	replyMu      sync.Mutex
	replyWaiters map[uint32]chan *replyResult

	signalMu  sync.Mutex
	nextSigID uint64
	signals   []*signalEntry

	objectMu        sync.Mutex
	exportedObjects map[string]ExportedObject

	filterMu   sync.Mutex
	nextFiltID uint64
	incoming   []*filterEntry
	outgoing   []*filterEntry

	downMu sync.Mutex
	downCh chan struct{} // non-nil while SetDown is in effect

	onDisconnect func(error)

	resolverMu sync.Mutex
	resolvers  map[string]*nameResolver

	exitedPeers *lru.Cache
}

// replyResult is delivered to a reply waiter exactly once: either the
// Method-Return/Error message itself, or the connection's crash error.
type replyResult struct {
	msg *message.Message
	err error
}

func newConnection(t transport.Transport, guid string, cfg *Config) *Connection {
	cache, _ := lru.New(cfg.exitedPeersSize)
	return &Connection{
		transport:       t,
		guid:            guid,
		registry:        cfg.registry,
		log:             cfg.logger,
		codec:           cfg.codec,
		machineID:       &machineID{dir: cfg.machineIDDir},
		crashed:         make(chan struct{}),
		nextSerial:      1,
		acquiredNames:   make(map[string]struct{}),
		replyWaiters:    make(map[uint32]chan *replyResult),
		exportedObjects: make(map[string]ExportedObject),
		resolvers:       make(map[string]*nameResolver),
		onDisconnect:    cfg.onDisconnect,
		exitedPeers:     cache,
	}
}

// OfTransport adopts an already-authenticated transport. If guid is
// non-empty and shared is true and the shared registry (the process-wide
// default unless WithSharedGUIDRegistry names another) already
// holds a live connection for that GUID, the existing connection is
// returned instead of starting a second one over a fresh transport; the
// caller-supplied transport is then unused and should be shut down by the
// caller. Otherwise a new connection is built, optionally registered
// under guid, and its dispatcher is started.
func OfTransport(ctx context.Context, t transport.Transport, guid string, shared bool, opts ...Option) (*Connection, error) {
	cfg := newConfig(opts)

	if shared && guid != "" {
		if existing, ok := cfg.registry.lookup(guid); ok {
			return existing, nil
		}
	}

	c := newConnection(t, guid, cfg)

	if shared && guid != "" {
		c.shared = true
		cfg.registry.register(guid, c)
	}

	go c.serve()
	return c, nil
}

// OfAddresses parses a D-Bus server address list, checks the shared
// registry for any of the embedded GUIDs first, then dials entries in
// order until one authenticates successfully. The successful transport is
// handed to OfTransport, which performs its own registry check: dialing
// can race another caller that finishes authenticating the same server
// first and registers it before this call does.
func OfAddresses(ctx context.Context, addresses string, dialer transport.Dialer, shared bool, opts ...Option) (*Connection, error) {
	entries, err := addr.Parse(addresses)
	if err != nil {
		return nil, err
	}

	if shared {
		cfg := newConfig(opts)
		for _, guid := range addr.GUIDs(entries) {
			if existing, ok := cfg.registry.lookup(guid); ok {
				return existing, nil
			}
		}
	}

	var lastErr error
	for _, e := range entries {
		guid, t, dialErr := dialer.Dial(ctx, e.Kind, e.Params)
		if dialErr != nil {
			lastErr = dialErr
			continue
		}
		return OfTransport(ctx, t, guid, shared, opts...)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("dbus: no usable address in %q", addresses)
	}
	return nil, lastErr
}

// Loopback returns a peer-to-peer Connection wired to an in-memory
// transport, plus the other end of that transport for a test harness to
// drive directly as a scripted peer.
func Loopback(opts ...Option) (conn *Connection, peer transport.Transport) {
	a, b := transport.NewLoopbackPair()
	cfg := newConfig(opts)
	c := newConnection(a, "", cfg)
	go c.serve()
	return c, b
}

// get reads the running/crashed state. Every public operation calls this
// first and fails synchronously with the stored error if crashed.
func (c *Connection) get() (crashed bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.crashErr != nil {
		return true, c.crashErr
	}
	return false, nil
}

func (c *Connection) notRunningErr() error {
	_, err := c.get()
	return &NotRunningError{Cause: err}
}

// Close crashes the connection with ErrConnectionClosed. It is idempotent:
// calling it twice returns the same final error both times and performs
// the crash side effects only once.
func (c *Connection) Close() error {
	return c.setCrash(ErrConnectionClosed)
}

// Watch blocks until the connection crashes or ctx is done, returning the
// crash error in the former case.
func (c *Connection) Watch(ctx context.Context) error {
	select {
	case <-c.crashed:
		_, err := c.get()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GUID returns the server identity this connection was constructed with,
// or "" for an unauthenticated loopback connection.
func (c *Connection) GUID() string { return c.guid }

// Transport exposes the underlying collaborator, mostly for tests that
// need to drive it directly.
func (c *Connection) Transport() transport.Transport { return c.transport }

// Name returns the unique bus name acquired via Hello, or "" before Hello
// completes or for a peer-to-peer connection.
func (c *Connection) Name() string {
	c.namesMu.RLock()
	defer c.namesMu.RUnlock()
	return c.name
}

// setName records the unique name acquired from the bus. Hello itself is
// not this package's concern, but whatever higher layer performs it calls
// this once it has the result, so inline bus bookkeeping and signal
// visibility scoping have a name to compare against.
func (c *Connection) setName(name string) {
	c.namesMu.Lock()
	c.name = name
	c.namesMu.Unlock()
}

// AcquiredNames returns the well-known names this connection currently
// owns, as last updated by NameAcquired/NameLost bookkeeping.
func (c *Connection) AcquiredNames() []string {
	c.namesMu.RLock()
	defer c.namesMu.RUnlock()
	names := make([]string, 0, len(c.acquiredNames))
	for n := range c.acquiredNames {
		names = append(names, n)
	}
	return names
}

// IsUp reports whether the dispatcher is currently draining the
// transport, i.e. SetDown has not been called, or a later SetUp undid it.
func (c *Connection) IsUp() (bool, error) {
	if crashed, err := c.get(); crashed {
		return false, &NotRunningError{Cause: err}
	}
	c.downMu.Lock()
	defer c.downMu.Unlock()
	return c.downCh == nil, nil
}

// SetDown pauses the dispatcher before its next read.
func (c *Connection) SetDown() error {
	if crashed, err := c.get(); crashed {
		return &NotRunningError{Cause: err}
	}
	c.downMu.Lock()
	defer c.downMu.Unlock()
	if c.downCh == nil {
		c.downCh = make(chan struct{})
	}
	return nil
}

// SetUp resumes a dispatcher paused by SetDown.
func (c *Connection) SetUp() error {
	if crashed, err := c.get(); crashed {
		return &NotRunningError{Cause: err}
	}
	c.downMu.Lock()
	defer c.downMu.Unlock()
	if c.downCh != nil {
		close(c.downCh)
		c.downCh = nil
	}
	return nil
}
