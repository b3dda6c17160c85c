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

import "sync"

// SharedGUIDRegistry is a table of live connections keyed by server GUID,
// letting two independent callers asking for the same server end up
// sharing one Connection instead of each opening their own transport. A
// crashed connection removes itself; a later OfTransport or OfAddresses
// call for the same GUID then builds a fresh one.
//
// A process normally only needs the package default (see
// WithSharedGUIDRegistry), but a test or a program that wants isolated
// pools of shared connections (for example, one pool per test case, so
// that unrelated tests never dedup against each other's connections) can
// construct its own with NewSharedGUIDRegistry and pass it to OfTransport
// or OfAddresses.
type SharedGUIDRegistry struct {
	mu     sync.Mutex
	byGUID map[string]*Connection
}

// NewSharedGUIDRegistry returns an empty registry independent of the
// package default.
func NewSharedGUIDRegistry() *SharedGUIDRegistry {
	return &SharedGUIDRegistry{byGUID: make(map[string]*Connection)}
}

var globalRegistry = NewSharedGUIDRegistry()

func (r *SharedGUIDRegistry) lookup(guid string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byGUID[guid]
	return c, ok
}

func (r *SharedGUIDRegistry) register(guid string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byGUID[guid] = c
}

// remove deletes the registry entry only if it still points at c: a
// connection that lost a race to register (another caller got there
// first and this one's transport was discarded) must not evict the
// winner's entry when it is later closed.
func (r *SharedGUIDRegistry) remove(guid string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byGUID[guid]; ok && cur == c {
		delete(r.byGUID, guid)
	}
}
