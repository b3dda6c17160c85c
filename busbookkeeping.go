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
	"sync"

	"github.com/godbusd/dbus/message"
)

// nameResolver tracks the current owner of one bus name as reported by
// NameOwnerChanged signals. A full name-resolution convenience layer
// (synchronous GetNameOwner lookups, proxy construction) is left to a
// higher layer; the core only keeps whichever resolvers that layer has
// created up to date.
type nameResolver struct {
	mu          sync.Mutex
	owner       string
	initialized bool
}

// populateInitial seeds the resolver from an explicit GetNameOwner
// lookup. It is a no-op if a NameOwnerChanged signal already initialized
// the resolver first: the signal is authoritative, since it can only be
// newer than a lookup that raced it.
func (r *nameResolver) populateInitial(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return
	}
	r.owner = owner
	r.initialized = true
}

func (r *nameResolver) setOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = owner
	r.initialized = true
}

func (r *nameResolver) ownerSnapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

func (c *Connection) ensureResolver(name string) *nameResolver {
	c.resolverMu.Lock()
	defer c.resolverMu.Unlock()
	r, ok := c.resolvers[name]
	if !ok {
		r = &nameResolver{}
		c.resolvers[name] = r
	}
	return r
}

// NameResolver is a handle onto one name's tracked owner, obtained via
// EnsureNameResolver.
type NameResolver struct {
	r *nameResolver
}

// Owner returns the name's currently known unique-name owner, or "" if
// none is known yet or the name has no current owner.
func (n *NameResolver) Owner() string { return n.r.ownerSnapshot() }

// SetInitialOwner records the result of an explicit GetNameOwner lookup
// performed by the caller. It has no effect if bookkeeping from a
// NameOwnerChanged signal already initialized the resolver.
func (n *NameResolver) SetInitialOwner(owner string) { n.r.populateInitial(owner) }

// EnsureNameResolver returns the resolver tracking name's current owner,
// creating it on first use. This is the narrow hook a higher-level name
// resolution or proxy layer uses to ask the core to keep a name's owner
// current via bus bookkeeping; the core does not issue the initial
// GetNameOwner lookup itself.
func (c *Connection) EnsureNameResolver(name string) *NameResolver {
	return &NameResolver{r: c.ensureResolver(name)}
}

// applyBusBookkeeping updates connection-local and resolver state from
// the bus driver's own signals. This runs for every incoming signal
// before visibility scoping or receiver matching, and unconditionally:
// bookkeeping must stay accurate even if no user receiver is subscribed.
func (c *Connection) applyBusBookkeeping(msg *message.Message) {
	if msg.Sender != message.BusServiceName ||
		msg.Path != message.BusObjectPath ||
		msg.Interface != message.BusServiceName {
		return
	}

	switch msg.Member {
	case message.SignalNameOwnerChanged:
		c.handleNameOwnerChanged(msg)
	case message.SignalNameAcquired:
		c.handleNameAcquired(msg)
	case message.SignalNameLost:
		c.handleNameLost(msg)
	}
}

func (c *Connection) handleNameOwnerChanged(msg *message.Message) {
	if len(msg.Body) != 3 {
		return
	}
	name, _ := msg.Body[0].(string)
	newOwner, _ := msg.Body[2].(string)
	if name == "" {
		return
	}

	c.resolverMu.Lock()
	r, ok := c.resolvers[name]
	c.resolverMu.Unlock()
	if ok {
		r.setOwner(newOwner)
	}

	if isUniqueName(name) && newOwner == "" {
		c.exitedPeers.Add(name, struct{}{})
	}
}

func (c *Connection) handleNameAcquired(msg *message.Message) {
	name, ok := firstBodyString(msg.Body)
	if !ok {
		return
	}
	c.namesMu.Lock()
	c.acquiredNames[name] = struct{}{}
	c.namesMu.Unlock()
}

func (c *Connection) handleNameLost(msg *message.Message) {
	name, ok := firstBodyString(msg.Body)
	if !ok {
		return
	}
	c.namesMu.Lock()
	delete(c.acquiredNames, name)
	c.namesMu.Unlock()
}

func firstBodyString(body []interface{}) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	s, ok := body[0].(string)
	return s, ok
}

// HasExited reports whether name (a unique name) has been observed losing
// its owner via NameOwnerChanged, within the bound of the exited-peers
// cache's capacity.
func (c *Connection) HasExited(name string) bool {
	return c.exitedPeers.Contains(name)
}
