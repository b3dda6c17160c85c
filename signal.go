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
	"strings"

	"github.com/godbusd/dbus/message"
)

// SignalReceiver describes one subscription to incoming signals. A nil
// field in Sender/Path/Interface/Member means "don't filter on this";
// ArgFilters, if non-empty, additionally requires the named positional
// string arguments to match exactly.
type SignalReceiver struct {
	Sender     *string
	Path       *string
	Interface  *string
	Member     *string
	ArgFilters map[int]string
	Sink       func(*message.Message)
}

type signalEntry struct {
	id uint64
	r  SignalReceiver
}

// AddSignalReceiver registers r and returns a Handle that removes it. The
// receiver list may be mutated concurrently with signal dispatch; new
// receivers never see signals that arrived strictly before registration,
// since dispatch snapshots the list once per incoming signal.
func (c *Connection) AddSignalReceiver(r SignalReceiver) (*Handle, error) {
	if crashed, err := c.get(); crashed {
		return nil, &NotRunningError{Cause: err}
	}
	c.signalMu.Lock()
	c.nextSigID++
	id := c.nextSigID
	c.signals = append(c.signals, &signalEntry{id: id, r: r})
	c.signalMu.Unlock()

	return &Handle{remove: func() {
		c.signalMu.Lock()
		defer c.signalMu.Unlock()
		for i, e := range c.signals {
			if e.id == id {
				c.signals = append(c.signals[:i:i], c.signals[i+1:]...)
				return
			}
		}
	}}, nil
}

func (c *Connection) snapshotSignals() []*signalEntry {
	c.signalMu.Lock()
	defer c.signalMu.Unlock()
	out := make([]*signalEntry, len(c.signals))
	copy(out, c.signals)
	return out
}

// handleSignal applies bus bookkeeping unconditionally, then delivers the
// signal to every matching receiver if it is visible to this connection.
func (c *Connection) handleSignal(msg *message.Message) {
	c.applyBusBookkeeping(msg)

	if !c.signalVisible(msg) {
		return
	}

	for _, e := range c.snapshotSignals() {
		if matchSignal(c, &e.r, msg) {
			c.invokeSink(e.r.Sink, msg)
		}
	}
}

// signalVisible implements the destination-scoping rule for a
// bus-attached connection: once a unique name has been acquired, only
// signals with no destination or addressed to this connection's own name
// reach receivers. A peer-to-peer connection (no acquired name) sees
// every signal its transport delivers.
func (c *Connection) signalVisible(msg *message.Message) bool {
	name := c.Name()
	if name == "" {
		return true
	}
	return msg.Destination == "" || msg.Destination == name
}

func (c *Connection) invokeSink(sink func(*message.Message), msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warningf("dbus: signal receiver panicked: %v", r)
		}
	}()
	sink(msg)
}

func matchSignal(c *Connection, r *SignalReceiver, msg *message.Message) bool {
	if r.Sender != nil && c.resolveSenderOwner(*r.Sender) != msg.Sender {
		return false
	}
	if r.Path != nil && *r.Path != msg.Path {
		return false
	}
	if r.Interface != nil && *r.Interface != msg.Interface {
		return false
	}
	if r.Member != nil && *r.Member != msg.Member {
		return false
	}
	for idx, want := range r.ArgFilters {
		if idx >= len(msg.Body) {
			return false
		}
		got, ok := msg.Body[idx].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// resolveSenderOwner returns the unique name a sender filter should be
// compared against: the currently-known owner of name if a resolver has
// been registered for it (unique names included), or name itself if it
// has no resolver.
func (c *Connection) resolveSenderOwner(name string) string {
	c.resolverMu.Lock()
	res, ok := c.resolvers[name]
	c.resolverMu.Unlock()
	if ok {
		return res.ownerSnapshot()
	}
	return name
}

func isUniqueName(name string) bool {
	return strings.HasPrefix(name, ":")
}
