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
	"fmt"

	"github.com/godbusd/dbus/message"
)

// Filter transforms or vetoes one message as it passes through the
// connection. Returning a non-nil message passes the (possibly rewritten)
// message to the next filter in the chain; returning nil drops it
// silently; returning an error drops it and logs the error. Neither
// outcome crashes the connection — a filter is never trusted with that
// much authority over the rest of the pipeline.
type Filter func(*message.Message) (*message.Message, error)

type filterEntry struct {
	id uint64
	fn Filter
}

// AddIncomingFilter inserts fn at the end of the chain applied to every
// message read from the transport, before routing. The returned Handle
// removes it.
func (c *Connection) AddIncomingFilter(fn Filter) (*Handle, error) {
	if crashed, err := c.get(); crashed {
		return nil, &NotRunningError{Cause: err}
	}
	c.filterMu.Lock()
	c.nextFiltID++
	id := c.nextFiltID
	c.incoming = append(c.incoming, &filterEntry{id: id, fn: fn})
	c.filterMu.Unlock()

	return &Handle{remove: func() { c.removeFilter(&c.incoming, id) }}, nil
}

// AddOutgoingFilter inserts fn at the end of the chain applied to every
// message about to be written to the transport, while outgoingM is held.
// The returned Handle removes it.
func (c *Connection) AddOutgoingFilter(fn Filter) (*Handle, error) {
	if crashed, err := c.get(); crashed {
		return nil, &NotRunningError{Cause: err}
	}
	c.filterMu.Lock()
	c.nextFiltID++
	id := c.nextFiltID
	c.outgoing = append(c.outgoing, &filterEntry{id: id, fn: fn})
	c.filterMu.Unlock()

	return &Handle{remove: func() { c.removeFilter(&c.outgoing, id) }}, nil
}

func (c *Connection) removeFilter(chain *[]*filterEntry, id uint64) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	entries := *chain
	for i, e := range entries {
		if e.id == id {
			*chain = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

func (c *Connection) snapshotIncoming() []*filterEntry {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	out := make([]*filterEntry, len(c.incoming))
	copy(out, c.incoming)
	return out
}

func (c *Connection) snapshotOutgoingLocked() []*filterEntry {
	// Called with outgoingM already held by the sender, so the filter
	// list itself still needs its own lock against concurrent
	// Add/RemoveFilter calls from other goroutines.
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	out := make([]*filterEntry, len(c.outgoing))
	copy(out, c.outgoing)
	return out
}

// runFilters folds msg through chain left to right. ok is false the
// moment any filter drops the message (by returning nil or an error);
// the caller is responsible for treating that as "dropped", not "fatal".
func runFilters(chain []*filterEntry, msg *message.Message, log interface{ Warningf(string, ...interface{}) }) (*message.Message, bool) {
	cur := msg
	for _, e := range chain {
		next, err := callFilter(e.fn, cur)
		if err != nil {
			log.Warningf("dbus: filter dropped message (serial %d): %v", cur.Serial, err)
			return nil, false
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func callFilter(fn Filter, msg *message.Message) (m *message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter panic: %v", r)
		}
	}()
	return fn(msg)
}
