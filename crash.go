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
	"os"
)

// setCrash is the single one-way transition from running to crashed. It
// is idempotent: every call after the first is a no-op that returns the
// error recorded by the first call, never the error it was passed. It is
// the only place that tears down connection-wide state, and it always
// runs to completion even when called concurrently from a send path and
// from the dispatcher.
func (c *Connection) setCrash(err error) error {
	c.mu.Lock()
	if c.crashErr != nil {
		final := c.crashErr
		c.mu.Unlock()
		return final
	}
	c.crashErr = err
	c.mu.Unlock()

	if c.guid != "" && c.registry != nil {
		c.registry.remove(c.guid, c)
	}

	// Wake anything blocked in Watch or racing the dispatcher's next read.
	close(c.crashed)

	// A paused dispatcher (SetDown) must be released rather than left
	// waiting on a down-gate that will never be lifted.
	c.downMu.Lock()
	if c.downCh != nil {
		close(c.downCh)
		c.downCh = nil
	}
	c.downMu.Unlock()

	// Every outstanding reply waiter resolves to the crash error; none of
	// them will ever see a Method-Return or Error now.
	c.replyMu.Lock()
	for serial, ch := range c.replyWaiters {
		ch <- &replyResult{err: err}
		delete(c.replyWaiters, serial)
	}
	c.replyWaiters = map[uint32]chan *replyResult{}
	c.replyMu.Unlock()

	// Exported objects are notified once each, then the table is cleared
	// so routeMethodCall can no longer reach them and so this connection
	// does not keep them alive past its own lifetime.
	c.objectMu.Lock()
	objs := c.exportedObjects
	c.exportedObjects = nil
	c.objectMu.Unlock()

	for path, obj := range objs {
		c.invokeClosedHook(path, obj, err)
	}

	// A caller-initiated Close should not race the send that triggered it:
	// acquiring and releasing outgoingM here waits out any send already in
	// flight before the transport goes away.
	if errors.Is(err, ErrConnectionClosed) {
		c.outgoingM.Lock()
		c.outgoingM.Unlock()
	}

	_ = c.transport.Shutdown()

	if !errors.Is(err, ErrConnectionClosed) {
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		} else {
			c.defaultDisconnectHandler(err)
		}
	}

	return err
}

// defaultDisconnectHandler is what runs when a connection crashes for a
// reason other than a user-initiated Close and no handler was installed
// via WithDisconnectHandler. There is no reasonable way for a library to
// keep running a program whose only connection to its D-Bus peer just
// died and that never asked to be told about it, so this logs and exits.
// Anything that wants to survive a crash must install its own handler.
func (c *Connection) defaultDisconnectHandler(err error) {
	c.log.Errorf("dbus: connection crashed with no disconnect handler installed: %v", err)
	os.Exit(1)
}

func (c *Connection) invokeClosedHook(path string, obj ExportedObject, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warningf("exported object %s panicked handling connection close: %v", path, r)
		}
	}()
	obj.Closed(err)
}
