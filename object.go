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
	"sort"
	"strings"

	"github.com/godbusd/dbus/introspect"
	"github.com/godbusd/dbus/message"
)

// ExportedObject handles method calls routed to one object path. A
// handler is responsible for sending exactly one reply per call it
// accepts, via Connection.SendReply, SendError or SendException; the
// core does not send an implicit reply on the handler's behalf. Closed
// is invoked once, with the connection's crash error, when the
// connection that exported this object crashes; an exported object
// should not hold a strong reference back to its Connection, since doing
// so would keep the connection (and the cycle of object owning
// connection owning object) alive past its natural lifetime — Closed is
// how an object learns it must let go.
type ExportedObject interface {
	HandleCall(ctx context.Context, conn *Connection, msg *message.Message)
	Closed(err error)
}

// ExportObject registers obj to handle calls addressed to path. The
// returned Handle unexports it; unexporting is also implicit when the
// connection crashes, at which point Closed is called instead.
func (c *Connection) ExportObject(path string, obj ExportedObject) (*Handle, error) {
	if crashed, err := c.get(); crashed {
		return nil, &NotRunningError{Cause: err}
	}
	c.objectMu.Lock()
	if c.exportedObjects == nil {
		c.objectMu.Unlock()
		return nil, c.notRunningErr()
	}
	c.exportedObjects[path] = obj
	c.objectMu.Unlock()

	return &Handle{remove: func() { c.Unexport(path) }}, nil
}

// Unexport removes whatever object is registered at path, if any.
func (c *Connection) Unexport(path string) {
	c.objectMu.Lock()
	if c.exportedObjects != nil {
		delete(c.exportedObjects, path)
	}
	c.objectMu.Unlock()
}

// routeMethodCall dispatches one incoming Method-Call: the Peer
// interface is always handled inline regardless of what is exported at
// the call's path, an exact path match goes to its handler, and a path
// with no handler of its own but with exported descendants gets a
// synthesized Introspect reply describing those descendants. Anything
// else fails with "no such object".
func (c *Connection) routeMethodCall(ctx context.Context, msg *message.Message) {
	if msg.Interface == message.InterfacePeer {
		c.handlePeerCall(ctx, msg)
		return
	}

	c.objectMu.Lock()
	obj, ok := c.exportedObjects[msg.Path]
	var snapshot map[string]ExportedObject
	if !ok {
		snapshot = make(map[string]ExportedObject, len(c.exportedObjects))
		for k, v := range c.exportedObjects {
			snapshot[k] = v
		}
	}
	c.objectMu.Unlock()

	if ok {
		c.invokeHandler(ctx, obj, msg)
		return
	}

	if msg.Member == message.MemberIntrospect &&
		(msg.Interface == "" || msg.Interface == message.InterfaceIntrospectable) {
		if children, has := computeChildren(snapshot, msg.Path); has {
			c.sendIntrospectReply(ctx, msg, children)
			return
		}
	}

	c.SendError(ctx, msg, message.ErrNameFailed, fmt.Sprintf("No such object: %s", msg.Path))
}

func (c *Connection) invokeHandler(ctx context.Context, obj ExportedObject, msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("dbus: exported object handler for %s panicked: %v", msg.Path, r)
		}
	}()
	obj.HandleCall(ctx, c, msg)
}

func (c *Connection) handlePeerCall(ctx context.Context, msg *message.Message) {
	switch msg.Member {
	case message.MemberPing:
		c.SendReply(ctx, msg, nil)
	case message.MemberGetMachineId:
		c.SendReply(ctx, msg, []interface{}{c.machineID.get()})
	default:
		c.SendError(ctx, msg, message.ErrNameUnknownMethod,
			fmt.Sprintf("Unknown method %q on interface %q", msg.Member, message.InterfacePeer))
	}
}

func (c *Connection) sendIntrospectReply(ctx context.Context, msg *message.Message, children []string) {
	node := introspect.VirtualParent(children)
	xmlDoc, err := introspect.Marshal(node)
	if err != nil {
		c.SendError(ctx, msg, message.ErrNameFailed, err.Error())
		return
	}
	c.SendReply(ctx, msg, []interface{}{xmlDoc})
}

// computeChildren returns the sorted, de-duplicated set of immediate path
// components directly beneath path among objs' keys, and whether path
// has any exported descendant at all.
func computeChildren(objs map[string]ExportedObject, path string) ([]string, bool) {
	seen := map[string]struct{}{}
	for p := range objs {
		if p == path || !isAncestorPath(path, p) {
			continue
		}
		seen[childComponent(path, p)] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, false
	}
	children := make([]string, 0, len(seen))
	for c := range seen {
		children = append(children, c)
	}
	sort.Strings(children)
	return children, true
}

func isAncestorPath(ancestor, descendant string) bool {
	if ancestor == "/" {
		return descendant != "/" && strings.HasPrefix(descendant, "/")
	}
	return strings.HasPrefix(descendant, ancestor+"/")
}

func childComponent(ancestor, descendant string) string {
	rest := strings.TrimPrefix(descendant, ancestor)
	rest = strings.TrimPrefix(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}
