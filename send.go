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
	"errors"

	"github.com/godbusd/dbus/message"
)

// SendMessage assigns msg a serial, runs it through the outgoing filter
// chain, and writes it to the transport. It does not wait for a reply
// even if msg is a method call that expects one; use SendMessageWithReply
// for that.
func (c *Connection) SendMessage(ctx context.Context, msg *message.Message) error {
	if crashed, err := c.get(); crashed {
		return &NotRunningError{Cause: err}
	}
	_, err := c.send(ctx, msg, false)
	return err
}

// SendMessageWithReply sends msg, which must be a method call expecting a
// reply, and blocks until the Method-Return or Error arrives, the
// connection crashes, or ctx is done. Cancelling ctx only abandons this
// call's wait; the reply waiter stays registered and, should a reply
// eventually arrive, is simply discarded as unmatched-looking (the
// registration is removed only by a later crash or by the reply itself).
func (c *Connection) SendMessageWithReply(ctx context.Context, msg *message.Message) (*message.Message, error) {
	if crashed, err := c.get(); crashed {
		return nil, &NotRunningError{Cause: err}
	}
	ch, err := c.send(ctx, msg, true)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send performs the atomic serial-assign/filter/register/write sequence.
// wantsReply controls whether a reply waiter channel is created and
// registered before the transport write, so that a reply arriving on the
// dispatcher goroutine the instant after the write can never find the
// table empty.
func (c *Connection) send(ctx context.Context, msg *message.Message, wantsReply bool) (chan *replyResult, error) {
	c.outgoingM.Lock()
	defer c.outgoingM.Unlock()

	if crashed, err := c.get(); crashed {
		return nil, &NotRunningError{Cause: err}
	}

	msg.Serial = c.nextSerial

	filtered, ok := runFilters(c.snapshotOutgoingLocked(), msg, c.log)
	if !ok {
		return nil, ErrFilterDropped
	}
	msg = filtered

	if msg.Signature != "" {
		if err := c.codec.Encode(msg.Signature, msg.Body); err != nil {
			// Caught before anything is registered or written: the
			// serial is not consumed and nothing needs unregistering.
			return nil, err
		}
	}

	var replyCh chan *replyResult
	if wantsReply {
		replyCh = make(chan *replyResult, 1)
		c.replyMu.Lock()
		c.replyWaiters[msg.Serial] = replyCh
		c.replyMu.Unlock()
	}

	if err := c.transport.Send(ctx, msg); err != nil {
		var dataErr *message.DataError
		if errors.As(err, &dataErr) {
			// Encoding failures are the caller's fault, not the
			// transport's: nothing reached the wire, so the serial is
			// not consumed and the connection stays up; the dead
			// registration must not linger.
			if wantsReply {
				c.replyMu.Lock()
				delete(c.replyWaiters, msg.Serial)
				c.replyMu.Unlock()
			}
			return nil, err
		}
		finalErr := c.setCrash(&TransportError{Err: err})
		return nil, &NotRunningError{Cause: finalErr}
	}

	c.advanceSerialLocked()
	return replyCh, nil
}

func (c *Connection) advanceSerialLocked() {
	c.nextSerial++
	if c.nextSerial == 0 {
		c.nextSerial = 1 // serial 0 never denotes a real message
	}
}

// MethodCall sends a method call and decodes the reply: on a Method-Return
// it returns the reply body, on an Error it returns a *message.Error.
func (c *Connection) MethodCall(ctx context.Context, dest, path, iface, member string, args []interface{}) ([]interface{}, error) {
	msg := &message.Message{
		Type:        message.TypeMethodCall,
		Destination: dest,
		Path:        path,
		Interface:   iface,
		Member:      member,
		Body:        args,
	}
	reply, err := c.SendMessageWithReply(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply.Type == message.TypeError {
		return nil, message.NewError(reply.ErrorName, reply.Body)
	}
	return reply.Body, nil
}

// MethodCallInto sends a method call exactly like MethodCall, but decodes
// the returned body into out (a slice of pointers, one per expected
// return value) using the connection's Codec instead of handing back a
// raw []interface{}. A CastFailure or SignatureMismatch from the codec is
// returned to the caller the same way any other send error is; it never
// crashes the connection.
func (c *Connection) MethodCallInto(ctx context.Context, dest, path, iface, member string, args []interface{}, out []interface{}) error {
	body, err := c.MethodCall(ctx, dest, path, iface, member, args)
	if err != nil {
		return err
	}
	return c.codec.Decode(body, out)
}

// MethodCallNoReply sends a method call with the no-reply-expected flag
// set, returning as soon as the write completes.
func (c *Connection) MethodCallNoReply(ctx context.Context, dest, path, iface, member string, args []interface{}) error {
	msg := &message.Message{
		Type:        message.TypeMethodCall,
		Flags:       message.Flags{NoReplyExpected: true},
		Destination: dest,
		Path:        path,
		Interface:   iface,
		Member:      member,
		Body:        args,
	}
	return c.SendMessage(ctx, msg)
}

// EmitSignal broadcasts a signal from path/iface/member with the given
// body.
func (c *Connection) EmitSignal(ctx context.Context, path, iface, member string, args []interface{}) error {
	msg := &message.Message{
		Type:      message.TypeSignal,
		Path:      path,
		Interface: iface,
		Member:    member,
		Body:      args,
	}
	return c.SendMessage(ctx, msg)
}

// SendReply answers an incoming method call with a Method-Return carrying
// body. call.Sender and call.Serial are used to address and correlate the
// reply; it is the exported object handler's responsibility to call this
// (or SendError/SendException) exactly once per call it accepts.
func (c *Connection) SendReply(ctx context.Context, call *message.Message, body []interface{}) error {
	msg := &message.Message{
		Type:        message.TypeMethodReturn,
		Destination: call.Sender,
		ReplySerial: call.Serial,
		Body:        body,
	}
	return c.SendMessage(ctx, msg)
}

// SendError answers an incoming method call with an Error reply named
// name. If text is non-empty it becomes the error's single string body
// argument.
func (c *Connection) SendError(ctx context.Context, call *message.Message, name, text string) error {
	var body []interface{}
	if text != "" {
		body = []interface{}{text}
	}
	msg := &message.Message{
		Type:        message.TypeError,
		Destination: call.Sender,
		ReplySerial: call.Serial,
		ErrorName:   name,
		Body:        body,
	}
	return c.SendMessage(ctx, msg)
}

// SendException answers an incoming method call with an Error reply
// derived from err: a *message.Error is forwarded as-is, anything else
// becomes org.freedesktop.DBus.Error.Failed with err.Error() as its text.
func (c *Connection) SendException(ctx context.Context, call *message.Message, err error) error {
	var de *message.Error
	if errors.As(err, &de) {
		return c.SendError(ctx, call, de.Name, de.Msg)
	}
	return c.SendError(ctx, call, message.ErrNameFailed, err.Error())
}
