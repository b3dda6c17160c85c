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

import "github.com/godbusd/dbus/message"

// handleReply completes the reply waiter registered under msg's
// ReplySerial, if any. A reply with no matching waiter is not an error:
// the call may have been sent with SendMessage, which registers no
// waiter, or the serial may belong to a message this connection never
// sent (a misbehaving peer). Either way it is logged at debug level and
// dropped.
func (c *Connection) handleReply(msg *message.Message) {
	c.replyMu.Lock()
	ch, ok := c.replyWaiters[msg.ReplySerial]
	if ok {
		delete(c.replyWaiters, msg.ReplySerial)
	}
	c.replyMu.Unlock()

	if !ok {
		c.log.Debugf("dbus: reply serial %d has no registered waiter, dropping", msg.ReplySerial)
		return
	}
	ch <- &replyResult{msg: msg}
}
