// Copyright 2015 Google Inc. All Rights Reserved.
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

package channel

import (
	"fmt"

	"github.com/jacobsa/fiu/internal/mailbox"
	"github.com/jacobsa/fiu/message"
	"github.com/jacobsa/reqtrace"
	"golang.org/x/net/context"
)

// Send a copy of req to the master and block until the master sends back a
// message with the same ID, then return that response.
//
// The caller keeps ownership of req and becomes the owner of the response;
// both must be released with FreeMessage. Calls from different goroutines on
// the same slave do not interfere as long as their requests have distinct
// IDs, which is the case for messages allocated with NewMessage.
//
// If sending fails the error is returned without blocking. There is no
// timeout: a peer that never answers blocks the caller until ctx is done or
// the master is closed, in which case the error wraps ErrChannelClosed.
func (s *Slave) Call(
	ctx context.Context,
	req *message.Message) (resp *message.Message, err error) {
	send := func(m *message.Message) error { return s.Send(m) }
	resp, err = s.parent.call(ctx, req, send, s.mb)
	return
}

// Send a copy of req to the slave with the given ID and block until that
// slave sends back a message with the same ID. The ownership rules are as for
// Slave.Call.
//
// The response is picked out of the master's mailbox by ID; a master that
// is also draining its mailbox with Dequeue may take it first, in which case
// the call fails with ErrNoData.
func (c *Channel) Call(
	ctx context.Context,
	slave uint16,
	req *message.Message) (resp *message.Message, err error) {
	send := func(m *message.Message) error { return c.SendToSlave(slave, m) }
	resp, err = c.call(ctx, req, send, c.master)
	return
}

func (c *Channel) call(
	ctx context.Context,
	req *message.Message,
	send func(*message.Message) error,
	inbox *mailbox.Mailbox) (resp *message.Message, err error) {
	desc := fmt.Sprintf("%s %v", c.name, req.ID.Op())

	// Set up a trace span for this call.
	var report reqtrace.ReportFunc
	ctx, report = reqtrace.StartSpan(ctx, desc)
	defer func() { report(err) }()

	start := c.cfg.Clock.Now()
	id := req.ID

	// The request travels as a copy so that the caller keeps req.
	out, err := c.provider.Clone(req)
	if err != nil {
		err = fmt.Errorf("Clone: %w", err)
		return
	}

	if err = send(out); err != nil {
		c.provider.Free(out)
		err = fmt.Errorf("Send: %w", err)
		return
	}

	// Wait for the response tagged with our ID.
	resp, err = inbox.Await(ctx, id)
	if err != nil {
		c.cfg.Logger.Printf("-> (%s) error: %v", desc, err)
		err = fmt.Errorf("Await %v: %w", id, err)
		return
	}

	c.cfg.Logger.Printf("-> (%s) OK in %v", desc, c.cfg.Clock.Now().Sub(start))
	return
}
