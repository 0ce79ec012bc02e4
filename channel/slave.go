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

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/internal/mailbox"
	"github.com/jacobsa/fiu/message"
	"golang.org/x/net/context"
)

// A slave endpoint of a channel, belonging to the process that opened it.
type Slave struct {
	id     uint16
	parent *Channel
	owner  int
	mb     *mailbox.Mailbox
}

// Return the slave's address within its channel.
func (s *Slave) ID() uint16 {
	return s.id
}

// Return the channel the slave was opened on.
func (s *Slave) Channel() *Channel {
	return s.parent
}

// Return the pid of the process that opened the slave.
func (s *Slave) Owner() int {
	return s.owner
}

// Allocate a message with a fresh ID for sending on the slave's channel.
func (s *Slave) NewMessage(op message.Op, capacity int) (*message.Message, error) {
	return s.parent.provider.New(op, capacity)
}

// Release a message allocated by or received from the slave's channel.
func (s *Slave) FreeMessage(m *message.Message) {
	s.parent.provider.Free(m)
}

// Send m to the master, tagged with this slave's ID so that the master can
// reply. Ownership of m passes to the channel on success only.
func (s *Slave) Send(m *message.Message) error {
	if s.parent.Closed() {
		return fmt.Errorf("send on %q: %w", s.parent.name, fiu.ErrChannelClosed)
	}

	m.Slave = s.id
	return s.parent.master.Enqueue(m)
}

// Send a frame to the master: a header as written by message.PutHeader,
// followed by the payload. The slave field of the header is ignored.
func (s *Slave) Write(p []byte) (n int, err error) {
	id, _, err := message.ParseHeader(p)
	if err != nil {
		return
	}

	m, err := s.parent.frameMessage(id, p[message.HeaderSize:])
	if err != nil {
		return
	}

	if err = s.Send(m); err != nil {
		s.parent.provider.Free(m)
		return
	}

	n = len(p)
	return
}

// Copy payload bytes sent by the master into p, blocking until there is a
// message, and return the number of bytes copied. If p is smaller than what
// remains of the message, the rest stays at the front of the mailbox and is
// returned by the next call. A message is released once it has been read in
// full.
//
// Fails with ErrInvalidArgument if p is empty while a message has payload
// left.
func (s *Slave) Receive(ctx context.Context, p []byte) (int, error) {
	return s.mb.Receive(ctx, p)
}

// Remove and return the next message sent by the master, blocking until there
// is one. The caller owns the result and must release it with FreeMessage.
func (s *Slave) Dequeue(ctx context.Context) (*message.Message, error) {
	return s.mb.Dequeue(ctx)
}

// Return the number of messages waiting for this slave.
func (s *Slave) Pending() int {
	return s.mb.Len()
}

// Remove the slave from its channel and free every message waiting for it.
func (s *Slave) Close() error {
	c := s.parent

	c.mu.Lock()
	if _, ok := c.slaves[s.id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("slave %d of %q already closed: %w", s.id, c.name, fiu.ErrInvalidArgument)
	}

	delete(c.slaves, s.id)
	c.mu.Unlock()

	s.mb.Close()

	c.cfg.Logger.Printf("Channel %q: slave %d closed", c.name, s.id)
	return nil
}
