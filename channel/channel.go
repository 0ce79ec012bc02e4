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

// Package channel implements the kernel-mediated transport between the VFS
// and user-space drivers.
//
// A Channel has one master endpoint, held by the process that created it,
// and any number of slave endpoints opened by other processes. Each endpoint
// has its own mailbox. Slaves send to the master; the master addresses
// individual slaves by ID. Call layers request/response semantics on top.
package channel

import (
	"fmt"
	"sync"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/internal/mailbox"
	"github.com/jacobsa/fiu/message"
	"golang.org/x/net/context"
)

// The number of distinct slave IDs a channel can hand out over its lifetime.
const maxSlaves = 1 << 16

// The master end of a channel, and the set of slaves opened on it.
type Channel struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	cfg      Config
	name     string
	owner    int
	provider *message.Provider
	master   *mailbox.Mailbox

	// Storage charged to the allocator for the name.
	nameBuf []byte

	// The table the name is registered in, or nil for an anonymous channel.
	table *Table

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// GUARDED_BY(mu)
	slaves map[uint16]*Slave

	// The ID for the next slave. Strictly increasing; IDs are never reused.
	//
	// INVARIANT: nextSlaveID <= maxSlaves
	// INVARIANT: For all keys k in slaves, k < nextSlaveID
	//
	// GUARDED_BY(mu)
	nextSlaveID uint32

	// GUARDED_BY(mu)
	closed bool
}

// Create a channel that is not registered in any name table. The calling
// process pid becomes its owner. Devices use such channels; everybody else
// should use Table.Create.
func New(pid int, name string, cfg Config) (c *Channel, err error) {
	cfg = cfg.withDefaults()

	if err = checkName(name, cfg.NameMax); err != nil {
		return
	}

	c, err = newChannel(pid, name, cfg, nil)
	return
}

func checkName(name string, max int) error {
	if name == "" {
		return fmt.Errorf("empty channel name: %w", fiu.ErrInvalidArgument)
	}

	if len(name) > max {
		return fmt.Errorf(
			"channel name of %d bytes exceeds limit of %d: %w",
			len(name),
			max,
			fiu.ErrInvalidArgument)
	}

	return nil
}

func newChannel(
	pid int,
	name string,
	cfg Config,
	table *Table) (c *Channel, err error) {
	nameBuf, err := cfg.Allocator.Alloc(len(name))
	if err != nil {
		err = fmt.Errorf("allocating name: %w", err)
		return
	}

	copy(nameBuf, name)

	c = &Channel{
		cfg:      cfg,
		name:     name,
		owner:    pid,
		provider: message.NewProvider(cfg.Allocator),
		nameBuf:  nameBuf,
		table:    table,
		slaves:   make(map[uint16]*Slave),
	}

	c.master = mailbox.New(cfg.Blocker, c.provider.Free)

	cfg.Logger.Printf("Channel %q created by pid %d", name, pid)
	return
}

func (c *Channel) Name() string {
	return c.name
}

// Return the pid of the process that created the channel.
func (c *Channel) Owner() int {
	return c.owner
}

// Return the provider used for messages on this channel. Messages sent on
// the channel, or received from it, are released with its Free method.
func (c *Channel) Provider() *message.Provider {
	return c.provider
}

// Allocate a message with a fresh ID for sending on this channel.
func (c *Channel) NewMessage(op message.Op, capacity int) (*message.Message, error) {
	return c.provider.New(op, capacity)
}

// Release a message allocated by or received from this channel.
func (c *Channel) FreeMessage(m *message.Message) {
	c.provider.Free(m)
}

// Open a new slave endpoint on behalf of process pid.
func (c *Channel) Open(pid int) (s *Slave, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		err = fmt.Errorf("open %q: %w", c.name, fiu.ErrChannelClosed)
		return
	}

	if c.nextSlaveID >= maxSlaves {
		err = fmt.Errorf("open %q: slave IDs exhausted: %w", c.name, fiu.ErrOutOfMemory)
		return
	}

	s = &Slave{
		id:     uint16(c.nextSlaveID),
		parent: c,
		owner:  pid,
	}

	s.mb = mailbox.New(c.cfg.Blocker, c.provider.Free)

	c.nextSlaveID++
	c.slaves[s.id] = s

	c.cfg.Logger.Printf("Channel %q: slave %d opened by pid %d", c.name, s.id, pid)
	return
}

// Return the open slave with the given ID.
func (c *Channel) Slave(id uint16) (s *Slave, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok = c.slaves[id]
	return
}

// Return the number of open slaves.
func (c *Channel) NumSlaves() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.slaves)
}

// Deliver m to the mailbox of the slave with the given ID. Ownership of m
// passes to the channel on success only.
//
// Fails with ErrInvalidArgument if no such slave is open.
func (c *Channel) SendToSlave(id uint16, m *message.Message) error {
	c.mu.Lock()
	closed := c.closed
	s, ok := c.slaves[id]
	c.mu.Unlock()

	if closed {
		return fmt.Errorf("send on %q: %w", c.name, fiu.ErrChannelClosed)
	}

	if !ok {
		return fmt.Errorf("send on %q: unknown slave %d: %w", c.name, id, fiu.ErrInvalidArgument)
	}

	m.Slave = id
	return s.mb.Enqueue(m)
}

// Send a frame written by the master process: a header naming the message
// ID and the destination slave (see message.PutHeader), followed by the
// payload. Returns the number of bytes consumed, which is len(p) on success.
//
// Fails with ErrInvalidArgument if the header is malformed or names a slave
// that is not open.
func (c *Channel) Write(p []byte) (n int, err error) {
	id, slave, err := message.ParseHeader(p)
	if err != nil {
		return
	}

	m, err := c.frameMessage(id, p[message.HeaderSize:])
	if err != nil {
		return
	}

	if err = c.SendToSlave(slave, m); err != nil {
		c.provider.Free(m)
		return
	}

	n = len(p)
	return
}

func (c *Channel) frameMessage(
	id message.ID,
	payload []byte) (m *message.Message, err error) {
	m, err = c.provider.New(id.Op(), len(payload))
	if err != nil {
		return
	}

	m.ID = id
	if _, err = m.Write(payload); err != nil {
		c.provider.Free(m)
		m = nil
	}

	return
}

// Read payload bytes sent by slaves into p, blocking until there is a
// message. See Slave.Receive for the partial read semantics.
func (c *Channel) Receive(ctx context.Context, p []byte) (int, error) {
	return c.master.Receive(ctx, p)
}

// Remove and return the next message sent by a slave, blocking until there
// is one. Its Slave field names the sender. The caller owns the result and
// must release it with FreeMessage.
func (c *Channel) Dequeue(ctx context.Context) (*message.Message, error) {
	return c.master.Dequeue(ctx)
}

// Return the number of messages waiting for the master.
func (c *Channel) Pending() int {
	return c.master.Len()
}

// Close the master end: remove the name from its table, free every message
// waiting for the master, and disconnect the slaves. Slaves are not closed;
// their owners must still close them, but messages already delivered to them
// may be read first. Every further send on the channel, and any call
// awaiting a response from the master, fails with ErrChannelClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("close %q: %w", c.name, fiu.ErrChannelClosed)
	}

	c.closed = true
	slaves := make([]*Slave, 0, len(c.slaves))
	for _, s := range c.slaves {
		slaves = append(slaves, s)
	}
	c.mu.Unlock()

	if c.table != nil {
		c.table.remove(c)
	}

	c.master.Close()
	for _, s := range slaves {
		s.mb.Disconnect()
	}

	c.cfg.Allocator.Free(c.nameBuf)
	c.nameBuf = nil

	c.cfg.Logger.Printf("Channel %q closed with %d slaves open", c.name, len(slaves))
	return nil
}

// Return true if Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}
