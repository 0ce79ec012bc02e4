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

package message

import (
	"fmt"
	"sync"
)

// A Provider allocates messages for one sending channel, assigning each a
// sequence number unique among the provider's recent messages, and recycles
// the Message structs it has taken back.
//
// Safe for concurrent use.
type Provider struct {
	alloc Allocator

	mu sync.Mutex

	// The sequence number for the next message. Wraps at 24 bits.
	//
	// GUARDED_BY(mu)
	nextSeq uint32

	// Message structs available for reuse.
	//
	// GUARDED_BY(mu)
	free []*Message

	// The number of messages handed out by New and not yet given to Free.
	//
	// GUARDED_BY(mu)
	outstanding int
}

// Create a provider whose payload storage comes from alloc.
func NewProvider(alloc Allocator) *Provider {
	return &Provider{
		alloc:   alloc,
		nextSeq: 1,
	}
}

// Allocate a message with a fresh ID for the given op and room for capacity
// payload bytes. The payload starts out empty and zero-filled.
func (p *Provider) New(op Op, capacity int) (m *Message, err error) {
	if capacity < 0 {
		panic(fmt.Sprintf("Negative capacity: %d", capacity))
	}

	buf, err := p.alloc.Alloc(capacity)
	if err != nil {
		err = fmt.Errorf("Alloc: %w", err)
		return
	}

	p.mu.Lock()
	if n := len(p.free); n > 0 {
		m = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		m = new(Message)
	}

	seq := p.nextSeq
	p.nextSeq = (p.nextSeq + 1) & seqMask
	if p.nextSeq == 0 {
		p.nextSeq = 1
	}

	p.outstanding++
	p.mu.Unlock()

	*m = Message{
		ID:  MakeID(seq, op),
		buf: buf,
	}

	return
}

// Release a message obtained from New. m must not be used afterward. Free of
// a nil message is a no-op.
func (p *Provider) Free(m *Message) {
	if m == nil {
		return
	}

	if m.buf == nil && m.size == 0 && m.ID == 0 {
		panic("Free of a message that was already freed")
	}

	p.alloc.Free(m.buf)
	*m = Message{}

	p.mu.Lock()
	p.free = append(p.free, m)
	p.outstanding--
	p.mu.Unlock()
}

// Return the number of messages allocated and not yet freed.
func (p *Provider) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.outstanding
}

// Allocate a copy of m with the same ID, slave tag and payload. The copy's
// capacity equals m's payload length.
func (p *Provider) Clone(m *Message) (c *Message, err error) {
	c, err = p.New(m.ID.Op(), m.size)
	if err != nil {
		return
	}

	c.ID = m.ID
	c.Slave = m.Slave
	c.size = copy(c.buf, m.buf[:m.size])
	return
}
