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

// Package message contains the envelope carried by channels, the allocator
// contract it is built on, and a provider that hands out messages with fresh
// IDs.
package message

import (
	"encoding/binary"
	"fmt"

	"github.com/jacobsa/fiu"
)

// A variable-length byte envelope with an identifier.
//
// A message is owned by exactly one party at a time: the sender that
// allocated it, the mailbox it is queued in, or the receiver that dequeued
// it. It must not be touched after being handed to a mailbox.
type Message struct {
	// The op code and sequence number. Responses carry the ID of the request
	// they answer.
	ID ID

	// The slave endpoint this message came from (on the master side) or is
	// addressed to (on the slave side). Set by the channel.
	Slave uint16

	// Backing storage obtained from the allocator. len(buf) is the capacity;
	// buf[:size] is the payload.
	buf  []byte
	size int

	// The number of payload bytes already consumed by partial reads.
	//
	// INVARIANT: 0 <= off <= size <= len(buf)
	off int
}

// Return the payload.
func (m *Message) Payload() []byte {
	return m.buf[:m.size]
}

// Return the number of payload bytes.
func (m *Message) Len() int {
	return m.size
}

// Return the maximum number of payload bytes.
func (m *Message) Cap() int {
	return len(m.buf)
}

// Append p to the payload. Fails with ErrInvalidArgument, writing nothing, if
// the payload would exceed the capacity.
func (m *Message) Write(p []byte) (n int, err error) {
	if m.size+len(p) > len(m.buf) {
		err = fmt.Errorf(
			"write of %d bytes exceeds capacity %d: %w",
			len(p),
			len(m.buf)-m.size,
			fiu.ErrInvalidArgument)
		return
	}

	n = copy(m.buf[m.size:], p)
	m.size += n
	return
}

// Set the payload length, e.g. after filling Payload()[:n] of a message
// whose capacity was fully exposed with SetLen(Cap()).
func (m *Message) SetLen(n int) error {
	if n < 0 || n > len(m.buf) {
		return fmt.Errorf("length %d out of range [0, %d]: %w", n, len(m.buf), fiu.ErrInvalidArgument)
	}

	m.size = n
	if m.off > n {
		m.off = n
	}

	return nil
}

// Return the payload bytes not yet consumed by partial reads.
func (m *Message) Remaining() []byte {
	return m.buf[m.off:m.size]
}

// Retire the first n unread payload bytes. n is clamped to what remains.
func (m *Message) Advance(n int) {
	m.off += n
	if m.off > m.size {
		m.off = m.size
	}
}

// Return true if every payload byte has been consumed.
func (m *Message) Drained() bool {
	return m.off >= m.size
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{ID: %v, Slave: %d, Len: %d/%d}", m.ID, m.Slave, m.size, len(m.buf))
}

////////////////////////////////////////////////////////////////////////
// Frame header
////////////////////////////////////////////////////////////////////////

// The size of the header that precedes the payload in byte-oriented
// channel writes: a little-endian uint32 ID followed by a little-endian
// uint16 slave ID.
const HeaderSize = 6

// Write a frame header into p, which must be at least HeaderSize bytes.
func PutHeader(p []byte, id ID, slave uint16) {
	binary.LittleEndian.PutUint32(p[0:4], uint32(id))
	binary.LittleEndian.PutUint16(p[4:6], slave)
}

// Parse the frame header at the start of p. Fails with ErrInvalidArgument if
// p is too short or the op code is not part of the op set.
func ParseHeader(p []byte) (id ID, slave uint16, err error) {
	if len(p) < HeaderSize {
		err = fmt.Errorf("frame of %d bytes is shorter than its header: %w", len(p), fiu.ErrInvalidArgument)
		return
	}

	id = ID(binary.LittleEndian.Uint32(p[0:4]))
	slave = binary.LittleEndian.Uint16(p[4:6])

	if !id.Op().Valid() {
		err = fmt.Errorf("unknown op code in header: %v: %w", id.Op(), fiu.ErrInvalidArgument)
		return
	}

	return
}

// Return a frame holding the header for m followed by its payload.
func Frame(m *Message) []byte {
	p := make([]byte, HeaderSize+m.size)
	PutHeader(p, m.ID, m.Slave)
	copy(p[HeaderSize:], m.Payload())
	return p
}
