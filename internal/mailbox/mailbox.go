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

// Package mailbox implements the ordered, lock-protected message queue that
// backs every channel endpoint.
package mailbox

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/message"
	"github.com/jacobsa/fiu/sched"
	"golang.org/x/net/context"
)

// A FIFO of messages. Messages are moved in by Enqueue and out by Dequeue,
// Receive or Await; the mailbox owns them in between.
type Mailbox struct {
	blocker sched.Blocker

	// Called for messages the mailbox disposes of itself: fully drained by
	// Receive, or discarded by Close.
	free func(*message.Message)

	mu sync.Mutex

	// Queued messages, in delivery order. Elements are *message.Message.
	//
	// GUARDED_BY(mu)
	msgs list.List

	// The number of callers in Await for each ID.
	//
	// GUARDED_BY(mu)
	awaiting map[message.ID]int

	// Set by Disconnect. Queued messages may still be read, but nothing new
	// arrives.
	//
	// GUARDED_BY(mu)
	disconnected bool

	// Set by Close. Everything fails.
	//
	// GUARDED_BY(mu)
	closed bool
}

// The key on which callers of Await for a given ID are parked.
type responseKey struct {
	mb *Mailbox
	id message.ID
}

// Create an empty mailbox that parks readers with b and releases messages it
// disposes of with free.
func New(b sched.Blocker, free func(*message.Message)) *Mailbox {
	return &Mailbox{
		blocker:  b,
		free:     free,
		awaiting: make(map[message.ID]int),
	}
}

// Append m and wake readers. Ownership of m passes to the mailbox on success
// and stays with the caller on failure.
func (mb *Mailbox) Enqueue(m *message.Message) error {
	mb.mu.Lock()
	if err := mb.writableLocked(); err != nil {
		mb.mu.Unlock()
		return err
	}

	mb.msgs.PushBack(m)
	id := m.ID
	mb.mu.Unlock()

	mb.blocker.Notify(mb)
	mb.blocker.Notify(responseKey{mb, id})

	return nil
}

// Remove and return the message at the front, blocking until there is one.
func (mb *Mailbox) Dequeue(ctx context.Context) (m *message.Message, err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for {
		if err = mb.readableLocked(); err != nil {
			return
		}

		if e := mb.msgs.Front(); e != nil {
			m = mb.msgs.Remove(e).(*message.Message)
			return
		}

		if err = mb.blocker.Block(ctx, mb, &mb.mu); err != nil {
			return
		}
	}
}

// Copy the unread payload of the front message into p, blocking until there
// is a message. If p is too small the message goes back to the front with
// the bytes read retired, so that repeated calls drain it in order. A
// message is freed once all of its payload has been read.
//
// Fails with ErrInvalidArgument if p is empty while payload is outstanding.
func (mb *Mailbox) Receive(ctx context.Context, p []byte) (n int, err error) {
	m, err := mb.Dequeue(ctx)
	if err != nil {
		return
	}

	if len(p) == 0 && !m.Drained() {
		err = fmt.Errorf("zero-length read with %d bytes pending: %w", len(m.Remaining()), fiu.ErrInvalidArgument)
		mb.requeue(m)
		return
	}

	n = copy(p, m.Remaining())
	m.Advance(n)

	if !m.Drained() {
		mb.requeue(m)
		return
	}

	mb.free(m)
	return
}

// Put a partially read message back at the front. If the mailbox was closed
// in the meantime the message is freed instead.
func (mb *Mailbox) requeue(m *message.Message) {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		mb.free(m)
		return
	}

	mb.msgs.PushFront(m)
	id := m.ID
	mb.mu.Unlock()

	mb.blocker.Notify(mb)
	mb.blocker.Notify(responseKey{mb, id})
}

// Remove and return the first message with the given ID, blocking until it is
// enqueued. The caller is parked on that ID alone, so messages with other IDs
// do not wake it.
//
// Fails with ErrNoData if the caller was woken for id but the message was not
// there, meaning somebody else consumed it.
func (mb *Mailbox) Await(
	ctx context.Context,
	id message.ID) (m *message.Message, err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if m = mb.takeLocked(id); m != nil {
		return
	}

	if err = mb.awaitableLocked(); err != nil {
		return
	}

	mb.awaiting[id]++
	err = mb.blocker.Block(ctx, responseKey{mb, id}, &mb.mu)
	if mb.awaiting[id]--; mb.awaiting[id] == 0 {
		delete(mb.awaiting, id)
	}

	if err != nil {
		return
	}

	if m = mb.takeLocked(id); m != nil {
		return
	}

	if err = mb.awaitableLocked(); err != nil {
		return
	}

	err = fmt.Errorf("message %v missing after wake-up: %w", id, fiu.ErrNoData)
	return
}

// Remove and return the first message with the given ID without blocking.
func (mb *Mailbox) Take(id message.ID) (m *message.Message, ok bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	m = mb.takeLocked(id)
	ok = m != nil
	return
}

// Return the number of queued messages.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.msgs.Len()
}

// Refuse further messages because the peer has gone away. Messages already
// queued may still be read; once they are gone, reads fail with
// ErrChannelClosed. Blocked readers are woken.
func (mb *Mailbox) Disconnect() {
	mb.mu.Lock()
	mb.disconnected = true
	keys := mb.waitKeysLocked()
	mb.mu.Unlock()

	for _, k := range keys {
		mb.blocker.Notify(k)
	}
}

// Free every queued message and fail all further operations with
// ErrChannelClosed. Blocked readers are woken.
func (mb *Mailbox) Close() {
	mb.mu.Lock()
	mb.closed = true

	var drained []*message.Message
	for e := mb.msgs.Front(); e != nil; e = mb.msgs.Front() {
		drained = append(drained, mb.msgs.Remove(e).(*message.Message))
	}

	keys := mb.waitKeysLocked()
	mb.mu.Unlock()

	for _, m := range drained {
		mb.free(m)
	}

	for _, k := range keys {
		mb.blocker.Notify(k)
	}
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// LOCKS_REQUIRED(mb.mu)
func (mb *Mailbox) takeLocked(id message.ID) *message.Message {
	for e := mb.msgs.Front(); e != nil; e = e.Next() {
		if m := e.Value.(*message.Message); m.ID == id {
			mb.msgs.Remove(e)
			return m
		}
	}

	return nil
}

// LOCKS_REQUIRED(mb.mu)
func (mb *Mailbox) writableLocked() error {
	if mb.closed || mb.disconnected {
		return fmt.Errorf("mailbox not accepting messages: %w", fiu.ErrChannelClosed)
	}

	return nil
}

// Return an error if a reader that found nothing queued should give up
// rather than block.
//
// LOCKS_REQUIRED(mb.mu)
func (mb *Mailbox) readableLocked() error {
	if mb.closed {
		return fmt.Errorf("mailbox closed: %w", fiu.ErrChannelClosed)
	}

	if mb.disconnected && mb.msgs.Len() == 0 {
		return fmt.Errorf("peer gone and mailbox empty: %w", fiu.ErrChannelClosed)
	}

	return nil
}

// Like readableLocked, but for a reader waiting on one particular message:
// once the peer is gone it can never arrive.
//
// LOCKS_REQUIRED(mb.mu)
func (mb *Mailbox) awaitableLocked() error {
	if mb.closed || mb.disconnected {
		return fmt.Errorf("awaited message can no longer arrive: %w", fiu.ErrChannelClosed)
	}

	return nil
}

// LOCKS_REQUIRED(mb.mu)
func (mb *Mailbox) waitKeysLocked() []interface{} {
	keys := []interface{}{mb}
	for id := range mb.awaiting {
		keys = append(keys, responseKey{mb, id})
	}

	return keys
}
