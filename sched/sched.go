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

// Package sched defines the narrow blocking contract the IPC core needs from
// a scheduler, along with an in-process implementation.
//
// The core never schedules anything itself. It parks the calling goroutine
// with Block and resumes it with Notify, re-checking its own condition after
// every wake.
package sched

import (
	"sync"

	"golang.org/x/net/context"
)

// A Blocker parks and resumes callers keyed by an arbitrary comparable value.
type Blocker interface {
	// Park the caller until Notify is called with the same key or ctx is done.
	//
	// If lock is non-nil it must be held by the caller. The waiter is
	// registered before lock is released, so a Notify issued by anybody who
	// acquires lock after the caller checked its condition is not lost. lock
	// is held again when Block returns, whatever the result.
	//
	// Returns ctx.Err() if the context was cancelled first.
	Block(ctx context.Context, key interface{}, lock sync.Locker) error

	// Wake every caller currently parked on key. Keys with no waiters are
	// ignored.
	Notify(key interface{})
}

// A Blocker that hands wake-ups from notifiers to waiters through channels.
// The zero value is not usable; use NewWaitQueue.
type WaitQueue struct {
	mu sync.Mutex

	// GUARDED_BY(mu)
	waiters map[interface{}][]chan struct{}
}

var _ Blocker = &WaitQueue{}

func NewWaitQueue() *WaitQueue {
	return &WaitQueue{
		waiters: make(map[interface{}][]chan struct{}),
	}
}

func (q *WaitQueue) Block(
	ctx context.Context,
	key interface{},
	lock sync.Locker) (err error) {
	wake := make(chan struct{})

	q.mu.Lock()
	q.waiters[key] = append(q.waiters[key], wake)
	q.mu.Unlock()

	if lock != nil {
		lock.Unlock()
		defer lock.Lock()
	}

	select {
	case <-wake:
		return

	case <-ctx.Done():
		err = ctx.Err()
		q.forget(key, wake)
		return
	}
}

func (q *WaitQueue) Notify(key interface{}) {
	q.mu.Lock()
	waiters := q.waiters[key]
	delete(q.waiters, key)
	q.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Return the number of callers parked on key.
func (q *WaitQueue) Waiting(key interface{}) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.waiters[key])
}

// Remove a waiter that gave up. It may already have been woken, in which
// case there is nothing to do.
func (q *WaitQueue) forget(key interface{}, wake chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ws := q.waiters[key]
	for i, w := range ws {
		if w == wake {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}

	if len(ws) == 0 {
		delete(q.waiters, key)
	} else {
		q.waiters[key] = ws
	}
}
