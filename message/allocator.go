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

	"github.com/jacobsa/fiu"
)

// An Allocator supplies the memory behind messages, channel names and
// device names. Implementations must be safe for concurrent use.
type Allocator interface {
	// Return a zeroed buffer of exactly n bytes, or an error wrapping
	// fiu.ErrOutOfMemory.
	Alloc(n int) ([]byte, error)

	// Return a buffer obtained from Alloc.
	Free(b []byte)
}

// An Allocator backed by the Go heap that never fails.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func (HeapAllocator) Free(b []byte) {}

// An Allocator that fails once the bytes it has handed out and not yet taken
// back would exceed a limit.
type BudgetAllocator struct {
	limit int64

	mu sync.Mutex

	// INVARIANT: 0 <= inUse <= limit
	//
	// GUARDED_BY(mu)
	inUse int64
}

var _ Allocator = &BudgetAllocator{}

// Create an allocator that will hand out at most limit bytes at once.
func NewBudgetAllocator(limit int64) *BudgetAllocator {
	return &BudgetAllocator{limit: limit}
}

func (a *BudgetAllocator) Alloc(n int) (b []byte, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inUse+int64(n) > a.limit {
		err = fmt.Errorf(
			"allocating %d bytes with %d of %d in use: %w",
			n,
			a.inUse,
			a.limit,
			fiu.ErrOutOfMemory)
		return
	}

	a.inUse += int64(n)
	b = make([]byte, n)
	return
}

func (a *BudgetAllocator) Free(b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inUse -= int64(len(b))
	if a.inUse < 0 {
		panic(fmt.Sprintf("BudgetAllocator: freed more than allocated (%d)", a.inUse))
	}
}

// Return the number of bytes currently handed out.
func (a *BudgetAllocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.inUse
}
