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

package vfs

import (
	"fmt"
	"sync"

	"github.com/jacobsa/fiu"
)

// A region of a process's address space.
type UserBuffer struct {
	Pid  int
	Addr uintptr
	Len  int
}

// Moves bytes between the kernel and the address space of a calling
// process. A failed copy must not have partially committed anything the
// caller relies on; the router discards everything it built for the op.
type Copier interface {
	// Fill dst from the start of src. len(dst) <= src.Len.
	CopyIn(dst []byte, src UserBuffer) error

	// Copy src to the start of dst. len(src) <= dst.Len.
	CopyOut(dst UserBuffer, src []byte) error
}

// A Copier over address spaces held in memory, one per pid. Useful for tests
// and for tools that run drivers in-process.
type MemorySpaces struct {
	mu sync.Mutex

	// GUARDED_BY(mu)
	spaces map[int][]byte
}

var _ Copier = &MemorySpaces{}

func NewMemorySpaces() *MemorySpaces {
	return &MemorySpaces{
		spaces: make(map[int][]byte),
	}
}

// Give process pid an address space of size bytes, replacing any existing
// one, and return it.
func (ms *MemorySpaces) Map(pid int, size int) []byte {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	space := make([]byte, size)
	ms.spaces[pid] = space
	return space
}

// Drop the address space of pid.
func (ms *MemorySpaces) Unmap(pid int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.spaces, pid)
}

// Return the part of pid's space covered by b, which must not extend past n
// bytes.
//
// LOCKS_REQUIRED(ms.mu)
func (ms *MemorySpaces) regionLocked(b UserBuffer, n int) (region []byte, err error) {
	space, ok := ms.spaces[b.Pid]
	if !ok {
		err = fmt.Errorf("pid %d has no address space: %w", b.Pid, fiu.ErrInvalidArgument)
		return
	}

	if n > b.Len || b.Addr > uintptr(len(space)) || uintptr(len(space))-b.Addr < uintptr(n) {
		err = fmt.Errorf(
			"bad user buffer [%#x, +%d) for %d bytes in pid %d: %w",
			b.Addr,
			b.Len,
			n,
			b.Pid,
			fiu.ErrInvalidArgument)
		return
	}

	region = space[b.Addr : b.Addr+uintptr(n)]
	return
}

func (ms *MemorySpaces) CopyIn(dst []byte, src UserBuffer) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	region, err := ms.regionLocked(src, len(dst))
	if err != nil {
		return
	}

	copy(dst, region)
	return
}

func (ms *MemorySpaces) CopyOut(dst UserBuffer, src []byte) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	region, err := ms.regionLocked(dst, len(src))
	if err != nil {
		return
	}

	copy(region, src)
	return
}
