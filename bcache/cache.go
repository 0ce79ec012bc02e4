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

// Package bcache implements a fixed-capacity cache of storage blocks for
// drivers. Blocks are pinned by Request and unpinned by Release; a pinned
// block is never evicted.
package bcache

import (
	"fmt"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/syncutil"
)

// The block number of a slot that holds no block. It may not be requested.
const Unassigned = ^uint32(0)

// Marks the end of the slot list.
const noSlot = ^uint32(0)

// Fill buf with the contents of the given block.
type FetchFunc func(buf []byte, block uint32) error

// Write buf back as the contents of the given block.
type FlushFunc func(buf []byte, block uint32) error

// Counters describing the cache's history.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

type slot struct {
	block uint32
	refs  int32
	dirty bool

	// Neighbours in the eviction list, or noSlot.
	prev uint32
	next uint32
}

// A cache of blocks. The fetch and flush functions run with the cache
// locked, so two requests for the same missing block never both fetch it.
// They must not call back into the cache.
//
// Safe for concurrent use.
type Cache struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	blockSize int
	fetch     FetchFunc
	flush     FlushFunc

	// Slot i owns data[i*blockSize : (i+1)*blockSize].
	data []byte

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// INVARIANT: For all i, slots[i].refs >= 0
	// INVARIANT: For all i, slots[i].refs > 0 implies slots[i].block != Unassigned
	// INVARIANT: For all i, slots[i].dirty implies slots[i].block != Unassigned
	// INVARIANT: No two slots hold the same assigned block
	//
	// GUARDED_BY(mu)
	slots []slot

	// The ends of the eviction list. Scans for a victim start at head.
	//
	// INVARIANT: Following next from head visits every slot exactly once,
	// ending at tail.
	// INVARIANT: prev links are the reverse of next links.
	//
	// GUARDED_BY(mu)
	head uint32

	// GUARDED_BY(mu)
	tail uint32

	// GUARDED_BY(mu)
	stats Stats
}

// Create a cache of cacheSize blocks of blockSize bytes each. fetch is
// required. flush may be nil, in which case blocks can't be marked dirty.
//
// Slots start out unassigned and are used in order before any released
// block is evicted.
func New(
	cacheSize int,
	blockSize int,
	fetch FetchFunc,
	flush FlushFunc) (c *Cache, err error) {
	if fetch == nil {
		err = fmt.Errorf("bcache: fetch is required: %w", fiu.ErrInvalidArgument)
		return
	}

	if cacheSize <= 0 || blockSize <= 0 || uint64(cacheSize) >= uint64(noSlot) {
		err = fmt.Errorf(
			"bcache: bad geometry %d x %d: %w",
			cacheSize,
			blockSize,
			fiu.ErrInvalidArgument)
		return
	}

	c = &Cache{
		blockSize: blockSize,
		fetch:     fetch,
		flush:     flush,
		data:      make([]byte, cacheSize*blockSize),
		slots:     make([]slot, cacheSize),
		head:      0,
		tail:      uint32(cacheSize - 1),
	}

	for i := range c.slots {
		s := &c.slots[i]
		s.block = Unassigned
		s.prev = uint32(i) - 1
		s.next = uint32(i) + 1
	}

	c.slots[0].prev = noSlot
	c.slots[cacheSize-1].next = noSlot

	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return
}

func (c *Cache) checkInvariants() {
	blocks := make(map[uint32]int)
	for i := range c.slots {
		s := &c.slots[i]
		if s.refs < 0 {
			panic(fmt.Sprintf("Slot %d has %d refs", i, s.refs))
		}

		if s.block == Unassigned {
			if s.refs > 0 || s.dirty {
				panic(fmt.Sprintf("Unassigned slot %d: refs %d, dirty %v", i, s.refs, s.dirty))
			}

			continue
		}

		if j, ok := blocks[s.block]; ok {
			panic(fmt.Sprintf("Block %d held by slots %d and %d", s.block, j, i))
		}

		blocks[s.block] = i
	}

	// Walk the list.
	prev := noSlot
	n := 0
	for i := c.head; i != noSlot; i = c.slots[i].next {
		if n++; n > len(c.slots) {
			panic("Cycle in slot list")
		}

		if c.slots[i].prev != prev {
			panic(fmt.Sprintf("Slot %d has prev %d, expected %d", i, c.slots[i].prev, prev))
		}

		prev = i
	}

	if n != len(c.slots) || prev != c.tail {
		panic(fmt.Sprintf("Slot list has %d of %d slots, ends at %d not %d", n, len(c.slots), prev, c.tail))
	}
}

// LOCKS_REQUIRED(c.mu)
func (c *Cache) buf(i uint32) []byte {
	off := int(i) * c.blockSize
	return c.data[off : off+c.blockSize : off+c.blockSize]
}

// Return the slot holding block, or noSlot.
//
// LOCKS_REQUIRED(c.mu)
func (c *Cache) findLocked(block uint32) uint32 {
	for i := c.head; i != noSlot; i = c.slots[i].next {
		if c.slots[i].block == block {
			return i
		}
	}

	return noSlot
}

// Move slot i to the end of the eviction list.
//
// LOCKS_REQUIRED(c.mu)
func (c *Cache) moveToTailLocked(i uint32) {
	s := &c.slots[i]

	// Already at the end of the list?
	if s.next == noSlot {
		return
	}

	// Unlink.
	if s.prev == noSlot {
		c.head = s.next
	} else {
		c.slots[s.prev].next = s.next
	}

	c.slots[s.next].prev = s.prev

	// Append.
	s.prev = c.tail
	s.next = noSlot
	c.slots[c.tail].next = i
	c.tail = i
}

// Write slot i back if it is dirty.
//
// LOCKS_REQUIRED(c.mu)
func (c *Cache) cleanLocked(i uint32) (err error) {
	s := &c.slots[i]
	if !s.dirty {
		return
	}

	if err = c.flush(c.buf(i), s.block); err != nil {
		err = fmt.Errorf("flush block %d: %w", s.block, err)
		return
	}

	s.dirty = false
	c.stats.Flushes++
	return
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

// Return the size of a block in bytes.
func (c *Cache) BlockSize() int {
	return c.blockSize
}

// Return the number of slots.
func (c *Cache) Size() int {
	return len(c.slots)
}

// Return true if blocks can be marked dirty and written back.
func (c *Cache) WriteBack() bool {
	return c.flush != nil
}

// Pin block in the cache and return its buffer, fetching it if it isn't
// resident. The buffer stays valid until the matching Release.
//
// A miss reuses the first unpinned slot in the eviction list, writing it
// back first if it is dirty. Fails with fiu.ErrOutOfMemory if every slot is
// pinned, and with the fetch or flush error if one fails. After a failed
// fetch the victim slot holds no block.
func (c *Cache) Request(block uint32) (buf []byte, err error) {
	if block == Unassigned {
		err = fmt.Errorf("bcache: block %#x is reserved: %w", block, fiu.ErrInvalidArgument)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Look for a hit, remembering the first slot we could evict.
	victim := noSlot
	for i := c.head; i != noSlot; i = c.slots[i].next {
		s := &c.slots[i]
		if s.block == block {
			s.refs++
			c.stats.Hits++
			buf = c.buf(i)
			return
		}

		if victim == noSlot && s.refs <= 0 {
			victim = i
		}
	}

	if victim == noSlot {
		err = fmt.Errorf("bcache: all %d slots pinned: %w", len(c.slots), fiu.ErrOutOfMemory)
		return
	}

	c.stats.Misses++

	// Write back the previous contents.
	if err = c.cleanLocked(victim); err != nil {
		return
	}

	s := &c.slots[victim]
	if s.block != Unassigned {
		c.stats.Evictions++
	}

	// The buffer is about to be overwritten.
	s.block = Unassigned

	if err = c.fetch(c.buf(victim), block); err != nil {
		err = fmt.Errorf("fetch block %d: %w", block, err)
		return
	}

	s.block = block
	s.refs = 1
	buf = c.buf(victim)
	return
}

// Unpin a block obtained from Request. When the last pin goes, the block
// moves to the end of the eviction list, so that it is the last candidate
// for reuse.
//
// Fails with fiu.ErrNotFound if the block isn't resident and
// fiu.ErrInvalidArgument if it isn't pinned.
func (c *Cache) Release(block uint32) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.findLocked(block)
	if block == Unassigned || i == noSlot {
		err = fmt.Errorf("bcache: release of block %d: %w", block, fiu.ErrNotFound)
		return
	}

	s := &c.slots[i]
	if s.refs <= 0 {
		err = fmt.Errorf("bcache: release of unpinned block %d: %w", block, fiu.ErrInvalidArgument)
		return
	}

	s.refs--
	if s.refs == 0 {
		c.moveToTailLocked(i)
	}

	return
}

// Record that the buffer of a pinned block has been modified, so that it is
// written back before its slot is reused or by the next Flush.
func (c *Cache) MarkDirty(block uint32) (err error) {
	if c.flush == nil {
		err = fmt.Errorf("bcache: no flush function: %w", fiu.ErrInvalidArgument)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.findLocked(block)
	if block == Unassigned || i == noSlot {
		err = fmt.Errorf("bcache: block %d: %w", block, fiu.ErrNotFound)
		return
	}

	if c.slots[i].refs <= 0 {
		err = fmt.Errorf("bcache: block %d is not pinned: %w", block, fiu.ErrInvalidArgument)
		return
	}

	c.slots[i].dirty = true
	return
}

// Write back every dirty block, pinned or not. Returns the first error
// encountered; blocks that fail stay dirty.
func (c *Cache) Flush() (err error) {
	if c.flush == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := c.head; i != noSlot; i = c.slots[i].next {
		if flushErr := c.cleanLocked(i); flushErr != nil && err == nil {
			err = flushErr
		}
	}

	return
}

// Is block currently held by a slot?
func (c *Cache) Resident(block uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return block != Unassigned && c.findLocked(block) != noSlot
}

// Return the number of pins on block, zero if it is not resident.
func (c *Cache) Refs(block uint32) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i := c.findLocked(block); block != Unassigned && i != noSlot {
		return int(c.slots[i].refs)
	}

	return 0
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.stats
}
