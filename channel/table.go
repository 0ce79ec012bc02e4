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
	"sort"
	"sync"

	"github.com/jacobsa/fiu"
)

// A table of named channels. A kernel has exactly one; it must be created
// before any channel operation and shut down after the last.
type Table struct {
	cfg Config

	mu sync.Mutex

	// Live channels by name.
	//
	// INVARIANT: For all k, v in channels, v.name == k
	//
	// GUARDED_BY(mu)
	channels map[string]*Channel
}

// Create an empty table whose channels share the supplied collaborators.
func NewTable(cfg Config) *Table {
	return &Table{
		cfg:      cfg.withDefaults(),
		channels: make(map[string]*Channel),
	}
}

// Create a channel with a name not used by any live channel in the table.
// The calling process pid becomes its owner.
//
// Fails with ErrExists if the name is taken, ErrInvalidArgument if it is
// empty or too long, and ErrOutOfMemory if the allocator refuses.
func (t *Table) Create(pid int, name string) (c *Channel, err error) {
	if err = checkName(name, t.cfg.NameMax); err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.channels[name]; ok {
		err = fmt.Errorf("channel %q: %w", name, fiu.ErrExists)
		return
	}

	if c, err = newChannel(pid, name, t.cfg, t); err != nil {
		return
	}

	t.channels[name] = c
	return
}

// Return the live channel with the given name, or ErrNotFound.
func (t *Table) Lookup(name string) (c *Channel, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.channels[name]
	if !ok {
		err = fmt.Errorf("channel %q: %w", name, fiu.ErrNotFound)
	}

	return
}

// Resolve a name and open a slave on the channel on behalf of pid.
func (t *Table) OpenByName(pid int, name string) (s *Slave, err error) {
	c, err := t.Lookup(name)
	if err != nil {
		return
	}

	s, err = c.Open(pid)
	return
}

// Return the names of the live channels, sorted.
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.channels))
	for name := range t.channels {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Close every live channel.
func (t *Table) Shutdown() {
	t.mu.Lock()
	channels := make([]*Channel, 0, len(t.channels))
	for _, c := range t.channels {
		channels = append(channels, c)
	}
	t.mu.Unlock()

	for _, c := range channels {
		c.Close()
	}
}

// Called by Channel.Close.
func (t *Table) remove(c *Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channels[c.name] == c {
		delete(t.channels, c.name)
	}
}
