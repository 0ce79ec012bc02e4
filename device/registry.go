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

package device

import (
	"fmt"
	"log"
	"time"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/channel"
	"github.com/jacobsa/fiu/message"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"golang.org/x/net/context"
)

// An index into the device table.
type ID int

// A snapshot of a registered device.
type Device struct {
	ID    ID
	Name  string
	Owner int
	Caps  Capabilities

	// The path of the node the device is bound to, or empty.
	Node string

	// The time at which the device was registered.
	Registered time.Time

	// The channel carrying requests to the owner. Callers open slaves on it;
	// only the owner reads from the master end, through the registry.
	Channel *channel.Channel
}

// Collaborators of a Registry.
type Config struct {
	// The number of entries in the table. Defaults to
	// fiu.DefaultConfig().MaxDevices.
	MaxDevices int

	// Used for the backing channels. The allocator is also charged for device
	// names.
	Channel channel.Config

	// Defaults to the real clock.
	Clock timeutil.Clock

	// Defaults to fiu.DebugLogger().
	Logger *log.Logger
}

type entry struct {
	active  bool
	nameBuf []byte
	dev     Device
}

// A fixed-capacity table of devices, each bound to the process that
// registered it and backed by an anonymous channel.
type Registry struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	alloc  message.Allocator
	chCfg  channel.Config
	clock  timeutil.Clock
	logger *log.Logger

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// INVARIANT: For all i, if entries[i].active then entries[i].dev.ID == i
	// INVARIANT: For all i, entries[i].active iff entries[i].dev.Channel != nil
	// INVARIANT: No two active entries share a name
	//
	// GUARDED_BY(mu)
	entries []entry
}

// Create an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = fiu.DefaultConfig().MaxDevices
	}

	if cfg.Channel.Allocator == nil {
		cfg.Channel.Allocator = message.HeapAllocator{}
	}

	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}

	if cfg.Logger == nil {
		cfg.Logger = fiu.DebugLogger()
	}

	r := &Registry{
		alloc:   cfg.Channel.Allocator,
		chCfg:   cfg.Channel,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		entries: make([]entry, cfg.MaxDevices),
	}

	r.mu = syncutil.NewInvariantMutex(r.checkInvariants)
	return r
}

func (r *Registry) checkInvariants() {
	names := make(map[string]struct{})
	for i := range r.entries {
		e := &r.entries[i]
		if e.active != (e.dev.Channel != nil) {
			panic(fmt.Sprintf("Entry %d: active is %v with channel %v", i, e.active, e.dev.Channel))
		}

		if !e.active {
			continue
		}

		if e.dev.ID != ID(i) {
			panic(fmt.Sprintf("Entry %d has ID %d", i, e.dev.ID))
		}

		if _, ok := names[e.dev.Name]; ok {
			panic(fmt.Sprintf("Duplicate device name: %q", e.dev.Name))
		}

		names[e.dev.Name] = struct{}{}
	}
}

////////////////////////////////////////////////////////////////////////
// Registration
////////////////////////////////////////////////////////////////////////

// Register a device on behalf of process pid, creating its channel.
//
// Fails with ErrInvalidArgument if caps lacks the open or close operation,
// ErrExists if an active device already has the name, and ErrOutOfMemory if
// the table is full or an allocation fails. On failure the table is
// unchanged.
func (r *Registry) Register(
	pid int,
	name string,
	caps Capabilities) (id ID, err error) {
	if caps&Required != Required {
		err = fmt.Errorf("register %q with caps %v: %w", name, caps, fiu.ErrInvalidArgument)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Scan the whole table before touching anything.
	free := -1
	for i := range r.entries {
		e := &r.entries[i]
		if e.active && e.dev.Name == name {
			err = fmt.Errorf("register %q: %w", name, fiu.ErrExists)
			return
		}

		if !e.active && free < 0 {
			free = i
		}
	}

	if free < 0 {
		err = fmt.Errorf("register %q: device table full: %w", name, fiu.ErrOutOfMemory)
		return
	}

	nameBuf, err := r.alloc.Alloc(len(name))
	if err != nil {
		err = fmt.Errorf("register %q: allocating name: %w", name, err)
		return
	}

	copy(nameBuf, name)

	c, err := channel.New(pid, name, r.chCfg)
	if err != nil {
		r.alloc.Free(nameBuf)
		err = fmt.Errorf("register %q: %w", name, err)
		return
	}

	id = ID(free)
	r.entries[free] = entry{
		active:  true,
		nameBuf: nameBuf,
		dev: Device{
			ID:         id,
			Name:       name,
			Owner:      pid,
			Caps:       caps,
			Registered: r.clock.Now(),
			Channel:    c,
		},
	}

	r.logger.Printf("Device %d (%q) registered by pid %d with caps %v", id, name, pid, caps)
	return
}

// Deactivate a device. Only the registering process may do so. The device's
// channel is closed: requests still queued for the owner are dropped, and
// callers awaiting a response fail with ErrChannelClosed.
func (r *Registry) Unregister(pid int, id ID) (err error) {
	r.mu.Lock()

	e, err := r.activeLocked(id)
	if err != nil {
		r.mu.Unlock()
		return
	}

	if e.dev.Owner != pid {
		r.mu.Unlock()
		err = fmt.Errorf(
			"unregister device %d owned by pid %d as pid %d: %w",
			id,
			e.dev.Owner,
			pid,
			fiu.ErrPermissionDenied)
		return
	}

	c := e.dev.Channel
	r.alloc.Free(e.nameBuf)
	*e = entry{}
	r.mu.Unlock()

	c.Close()
	r.logger.Printf("Device %d unregistered by pid %d", id, pid)
	return
}

// Record the node through which the device is reachable.
func (r *Registry) Bind(id ID, node string) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.activeLocked(id)
	if err != nil {
		return
	}

	e.dev.Node = node
	return
}

// Deactivate every device and close its channel.
func (r *Registry) Shutdown() {
	var channels []*channel.Channel

	r.mu.Lock()
	for i := range r.entries {
		e := &r.entries[i]
		if !e.active {
			continue
		}

		channels = append(channels, e.dev.Channel)
		r.alloc.Free(e.nameBuf)
		*e = entry{}
	}
	r.mu.Unlock()

	for _, c := range channels {
		c.Close()
	}
}

////////////////////////////////////////////////////////////////////////
// Lookup
////////////////////////////////////////////////////////////////////////

// LOCKS_REQUIRED(r.mu)
func (r *Registry) activeLocked(id ID) (e *entry, err error) {
	if id < 0 || int(id) >= len(r.entries) || !r.entries[id].active {
		err = fmt.Errorf("device %d: %w", id, fiu.ErrNoSuchDevice)
		return
	}

	e = &r.entries[id]
	return
}

// Return the active device with the given ID, or ErrNoSuchDevice.
func (r *Registry) Lookup(id ID) (d Device, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, err := r.activeLocked(id)
	if err != nil {
		return
	}

	d = e.dev
	return
}

// Return the active device with the given name, or ErrNoSuchDevice.
func (r *Registry) LookupByName(name string) (d Device, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.entries {
		if e := &r.entries[i]; e.active && e.dev.Name == name {
			d = e.dev
			return
		}
	}

	err = fmt.Errorf("device %q: %w", name, fiu.ErrNoSuchDevice)
	return
}

// Return the active devices in ID order.
func (r *Registry) Devices() (devs []Device) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.entries {
		if e := &r.entries[i]; e.active {
			devs = append(devs, e.dev)
		}
	}

	return
}

////////////////////////////////////////////////////////////////////////
// Owner I/O
////////////////////////////////////////////////////////////////////////

// Return the channel of the device, checking that pid owns it.
func (r *Registry) ownedChannel(pid int, id ID) (c *channel.Channel, err error) {
	d, err := r.Lookup(id)
	if err != nil {
		return
	}

	if d.Owner != pid {
		err = fmt.Errorf(
			"device %d owned by pid %d, not %d: %w",
			id,
			d.Owner,
			pid,
			fiu.ErrPermissionDenied)
		return
	}

	c = d.Channel
	return
}

// Block until a request for the device arrives and return it. Only the
// owning process may read requests. The caller must release the request
// with the device channel's FreeMessage.
func (r *Registry) RecvRequest(
	ctx context.Context,
	pid int,
	id ID) (req *message.Message, err error) {
	c, err := r.ownedChannel(pid, id)
	if err != nil {
		return
	}

	req, err = c.Dequeue(ctx)
	return
}

// Send payload back to the caller that issued request reqID from the given
// slave of the device channel. Only the owning process may respond.
func (r *Registry) SendResponse(
	pid int,
	id ID,
	slave uint16,
	reqID message.ID,
	payload []byte) (err error) {
	c, err := r.ownedChannel(pid, id)
	if err != nil {
		return
	}

	resp, err := c.NewMessage(reqID.Op(), len(payload))
	if err != nil {
		err = fmt.Errorf("NewMessage: %w", err)
		return
	}

	resp.ID = reqID
	if _, err = resp.Write(payload); err != nil {
		c.FreeMessage(resp)
		return
	}

	if err = c.SendToSlave(slave, resp); err != nil {
		c.FreeMessage(resp)
		err = fmt.Errorf("SendToSlave: %w", err)
		return
	}

	return
}
