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

// Package kernel holds the process-wide state of the IPC core: the
// allocator, the blocking primitive, the channel name table, the device
// registry and the request router. Everything is created by New and torn
// down by Shutdown; nothing is initialized lazily.
package kernel

import (
	"fmt"
	"log"
	"sync"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/bcache"
	"github.com/jacobsa/fiu/channel"
	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/message"
	"github.com/jacobsa/fiu/sched"
	"github.com/jacobsa/fiu/vfs"
)

// The directory under which device nodes are bound.
const DevDir = "/dev/"

type Kernel struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	cfg         fiu.Config
	errorLogger *log.Logger

	alloc    message.Allocator
	budget   *message.BudgetAllocator // nil if unlimited
	blocker  *sched.WaitQueue
	channels *channel.Table
	devices  *device.Registry
	router   *vfs.Router

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// GUARDED_BY(mu)
	down bool
}

// Validate cfg and bring up the IPC core. If copier is nil, user buffers
// are resolved against a fresh vfs.MemorySpaces.
func New(cfg fiu.Config, copier vfs.Copier) (k *Kernel, err error) {
	if err = cfg.Validate(); err != nil {
		err = fmt.Errorf("Validate: %w", err)
		return
	}

	k = &Kernel{
		cfg:         cfg,
		errorLogger: cfg.Errors(),
		blocker:     sched.NewWaitQueue(),
	}

	// Memory.
	k.alloc = message.HeapAllocator{}
	if cfg.MemoryLimit > 0 {
		k.budget = message.NewBudgetAllocator(cfg.MemoryLimit)
		k.alloc = k.budget
	}

	// Channels.
	chCfg := channel.Config{
		Blocker:   k.blocker,
		Allocator: k.alloc,
		NameMax:   cfg.ChannelNameMax,
		Clock:     cfg.Now(),
		Logger:    cfg.Debug(),
	}

	k.channels = channel.NewTable(chCfg)

	// Devices.
	k.devices = device.NewRegistry(device.Config{
		MaxDevices: cfg.MaxDevices,
		Channel:    chCfg,
		Clock:      cfg.Now(),
		Logger:     cfg.Debug(),
	})

	// Routing.
	if copier == nil {
		copier = vfs.NewMemorySpaces()
	}

	k.router = vfs.NewRouter(k.devices, copier, cfg.Debug())

	cfg.Debug().Printf(
		"Kernel up: %d devices, names up to %d bytes, memory limit %d",
		cfg.MaxDevices,
		cfg.ChannelNameMax,
		cfg.MemoryLimit)

	return
}

func (k *Kernel) Config() fiu.Config {
	return k.cfg
}

func (k *Kernel) Allocator() message.Allocator {
	return k.alloc
}

func (k *Kernel) Blocker() sched.Blocker {
	return k.blocker
}

func (k *Kernel) Channels() *channel.Table {
	return k.channels
}

func (k *Kernel) Devices() *device.Registry {
	return k.devices
}

func (k *Kernel) Router() *vfs.Router {
	return k.router
}

// Return the number of bytes held by messages and names, or -1 if memory
// is not limited and so not accounted.
func (k *Kernel) MemoryInUse() int64 {
	if k.budget == nil {
		return -1
	}

	return k.budget.InUse()
}

// Register a device on behalf of pid and bind it to a node under DevDir.
func (k *Kernel) RegisterDevice(
	pid int,
	name string,
	caps device.Capabilities) (id device.ID, err error) {
	if id, err = k.devices.Register(pid, name, caps); err != nil {
		return
	}

	if err = k.devices.Bind(id, DevDir+name); err != nil {
		err = fmt.Errorf("Bind: %w", err)
		return
	}

	return
}

// Create a block cache with the configured geometry. The flush function is
// only used if write back is enabled.
func (k *Kernel) NewCache(
	fetch bcache.FetchFunc,
	flush bcache.FlushFunc) (*bcache.Cache, error) {
	if !k.cfg.Cache.WriteBack {
		flush = nil
	}

	return bcache.New(k.cfg.Cache.Size, k.cfg.Cache.BlockSize, fetch, flush)
}

// Tear down in the reverse order of New: the router's slaves, the devices
// and their channels, then the named channels. Callers blocked in the core
// are woken with fiu.ErrChannelClosed. Further calls are no-ops.
func (k *Kernel) Shutdown() {
	k.mu.Lock()
	if k.down {
		k.mu.Unlock()
		return
	}

	k.down = true
	k.mu.Unlock()

	k.router.Shutdown()
	k.devices.Shutdown()
	k.channels.Shutdown()

	if names := k.channels.Names(); len(names) != 0 {
		k.errorLogger.Printf("Channels survived shutdown: %v", names)
	}

	k.cfg.Debug().Printf("Kernel down")
}
