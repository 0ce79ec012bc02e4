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

package samples

import (
	"fmt"
	"time"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/fiuutil"
	"github.com/jacobsa/fiu/kernel"
	"github.com/jacobsa/fiu/vfs"
	"github.com/jacobsa/ogletest"
	"github.com/jacobsa/timeutil"
	"golang.org/x/net/context"
)

const (
	// The process that registers and serves the sample device.
	DriverPID = 1

	// The process on whose behalf tests call the router.
	UserPID = 2

	// The size of UserPID's address space.
	UserMemSize = 1 << 16
)

// A struct that implements common behavior needed by tests in the samples/
// directory. Use it as an embedded field in your test fixture, calling its
// SetUp method from your SetUp method after setting the Driver and Caps
// fields.
type SampleTest struct {
	// The driver to serve, and the capabilities to register it with.
	Driver fiuutil.Driver
	Caps   device.Capabilities

	// The kernel configuration. If MaxDevices is zero, fiu.DefaultConfig() is
	// used. The clock is always replaced with Clock.
	Config fiu.Config

	// A clock with a fixed initial time, used by the kernel. The test's set up
	// method may also use it to wire the driver with a clock.
	Clock timeutil.SimulatedClock

	// A context object that can be used for long-running operations.
	Ctx context.Context

	// The kernel, and the device the driver serves.
	Kernel *kernel.Kernel
	Device device.ID

	// The address space of UserPID.
	Mem []byte

	cancel  context.CancelFunc
	serving chan error
}

// Boot a kernel, register the driver and serve it, and initialize the other
// exported fields of the struct. Panics on error.
//
// REQUIRES: t.Driver has been set.
func (t *SampleTest) SetUp(ti *ogletest.TestInfo) {
	err := t.initialize(ti.Ctx)
	if err != nil {
		panic(err)
	}
}

// Like SetUp, but doesn't panic.
func (t *SampleTest) initialize(ctx context.Context) (err error) {
	t.Ctx, t.cancel = context.WithCancel(ctx)

	cfg := t.Config
	if cfg.MaxDevices == 0 {
		cfg = fiu.DefaultConfig()
	}

	t.Clock.SetTime(time.Date(2012, 8, 15, 22, 56, 0, 0, time.Local))
	cfg.Clock = &t.Clock

	spaces := vfs.NewMemorySpaces()
	t.Mem = spaces.Map(UserPID, UserMemSize)

	t.Kernel, err = kernel.New(cfg, spaces)
	if err != nil {
		err = fmt.Errorf("kernel.New: %w", err)
		return
	}

	caps := t.Caps
	if caps == 0 {
		caps = device.Required
	}

	t.Device, err = t.Kernel.RegisterDevice(DriverPID, "sample0", caps)
	if err != nil {
		err = fmt.Errorf("RegisterDevice: %w", err)
		return
	}

	conn, err := fiuutil.NewConnection(
		t.Kernel.Devices(),
		DriverPID,
		t.Device,
		cfg.Debug())

	if err != nil {
		err = fmt.Errorf("NewConnection: %w", err)
		return
	}

	t.serving = make(chan error, 1)
	go func() {
		t.serving <- fiuutil.Serve(t.Ctx, conn, t.Driver)
	}()

	return
}

// Shut down the kernel and wait for the driver to stop. Panics on error.
func (t *SampleTest) TearDown() {
	err := t.destroy()
	if err != nil {
		panic(err)
	}
}

// Like TearDown, but doesn't panic.
func (t *SampleTest) destroy() (err error) {
	defer t.cancel()

	// Was the kernel brought up?
	if t.Kernel == nil {
		return
	}

	t.Kernel.Shutdown()

	if t.serving == nil {
		return
	}

	if err = <-t.serving; err != nil {
		err = fmt.Errorf("Serve: %w", err)
		return
	}

	return
}

// The credentials of UserPID.
var Cred = vfs.Cred{Pid: UserPID, Uid: 1000, Gid: 1000}

// Return a buffer of n bytes at addr in UserPID's address space.
func Buffer(addr int, n int) vfs.UserBuffer {
	return vfs.UserBuffer{Pid: UserPID, Addr: uintptr(addr), Len: n}
}
