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

package fiuutil

import (
	"fmt"
	"log"
	"sync"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/channel"
	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/fiuops"
	"golang.org/x/net/context"
)

// A connection from a driver process to the requests for one device it
// owns.
type Connection struct {
	logger      *log.Logger
	devices     *device.Registry
	pid         int
	dev         device.ID
	ch          *channel.Channel
	opsInFlight sync.WaitGroup
	nextOpID    uint64
}

// Connect process pid to the requests for device dev, which it must own. If
// logger is nil, fiu.DebugLogger() is used.
func NewConnection(
	devices *device.Registry,
	pid int,
	dev device.ID,
	logger *log.Logger) (c *Connection, err error) {
	d, err := devices.Lookup(dev)
	if err != nil {
		return
	}

	if d.Owner != pid {
		err = fmt.Errorf(
			"device %q is owned by pid %d, not %d: %w",
			d.Name,
			d.Owner,
			pid,
			fiu.ErrPermissionDenied)
		return
	}

	if logger == nil {
		logger = fiu.DebugLogger()
	}

	c = &Connection{
		logger:  logger,
		devices: devices,
		pid:     pid,
		dev:     dev,
		ch:      d.Channel,
	}

	return
}

// Log information for an operation with the given unique ID.
func (c *Connection) log(
	opID uint64,
	calldepth int,
	format string,
	v ...interface{}) {
	c.logger.Output(calldepth+1, fmt.Sprintf("Op 0x%08x: %s", opID, fmt.Sprintf(format, v...)))
}

// Read the next op for the device, blocking until one arrives. Once the
// device is unregistered, fails with an error wrapping fiu.ErrChannelClosed
// or fiu.ErrNoSuchDevice.
//
// Requests that cannot be decoded are answered with EINVAL and skipped. The
// op must eventually be answered with Respond.
func (c *Connection) ReadOp(ctx context.Context) (op fiuops.Op, err error) {
	// Keep going until we find a request we know how to convert.
	for {
		m, err := c.devices.RecvRequest(ctx, c.pid, c.dev)
		if err != nil {
			return nil, err
		}

		// Choose an ID for this operation.
		opID := c.nextOpID
		c.nextOpID++

		c.log(opID, 1, "Received: %v", m)

		slave, reqID := m.Slave, m.ID
		send := func(p []byte) error {
			return c.devices.SendResponse(c.pid, c.dev, slave, reqID, p)
		}

		logForOp := func(calldepth int, format string, v ...interface{}) {
			c.log(opID, calldepth+1, format, v...)
		}

		op, err = fiuops.Convert(ctx, m, c.track(send), logForOp)
		c.ch.FreeMessage(m)

		if err != nil {
			c.log(opID, 1, "Returning EINVAL for bad request: %v", err)
			if p, encErr := fiuops.EncodeReply(err, nil); encErr == nil {
				send(p)
			}

			continue
		}

		c.opsInFlight.Add(1)
		return op, nil
	}
}

// Wrap send so that the op counts as in flight until its reply is sent.
func (c *Connection) track(send func([]byte) error) func([]byte) error {
	return func(p []byte) error {
		defer c.opsInFlight.Done()
		return send(p)
	}
}

// Wait for the replies to every op returned by ReadOp.
func (c *Connection) Wait() {
	c.opsInFlight.Wait()
}
