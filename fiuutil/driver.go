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

// Package fiuutil helps write drivers: processes that own a device and serve
// the requests the kernel routes to it.
package fiuutil

import (
	"errors"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/fiuops"
	"golang.org/x/net/context"
)

// An interface with a method for each op type in the fiuops package. This
// can be used in conjunction with Serve to avoid writing a "dispatch loop"
// that switches on op types, instead receiving typed method calls directly.
//
// Each method should fill in appropriate response fields for the supplied op
// and return an error status, but not call Respond.
//
// See NotImplementedDriver for a convenient way to embed default
// implementations for methods you don't care about.
type Driver interface {
	Lookup(*fiuops.LookupOp) error
	Stat(*fiuops.StatOp) error
	GetDirent(*fiuops.GetDirentOp) error
	Open(*fiuops.OpenOp) error
	Read(*fiuops.ReadOp) error
	Write(*fiuops.WriteOp) error
	Close(*fiuops.CloseOp) error
	Ioctl(*fiuops.IoctlOp) error
	Mount(*fiuops.MountOp) error
	Umount(*fiuops.UmountOp) error
}

// A Driver method may return NoResponse to take over responsibility for
// calling Respond on the op, for example from another goroutine once some
// event happens.
var NoResponse = errors.New("fiuutil: no response")

// Serve ops read from c by calling the associated Driver method and then
// responding with the resulting error. Ops are handled concurrently. Returns
// nil once the device is unregistered and every op has been answered, or
// the error that stopped reading ops, such as the cancellation of ctx.
func Serve(
	ctx context.Context,
	c *Connection,
	d Driver) (err error) {
	for {
		var op fiuops.Op
		op, err = c.ReadOp(ctx)
		if errors.Is(err, fiu.ErrChannelClosed) || errors.Is(err, fiu.ErrNoSuchDevice) {
			err = nil
			break
		}

		if err != nil {
			break
		}

		go handleOp(d, op)
	}

	c.Wait()
	return
}

func handleOp(d Driver, op fiuops.Op) {
	var err error
	switch typed := op.(type) {
	default:
		err = fiu.ErrNotSupported

	case *fiuops.LookupOp:
		err = d.Lookup(typed)

	case *fiuops.StatOp:
		err = d.Stat(typed)

	case *fiuops.GetDirentOp:
		err = d.GetDirent(typed)

	case *fiuops.OpenOp:
		err = d.Open(typed)

	case *fiuops.ReadOp:
		err = d.Read(typed)

	case *fiuops.WriteOp:
		err = d.Write(typed)

	case *fiuops.CloseOp:
		err = d.Close(typed)

	case *fiuops.IoctlOp:
		err = d.Ioctl(typed)

	case *fiuops.MountOp:
		err = d.Mount(typed)

	case *fiuops.UmountOp:
		err = d.Umount(typed)
	}

	if err == NoResponse {
		return
	}

	op.Respond(err)
}
