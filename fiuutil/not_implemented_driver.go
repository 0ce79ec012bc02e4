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
	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/fiuops"
)

// A Driver that responds to most ops with fiu.ErrNotSupported, and accepts
// open, close, mount and umount. Embed this in your struct to inherit
// default implementations for the methods you don't care about, ensuring
// your struct will continue to implement Driver even as new methods are
// added.
type NotImplementedDriver struct {
}

var _ Driver = &NotImplementedDriver{}

func (d *NotImplementedDriver) Lookup(op *fiuops.LookupOp) error {
	return fiu.ErrNotSupported
}

func (d *NotImplementedDriver) Stat(op *fiuops.StatOp) error {
	return fiu.ErrNotSupported
}

func (d *NotImplementedDriver) GetDirent(op *fiuops.GetDirentOp) error {
	return fiu.ErrNotSupported
}

func (d *NotImplementedDriver) Open(op *fiuops.OpenOp) error {
	return nil
}

func (d *NotImplementedDriver) Read(op *fiuops.ReadOp) error {
	return fiu.ErrNotSupported
}

func (d *NotImplementedDriver) Write(op *fiuops.WriteOp) error {
	return fiu.ErrNotSupported
}

func (d *NotImplementedDriver) Close(op *fiuops.CloseOp) error {
	return nil
}

func (d *NotImplementedDriver) Ioctl(op *fiuops.IoctlOp) error {
	return fiu.ErrNotSupported
}

func (d *NotImplementedDriver) Mount(op *fiuops.MountOp) error {
	return nil
}

func (d *NotImplementedDriver) Umount(op *fiuops.UmountOp) error {
	return nil
}
