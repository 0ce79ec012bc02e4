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

package errorfs

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/fiuops"
	"github.com/jacobsa/fiu/fiuutil"
	"github.com/jacobsa/fiu/message"
	"golang.org/x/sys/unix"
)

const FooContents = "xxxx"

const fooInode = fiuops.RootInodeID + 1

// The capabilities to register the driver with: every op.
var Caps = device.Caps(
	message.OpLookup,
	message.OpOpen,
	message.OpRead,
	message.OpWrite,
	message.OpClose,
	message.OpIoctl,
	message.OpGetDirent,
	message.OpMount,
	message.OpStat,
	message.OpUmount)

// A driver whose sole contents are a file named "foo" containing the string
// defined by FooContents.
//
// The driver can be configured to returned canned errors for particular
// operations using the method SetError.
type FS interface {
	fiuutil.Driver

	// Cause the driver to return the supplied error for all future operations
	// of the given type.
	SetError(op message.Op, err unix.Errno)
}

func New() (fs FS, err error) {
	fs = &errorFS{
		errors: make(map[message.Op]unix.Errno),
	}

	return
}

type errorFS struct {
	fiuutil.NotImplementedDriver

	mu sync.Mutex

	// GUARDED_BY(mu)
	errors map[message.Op]unix.Errno
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *errorFS) SetError(op message.Op, err unix.Errno) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.errors[op] = err
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *errorFS) transformError(op fiuops.Op, kind message.Op) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err, ok := fs.errors[kind]
	if ok {
		op.Logf("Returning canned error %v", err)
		return err
	}

	return nil
}

func fooAttributes() fiuops.InodeAttributes {
	return fiuops.InodeAttributes{
		Inode: fooInode,
		Nlink: 1,
		Size:  uint64(len(FooContents)),
		Mode:  0444,
	}
}

func rootAttributes() fiuops.InodeAttributes {
	return fiuops.InodeAttributes{
		Inode: fiuops.RootInodeID,
		Nlink: 1,
		Mode:  os.ModeDir | 0555,
	}
}

func (fs *errorFS) attributes(inode fiuops.InodeID) (attrs fiuops.InodeAttributes, err error) {
	switch inode {
	case fiuops.RootInodeID:
		attrs = rootAttributes()

	case fooInode:
		attrs = fooAttributes()

	default:
		err = fmt.Errorf("inode %d: %w", inode, fiu.ErrNotFound)
	}

	return
}

func (fs *errorFS) Lookup(op *fiuops.LookupOp) (err error) {
	if err = fs.transformError(op, message.OpLookup); err != nil {
		return
	}

	switch strings.Trim(op.Path, "/") {
	case "":
		op.Attrs = rootAttributes()

	case "foo":
		op.Attrs = fooAttributes()

	default:
		err = fmt.Errorf("%q: %w", op.Path, fiu.ErrNotFound)
	}

	return
}

func (fs *errorFS) Stat(op *fiuops.StatOp) (err error) {
	if err = fs.transformError(op, message.OpStat); err != nil {
		return
	}

	op.Attrs, err = fs.attributes(op.Inode)
	return
}

func (fs *errorFS) GetDirent(op *fiuops.GetDirentOp) (err error) {
	if err = fs.transformError(op, message.OpGetDirent); err != nil {
		return
	}

	if op.Inode != fiuops.RootInodeID {
		err = fmt.Errorf("inode %d: %w", op.Inode, fiu.ErrInvalidArgument)
		return
	}

	entries := []fiuops.Dirent{
		{Inode: fooInode, Name: "foo", Type: fiuops.RegularFiletype},
	}

	err = fiuutil.ReadDirent(op, entries)
	return
}

func (fs *errorFS) Open(op *fiuops.OpenOp) (err error) {
	if err = fs.transformError(op, message.OpOpen); err != nil {
		return
	}

	_, err = fs.attributes(op.Inode)
	return
}

func (fs *errorFS) Read(op *fiuops.ReadOp) (err error) {
	if err = fs.transformError(op, message.OpRead); err != nil {
		return
	}

	if op.Inode != fooInode || op.Offset != 0 {
		err = fmt.Errorf("unexpected read of inode %d at %d: %w", op.Inode, op.Offset, fiu.ErrInvalidArgument)
		return
	}

	op.Data = []byte(FooContents)
	return
}

func (fs *errorFS) Write(op *fiuops.WriteOp) (err error) {
	if err = fs.transformError(op, message.OpWrite); err != nil {
		return
	}

	err = fiu.ErrPermissionDenied
	return
}

func (fs *errorFS) Close(op *fiuops.CloseOp) (err error) {
	err = fs.transformError(op, message.OpClose)
	return
}

func (fs *errorFS) Ioctl(op *fiuops.IoctlOp) (err error) {
	if err = fs.transformError(op, message.OpIoctl); err != nil {
		return
	}

	err = fiu.ErrNotSupported
	return
}

func (fs *errorFS) Mount(op *fiuops.MountOp) (err error) {
	err = fs.transformError(op, message.OpMount)
	return
}

func (fs *errorFS) Umount(op *fiuops.UmountOp) (err error) {
	err = fs.transformError(op, message.OpUmount)
	return
}
