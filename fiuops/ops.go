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

// Package fiuops contains the ops a driver receives from the kernel, one per
// message.Op, and the payload types and codec they travel in. Ops are
// returned by fiuutil.Connection.ReadOp; see the documentation there.
package fiuops

import (
	"os"

	"golang.org/x/net/context"
)

// A common interface implemented by all ops in this package. Use a type
// switch to find particular concrete types, responding with Respond.
type Op interface {
	// Return the fields common to all operations.
	Header() OpHeader

	// A context that can be used for long-running operations.
	Context() context.Context

	// Respond to the operation with the supplied error. If there is no error,
	// the response fields of the op are sent back to the caller.
	//
	// Exactly one call to Respond must be made for each op.
	Respond(error)

	// Log information tied to this operation, with the supplied
	// fmt.Printf-like format string and arguments.
	Logf(format string, v ...interface{})
}

////////////////////////////////////////////////////////////////////////
// Names and attributes
////////////////////////////////////////////////////////////////////////

// Resolve a path relative to the root of the driver's tree.
type LookupOp struct {
	commonOp

	// The path of interest, and the credentials of the process resolving it.
	Path string
	Uid  uint32
	Gid  uint32

	// Set by the driver: the number of leading bytes of Path resolved, and the
	// attributes of the inode reached. Processed defaults to len(Path) when
	// left at zero.
	Processed int
	Attrs     InodeAttributes
}

func (o *LookupOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	if o.Processed == 0 {
		o.Processed = len(o.Path)
	}

	o.respond(&LookupResponse{Processed: o.Processed, Attrs: o.Attrs})
}

// Return the attributes of an inode previously returned by LookupOp.
type StatOp struct {
	commonOp

	Inode InodeID
	Uid   uint32
	Gid   uint32

	// Set by the driver.
	Attrs InodeAttributes
}

func (o *StatOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	o.respond(&StatResponse{Attrs: o.Attrs})
}

// Read one entry of a directory. The kernel sends increasing indices until
// the driver responds with ErrNotFound.
type GetDirentOp struct {
	commonOp

	// The directory inode and the index of the entry within it.
	Inode InodeID
	Index int

	// Set by the driver.
	Dirent Dirent
}

func (o *GetDirentOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	o.respond(&GetDirentResponse{Dirent: o.Dirent})
}

////////////////////////////////////////////////////////////////////////
// Files
////////////////////////////////////////////////////////////////////////

// Open an inode on behalf of a process.
type OpenOp struct {
	commonOp

	Inode InodeID
	Uid   uint32
	Gid   uint32
	Flags int
	Mode  os.FileMode
	Pid   int

	// Set by the driver: the inode opened. Defaults to Inode.
	Opened InodeID
}

func (o *OpenOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	if o.Opened == 0 {
		o.Opened = o.Inode
	}

	o.respond(&OpenResponse{Inode: o.Opened})
}

// Read data from an open inode.
type ReadOp struct {
	commonOp

	// The inode and the range of interest.
	Inode  InodeID
	Offset int64
	Size   int

	// Set by the driver: the data read, no longer than Size. A short read
	// means end of file.
	Data []byte
}

func (o *ReadOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	if len(o.Data) > o.Size {
		o.Data = o.Data[:o.Size]
	}

	o.respond(&ReadResponse{Data: o.Data})
}

// Write data to an open inode.
type WriteOp struct {
	commonOp

	Inode  InodeID
	Offset int64
	Data   []byte

	// Set by the driver: the number of bytes written.
	Size int
}

func (o *WriteOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	o.respond(&WriteResponse{Size: o.Size})
}

// Close an inode opened with OpenOp.
type CloseOp struct {
	commonOp

	Inode InodeID
}

func (o *CloseOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	o.respond(nil)
}

// A device-specific control request.
type IoctlOp struct {
	commonOp

	Inode   InodeID
	Request int

	// The argument, or nil if the request takes none. The driver may modify
	// *Arg; the new value is returned to the caller.
	Arg *int

	// Set by the driver.
	Ret int
}

func (o *IoctlOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	o.respond(&IoctlResponse{Ret: o.Ret, Arg: o.Arg})
}

////////////////////////////////////////////////////////////////////////
// Mounts
////////////////////////////////////////////////////////////////////////

// Tell the driver that its tree is mounted at the given inode of the parent
// tree, as mount number MountNb.
type MountOp struct {
	commonOp

	Inode   InodeID
	MountNb int
}

func (o *MountOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	o.respond(nil)
}

// Tell the driver that mount number MountNb is going away.
type UmountOp struct {
	commonOp

	MountNb int
}

func (o *UmountOp) Respond(err error) {
	if err != nil {
		o.respondErr(err)
		return
	}

	o.respond(nil)
}
