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

package fiuops

import (
	"os"
	"time"
)

// Payloads exchanged between the kernel and drivers. Each op has a request,
// sent as the whole payload of the request message, and a response, sent as
// the Body of a Reply.

// An inode number, meaningful only to the driver that issued it.
type InodeID uint64

// The inode of the root of a mounted tree.
const RootInodeID InodeID = 1

// Attributes of an inode, as returned by lookup and stat.
type InodeAttributes struct {
	Inode InodeID     `cbor:"inode"`
	Size  uint64      `cbor:"size"`
	Nlink uint32      `cbor:"nlink"`
	Mode  os.FileMode `cbor:"mode"`
	Uid   uint32      `cbor:"uid"`
	Gid   uint32      `cbor:"gid"`
	Mtime time.Time   `cbor:"mtime"`
}

// A directory entry.
type Dirent struct {
	Inode InodeID  `cbor:"inode"`
	Name  string   `cbor:"name"`
	Type  Filetype `cbor:"type"`
}

type LookupRequest struct {
	Path string `cbor:"path"`
	Uid  uint32 `cbor:"uid"`
	Gid  uint32 `cbor:"gid"`
}

type LookupResponse struct {
	// The number of leading bytes of the path the driver resolved. Less than
	// the path length when resolution stopped at a mount point.
	Processed int             `cbor:"processed"`
	Attrs     InodeAttributes `cbor:"attrs"`
}

type StatRequest struct {
	Inode InodeID `cbor:"inode"`
	Uid   uint32  `cbor:"uid"`
	Gid   uint32  `cbor:"gid"`
}

type StatResponse struct {
	Attrs InodeAttributes `cbor:"attrs"`
}

type OpenRequest struct {
	Inode InodeID     `cbor:"inode"`
	Uid   uint32      `cbor:"uid"`
	Gid   uint32      `cbor:"gid"`
	Flags int         `cbor:"flags"`
	Mode  os.FileMode `cbor:"mode"`
	Pid   int         `cbor:"pid"`
}

type OpenResponse struct {
	// The inode actually opened, which a driver may substitute.
	Inode InodeID `cbor:"inode"`
}

type ReadRequest struct {
	Inode  InodeID `cbor:"inode"`
	Offset int64   `cbor:"off"`
	Size   int     `cbor:"size"`
}

type ReadResponse struct {
	Data []byte `cbor:"data"`
}

type WriteRequest struct {
	Inode  InodeID `cbor:"inode"`
	Offset int64   `cbor:"off"`
	Data   []byte  `cbor:"data"`
}

type WriteResponse struct {
	Size int `cbor:"size"`
}

type CloseRequest struct {
	Inode InodeID `cbor:"inode"`
}

type IoctlRequest struct {
	Inode   InodeID `cbor:"inode"`
	Request int     `cbor:"request"`

	// The argument, if the request takes one.
	Arg *int `cbor:"arg,omitempty"`
}

type IoctlResponse struct {
	Ret int `cbor:"ret"`

	// Set if the driver modified the argument.
	Arg *int `cbor:"arg,omitempty"`
}

type GetDirentRequest struct {
	Inode InodeID `cbor:"inode"`
	Index int     `cbor:"index"`
}

type GetDirentResponse struct {
	Dirent Dirent `cbor:"dirent"`
}

type MountRequest struct {
	Inode   InodeID `cbor:"inode"`
	MountNb int     `cbor:"mount_nb"`
}

type UmountRequest struct {
	MountNb int `cbor:"mount_nb"`
}
