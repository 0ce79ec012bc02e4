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

package hellofs

import (
	"io"
	"os"
	"strings"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/fiuops"
	"github.com/jacobsa/fiu/fiuutil"
	"github.com/jacobsa/fiu/message"
	"github.com/jacobsa/timeutil"
)

// Create a driver with a fixed structure that looks like this:
//
//     hello
//     dir/
//         world
//
// Each file contains the string "Hello, world!".
func NewHelloFS(clock timeutil.Clock) (d fiuutil.Driver, err error) {
	d = &helloFS{
		Clock: clock,
	}

	return
}

// The capabilities to register the driver with.
var Caps = device.Caps(
	message.OpLookup,
	message.OpStat,
	message.OpGetDirent,
	message.OpOpen,
	message.OpRead,
	message.OpClose)

type helloFS struct {
	fiuutil.NotImplementedDriver
	Clock timeutil.Clock
}

const (
	rootInode fiuops.InodeID = fiuops.RootInodeID + iota
	helloInode
	dirInode
	worldInode
)

type inodeInfo struct {
	attributes fiuops.InodeAttributes

	// File or directory?
	dir bool

	// For directories, children.
	children []fiuops.Dirent
}

// We have a fixed directory structure.
var gInodeInfo = map[fiuops.InodeID]inodeInfo{
	// root
	rootInode: inodeInfo{
		attributes: fiuops.InodeAttributes{
			Nlink: 1,
			Mode:  0555 | os.ModeDir,
		},
		dir: true,
		children: []fiuops.Dirent{
			fiuops.Dirent{
				Inode: helloInode,
				Name:  "hello",
				Type:  fiuops.RegularFiletype,
			},
			fiuops.Dirent{
				Inode: dirInode,
				Name:  "dir",
				Type:  fiuops.DirectoryFiletype,
			},
		},
	},

	// hello
	helloInode: inodeInfo{
		attributes: fiuops.InodeAttributes{
			Nlink: 1,
			Mode:  0444,
			Size:  uint64(len("Hello, world!")),
		},
	},

	// dir
	dirInode: inodeInfo{
		attributes: fiuops.InodeAttributes{
			Nlink: 1,
			Mode:  0555 | os.ModeDir,
		},
		dir: true,
		children: []fiuops.Dirent{
			fiuops.Dirent{
				Inode: worldInode,
				Name:  "world",
				Type:  fiuops.RegularFiletype,
			},
		},
	},

	// world
	worldInode: inodeInfo{
		attributes: fiuops.InodeAttributes{
			Nlink: 1,
			Mode:  0444,
			Size:  uint64(len("Hello, world!")),
		},
	},
}

func findChildInode(
	name string,
	children []fiuops.Dirent) (inode fiuops.InodeID, err error) {
	for _, e := range children {
		if e.Name == name {
			inode = e.Inode
			return
		}
	}

	err = fiu.ErrNotFound
	return
}

func (fs *helloFS) attributes(inode fiuops.InodeID) (
	attrs fiuops.InodeAttributes, err error) {
	info, ok := gInodeInfo[inode]
	if !ok {
		err = fiu.ErrNotFound
		return
	}

	attrs = info.attributes
	attrs.Inode = inode
	attrs.Mtime = fs.Clock.Now()
	return
}

func (fs *helloFS) Lookup(op *fiuops.LookupOp) (err error) {
	// Walk from the root one component at a time.
	inode := rootInode
	for _, name := range strings.Split(op.Path, "/") {
		if name == "" {
			continue
		}

		info := gInodeInfo[inode]
		if !info.dir {
			err = fiu.ErrNotFound
			return
		}

		if inode, err = findChildInode(name, info.children); err != nil {
			return
		}
	}

	op.Attrs, err = fs.attributes(inode)
	return
}

func (fs *helloFS) Stat(op *fiuops.StatOp) (err error) {
	op.Attrs, err = fs.attributes(op.Inode)
	return
}

func (fs *helloFS) GetDirent(op *fiuops.GetDirentOp) (err error) {
	// Find the info for this inode.
	info, ok := gInodeInfo[op.Inode]
	if !ok {
		err = fiu.ErrNotFound
		return
	}

	if !info.dir {
		err = fiu.ErrInvalidArgument
		return
	}

	err = fiuutil.ReadDirent(op, info.children)
	return
}

func (fs *helloFS) Open(op *fiuops.OpenOp) (err error) {
	// Allow opening any inode, for reading only.
	if _, ok := gInodeInfo[op.Inode]; !ok {
		err = fiu.ErrNotFound
		return
	}

	if op.Flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		err = fiu.ErrPermissionDenied
		return
	}

	return
}

func (fs *helloFS) Read(op *fiuops.ReadOp) (err error) {
	info, ok := gInodeInfo[op.Inode]
	if !ok {
		err = fiu.ErrNotFound
		return
	}

	if info.dir {
		err = fiu.ErrInvalidArgument
		return
	}

	// Let io.ReaderAt deal with the semantics.
	reader := strings.NewReader("Hello, world!")

	op.Data = make([]byte, op.Size)
	n, err := reader.ReadAt(op.Data, op.Offset)
	op.Data = op.Data[:n]

	// Special case: a short read signals the end of the file.
	if err == io.EOF {
		err = nil
	}

	return
}
