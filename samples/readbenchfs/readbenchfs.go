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

package readbenchfs

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/fiuops"
	"github.com/jacobsa/fiu/fiuutil"
	"github.com/jacobsa/fiu/message"
)

const testInode = fiuops.RootInodeID + 1

// The capabilities to register the driver with.
var Caps = device.Caps(
	message.OpLookup,
	message.OpStat,
	message.OpGetDirent,
	message.OpOpen,
	message.OpRead,
	message.OpClose)

type readBenchFS struct {
	fiuutil.NotImplementedDriver
	buf      []byte
	fileSize int64
}

var _ fiuutil.Driver = &readBenchFS{}

// Create a driver with a single file named "test" of fileSize bytes, whose
// contents repeat bufSize bytes of random data. A buffer larger than the CPU
// cache keeps reads honest.
func NewReadBenchFS(bufSize int, fileSize int64) (d fiuutil.Driver, err error) {
	if bufSize <= 0 || fileSize < 0 {
		err = fmt.Errorf("bad sizes %d, %d: %w", bufSize, fileSize, fiu.ErrInvalidArgument)
		return
	}

	buf := make([]byte, bufSize)
	rand.Read(buf)

	d = &readBenchFS{
		buf:      buf,
		fileSize: fileSize,
	}

	return
}

func (fs *readBenchFS) attributes(inode fiuops.InodeID) (attrs fiuops.InodeAttributes, err error) {
	switch inode {
	case fiuops.RootInodeID:
		attrs = fiuops.InodeAttributes{
			Inode: inode,
			Nlink: 1,
			Mode:  0755 | os.ModeDir,
		}

	case testInode:
		attrs = fiuops.InodeAttributes{
			Inode: inode,
			Size:  uint64(fs.fileSize),
			Nlink: 1,
			Mode:  0444,
		}

	default:
		err = fiu.ErrNotFound
	}

	return
}

func (fs *readBenchFS) Lookup(op *fiuops.LookupOp) (err error) {
	switch strings.Trim(op.Path, "/") {
	case "":
		op.Attrs, err = fs.attributes(fiuops.RootInodeID)
	case "test":
		op.Attrs, err = fs.attributes(testInode)
	default:
		err = fiu.ErrNotFound
	}

	return
}

func (fs *readBenchFS) Stat(op *fiuops.StatOp) (err error) {
	op.Attrs, err = fs.attributes(op.Inode)
	return
}

func (fs *readBenchFS) GetDirent(op *fiuops.GetDirentOp) error {
	if op.Inode != fiuops.RootInodeID {
		return fiu.ErrNotFound
	}

	entries := []fiuops.Dirent{
		fiuops.Dirent{
			Inode: testInode,
			Name:  "test",
			Type:  fiuops.RegularFiletype,
		},
	}

	return fiuutil.ReadDirent(op, entries)
}

func (fs *readBenchFS) Open(op *fiuops.OpenOp) (err error) {
	_, err = fs.attributes(op.Inode)
	return
}

// Return the file's contents in [off, end).
func (fs *readBenchFS) contents(off int64, end int64) []byte {
	dst := make([]byte, end-off)
	buflen := int64(len(fs.buf))
	for pos := off; pos < end; {
		s := pos % buflen
		n := copy(dst[pos-off:], fs.buf[s:])
		pos += int64(n)
	}

	return dst
}

func (fs *readBenchFS) Read(op *fiuops.ReadOp) error {
	if op.Inode != testInode {
		return fiu.ErrInvalidArgument
	}

	if op.Offset >= fs.fileSize {
		return nil
	}

	end := op.Offset + int64(op.Size)
	if end > fs.fileSize {
		end = fs.fileSize
	}

	op.Data = fs.contents(op.Offset, end)
	return nil
}
