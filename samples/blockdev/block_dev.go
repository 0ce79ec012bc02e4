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

// Package blockdev contains a driver that exposes a Backend as a single
// block device inode, with reads and writes going through a block cache.
package blockdev

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/bcache"
	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/fiuops"
	"github.com/jacobsa/fiu/fiuutil"
	"github.com/jacobsa/fiu/message"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// The inode of the device itself. It is the root of the driver's tree, and
// the only inode.
const DeviceInode = fiuops.RootInodeID

// Ioctl requests understood by the driver.
const (
	// Set *Arg to the block size.
	IoctlBlockSize = 1

	// Set *Arg to the number of blocks, counting a partial last block.
	IoctlBlockCount = 2

	// Write dirty blocks back to the backend.
	IoctlSync = 3
)

// The capabilities to register the driver with.
var Caps = device.Caps(
	message.OpLookup,
	message.OpStat,
	message.OpOpen,
	message.OpRead,
	message.OpWrite,
	message.OpClose,
	message.OpIoctl,
	message.OpMount,
	message.OpUmount)

// A function that creates the block cache in front of the backend, such as
// kernel.Kernel.NewCache. The flush function it is given may be dropped, in
// which case writes go straight through to the backend.
type CacheFactory func(bcache.FetchFunc, bcache.FlushFunc) (*bcache.Cache, error)

// Create a driver for the supplied backend. The backend is closed by Destroy
// rather than by any op.
func New(
	backend Backend,
	newCache CacheFactory,
	clock timeutil.Clock) (d *BlockDev, err error) {
	d = &BlockDev{
		backend: backend,
		clock:   clock,
		mounts:  make(map[int]fiuops.InodeID),
		mtime:   clock.Now(),
	}

	d.cache, err = newCache(d.fetch, d.flush)
	if err != nil {
		err = fmt.Errorf("creating cache: %w", err)
		return
	}

	d.blockSize = int64(d.cache.BlockSize())
	d.writeThrough = !d.cache.WriteBack()
	d.mu = syncutil.NewInvariantMutex(d.checkInvariants)

	return
}

type BlockDev struct {
	fiuutil.NotImplementedDriver

	/////////////////////////
	// Dependencies
	/////////////////////////

	backend Backend
	clock   timeutil.Clock

	/////////////////////////
	// Constant data
	/////////////////////////

	blockSize int64

	// Set if the cache has no write back, in which case writes go straight
	// to the backend.
	writeThrough bool

	/////////////////////////
	// Mutable state
	/////////////////////////

	// Serializes data ops, which share the buffers of pinned blocks.
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	cache *bcache.Cache

	// The number of open handles.
	//
	// INVARIANT: opens >= 0
	//
	// GUARDED_BY(mu)
	opens int

	// The parent inode of each mount of the device's tree.
	//
	// GUARDED_BY(mu)
	mounts map[int]fiuops.InodeID

	// GUARDED_BY(mu)
	mtime time.Time
}

var _ fiuutil.Driver = &BlockDev{}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (d *BlockDev) checkInvariants() {
	if d.opens < 0 {
		panic(fmt.Sprintf("Negative open count: %d", d.opens))
	}
}

// Fill buf with the given block, zero-filling past the end of the backend.
func (d *BlockDev) fetch(buf []byte, block uint32) (err error) {
	n, err := d.backend.ReadAt(buf, int64(block)*d.blockSize)
	if err == io.EOF {
		err = nil
	}

	if err != nil {
		err = fmt.Errorf("ReadAt: %w", err)
		return
	}

	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}

	return
}

// Write back the part of buf that lies within the backend.
func (d *BlockDev) flush(buf []byte, block uint32) (err error) {
	off := int64(block) * d.blockSize
	if rem := d.backend.Size() - off; int64(len(buf)) > rem {
		buf = buf[:rem]
	}

	if _, err = d.backend.WriteAt(buf, off); err != nil {
		err = fmt.Errorf("WriteAt: %w", err)
		return
	}

	return
}

func (d *BlockDev) attributes() fiuops.InodeAttributes {
	return fiuops.InodeAttributes{
		Inode: DeviceInode,
		Size:  uint64(d.backend.Size()),
		Nlink: 1,
		Mode:  os.ModeDevice | 0660,
		Mtime: d.mtime,
	}
}

func checkInode(inode fiuops.InodeID) error {
	if inode != DeviceInode {
		return fmt.Errorf("inode %d: %w", inode, fiu.ErrNotFound)
	}

	return nil
}

// Call f for each block overlapping [off, off+n), with the device offset and
// the part of the block's buffer in range.
//
// LOCKS_REQUIRED(d.mu)
func (d *BlockDev) forEachBlock(
	off int64,
	n int64,
	f func(off int64, block uint32, buf []byte) error) (err error) {
	for end := off + n; off < end; {
		block := uint32(off / d.blockSize)
		within := off % d.blockSize

		var buf []byte
		if buf, err = d.cache.Request(block); err != nil {
			err = fmt.Errorf("Request(%d): %w", block, err)
			return
		}

		buf = buf[within:]
		if rem := end - off; int64(len(buf)) > rem {
			buf = buf[:rem]
		}

		err = f(off, block, buf)
		if releaseErr := d.cache.Release(block); err == nil && releaseErr != nil {
			err = fmt.Errorf("Release(%d): %w", block, releaseErr)
		}

		if err != nil {
			return
		}

		off += int64(len(buf))
	}

	return
}

// Write dirty blocks back, if there are any.
//
// LOCKS_REQUIRED(d.mu)
func (d *BlockDev) syncLocked() (err error) {
	if d.writeThrough {
		return
	}

	if err = d.cache.Flush(); err != nil {
		err = fmt.Errorf("Flush: %w", err)
		return
	}

	return
}

////////////////////////////////////////////////////////////////////////
// Driver methods
////////////////////////////////////////////////////////////////////////

func (d *BlockDev) Lookup(op *fiuops.LookupOp) (err error) {
	// The tree holds only the device.
	if op.Path != "" && op.Path != "/" {
		err = fmt.Errorf("%q: %w", op.Path, fiu.ErrNotFound)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	op.Attrs = d.attributes()
	return
}

func (d *BlockDev) Stat(op *fiuops.StatOp) (err error) {
	if err = checkInode(op.Inode); err != nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	op.Attrs = d.attributes()
	return
}

func (d *BlockDev) Open(op *fiuops.OpenOp) (err error) {
	if err = checkInode(op.Inode); err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	op.Logf("%d open handles", d.opens)
	return
}

func (d *BlockDev) Close(op *fiuops.CloseOp) (err error) {
	if err = checkInode(op.Inode); err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opens == 0 {
		err = fmt.Errorf("close without open: %w", fiu.ErrInvalidArgument)
		return
	}

	d.opens--

	// Write back on last close.
	if d.opens == 0 {
		err = d.syncLocked()
	}

	return
}

func (d *BlockDev) Read(op *fiuops.ReadOp) (err error) {
	if err = checkInode(op.Inode); err != nil {
		return
	}

	if op.Offset < 0 {
		err = fmt.Errorf("negative offset %d: %w", op.Offset, fiu.ErrInvalidArgument)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Reads are truncated at the end of the device.
	n := int64(op.Size)
	if rem := d.backend.Size() - op.Offset; n > rem {
		n = rem
	}

	if n <= 0 {
		return
	}

	op.Data = make([]byte, 0, n)
	err = d.forEachBlock(op.Offset, n, func(_ int64, _ uint32, buf []byte) error {
		op.Data = append(op.Data, buf...)
		return nil
	})

	return
}

func (d *BlockDev) Write(op *fiuops.WriteOp) (err error) {
	if err = checkInode(op.Inode); err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Writes may not extend the device.
	size := d.backend.Size()
	if op.Offset < 0 || op.Offset > size || int64(len(op.Data)) > size-op.Offset {
		err = fmt.Errorf(
			"write of %d bytes at %d on a %d byte device: %w",
			len(op.Data),
			op.Offset,
			size,
			fiu.ErrInvalidArgument)
		return
	}

	data := op.Data
	err = d.forEachBlock(op.Offset, int64(len(data)), func(off int64, block uint32, buf []byte) (err error) {
		n := copy(buf, data)
		data = data[n:]

		if d.writeThrough {
			_, err = d.backend.WriteAt(buf, off)
			return
		}

		err = d.cache.MarkDirty(block)
		return
	})

	if err != nil {
		return
	}

	op.Size = len(op.Data)
	d.mtime = d.clock.Now()
	return
}

func (d *BlockDev) Ioctl(op *fiuops.IoctlOp) (err error) {
	if err = checkInode(op.Inode); err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch op.Request {
	case IoctlBlockSize, IoctlBlockCount:
		if op.Arg == nil {
			err = fmt.Errorf("ioctl %d needs an argument: %w", op.Request, fiu.ErrInvalidArgument)
			return
		}

		if op.Request == IoctlBlockSize {
			*op.Arg = int(d.blockSize)
		} else {
			*op.Arg = int((d.backend.Size() + d.blockSize - 1) / d.blockSize)
		}

	case IoctlSync:
		err = d.syncLocked()

	default:
		err = fmt.Errorf("ioctl %d: %w", op.Request, fiu.ErrNotSupported)
	}

	return
}

func (d *BlockDev) Mount(op *fiuops.MountOp) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.mounts[op.MountNb]; ok {
		err = fmt.Errorf("mount %d: %w", op.MountNb, fiu.ErrExists)
		return
	}

	d.mounts[op.MountNb] = op.Inode
	return
}

func (d *BlockDev) Umount(op *fiuops.UmountOp) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.mounts[op.MountNb]; !ok {
		err = fmt.Errorf("mount %d: %w", op.MountNb, fiu.ErrNotFound)
		return
	}

	delete(d.mounts, op.MountNb)
	err = d.syncLocked()
	return
}

// Write back dirty blocks.
func (d *BlockDev) Sync() (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.syncLocked()
	return
}

// Write back dirty blocks and close the backend. The driver must no longer
// be served.
func (d *BlockDev) Destroy() (err error) {
	if err = d.Sync(); err != nil {
		d.backend.Close()
		return
	}

	err = d.backend.Close()
	return
}

// Return the cache's counters.
func (d *BlockDev) Stats() bcache.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cache.Stats()
}
