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

// Package vfs turns file operations on devices into synchronous calls on the
// devices' channels, for the kernel side of the system.
package vfs

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/channel"
	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/fiuops"
	"github.com/jacobsa/fiu/message"
	"golang.org/x/net/context"
)

// The pid that owns the slaves opened by routers.
const KernelPID = 0

// The identity of a process on whose behalf an op runs.
type Cred struct {
	Pid int
	Uid uint32
	Gid uint32
}

// Translates file operations on registered devices into request messages,
// blocking the caller until the driver responds.
//
// Safe for concurrent use.
type Router struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	devices *device.Registry
	copier  Copier
	logger  *log.Logger

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// The slave through which requests for each device channel are sent,
	// opened on first use.
	//
	// INVARIANT: For all k, v in slaves, v.Channel() == k
	//
	// GUARDED_BY(mu)
	slaves map[*channel.Channel]*channel.Slave
}

// Create a router for the devices in the supplied registry. If logger is
// nil, fiu.DebugLogger() is used.
func NewRouter(
	devices *device.Registry,
	copier Copier,
	logger *log.Logger) *Router {
	if logger == nil {
		logger = fiu.DebugLogger()
	}

	return &Router{
		devices: devices,
		copier:  copier,
		logger:  logger,
		slaves:  make(map[*channel.Channel]*channel.Slave),
	}
}

// Close every slave the router has opened.
func (r *Router) Shutdown() {
	r.mu.Lock()
	slaves := r.slaves
	r.slaves = make(map[*channel.Channel]*channel.Slave)
	r.mu.Unlock()

	for _, s := range slaves {
		s.Close()
	}
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (r *Router) slaveFor(c *channel.Channel) (s *channel.Slave, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s = r.slaves[c]; s != nil {
		return
	}

	if s, err = c.Open(KernelPID); err != nil {
		return
	}

	r.slaves[c] = s
	return
}

// Forget the slave for a channel that has gone away.
func (r *Router) dropSlave(s *channel.Slave) {
	r.mu.Lock()
	if r.slaves[s.Channel()] == s {
		delete(r.slaves, s.Channel())
	}
	r.mu.Unlock()

	s.Close()
}

// Look up the device and check that it implements op.
func (r *Router) deviceFor(dev device.ID, op message.Op) (d device.Device, err error) {
	if d, err = r.devices.Lookup(dev); err != nil {
		return
	}

	if !d.Caps.Has(op) {
		err = fmt.Errorf("device %q: %v: %w", d.Name, op, fiu.ErrNotSupported)
		return
	}

	return
}

// Send req to the device as an op request, wait for the reply, and decode
// its body into resp unless resp is nil. Both messages are freed before
// returning.
func (r *Router) call(
	ctx context.Context,
	dev device.ID,
	op message.Op,
	req interface{},
	resp interface{}) (err error) {
	d, err := r.deviceFor(dev, op)
	if err != nil {
		return
	}

	p, err := fiuops.Marshal(req)
	if err != nil {
		err = fmt.Errorf("encoding %v request: %w", op, err)
		return
	}

	s, err := r.slaveFor(d.Channel)
	if err != nil {
		return
	}

	m, err := s.NewMessage(op, len(p))
	if err != nil {
		return
	}

	if _, err = m.Write(p); err != nil {
		s.FreeMessage(m)
		err = fmt.Errorf("Write: %w", err)
		return
	}

	reply, err := s.Call(ctx, m)
	s.FreeMessage(m)

	if err != nil {
		if errors.Is(err, fiu.ErrChannelClosed) {
			r.dropSlave(s)
		}

		err = fmt.Errorf("%s %v: %w", d.Name, op, err)
		return
	}

	err = fiuops.DecodeReply(reply.Payload(), resp)
	s.FreeMessage(reply)

	if err != nil {
		r.logger.Printf("vfs: %s %v: %v", d.Name, op, err)
	}

	return
}

////////////////////////////////////////////////////////////////////////
// Ops
////////////////////////////////////////////////////////////////////////

// Resolve path on the device's tree. Returns the number of leading bytes of
// path resolved, which is less than len(path) if resolution stopped at a
// mount point, and the attributes of the inode reached.
func (r *Router) Lookup(
	ctx context.Context,
	dev device.ID,
	path string,
	cred Cred) (processed int, attrs fiuops.InodeAttributes, err error) {
	req := &fiuops.LookupRequest{
		Path: path,
		Uid:  cred.Uid,
		Gid:  cred.Gid,
	}

	var resp fiuops.LookupResponse
	if err = r.call(ctx, dev, message.OpLookup, req, &resp); err != nil {
		return
	}

	processed = resp.Processed
	attrs = resp.Attrs
	return
}

func (r *Router) Stat(
	ctx context.Context,
	dev device.ID,
	inode fiuops.InodeID,
	cred Cred) (attrs fiuops.InodeAttributes, err error) {
	req := &fiuops.StatRequest{
		Inode: inode,
		Uid:   cred.Uid,
		Gid:   cred.Gid,
	}

	var resp fiuops.StatResponse
	if err = r.call(ctx, dev, message.OpStat, req, &resp); err != nil {
		return
	}

	attrs = resp.Attrs
	return
}

// Open an inode for the process in cred. Returns the inode the driver opened.
func (r *Router) Open(
	ctx context.Context,
	dev device.ID,
	inode fiuops.InodeID,
	cred Cred,
	flags int,
	mode os.FileMode) (opened fiuops.InodeID, err error) {
	req := &fiuops.OpenRequest{
		Inode: inode,
		Uid:   cred.Uid,
		Gid:   cred.Gid,
		Flags: flags,
		Mode:  mode,
		Pid:   cred.Pid,
	}

	var resp fiuops.OpenResponse
	if err = r.call(ctx, dev, message.OpOpen, req, &resp); err != nil {
		return
	}

	opened = resp.Inode
	return
}

// Read up to dst.Len bytes at off into the caller's buffer, returning the
// number of bytes copied.
func (r *Router) Read(
	ctx context.Context,
	dev device.ID,
	inode fiuops.InodeID,
	off int64,
	dst UserBuffer) (n int, err error) {
	if dst.Len < 0 {
		err = fmt.Errorf("read length %d: %w", dst.Len, fiu.ErrInvalidArgument)
		return
	}

	req := &fiuops.ReadRequest{
		Inode:  inode,
		Offset: off,
		Size:   dst.Len,
	}

	var resp fiuops.ReadResponse
	if err = r.call(ctx, dev, message.OpRead, req, &resp); err != nil {
		return
	}

	if len(resp.Data) > dst.Len {
		err = fmt.Errorf(
			"read returned %d bytes for a %d byte request: %w",
			len(resp.Data),
			dst.Len,
			fiu.ErrInvalidArgument)
		return
	}

	if err = r.copier.CopyOut(dst, resp.Data); err != nil {
		err = fmt.Errorf("CopyOut: %w", err)
		return
	}

	n = len(resp.Data)
	return
}

// Write the caller's buffer at off, returning the number of bytes the driver
// accepted.
func (r *Router) Write(
	ctx context.Context,
	dev device.ID,
	inode fiuops.InodeID,
	off int64,
	src UserBuffer) (n int, err error) {
	// Check the device before touching user memory.
	if _, err = r.deviceFor(dev, message.OpWrite); err != nil {
		return
	}

	if src.Len < 0 {
		err = fmt.Errorf("write length %d: %w", src.Len, fiu.ErrInvalidArgument)
		return
	}

	data := make([]byte, src.Len)
	if err = r.copier.CopyIn(data, src); err != nil {
		err = fmt.Errorf("CopyIn: %w", err)
		return
	}

	req := &fiuops.WriteRequest{
		Inode:  inode,
		Offset: off,
		Data:   data,
	}

	var resp fiuops.WriteResponse
	if err = r.call(ctx, dev, message.OpWrite, req, &resp); err != nil {
		return
	}

	n = resp.Size
	return
}

func (r *Router) Close(
	ctx context.Context,
	dev device.ID,
	inode fiuops.InodeID) (err error) {
	req := &fiuops.CloseRequest{
		Inode: inode,
	}

	err = r.call(ctx, dev, message.OpClose, req, nil)
	return
}

// Send a control request. If arg is non-nil it is passed to the driver and
// updated with the value the driver returns, if any.
func (r *Router) Ioctl(
	ctx context.Context,
	dev device.ID,
	inode fiuops.InodeID,
	request int,
	arg *int) (ret int, err error) {
	req := &fiuops.IoctlRequest{
		Inode:   inode,
		Request: request,
		Arg:     arg,
	}

	var resp fiuops.IoctlResponse
	if err = r.call(ctx, dev, message.OpIoctl, req, &resp); err != nil {
		return
	}

	if arg != nil && resp.Arg != nil {
		*arg = *resp.Arg
	}

	ret = resp.Ret
	return
}

// Read the entry at index in a directory. Fails with ErrNotFound past the
// last entry.
func (r *Router) GetDirent(
	ctx context.Context,
	dev device.ID,
	inode fiuops.InodeID,
	index int) (d fiuops.Dirent, err error) {
	req := &fiuops.GetDirentRequest{
		Inode: inode,
		Index: index,
	}

	var resp fiuops.GetDirentResponse
	if err = r.call(ctx, dev, message.OpGetDirent, req, &resp); err != nil {
		return
	}

	d = resp.Dirent
	return
}

// Tell the device its tree is mounted on inode as mount number mountNb.
func (r *Router) Mount(
	ctx context.Context,
	dev device.ID,
	inode fiuops.InodeID,
	mountNb int) (err error) {
	req := &fiuops.MountRequest{
		Inode:   inode,
		MountNb: mountNb,
	}

	err = r.call(ctx, dev, message.OpMount, req, nil)
	return
}

func (r *Router) Umount(
	ctx context.Context,
	dev device.ID,
	mountNb int) (err error) {
	req := &fiuops.UmountRequest{
		MountNb: mountNb,
	}

	err = r.call(ctx, dev, message.OpUmount, req, nil)
	return
}
