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
	"fmt"
	"reflect"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/message"
	"golang.org/x/net/context"
)

// Decode the request message m into an Op whose Respond method hands the
// encoded reply to send. m is not retained.
//
// This function is an implementation detail of the fiuutil package, and must
// not be called by anyone else.
func Convert(
	parentCtx context.Context,
	m *message.Message,
	send func([]byte) error,
	logForOp func(int, string, ...interface{})) (o Op, err error) {
	var co *commonOp
	p := m.Payload()

	switch m.ID.Op() {
	case message.OpLookup:
		var req LookupRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &LookupOp{
			Path: req.Path,
			Uid:  req.Uid,
			Gid:  req.Gid,
		}
		o = to
		co = &to.commonOp

	case message.OpStat:
		var req StatRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &StatOp{
			Inode: req.Inode,
			Uid:   req.Uid,
			Gid:   req.Gid,
		}
		o = to
		co = &to.commonOp

	case message.OpGetDirent:
		var req GetDirentRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &GetDirentOp{
			Inode: req.Inode,
			Index: req.Index,
		}
		o = to
		co = &to.commonOp

	case message.OpOpen:
		var req OpenRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &OpenOp{
			Inode: req.Inode,
			Uid:   req.Uid,
			Gid:   req.Gid,
			Flags: req.Flags,
			Mode:  req.Mode,
			Pid:   req.Pid,
		}
		o = to
		co = &to.commonOp

	case message.OpRead:
		var req ReadRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &ReadOp{
			Inode:  req.Inode,
			Offset: req.Offset,
			Size:   req.Size,
		}
		o = to
		co = &to.commonOp

	case message.OpWrite:
		var req WriteRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &WriteOp{
			Inode:  req.Inode,
			Offset: req.Offset,
			Data:   req.Data,
		}
		o = to
		co = &to.commonOp

	case message.OpClose:
		var req CloseRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &CloseOp{
			Inode: req.Inode,
		}
		o = to
		co = &to.commonOp

	case message.OpIoctl:
		var req IoctlRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &IoctlOp{
			Inode:   req.Inode,
			Request: req.Request,
			Arg:     req.Arg,
		}
		o = to
		co = &to.commonOp

	case message.OpMount:
		var req MountRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &MountOp{
			Inode:   req.Inode,
			MountNb: req.MountNb,
		}
		o = to
		co = &to.commonOp

	case message.OpUmount:
		var req UmountRequest
		if err = Unmarshal(p, &req); err != nil {
			return
		}

		to := &UmountOp{
			MountNb: req.MountNb,
		}
		o = to
		co = &to.commonOp

	default:
		err = fmt.Errorf("unknown op %v: %w", m.ID.Op(), fiu.ErrInvalidArgument)
		return
	}

	header := OpHeader{
		ID:    m.ID,
		Slave: m.Slave,
	}

	co.init(parentCtx, reflect.TypeOf(o), header, send, logForOp)
	return
}
