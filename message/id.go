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

package message

import "fmt"

// An operation code, carried in the low byte of a message ID. The set is
// closed and versioned: drivers and the kernel must agree on it.
type Op uint8

const (
	OpLookup Op = iota + 1
	OpOpen
	OpRead
	OpWrite
	OpClose
	OpIoctl
	OpGetDirent
	OpMount
	OpStat
	OpUmount

	// One past the highest op code.
	NumOps
)

var opNames = [...]string{
	OpLookup:    "lookup",
	OpOpen:      "open",
	OpRead:      "read",
	OpWrite:     "write",
	OpClose:     "close",
	OpIoctl:     "ioctl",
	OpGetDirent: "getdirent",
	OpMount:     "mount",
	OpStat:      "stat",
	OpUmount:    "umount",
}

func (op Op) String() string {
	if op > 0 && op < NumOps {
		return opNames[op]
	}

	return fmt.Sprintf("op(%d)", uint8(op))
}

// Return true if op is a member of the op set.
func (op Op) Valid() bool {
	return op > 0 && op < NumOps
}

// A message identifier. The low 8 bits hold the op code; the remaining 24
// bits hold a sequence number assigned when the message is allocated, used
// to match a response to its request.
type ID uint32

const (
	opBits  = 8
	opMask  = 1<<opBits - 1
	seqMask = 1<<(32-opBits) - 1
)

// Build an ID from a sequence number, which is truncated to 24 bits, and an
// op code.
func MakeID(seq uint32, op Op) ID {
	return ID((seq&seqMask)<<opBits | uint32(op))
}

func (id ID) Op() Op {
	return Op(id & opMask)
}

func (id ID) Seq() uint32 {
	return uint32(id) >> opBits
}

// Return a copy of id with the op code replaced.
func (id ID) WithOp(op Op) ID {
	return id&^opMask | ID(op)
}

func (id ID) String() string {
	return fmt.Sprintf("%#x (%v #%d)", uint32(id), id.Op(), id.Seq())
}
