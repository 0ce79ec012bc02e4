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

package message_test

import (
	"errors"
	"testing"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/message"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestMessage(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// IDs
////////////////////////////////////////////////////////////////////////

type IDTest struct{}

func init() { RegisterTestSuite(&IDTest{}) }

func (t *IDTest) OpInLowByte() {
	id := message.MakeID(1, message.OpClose)

	ExpectEq(0x105, id)
	ExpectEq(message.OpClose, id.Op())
	ExpectEq(1, id.Seq())
}

func (t *IDTest) SequenceTruncatedTo24Bits() {
	id := message.MakeID(1<<24|7, message.OpRead)

	ExpectEq(7, id.Seq())
	ExpectEq(message.OpRead, id.Op())
}

func (t *IDTest) WithOpKeepsSequence() {
	id := message.MakeID(42, message.OpOpen).WithOp(message.OpWrite)

	ExpectEq(42, id.Seq())
	ExpectEq(message.OpWrite, id.Op())
}

func (t *IDTest) OpNames() {
	ExpectEq("getdirent", message.OpGetDirent.String())
	ExpectEq("op(0)", message.Op(0).String())
	ExpectFalse(message.Op(0).Valid())
	ExpectFalse(message.NumOps.Valid())
	ExpectTrue(message.OpUmount.Valid())
}

////////////////////////////////////////////////////////////////////////
// Headers
////////////////////////////////////////////////////////////////////////

type HeaderTest struct{}

func init() { RegisterTestSuite(&HeaderTest{}) }

func (t *HeaderTest) RoundTrip() {
	p := make([]byte, message.HeaderSize+3)
	message.PutHeader(p, 0x105, 9)

	id, slave, err := message.ParseHeader(p)
	AssertEq(nil, err)
	ExpectEq(0x105, id)
	ExpectEq(9, slave)
}

func (t *HeaderTest) TooShort() {
	_, _, err := message.ParseHeader(make([]byte, message.HeaderSize-1))
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)
}

func (t *HeaderTest) UnknownOp() {
	p := make([]byte, message.HeaderSize)
	message.PutHeader(p, message.MakeID(1, 0), 0)

	_, _, err := message.ParseHeader(p)
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)
}

////////////////////////////////////////////////////////////////////////
// Provider
////////////////////////////////////////////////////////////////////////

type ProviderTest struct {
	alloc    *message.BudgetAllocator
	provider *message.Provider
}

func init() { RegisterTestSuite(&ProviderTest{}) }

func (t *ProviderTest) SetUp(ti *TestInfo) {
	t.alloc = message.NewBudgetAllocator(64)
	t.provider = message.NewProvider(t.alloc)
}

func (t *ProviderTest) FreshIDs() {
	m0, err := t.provider.New(message.OpOpen, 4)
	AssertEq(nil, err)

	m1, err := t.provider.New(message.OpOpen, 4)
	AssertEq(nil, err)

	ExpectNe(m0.ID, m1.ID)
	ExpectEq(m0.ID.Seq()+1, m1.ID.Seq())
	ExpectEq(message.OpOpen, m1.ID.Op())
	ExpectEq(2, t.provider.Outstanding())
}

func (t *ProviderTest) ZeroFilledAndEmpty() {
	m, err := t.provider.New(message.OpRead, 8)
	AssertEq(nil, err)

	ExpectEq(0, m.Len())
	ExpectEq(8, m.Cap())

	AssertEq(nil, m.SetLen(8))
	ExpectEq(string(make([]byte, 8)), string(m.Payload()))
}

func (t *ProviderTest) WriteBeyondCapacity() {
	m, err := t.provider.New(message.OpWrite, 4)
	AssertEq(nil, err)

	_, err = m.Write([]byte("abc"))
	AssertEq(nil, err)

	_, err = m.Write([]byte("de"))
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)
	ExpectEq("abc", string(m.Payload()))
}

func (t *ProviderTest) OutOfMemory() {
	_, err := t.provider.New(message.OpRead, 65)

	ExpectThat(err, Error(HasSubstr("out of memory")))
	ExpectTrue(errors.Is(err, fiu.ErrOutOfMemory))
	ExpectEq(0, t.provider.Outstanding())
}

func (t *ProviderTest) FreeReturnsMemory() {
	m, err := t.provider.New(message.OpRead, 64)
	AssertEq(nil, err)
	ExpectEq(64, t.alloc.InUse())

	t.provider.Free(m)
	ExpectEq(0, t.alloc.InUse())
	ExpectEq(0, t.provider.Outstanding())

	// The memory can be used again.
	m, err = t.provider.New(message.OpRead, 64)
	AssertEq(nil, err)
	t.provider.Free(m)
}

func (t *ProviderTest) PartialConsumption() {
	m, err := t.provider.New(message.OpRead, 8)
	AssertEq(nil, err)

	_, err = m.Write([]byte("taco"))
	AssertEq(nil, err)

	m.Advance(3)
	ExpectEq("o", string(m.Remaining()))
	ExpectFalse(m.Drained())

	m.Advance(17)
	ExpectEq("", string(m.Remaining()))
	ExpectTrue(m.Drained())
}
