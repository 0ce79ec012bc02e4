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

package channel_test

import (
	"errors"
	"io/ioutil"
	"log"
	"testing"
	"time"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/channel"
	"github.com/jacobsa/fiu/message"
	"github.com/jacobsa/fiu/sched"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
	"github.com/jacobsa/timeutil"
	"golang.org/x/net/context"
)

func TestChannel(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

const (
	driverPID = 100
	clientPID = 200
)

func newConfig(alloc message.Allocator) channel.Config {
	return channel.Config{
		Blocker:   sched.NewWaitQueue(),
		Allocator: alloc,
		NameMax:   16,
		Clock:     &timeutil.SimulatedClock{},
		Logger:    log.New(ioutil.Discard, "", 0),
	}
}

func newMessage(
	alloc func(message.Op, int) (*message.Message, error),
	op message.Op,
	payload string) *message.Message {
	m, err := alloc(op, len(payload))
	AssertEq(nil, err)

	_, err = m.Write([]byte(payload))
	AssertEq(nil, err)

	return m
}

////////////////////////////////////////////////////////////////////////
// Name table
////////////////////////////////////////////////////////////////////////

type TableTest struct {
	ctx   context.Context
	alloc *message.BudgetAllocator
	table *channel.Table
}

func init() { RegisterTestSuite(&TableTest{}) }

func (t *TableTest) SetUp(ti *TestInfo) {
	t.ctx = ti.Ctx
	t.alloc = message.NewBudgetAllocator(1 << 10)
	t.table = channel.NewTable(newConfig(t.alloc))
}

func (t *TableTest) CreateTwice() {
	c, err := t.table.Create(driverPID, "x")
	AssertEq(nil, err)
	ExpectEq("x", c.Name())
	ExpectEq(driverPID, c.Owner())

	_, err = t.table.Create(clientPID, "x")
	ExpectThat(err, Error(HasSubstr("already exists")))
	ExpectTrue(errors.Is(err, fiu.ErrExists))
}

func (t *TableTest) CreateCloseCreate() {
	c, err := t.table.Create(driverPID, "x")
	AssertEq(nil, err)
	AssertEq(nil, c.Close())

	_, err = t.table.Lookup("x")
	ExpectTrue(errors.Is(err, fiu.ErrNotFound), "err: %v", err)

	_, err = t.table.Create(driverPID, "x")
	ExpectEq(nil, err)
}

func (t *TableTest) BadNames() {
	_, err := t.table.Create(driverPID, "")
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)

	_, err = t.table.Create(driverPID, "a name that is much too long")
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)
}

func (t *TableTest) NameStorageIsCharged() {
	t.alloc = message.NewBudgetAllocator(4)
	t.table = channel.NewTable(newConfig(t.alloc))

	c, err := t.table.Create(driverPID, "disk")
	AssertEq(nil, err)
	ExpectEq(4, t.alloc.InUse())

	_, err = t.table.Create(driverPID, "tty")
	ExpectTrue(errors.Is(err, fiu.ErrOutOfMemory), "err: %v", err)
	ExpectThat(t.table.Names(), ElementsAre("disk"))

	AssertEq(nil, c.Close())
	ExpectEq(0, t.alloc.InUse())
}

func (t *TableTest) OpenByName() {
	_, err := t.table.OpenByName(clientPID, "disk0")
	ExpectTrue(errors.Is(err, fiu.ErrNotFound), "err: %v", err)

	c, err := t.table.Create(driverPID, "disk0")
	AssertEq(nil, err)

	s, err := t.table.OpenByName(clientPID, "disk0")
	AssertEq(nil, err)
	ExpectEq(c, s.Channel())
	ExpectEq(clientPID, s.Owner())
}

func (t *TableTest) Names() {
	for _, name := range []string{"tty0", "disk0", "null"} {
		_, err := t.table.Create(driverPID, name)
		AssertEq(nil, err)
	}

	ExpectThat(t.table.Names(), ElementsAre("disk0", "null", "tty0"))

	t.table.Shutdown()
	ExpectThat(t.table.Names(), ElementsAre())
}

////////////////////////////////////////////////////////////////////////
// Channels
////////////////////////////////////////////////////////////////////////

// A table holding a single channel named "disk0".
type channelFixture struct {
	ctx   context.Context
	alloc *message.BudgetAllocator
	table *channel.Table
	c     *channel.Channel
}

func (t *channelFixture) SetUp(ti *TestInfo) {
	var err error

	t.ctx = ti.Ctx
	t.alloc = message.NewBudgetAllocator(1 << 20)
	t.table = channel.NewTable(newConfig(t.alloc))

	t.c, err = t.table.Create(driverPID, "disk0")
	AssertEq(nil, err)
}

type ChannelTest struct {
	channelFixture
}

func init() { RegisterTestSuite(&ChannelTest{}) }

func (t *ChannelTest) SlaveIDsAreNeverReused() {
	s0, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	s1, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	AssertEq(nil, s1.Close())

	s2, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	ExpectEq(0, s0.ID())
	ExpectEq(1, s1.ID())
	ExpectEq(2, s2.ID())
	ExpectEq(2, t.c.NumSlaves())

	_, ok := t.c.Slave(1)
	ExpectFalse(ok)
}

func (t *ChannelTest) SlaveToMasterIsTagged() {
	s, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	_, err = t.c.Open(clientPID)
	AssertEq(nil, err)

	AssertEq(nil, s.Send(newMessage(s.NewMessage, message.OpOpen, "taco")))

	m, err := t.c.Dequeue(t.ctx)
	AssertEq(nil, err)
	ExpectEq(s.ID(), m.Slave)
	ExpectEq("taco", string(m.Payload()))
	t.c.FreeMessage(m)
}

func (t *ChannelTest) MasterToUnknownSlave() {
	m := newMessage(t.c.NewMessage, message.OpRead, "taco")

	err := t.c.SendToSlave(17, m)
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)

	t.c.FreeMessage(m)
}

func (t *ChannelTest) MasterWriteRoutesByHeader() {
	s0, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	s1, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	frame := make([]byte, message.HeaderSize+4)
	message.PutHeader(frame, message.MakeID(3, message.OpRead), s1.ID())
	copy(frame[message.HeaderSize:], "taco")

	n, err := t.c.Write(frame)
	AssertEq(nil, err)
	ExpectEq(len(frame), n)

	ExpectEq(0, s0.Pending())

	buf := make([]byte, 16)
	n, err = s1.Receive(t.ctx, buf)
	AssertEq(nil, err)
	ExpectEq("taco", string(buf[:n]))
}

func (t *ChannelTest) MasterWriteMalformed() {
	_, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	// Too short.
	_, err = t.c.Write([]byte{1, 2, 3})
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)

	// Unknown slave.
	frame := make([]byte, message.HeaderSize)
	message.PutHeader(frame, message.MakeID(3, message.OpRead), 9)
	_, err = t.c.Write(frame)
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)

	ExpectEq(0, t.c.Provider().Outstanding())
}

func (t *ChannelTest) PartialReceiveOnMaster() {
	s, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	AssertEq(nil, s.Send(newMessage(s.NewMessage, message.OpWrite, "0123456789")))

	buf := make([]byte, 4)
	n, err := t.c.Receive(t.ctx, buf)
	AssertEq(nil, err)
	ExpectEq("0123", string(buf[:n]))

	buf = make([]byte, 6)
	n, err = t.c.Receive(t.ctx, buf)
	AssertEq(nil, err)
	ExpectEq("456789", string(buf[:n]))

	ExpectEq(0, t.c.Pending())
	ExpectEq(0, t.c.Provider().Outstanding())
}

func (t *ChannelTest) CloseMasterFreesQueuedMessages() {
	s, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	AssertEq(nil, s.Send(newMessage(s.NewMessage, message.OpWrite, "taco")))
	AssertEq(nil, t.c.Close())

	ExpectEq(0, t.c.Provider().Outstanding())
	ExpectEq(0, t.alloc.InUse())

	// Further sends fail cleanly.
	m := newMessage(s.NewMessage, message.OpWrite, "burrito")
	err = s.Send(m)
	ExpectTrue(errors.Is(err, fiu.ErrChannelClosed), "err: %v", err)
	s.FreeMessage(m)

	// The slave may still be closed by its owner.
	ExpectEq(nil, s.Close())

	err = t.c.Close()
	ExpectTrue(errors.Is(err, fiu.ErrChannelClosed), "err: %v", err)
}

func (t *ChannelTest) SlaveMayDrainAfterMasterClose() {
	s, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	AssertEq(nil, t.c.SendToSlave(s.ID(), newMessage(t.c.NewMessage, message.OpRead, "taco")))
	AssertEq(nil, t.c.Close())

	m, err := s.Dequeue(t.ctx)
	AssertEq(nil, err)
	ExpectEq("taco", string(m.Payload()))
	s.FreeMessage(m)

	_, err = s.Dequeue(t.ctx)
	ExpectTrue(errors.Is(err, fiu.ErrChannelClosed), "err: %v", err)
}

func (t *ChannelTest) CloseSlaveFreesQueuedMessages() {
	s, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	AssertEq(nil, t.c.SendToSlave(s.ID(), newMessage(t.c.NewMessage, message.OpRead, "taco")))
	AssertEq(nil, s.Close())

	ExpectEq(0, t.c.Provider().Outstanding())
	ExpectEq(0, t.c.NumSlaves())

	err = s.Close()
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)
}

func (t *ChannelTest) OpenAfterClose() {
	AssertEq(nil, t.c.Close())

	_, err := t.c.Open(clientPID)
	ExpectTrue(errors.Is(err, fiu.ErrChannelClosed), "err: %v", err)
}

////////////////////////////////////////////////////////////////////////
// Synchronous calls
////////////////////////////////////////////////////////////////////////

type CallTest struct {
	channelFixture
}

func init() { RegisterTestSuite(&CallTest{}) }

func (t *CallTest) Scenario() {
	s1, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	s2, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	req := newMessage(s1.NewMessage, message.OpClose, "close 7")
	req.ID = 0x105

	type result struct {
		resp *message.Message
		err  error
	}

	done := make(chan result)
	go func() {
		resp, err := s1.Call(t.ctx, req)
		done <- result{resp, err}
	}()

	// The driver sees the request, tagged with the caller's slave.
	m, err := t.c.Dequeue(t.ctx)
	AssertEq(nil, err)
	ExpectEq(0x105, m.ID)
	ExpectEq(message.OpClose, m.ID.Op())
	ExpectEq(s1.ID(), m.Slave)
	ExpectEq("close 7", string(m.Payload()))

	resp := newMessage(t.c.NewMessage, message.OpClose, "ok")
	resp.ID = m.ID
	AssertEq(nil, t.c.SendToSlave(m.Slave, resp))
	t.c.FreeMessage(m)

	r := <-done
	AssertEq(nil, r.err)
	ExpectEq(0x105, r.resp.ID)
	ExpectEq("ok", string(r.resp.Payload()))

	ExpectEq(0, s2.Pending())
	ExpectEq(0, s1.Pending())

	s1.FreeMessage(r.resp)
	s1.FreeMessage(req)
	ExpectEq(0, t.c.Provider().Outstanding())
}

func (t *CallTest) ConcurrentCallsWakeOnlyTheirOwnCaller() {
	s, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	reqA := newMessage(s.NewMessage, message.OpRead, "a")
	reqB := newMessage(s.NewMessage, message.OpRead, "b")

	doneA := make(chan *message.Message, 1)
	doneB := make(chan *message.Message, 1)

	call := func(req *message.Message, done chan<- *message.Message) {
		resp, err := s.Call(t.ctx, req)
		if err != nil {
			panic(err)
		}
		done <- resp
	}

	go call(reqA, doneA)
	go call(reqB, doneB)

	// Collect both requests, then answer B only.
	var byPayload = make(map[string]*message.Message)
	for i := 0; i < 2; i++ {
		m, err := t.c.Dequeue(t.ctx)
		AssertEq(nil, err)
		byPayload[string(m.Payload())] = m
	}

	respB := newMessage(t.c.NewMessage, message.OpRead, "for b")
	respB.ID = byPayload["b"].ID
	AssertEq(nil, t.c.SendToSlave(s.ID(), respB))

	ExpectEq("for b", string((<-doneB).Payload()))

	select {
	case <-doneA:
		AddFailure("Caller A woken by a response for B")
		return
	case <-time.After(10 * time.Millisecond):
	}

	respA := newMessage(t.c.NewMessage, message.OpRead, "for a")
	respA.ID = byPayload["a"].ID
	AssertEq(nil, t.c.SendToSlave(s.ID(), respA))

	ExpectEq("for a", string((<-doneA).Payload()))
}

func (t *CallTest) MasterToSlaveCall() {
	s, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	go func() {
		req, err := s.Dequeue(t.ctx)
		if err != nil {
			panic(err)
		}

		resp, _ := s.NewMessage(message.OpIoctl, 4)
		resp.ID = req.ID
		resp.Write([]byte("pong"))
		s.FreeMessage(req)

		if err := s.Send(resp); err != nil {
			panic(err)
		}
	}()

	req := newMessage(t.c.NewMessage, message.OpIoctl, "ping")
	resp, err := t.c.Call(t.ctx, s.ID(), req)
	AssertEq(nil, err)
	ExpectEq(req.ID, resp.ID)
	ExpectEq("pong", string(resp.Payload()))
}

func (t *CallTest) SendFailureDoesNotBlock() {
	s, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	AssertEq(nil, t.c.Close())

	req := newMessage(s.NewMessage, message.OpOpen, "x")
	_, err = s.Call(t.ctx, req)
	ExpectTrue(errors.Is(err, fiu.ErrChannelClosed), "err: %v", err)

	s.FreeMessage(req)
	ExpectEq(0, t.c.Provider().Outstanding())
}

func (t *CallTest) OutOfMemoryDoesNotBlock() {
	alloc := message.NewBudgetAllocator(16)
	table := channel.NewTable(newConfig(alloc))

	c, err := table.Create(driverPID, "d")
	AssertEq(nil, err)

	s, err := c.Open(clientPID)
	AssertEq(nil, err)

	// The request uses most of the budget, leaving no room for its copy.
	req := newMessage(s.NewMessage, message.OpWrite, "0123456789")
	_, err = s.Call(t.ctx, req)
	ExpectTrue(errors.Is(err, fiu.ErrOutOfMemory), "err: %v", err)
	ExpectEq(0, c.Pending())
}

func (t *CallTest) MasterCloseWakesCaller() {
	s, err := t.c.Open(clientPID)
	AssertEq(nil, err)

	req := newMessage(s.NewMessage, message.OpRead, "x")
	errs := make(chan error)
	go func() {
		_, err := s.Call(t.ctx, req)
		errs <- err
	}()

	// Wait for the request to arrive, then abandon it.
	for t.c.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}

	AssertEq(nil, t.c.Close())

	err = <-errs
	ExpectTrue(errors.Is(err, fiu.ErrChannelClosed), "err: %v", err)
}
