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
	"errors"
	"reflect"

	"github.com/jacobsa/fiu/message"
	. "github.com/jacobsa/ogletest"
	"golang.org/x/net/context"
	"golang.org/x/sys/unix"
)

// Runs under TestFiuops, which lives in the external test package.
type DeliverTest struct {
	op   commonOp
	sent [][]byte
}

func init() { RegisterTestSuite(&DeliverTest{}) }

func (t *DeliverTest) SetUp(ti *TestInfo) {
	send := func(p []byte) error {
		t.sent = append(t.sent, p)
		return nil
	}

	log := func(int, string, ...interface{}) {}

	t.op.init(
		context.Background(),
		reflect.TypeOf(&ReadOp{}),
		OpHeader{ID: message.MakeID(1, message.OpRead)},
		send,
		log)
}

func (t *DeliverTest) RespondSendsBody() {
	t.op.respond(&ReadResponse{Data: []byte("taco")})
	AssertEq(1, len(t.sent))

	var resp ReadResponse
	AssertEq(nil, DecodeReply(t.sent[0], &resp))
	ExpectEq("taco", string(resp.Data))
}

func (t *DeliverTest) UnencodableBodyStillReplies() {
	// Channels have no CBOR encoding.
	t.op.respond(make(chan int))
	AssertEq(1, len(t.sent))

	err := DecodeReply(t.sent[0], nil)
	ExpectTrue(errors.Is(err, unix.EIO), "err: %v", err)
}

func (t *DeliverTest) ErrorReply() {
	t.op.respondErr(unix.ERANGE)
	AssertEq(1, len(t.sent))

	err := DecodeReply(t.sent[0], nil)
	ExpectTrue(errors.Is(err, unix.ERANGE), "err: %v", err)
}
