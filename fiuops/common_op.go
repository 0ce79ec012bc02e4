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
	"strings"

	"github.com/jacobsa/fiu/message"
	"github.com/jacobsa/reqtrace"
	"golang.org/x/net/context"
)

// Information common to all ops.
type OpHeader struct {
	// The ID of the request message. The reply carries the same ID.
	ID message.ID

	// The slave of the device channel the request came from.
	Slave uint16
}

// A helper for embedding common behavior.
type commonOp struct {
	opType string
	header OpHeader
	log    func(int, string, ...interface{})

	// Delivers an encoded reply to the caller.
	send func([]byte) error

	ctx    context.Context
	report reqtrace.ReportFunc
}

func describeOpType(t reflect.Type) (desc string) {
	name := t.String()
	name = strings.TrimPrefix(name, "*fiuops.")
	desc = strings.TrimSuffix(name, "Op")
	return
}

func (o *commonOp) init(
	ctx context.Context,
	opType reflect.Type,
	header OpHeader,
	send func([]byte) error,
	log func(int, string, ...interface{})) {
	// Initialize basic fields.
	o.opType = describeOpType(opType)
	o.header = header
	o.send = send
	o.log = log

	// Set up a trace span for this op.
	o.ctx, o.report = reqtrace.StartSpan(ctx, o.opType)
}

func (o *commonOp) Header() OpHeader {
	return o.header
}

func (o *commonOp) Context() context.Context {
	return o.ctx
}

func (o *commonOp) Logf(format string, v ...interface{}) {
	const calldepth = 2
	o.log(calldepth, format, v...)
}

func (o *commonOp) respondErr(err error) {
	if err == nil {
		panic("Expect non-nil here.")
	}

	o.report(err)

	o.Logf(
		"-> (%s) error: %v",
		o.opType,
		err)

	o.deliver(err, nil)
}

// Respond with the supplied response struct, or with no body if it is nil.
func (o *commonOp) respond(resp interface{}) {
	// We were successful.
	o.report(nil)

	if resp == nil {
		o.Logf("-> (%s) OK", o.opType)
	} else {
		o.Logf("-> %+v", resp)
	}

	o.deliver(nil, resp)
}

func (o *commonOp) deliver(opErr error, resp interface{}) {
	p, err := EncodeReply(opErr, resp)
	if err != nil {
		err = fmt.Errorf("EncodeReply: %w", err)
		o.Logf("-> (%s) replying with error: %v", o.opType, err)

		// The caller is waiting either way. A bare errno always encodes.
		p, _ = EncodeReply(err, nil)
	}

	if err = o.send(p); err != nil {
		o.Logf("-> (%s) dropped: %v", o.opType, err)
	}
}
