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

	"github.com/fxamacker/cbor/v2"
	"github.com/jacobsa/fiu"
	"golang.org/x/sys/unix"
)

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("fiuops: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Payloads are fixed by the op set; a field the receiver does not know
		// means the two sides disagree on it.
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("fiuops: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode v as a message payload.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode a message payload into v. Malformed payloads yield an error wrapping
// fiu.ErrInvalidArgument.
func Unmarshal(data []byte, v interface{}) (err error) {
	if err = decMode.Unmarshal(data, v); err != nil {
		err = fmt.Errorf("decoding %T: %v: %w", v, err, fiu.ErrInvalidArgument)
	}

	return
}

// The envelope of every response payload. A non-zero Errno means the op
// failed and Body is empty.
type Reply struct {
	Errno uint32          `cbor:"1,keyasint,omitempty"`
	Body  cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// Encode the outcome of an op: err if it is non-nil, otherwise body, which
// may be nil for ops with no response fields.
func EncodeReply(err error, body interface{}) (p []byte, encErr error) {
	var r Reply
	if err != nil {
		r.Errno = uint32(fiu.Errno(err))
	} else if body != nil {
		if r.Body, encErr = Marshal(body); encErr != nil {
			encErr = fmt.Errorf("encoding %T: %w", body, encErr)
			return
		}
	}

	p, encErr = Marshal(&r)
	return
}

// Decode a response payload. If the op failed, return the corresponding
// error. Otherwise decode the body into body, unless body is nil. An empty
// body leaves *body untouched.
func DecodeReply(p []byte, body interface{}) (err error) {
	var r Reply
	if err = Unmarshal(p, &r); err != nil {
		return
	}

	if r.Errno != 0 {
		err = fiu.FromErrno(unix.Errno(r.Errno))
		return
	}

	if body != nil && len(r.Body) > 0 {
		err = Unmarshal(r.Body, body)
	}

	return
}
