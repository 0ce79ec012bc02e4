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

package fiu_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jacobsa/fiu"
	. "github.com/jacobsa/ogletest"
	"golang.org/x/sys/unix"
)

func TestFiu(t *testing.T) { RunTests(t) }

type ErrorsTest struct {
}

func init() { RegisterTestSuite(&ErrorsTest{}) }

func (t *ErrorsTest) Nil() {
	ExpectEq(0, fiu.Errno(nil))
	ExpectEq(nil, fiu.FromErrno(0))
}

func (t *ErrorsTest) Sentinels() {
	testCases := []struct {
		err   error
		errno unix.Errno
	}{
		{fiu.ErrOutOfMemory, unix.ENOMEM},
		{fiu.ErrExists, unix.EEXIST},
		{fiu.ErrNotFound, unix.ENOENT},
		{fiu.ErrNoSuchDevice, unix.ENODEV},
		{fiu.ErrInvalidArgument, unix.EINVAL},
		{fiu.ErrPermissionDenied, unix.EPERM},
		{fiu.ErrNoData, unix.ENODATA},
		{fiu.ErrChannelClosed, unix.EPIPE},
		{fiu.ErrNotSupported, unix.ENOSYS},
	}

	for _, tc := range testCases {
		ExpectEq(tc.errno, fiu.Errno(tc.err), "%v", tc.err)
		ExpectEq(tc.err, fiu.FromErrno(tc.errno), "%v", tc.errno)
	}
}

func (t *ErrorsTest) WrappedSentinel() {
	err := fmt.Errorf("Lookup: device %q: %w", "disk0", fiu.ErrNoSuchDevice)
	ExpectEq(unix.ENODEV, fiu.Errno(err))
}

func (t *ErrorsTest) WrappedErrno() {
	err := fmt.Errorf("ReadAt: %w", unix.EROFS)
	ExpectEq(unix.EROFS, fiu.Errno(err))
}

func (t *ErrorsTest) UnknownError() {
	ExpectEq(unix.EIO, fiu.Errno(errors.New("taco")))
}

func (t *ErrorsTest) UnknownErrno() {
	err := fiu.FromErrno(unix.EROFS)
	ExpectTrue(errors.Is(err, unix.EROFS), "err: %v", err)
}
