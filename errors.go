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

package fiu

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Errors returned by the IPC core. Operations wrap these with context, so
// test for them with errors.Is.
var (
	ErrOutOfMemory      = errors.New("out of memory")
	ErrExists           = errors.New("already exists")
	ErrNotFound         = errors.New("not found")
	ErrNoSuchDevice     = errors.New("no such device")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrPermissionDenied = errors.New("permission denied")

	// A response was expected in a mailbox but was not there. This is a
	// protocol violation by the peer; it is fatal to the call only.
	ErrNoData = errors.New("no data")

	// The master end of a channel has been closed.
	ErrChannelClosed = errors.New("channel closed")

	// The device does not implement the requested operation.
	ErrNotSupported = errors.New("operation not supported")
)

var errnos = []struct {
	err   error
	errno unix.Errno
}{
	{ErrOutOfMemory, unix.ENOMEM},
	{ErrExists, unix.EEXIST},
	{ErrNotFound, unix.ENOENT},
	{ErrNoSuchDevice, unix.ENODEV},
	{ErrInvalidArgument, unix.EINVAL},
	{ErrPermissionDenied, unix.EPERM},
	{ErrNoData, unix.ENODATA},
	{ErrChannelClosed, unix.EPIPE},
	{ErrNotSupported, unix.ENOSYS},
}

// Return the error number that should be reported to user space for the
// supplied error. Errors that wrap none of the values above map to EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}

	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}

	return unix.EIO
}

// The inverse of Errno: return the error corresponding to a status code
// received from a driver. Unknown codes are returned as the unix.Errno
// itself.
func FromErrno(errno unix.Errno) error {
	if errno == 0 {
		return nil
	}

	for _, e := range errnos {
		if e.errno == errno {
			return e.err
		}
	}

	return errno
}
