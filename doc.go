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

// Package fiu contains the pieces shared by the kernel side and the driver
// side of a message-passing file system: the error values surfaced to
// callers, debug logging, and configuration.
//
// The primary elements of interest live in subpackages:
//
//  *  channel, which implements the master/slave mailboxes that carry
//     requests to user-space drivers and responses back, together with the
//     synchronous Call wrapper.
//
//  *  device, a fixed-size table binding device names to an owning process
//     and a backing channel.
//
//  *  vfs, which turns VFS operations into requests on a device's channel.
//
//  *  fiuutil, which drivers use to serve requests read from their device.
//
//  *  bcache, a fixed-capacity, reference-counted block cache used by
//     drivers that sit on top of block storage.
//
// kernel.New wires all of these together.
package fiu
