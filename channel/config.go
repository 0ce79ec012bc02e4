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

package channel

import (
	"log"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/message"
	"github.com/jacobsa/fiu/sched"
	"github.com/jacobsa/timeutil"
)

// Collaborators shared by the channels of one kernel.
type Config struct {
	// Used to park readers of empty mailboxes and callers awaiting a
	// response. If nil, each Table or anonymous channel gets its own
	// sched.WaitQueue.
	Blocker sched.Blocker

	// Supplies message payloads and name storage. Defaults to
	// message.HeapAllocator.
	Allocator message.Allocator

	// The longest accepted channel name. Defaults to 64.
	NameMax int

	// Used to time calls for debug output. Defaults to the real clock.
	Clock timeutil.Clock

	// Destination for debug output. Defaults to fiu.DebugLogger().
	Logger *log.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.Blocker == nil {
		cfg.Blocker = sched.NewWaitQueue()
	}

	if cfg.Allocator == nil {
		cfg.Allocator = message.HeapAllocator{}
	}

	if cfg.NameMax <= 0 {
		cfg.NameMax = fiu.DefaultConfig().ChannelNameMax
	}

	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}

	if cfg.Logger == nil {
		cfg.Logger = fiu.DebugLogger()
	}

	return cfg
}
