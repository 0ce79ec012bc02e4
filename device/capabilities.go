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

package device

import (
	"strings"

	"github.com/jacobsa/fiu/message"
)

// A set of operations implemented by a device, one bit per message.Op.
type Capabilities uint32

// The operations every device must implement.
const Required = Capabilities(1<<message.OpOpen | 1<<message.OpClose)

// Return the capability set containing exactly the supplied ops.
func Caps(ops ...message.Op) (c Capabilities) {
	for _, op := range ops {
		c |= 1 << op
	}

	return
}

// Does the set contain op?
func (c Capabilities) Has(op message.Op) bool {
	return op.Valid() && c&(1<<op) != 0
}

func (c Capabilities) String() string {
	var names []string
	for op := message.Op(1); op < message.NumOps; op++ {
		if c.Has(op) {
			names = append(names, op.String())
		}
	}

	return "[" + strings.Join(names, " ") + "]"
}
