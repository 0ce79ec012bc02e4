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

package fiuutil

import (
	"fmt"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/fiuops"
)

// Answer a GetDirentOp from a fixed listing: fill in the entry at op.Index,
// or return an error wrapping fiu.ErrNotFound past the end.
func ReadDirent(op *fiuops.GetDirentOp, entries []fiuops.Dirent) error {
	if op.Index < 0 || op.Index >= len(entries) {
		return fmt.Errorf("entry %d of %d: %w", op.Index, len(entries), fiu.ErrNotFound)
	}

	op.Dirent = entries[op.Index]
	return nil
}
