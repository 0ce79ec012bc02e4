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

package blockdev

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Return the hex BLAKE3 digest of the whole contents of b.
func Digest(b Backend) (digest string, err error) {
	h := blake3.New()
	if _, err = io.Copy(h, io.NewSectionReader(b, 0, b.Size())); err != nil {
		err = fmt.Errorf("reading backend: %w", err)
		return
	}

	digest = hex.EncodeToString(h.Sum(nil))
	return
}
