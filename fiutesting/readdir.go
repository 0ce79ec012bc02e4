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

package fiutesting

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/fiuops"
	"github.com/jacobsa/fiu/vfs"
	"golang.org/x/net/context"
)

type sortedEntries []fiuops.Dirent

func (f sortedEntries) Len() int           { return len(f) }
func (f sortedEntries) Less(i, j int) bool { return f[i].Name < f[j].Name }
func (f sortedEntries) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

// Read every entry of a directory, in the order the driver returns them,
// stopping at the first index answered with fiu.ErrNotFound.
func ReadDir(
	ctx context.Context,
	r *vfs.Router,
	dev device.ID,
	inode fiuops.InodeID) (entries []fiuops.Dirent, err error) {
	for i := 0; ; i++ {
		var d fiuops.Dirent
		d, err = r.GetDirent(ctx, dev, inode, i)
		if errors.Is(err, fiu.ErrNotFound) {
			err = nil
			return
		}

		if err != nil {
			err = fmt.Errorf("GetDirent(%d): %w", i, err)
			return
		}

		entries = append(entries, d)
	}
}

// Like ReadDir, but sort the entries by name and return an error if a name
// appears twice.
func ReadDirPicky(
	ctx context.Context,
	r *vfs.Router,
	dev device.ID,
	inode fiuops.InodeID) (entries []fiuops.Dirent, err error) {
	entries, err = ReadDir(ctx, r, dev, inode)
	if err != nil {
		return
	}

	sort.Sort(sortedEntries(entries))
	for i := 1; i < len(entries); i++ {
		if entries[i].Name == entries[i-1].Name {
			err = fmt.Errorf("duplicate entry %q", entries[i].Name)
			return
		}
	}

	return
}
