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
	"os"
)

// The type of a directory entry.
type Filetype uint8

const (
	NoFiletype Filetype = iota
	RegularFiletype
	DirectoryFiletype
	SymlinkFiletype
	DeviceFiletype
)

var filetypeNames = [...]string{
	NoFiletype:        "none",
	RegularFiletype:   "file",
	DirectoryFiletype: "directory",
	SymlinkFiletype:   "symlink",
	DeviceFiletype:    "device",
}

// Parse the output of Filetype.String.
func ParseFiletype(value string) (Filetype, error) {
	for t, name := range filetypeNames {
		if name == value {
			return Filetype(t), nil
		}
	}

	return NoFiletype, fmt.Errorf("Failed to parse file type %s", value)
}

// Return the type of an entry with the given mode.
func FiletypeOf(mode os.FileMode) Filetype {
	switch {
	case mode.IsDir():
		return DirectoryFiletype
	case mode&os.ModeSymlink != 0:
		return SymlinkFiletype
	case mode&os.ModeDevice != 0:
		return DeviceFiletype
	case mode.IsRegular():
		return RegularFiletype
	}

	return NoFiletype
}

func (t Filetype) String() string {
	if int(t) < len(filetypeNames) {
		return filetypeNames[t]
	}

	return filetypeNames[NoFiletype]
}
