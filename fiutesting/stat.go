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

// Package fiutesting contains matchers and helpers for tests of drivers
// served through a vfs.Router.
package fiutesting

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/jacobsa/fiu/fiuops"
	"github.com/jacobsa/oglematchers"
)

func attributes(c interface{}) (attrs fiuops.InodeAttributes, err error) {
	switch v := c.(type) {
	case fiuops.InodeAttributes:
		attrs = v
	case *fiuops.InodeAttributes:
		attrs = *v
	default:
		err = fmt.Errorf("which is of type %v", reflect.TypeOf(c))
	}

	return
}

// Match fiuops.InodeAttributes values that specify an mtime equal to the
// given time. The location is ignored, since times lose it on the wire.
func MtimeIs(expected time.Time) oglematchers.Matcher {
	return oglematchers.NewMatcher(
		func(c interface{}) error { return mtimeIs(c, expected) },
		fmt.Sprintf("mtime is %v", expected))
}

func mtimeIs(c interface{}, expected time.Time) error {
	attrs, err := attributes(c)
	if err != nil {
		return err
	}

	if !attrs.Mtime.Equal(expected) {
		d := attrs.Mtime.Sub(expected)
		return fmt.Errorf("which has mtime %v, off by %v", attrs.Mtime, d)
	}

	return nil
}

// Match fiuops.InodeAttributes values with the given mode.
func ModeIs(expected os.FileMode) oglematchers.Matcher {
	return oglematchers.NewMatcher(
		func(c interface{}) error { return modeIs(c, expected) },
		fmt.Sprintf("mode is %v", expected))
}

func modeIs(c interface{}, expected os.FileMode) error {
	attrs, err := attributes(c)
	if err != nil {
		return err
	}

	if attrs.Mode != expected {
		return fmt.Errorf("which has mode %v", attrs.Mode)
	}

	return nil
}

// Match fiuops.InodeAttributes values of regular files with the given size.
func FileWithSize(expected uint64) oglematchers.Matcher {
	return oglematchers.NewMatcher(
		func(c interface{}) error { return fileWithSize(c, expected) },
		fmt.Sprintf("file of size %d", expected))
}

func fileWithSize(c interface{}, expected uint64) error {
	attrs, err := attributes(c)
	if err != nil {
		return err
	}

	if !attrs.Mode.IsRegular() {
		return fmt.Errorf("which has mode %v", attrs.Mode)
	}

	if attrs.Size != expected {
		return fmt.Errorf("which has size %d", attrs.Size)
	}

	return nil
}
