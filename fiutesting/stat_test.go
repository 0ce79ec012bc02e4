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

package fiutesting_test

import (
	"os"
	"testing"
	"time"

	"github.com/jacobsa/fiu/fiuops"
	"github.com/jacobsa/fiu/fiutesting"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestFiutesting(t *testing.T) { RunTests(t) }

type StatTest struct {
}

func init() { RegisterTestSuite(&StatTest{}) }

func (t *StatTest) MtimeIs() {
	now := time.Date(2012, 8, 15, 22, 56, 0, 0, time.Local)
	attrs := fiuops.InodeAttributes{Mtime: now.UTC()}

	ExpectThat(attrs, fiutesting.MtimeIs(now))
	ExpectThat(&attrs, fiutesting.MtimeIs(now))

	m := fiutesting.MtimeIs(now.Add(time.Second))
	err := m.Matches(attrs)
	ExpectThat(err, Error(HasSubstr("off by -1s")))

	err = m.Matches("taco")
	ExpectThat(err, Error(HasSubstr("type string")))
}

func (t *StatTest) ModeIs() {
	attrs := fiuops.InodeAttributes{Mode: os.ModeDir | 0755}

	ExpectThat(attrs, fiutesting.ModeIs(os.ModeDir|0755))
	ExpectNe(nil, fiutesting.ModeIs(0755).Matches(attrs))
}

func (t *StatTest) FileWithSize() {
	attrs := fiuops.InodeAttributes{Mode: 0644, Size: 17}

	ExpectThat(attrs, fiutesting.FileWithSize(17))
	ExpectThat(fiutesting.FileWithSize(18).Matches(attrs), Error(HasSubstr("size 17")))

	attrs.Mode = os.ModeDevice | 0644
	ExpectThat(fiutesting.FileWithSize(17).Matches(attrs), Error(HasSubstr("mode")))
}
