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

package fiu_test

import (
	"errors"
	"io/ioutil"
	"os"
	"path"

	"github.com/jacobsa/fiu"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
	"github.com/jacobsa/timeutil"
	"github.com/kylelemons/godebug/pretty"
)

type ConfigTest struct {
	dir string
}

func init() { RegisterTestSuite(&ConfigTest{}) }

func (t *ConfigTest) SetUp(ti *TestInfo) {
	var err error
	t.dir, err = ioutil.TempDir("", "config_test")
	AssertEq(nil, err)
}

func (t *ConfigTest) TearDown() {
	os.RemoveAll(t.dir)
}

func (t *ConfigTest) write(contents string) string {
	p := path.Join(t.dir, "fiu.yaml")
	AssertEq(nil, ioutil.WriteFile(p, []byte(contents), 0644))
	return p
}

func (t *ConfigTest) DefaultIsValid() {
	cfg := fiu.DefaultConfig()
	ExpectEq(nil, cfg.Validate())
}

func (t *ConfigTest) Load() {
	p := t.write(`
max_devices: 8
channel_name_max: 16
memory_limit: 1048576
cache:
  size: 4
  block_size: 512
  write_back: false
`)

	cfg, err := fiu.LoadConfig(p)
	AssertEq(nil, err)

	expected := fiu.Config{
		MaxDevices:     8,
		ChannelNameMax: 16,
		MemoryLimit:    1 << 20,
		Cache: fiu.CacheConfig{
			Size:      4,
			BlockSize: 512,
			WriteBack: false,
		},
	}

	if diff := pretty.Compare(expected, cfg); diff != "" {
		AddFailure("Config differs (-want +got):\n%s", diff)
	}
}

func (t *ConfigTest) MissingFieldsKeepDefaults() {
	p := t.write("max_devices: 3\n")

	cfg, err := fiu.LoadConfig(p)
	AssertEq(nil, err)

	expected := fiu.DefaultConfig()
	expected.MaxDevices = 3

	if diff := pretty.Compare(expected, cfg); diff != "" {
		AddFailure("Config differs (-want +got):\n%s", diff)
	}
}

func (t *ConfigTest) UnknownField() {
	p := t.write("max_devices: 3\ntacos: 17\n")

	_, err := fiu.LoadConfig(p)
	ExpectThat(err, Error(HasSubstr("tacos")))
}

func (t *ConfigTest) MissingFile() {
	_, err := fiu.LoadConfig(path.Join(t.dir, "nope.yaml"))
	ExpectTrue(errors.Is(err, os.ErrNotExist), "err: %v", err)
}

func (t *ConfigTest) Invalid() {
	testCases := []struct {
		contents string
		field    string
	}{
		{"max_devices: 0\n", "max_devices"},
		{"channel_name_max: -1\n", "channel_name_max"},
		{"memory_limit: -1\n", "memory_limit"},
		{"cache:\n  size: 0\n", "cache.size"},
		{"cache:\n  block_size: 1000\n", "cache.block_size"},
	}

	for _, tc := range testCases {
		_, err := fiu.LoadConfig(t.write(tc.contents))
		ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "%q: %v", tc.contents, err)
		ExpectThat(err, Error(HasSubstr(tc.field)), "%q", tc.contents)
	}
}

func (t *ConfigTest) Accessors() {
	var cfg fiu.Config
	ExpectEq(fiu.DebugLogger(), cfg.Debug())
	ExpectNe(nil, cfg.Errors())

	ExpectNe(nil, cfg.Now())

	var clock timeutil.SimulatedClock
	cfg.Clock = &clock
	ExpectEq(&clock, cfg.Now())
}
