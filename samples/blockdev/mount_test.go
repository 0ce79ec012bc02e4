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

package blockdev_test

import (
	"io/ioutil"
	"path"

	"github.com/jacobsa/fiu/samples"
	"github.com/jacobsa/fiu/samples/blockdev"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

type MountBlockdevTest struct {
	samples.SubprocessTest
}

func init() { RegisterTestSuite(&MountBlockdevTest{}) }

func (t *MountBlockdevTest) MemoryDevice() {
	stderr, err := samples.RunMountBlockdev(t.Ctx, "--message", "taco", "--offset", "600")
	AssertEq(nil, err)

	ExpectThat(stderr, HasSubstr("disk0: 1024 blocks"))
	ExpectThat(stderr, HasSubstr(`read back "taco" at 600`))
}

func (t *MountBlockdevTest) SaveCompressedImage() {
	image := path.Join(t.Dir, "disk.img.zst")

	_, err := samples.RunMountBlockdev(
		t.Ctx,
		"--size", "8192",
		"--message", "burrito",
		"--offset", "5000",
		"--save", image)

	AssertEq(nil, err)

	// Serve the saved image and read the message back again.
	stderr, err := samples.RunMountBlockdev(
		t.Ctx,
		"--image", image,
		"--message", "burrito",
		"--offset", "5000")

	AssertEq(nil, err)
	ExpectThat(stderr, HasSubstr("disk0: 8 blocks"))

	b, err := blockdev.Load(image)
	AssertEq(nil, err)
	defer b.Close()

	p := make([]byte, len("burrito"))
	_, err = b.ReadAt(p, 5000)
	AssertEq(nil, err)
	ExpectEq("burrito", string(p))
}

func (t *MountBlockdevTest) RawImageFile() {
	image := path.Join(t.Dir, "disk.img")

	_, err := samples.RunMountBlockdev(
		t.Ctx,
		"--image", image,
		"--size", "4096",
		"--message", "enchilada",
		"--offset", "100")

	AssertEq(nil, err)

	contents, err := ioutil.ReadFile(image)
	AssertEq(nil, err)
	AssertEq(4096, len(contents))
	ExpectEq("enchilada", string(contents[100:109]))
}

func (t *MountBlockdevTest) ConfigFile() {
	config := path.Join(t.Dir, "fiu.yaml")
	contents := "max_devices: 4\ncache:\n  size: 2\n  block_size: 512\n  write_back: false\n"
	AssertEq(nil, ioutil.WriteFile(config, []byte(contents), 0644))

	stderr, err := samples.RunMountBlockdev(
		t.Ctx,
		"--config", config,
		"--size", "4096",
		"--name", "sda")

	AssertEq(nil, err)
	ExpectThat(stderr, HasSubstr("sda: 8 blocks"))
	ExpectThat(stderr, HasSubstr("0 flushes"))
}

func (t *MountBlockdevTest) BadConfig() {
	config := path.Join(t.Dir, "fiu.yaml")
	AssertEq(nil, ioutil.WriteFile(config, []byte("max_devices: 4\ntacos: 17\n"), 0644))

	_, err := samples.RunMountBlockdev(t.Ctx, "--config", config)
	ExpectThat(err, Error(HasSubstr("loadConfig")))
}
