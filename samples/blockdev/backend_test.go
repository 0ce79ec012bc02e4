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
	"bytes"
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/samples/blockdev"
	. "github.com/jacobsa/ogletest"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type BackendTest struct {
	dir string
}

func init() { RegisterTestSuite(&BackendTest{}) }

func (t *BackendTest) SetUp(ti *TestInfo) {
	var err error
	t.dir, err = ioutil.TempDir("", "blockdev_test")
	AssertEq(nil, err)
}

func (t *BackendTest) TearDown() {
	os.RemoveAll(t.dir)
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 13)
	}

	return p
}

func readAll(b blockdev.Backend) []byte {
	p := make([]byte, b.Size())
	_, err := b.ReadAt(p, 0)
	AssertEq(nil, err)
	return p
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *BackendTest) Memory() {
	b := blockdev.NewMemoryBackend(16)
	ExpectEq(16, b.Size())

	n, err := b.WriteAt([]byte("taco"), 12)
	AssertEq(nil, err)
	ExpectEq(4, n)

	// Writes may not extend the backend.
	_, err = b.WriteAt([]byte("taco"), 13)
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)

	// Short reads report EOF.
	p := make([]byte, 8)
	n, err = b.ReadAt(p, 10)
	ExpectEq(io.EOF, err)
	ExpectEq("\x00\x00taco", string(p[:n]))

	AssertEq(nil, b.Close())
}

func (t *BackendTest) FileIsPreallocated() {
	p := path.Join(t.dir, "disk.img")

	b, err := blockdev.OpenFile(p, 1<<20)
	AssertEq(nil, err)
	ExpectEq(1<<20, b.Size())

	_, err = b.WriteAt([]byte("burrito"), 1000)
	AssertEq(nil, err)
	AssertEq(nil, b.Close())

	fi, err := os.Stat(p)
	AssertEq(nil, err)
	ExpectEq(1<<20, fi.Size())

	// Reopen at the file's own size.
	b, err = blockdev.OpenFile(p, 0)
	AssertEq(nil, err)
	defer b.Close()

	ExpectEq(1<<20, b.Size())

	buf := make([]byte, 7)
	_, err = b.ReadAt(buf, 1000)
	AssertEq(nil, err)
	ExpectEq("burrito", string(buf))
}

func (t *BackendTest) EmptyFile() {
	p := path.Join(t.dir, "empty.img")
	AssertEq(nil, ioutil.WriteFile(p, nil, 0644))

	_, err := blockdev.OpenFile(p, 0)
	ExpectTrue(errors.Is(err, fiu.ErrInvalidArgument), "err: %v", err)
}

func (t *BackendTest) LoadRawImage() {
	p := path.Join(t.dir, "disk.img")
	AssertEq(nil, ioutil.WriteFile(p, pattern(4096), 0644))

	b, err := blockdev.Load(p)
	AssertEq(nil, err)
	defer b.Close()

	ExpectTrue(bytes.Equal(pattern(4096), readAll(b)))
}

func (t *BackendTest) LoadZstdImage() {
	enc, err := zstd.NewWriter(nil)
	AssertEq(nil, err)
	compressed := enc.EncodeAll(pattern(10000), nil)
	enc.Close()

	p := path.Join(t.dir, "disk.img.zst")
	AssertEq(nil, ioutil.WriteFile(p, compressed, 0644))

	b, err := blockdev.Load(p)
	AssertEq(nil, err)
	defer b.Close()

	ExpectEq(10000, b.Size())
	ExpectTrue(bytes.Equal(pattern(10000), readAll(b)))
}

func (t *BackendTest) LoadLZ4Image() {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write(pattern(10000))
	AssertEq(nil, err)
	AssertEq(nil, w.Close())

	p := path.Join(t.dir, "disk.img.lz4")
	AssertEq(nil, ioutil.WriteFile(p, buf.Bytes(), 0644))

	b, err := blockdev.Load(p)
	AssertEq(nil, err)
	defer b.Close()

	ExpectEq(10000, b.Size())
	ExpectTrue(bytes.Equal(pattern(10000), readAll(b)))
}

func (t *BackendTest) LoadCorruptImage() {
	p := path.Join(t.dir, "disk.img.zst")
	AssertEq(nil, ioutil.WriteFile(p, []byte("not zstd at all"), 0644))

	_, err := blockdev.Load(p)
	ExpectNe(nil, err)
}

func (t *BackendTest) SaveAndLoad() {
	src := blockdev.NewMemoryBackend(5000)
	_, err := src.WriteAt(pattern(5000), 0)
	AssertEq(nil, err)

	for _, name := range []string{"disk.img", "disk.img.zst", "disk.img.lz4"} {
		p := path.Join(t.dir, name)
		AssertEq(nil, blockdev.Save(p, src), "%s", name)

		b, err := blockdev.Load(p)
		AssertEq(nil, err, "%s", name)

		ExpectTrue(bytes.Equal(pattern(5000), readAll(b)), "%s", name)
		b.Close()
	}
}

func (t *BackendTest) IsRaw() {
	ExpectTrue(blockdev.IsRaw("disk.img"))
	ExpectTrue(blockdev.IsRaw("disk"))
	ExpectFalse(blockdev.IsRaw("disk.img.zst"))
	ExpectFalse(blockdev.IsRaw("/tmp/disk.lz4"))
}

func (t *BackendTest) Digest() {
	a := blockdev.NewMemoryBackend(3000)
	b := blockdev.NewMemoryBackend(3000)

	da, err := blockdev.Digest(a)
	AssertEq(nil, err)
	ExpectEq(64, len(da))

	db, err := blockdev.Digest(b)
	AssertEq(nil, err)
	ExpectEq(da, db)

	_, err = b.WriteAt([]byte("x"), 2999)
	AssertEq(nil, err)

	db, err = blockdev.Digest(b)
	AssertEq(nil, err)
	ExpectNe(da, db)
}

func (t *BackendTest) DigestSurvivesSave() {
	src := blockdev.NewMemoryBackend(5000)
	_, err := src.WriteAt(pattern(5000), 0)
	AssertEq(nil, err)

	expected, err := blockdev.Digest(src)
	AssertEq(nil, err)

	p := path.Join(t.dir, "disk.img.lz4")
	AssertEq(nil, blockdev.Save(p, src))

	b, err := blockdev.Load(p)
	AssertEq(nil, err)
	defer b.Close()

	digest, err := blockdev.Digest(b)
	AssertEq(nil, err)
	ExpectEq(expected, digest)
}
