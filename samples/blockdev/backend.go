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
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/detailyang/go-fallocate"
	"github.com/jacobsa/fiu"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// The storage behind a block device. Reads and writes never extend past
// Size.
type Backend interface {
	io.ReaderAt
	io.WriterAt

	// The size of the device in bytes.
	Size() int64

	// Write out any buffered state and release resources.
	Close() error
}

////////////////////////////////////////////////////////////////////////
// Memory
////////////////////////////////////////////////////////////////////////

type memBackend struct {
	data []byte
}

// Create a zero-filled backend of the given size held in memory.
func NewMemoryBackend(size int64) Backend {
	return &memBackend{data: make([]byte, size)}
}

func (b *memBackend) Size() int64 {
	return int64(len(b.data))
}

func (b *memBackend) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		err = fmt.Errorf("negative offset %d: %w", off, fiu.ErrInvalidArgument)
		return
	}

	if off >= b.Size() {
		err = io.EOF
		return
	}

	n = copy(p, b.data[off:])
	if n < len(p) {
		err = io.EOF
	}

	return
}

func (b *memBackend) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off+int64(len(p)) > b.Size() {
		err = fmt.Errorf(
			"write of %d bytes at %d on a %d byte device: %w",
			len(p),
			off,
			b.Size(),
			fiu.ErrInvalidArgument)
		return
	}

	n = copy(b.data[off:], p)
	return
}

func (b *memBackend) Close() error {
	return nil
}

////////////////////////////////////////////////////////////////////////
// Image file
////////////////////////////////////////////////////////////////////////

type fileBackend struct {
	f    *os.File
	size int64
}

// Open the image file at path, creating it if necessary. If size is
// positive and the file is smaller, the file is extended and its blocks
// allocated up front. If size is zero the file's current size is used.
func OpenFile(path string, size int64) (b Backend, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		err = fmt.Errorf("OpenFile: %w", err)
		return
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		err = fmt.Errorf("Stat: %w", err)
		return
	}

	if size <= 0 {
		size = fi.Size()
	}

	if fi.Size() < size {
		if err = fallocate.Fallocate(f, 0, size); err != nil {
			f.Close()
			err = fmt.Errorf("Fallocate: %w", err)
			return
		}
	}

	if size == 0 {
		f.Close()
		err = fmt.Errorf("%s: empty image: %w", path, fiu.ErrInvalidArgument)
		return
	}

	b = &fileBackend{f: f, size: size}
	return
}

func (b *fileBackend) Size() int64 {
	return b.size
}

func (b *fileBackend) ReadAt(p []byte, off int64) (n int, err error) {
	if off >= b.size {
		err = io.EOF
		return
	}

	if rem := b.size - off; int64(len(p)) > rem {
		p = p[:rem]
		n, err = b.f.ReadAt(p, off)
		if err == nil {
			err = io.EOF
		}

		return
	}

	n, err = b.f.ReadAt(p, off)
	return
}

func (b *fileBackend) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off+int64(len(p)) > b.size {
		err = fmt.Errorf(
			"write of %d bytes at %d on a %d byte device: %w",
			len(p),
			off,
			b.size,
			fiu.ErrInvalidArgument)
		return
	}

	n, err = b.f.WriteAt(p, off)
	return
}

func (b *fileBackend) Close() (err error) {
	if err = b.f.Sync(); err != nil {
		b.f.Close()
		err = fmt.Errorf("Sync: %w", err)
		return
	}

	err = b.f.Close()
	return
}

////////////////////////////////////////////////////////////////////////
// Compressed images
////////////////////////////////////////////////////////////////////////

// Return true if the image at path is stored uncompressed, going by its
// extension.
func IsRaw(path string) bool {
	switch filepath.Ext(path) {
	case ".zst", ".lz4":
		return false
	}

	return true
}

// Load the image at path into memory. Images ending in .zst are decompressed
// with zstd and images ending in .lz4 with the LZ4 frame format; anything
// else is opened with OpenFile. Writes to a decompressed image are not
// saved.
func Load(path string) (b Backend, err error) {
	if IsRaw(path) {
		b, err = OpenFile(path, 0)
		return
	}

	decompress := decompressLZ4
	if filepath.Ext(path) == ".zst" {
		decompress = decompressZstd
	}

	compressed, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("ReadFile: %w", err)
		return
	}

	data, err := decompress(bytes.NewReader(compressed))
	if err != nil {
		err = fmt.Errorf("%s: %w", path, err)
		return
	}

	if len(data) == 0 {
		err = fmt.Errorf("%s: empty image: %w", path, fiu.ErrInvalidArgument)
		return
	}

	b = &memBackend{data: data}
	return
}

func decompressZstd(r io.Reader) (data []byte, err error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		err = fmt.Errorf("zstd.NewReader: %w", err)
		return
	}

	defer dec.Close()

	data, err = io.ReadAll(dec)
	if err != nil {
		err = fmt.Errorf("zstd decompress: %w", err)
		return
	}

	return
}

func decompressLZ4(r io.Reader) (data []byte, err error) {
	data, err = io.ReadAll(lz4.NewReader(r))
	if err != nil {
		err = fmt.Errorf("lz4 decompress: %w", err)
		return
	}

	return
}

// Write the contents of b to an image at path, compressed according to the
// extension as for Load. An existing file is replaced.
func Save(path string, b Backend) (err error) {
	data := make([]byte, b.Size())
	if _, err = b.ReadAt(data, 0); err != nil && err != io.EOF {
		err = fmt.Errorf("ReadAt: %w", err)
		return
	}

	var buf bytes.Buffer
	switch filepath.Ext(path) {
	case ".zst":
		var enc *zstd.Encoder
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			err = fmt.Errorf("zstd.NewWriter: %w", err)
			return
		}

		buf.Write(enc.EncodeAll(data, nil))
		enc.Close()

	case ".lz4":
		w := lz4.NewWriter(&buf)
		if _, err = w.Write(data); err != nil {
			err = fmt.Errorf("lz4 compress: %w", err)
			return
		}

		if err = w.Close(); err != nil {
			err = fmt.Errorf("lz4 compress: %w", err)
			return
		}

	default:
		buf.Write(data)
	}

	if err = os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		err = fmt.Errorf("WriteFile: %w", err)
		return
	}

	return
}
