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

// A tool that boots a kernel, registers a block device backed by a memory
// buffer or an image, serves it, and runs a write/read round trip through
// the router.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jacobsa/fiu"
	"github.com/jacobsa/fiu/kernel"
	"github.com/jacobsa/fiu/samples/blockdev"
	"github.com/jacobsa/fiu/vfs"
	"github.com/spf13/pflag"
	"golang.org/x/net/context"
)

var fConfig = pflag.String("config", "", "Path to a YAML kernel config.")
var fName = pflag.String("name", "disk0", "The device name.")
var fImage = pflag.String("image", "", "Image to serve. Ending in .zst or .lz4 loads a compressed image into memory. Empty for a memory device.")
var fSize = pflag.Int64("size", 1<<20, "Device size in bytes, for memory devices and new raw images.")
var fSave = pflag.String("save", "", "Write the device contents to this image on exit.")
var fMessage = pflag.String("message", "Hello, world!", "The data written and read back.")
var fOffset = pflag.Int64("offset", 1000, "Where to write the message.")

const (
	driverPID = 1
	userPID   = 2
)

func makeBackend() (b blockdev.Backend, err error) {
	switch {
	case *fImage == "":
		b = blockdev.NewMemoryBackend(*fSize)

	case *fSize > 0 && blockdev.IsRaw(*fImage):
		b, err = blockdev.OpenFile(*fImage, *fSize)

	default:
		b, err = blockdev.Load(*fImage)
	}

	return
}

func loadConfig() (cfg fiu.Config, err error) {
	if *fConfig == "" {
		cfg = fiu.DefaultConfig()
		return
	}

	cfg, err = fiu.LoadConfig(*fConfig)
	return
}

// Write the message, sync, and read it back.
func roundTrip(
	ctx context.Context,
	k *kernel.Kernel,
	mem []byte,
	dev *deviceHandle) (err error) {
	r := k.Router()
	cred := vfs.Cred{Pid: userPID}
	msg := []byte(*fMessage)

	inode, err := r.Open(ctx, dev.id, blockdev.DeviceInode, cred, os.O_RDWR, 0)
	if err != nil {
		err = fmt.Errorf("Open: %w", err)
		return
	}

	var blocks int
	if _, err = r.Ioctl(ctx, dev.id, inode, blockdev.IoctlBlockCount, &blocks); err != nil {
		err = fmt.Errorf("Ioctl: %w", err)
		return
	}

	log.Printf("%s: %d blocks", dev.name, blocks)

	copy(mem, msg)
	src := vfs.UserBuffer{Pid: userPID, Addr: 0, Len: len(msg)}
	if _, err = r.Write(ctx, dev.id, inode, *fOffset, src); err != nil {
		err = fmt.Errorf("Write: %w", err)
		return
	}

	if _, err = r.Ioctl(ctx, dev.id, inode, blockdev.IoctlSync, nil); err != nil {
		err = fmt.Errorf("Ioctl: %w", err)
		return
	}

	dst := vfs.UserBuffer{Pid: userPID, Addr: uintptr(len(msg)), Len: len(msg)}
	n, err := r.Read(ctx, dev.id, inode, *fOffset, dst)
	if err != nil {
		err = fmt.Errorf("Read: %w", err)
		return
	}

	got := mem[len(msg) : len(msg)+n]
	if !bytes.Equal(got, msg) {
		err = fmt.Errorf("read back %q, want %q", got, msg)
		return
	}

	log.Printf("%s: read back %q at %d", dev.name, got, *fOffset)

	if err = r.Close(ctx, dev.id, inode); err != nil {
		err = fmt.Errorf("Close: %w", err)
		return
	}

	return
}

func main() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	// Mark the Go flag set parsed, so that -fiu.debug takes effect.
	flag.CommandLine.Parse(nil)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("loadConfig: %v", err)
	}

	if len(*fMessage) == 0 {
		log.Fatalf("You must set --message.")
	}

	// Boot, with an address space for the user side of the round trip.
	spaces := vfs.NewMemorySpaces()
	mem := spaces.Map(userPID, 2*len(*fMessage))

	k, err := kernel.New(cfg, spaces)
	if err != nil {
		log.Fatalf("kernel.New: %v", err)
	}

	backend, err := makeBackend()
	if err != nil {
		log.Fatalf("makeBackend: %v", err)
	}

	driver, err := blockdev.New(backend, k.NewCache, cfg.Now())
	if err != nil {
		log.Fatalf("blockdev.New: %v", err)
	}

	dev, err := serve(k, driver)
	if err != nil {
		log.Fatalf("serve: %v", err)
	}

	ctx := context.Background()
	if err = roundTrip(ctx, k, mem, dev); err != nil {
		log.Fatalf("roundTrip: %v", err)
	}

	// Tear down and wait for the driver to stop.
	k.Shutdown()
	if err = <-dev.serving; err != nil {
		log.Fatalf("Serve: %v", err)
	}

	if err = driver.Sync(); err != nil {
		log.Fatalf("Sync: %v", err)
	}

	if *fSave != "" {
		if err = blockdev.Save(*fSave, backend); err != nil {
			log.Fatalf("Save: %v", err)
		}
	}

	digest, err := blockdev.Digest(backend)
	if err != nil {
		log.Fatalf("Digest: %v", err)
	}

	log.Printf("%s: blake3 %s", dev.name, digest)

	if err = driver.Destroy(); err != nil {
		log.Fatalf("Destroy: %v", err)
	}

	s := driver.Stats()
	log.Printf(
		"cache: %d hits, %d misses, %d evictions, %d flushes",
		s.Hits,
		s.Misses,
		s.Evictions,
		s.Flushes)
}
