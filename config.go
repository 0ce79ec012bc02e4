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

package fiu

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"github.com/jacobsa/timeutil"
	"gopkg.in/yaml.v3"
)

// Configuration for a kernel instance. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// The number of entries in the device table.
	MaxDevices int `yaml:"max_devices"`

	// The longest channel or device name accepted, in bytes.
	ChannelNameMax int `yaml:"channel_name_max"`

	// The total number of bytes that may be held by messages and names at any
	// one time. Zero means no limit. Allocations beyond the limit fail with
	// ErrOutOfMemory.
	MemoryLimit int64 `yaml:"memory_limit"`

	// Parameters for block caches created by drivers.
	Cache CacheConfig `yaml:"cache"`

	// Loggers for debug output and for errors. If nil, DebugLogger() and
	// DefaultErrorLogger() are used.
	DebugLogger *log.Logger `yaml:"-"`
	ErrorLogger *log.Logger `yaml:"-"`

	// The clock used to time calls and stamp device registrations. If nil,
	// the real clock is used.
	Clock timeutil.Clock `yaml:"-"`
}

type CacheConfig struct {
	// The number of slots.
	Size int `yaml:"size"`

	// The size of each slot in bytes. Must be a power of two.
	BlockSize int `yaml:"block_size"`

	// Write dirty slots back with the flush callback before reusing them.
	WriteBack bool `yaml:"write_back"`
}

// Return the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		MaxDevices:     32,
		ChannelNameMax: 64,
		Cache: CacheConfig{
			Size:      64,
			BlockSize: 1024,
			WriteBack: true,
		},
	}
}

// Load a YAML configuration file. Fields missing from the file keep their
// values from DefaultConfig. Unknown fields are an error.
func LoadConfig(path string) (cfg Config, err error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("ReadFile: %w", err)
		return
	}

	cfg = DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err = dec.Decode(&cfg); err != nil {
		err = fmt.Errorf("Decode %s: %w", path, err)
		return
	}

	err = cfg.Validate()
	return
}

// Return an error wrapping ErrInvalidArgument if the config cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.MaxDevices <= 0:
		return fmt.Errorf("max_devices must be positive: %w", ErrInvalidArgument)

	case c.ChannelNameMax <= 0:
		return fmt.Errorf("channel_name_max must be positive: %w", ErrInvalidArgument)

	case c.MemoryLimit < 0:
		return fmt.Errorf("memory_limit must not be negative: %w", ErrInvalidArgument)

	case c.Cache.Size <= 0:
		return fmt.Errorf("cache.size must be positive: %w", ErrInvalidArgument)

	case c.Cache.BlockSize <= 0 || c.Cache.BlockSize&(c.Cache.BlockSize-1) != 0:
		return fmt.Errorf(
			"cache.block_size %d is not a power of two: %w",
			c.Cache.BlockSize,
			ErrInvalidArgument)
	}

	return nil
}

// Return the configured debug logger, or the default one.
func (c *Config) Debug() *log.Logger {
	if c.DebugLogger != nil {
		return c.DebugLogger
	}

	return DebugLogger()
}

// Return the configured clock, or the real one.
func (c *Config) Now() timeutil.Clock {
	if c.Clock != nil {
		return c.Clock
	}

	return timeutil.RealClock()
}

// Return the configured error logger, or the default one.
func (c *Config) Errors() *log.Logger {
	if c.ErrorLogger != nil {
		return c.ErrorLogger
	}

	return DefaultErrorLogger()
}
