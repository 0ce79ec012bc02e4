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

package samples

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path"
	"sync"

	"github.com/jacobsa/ogletest"
	"golang.org/x/net/context"
)

// A struct that implements common behavior needed by tests in the samples/
// directory that run the mount_blockdev tool in a subprocess. Use it as an
// embedded field in your test fixture, calling its SetUp method from your
// SetUp method, then RunMountBlockdev from your tests.
type SubprocessTest struct {
	// A context object that can be used for long-running operations.
	Ctx context.Context

	// A temporary directory for images, removed by TearDown.
	Dir string

	// Anything non-nil in this slice will be closed by TearDown. The test will
	// fail if closing fails.
	ToClose []io.Closer
}

// Build the tool and initialize the exported fields of the struct. Panics
// on error.
func (t *SubprocessTest) SetUp(ti *ogletest.TestInfo) {
	err := t.initialize(ti.Ctx)
	if err != nil {
		panic(err)
	}
}

// Set by buildMountBlockdev.
var mountBlockdevPath string
var mountBlockdevErr error
var mountBlockdevOnce sync.Once

// Build the mount_blockdev tool if it has not yet been built for this
// process. Return a path to the binary.
func buildMountBlockdev() (toolPath string, err error) {
	// Build if we haven't yet.
	mountBlockdevOnce.Do(func() {
		// Create a temporary directory.
		tempDir, err := ioutil.TempDir("", "")
		if err != nil {
			mountBlockdevErr = fmt.Errorf("TempDir: %v", err)
			return
		}

		mountBlockdevPath = path.Join(tempDir, "mount_blockdev")

		// Build the command.
		cmd := exec.Command(
			"go",
			"build",
			"-o",
			mountBlockdevPath,
			"github.com/jacobsa/fiu/samples/mount_blockdev")

		output, err := cmd.CombinedOutput()
		if err != nil {
			mountBlockdevErr = fmt.Errorf(
				"go build exited with %v, output:\n%s",
				err,
				string(output))

			return
		}
	})

	if mountBlockdevErr != nil {
		err = mountBlockdevErr
		return
	}

	toolPath = mountBlockdevPath
	return
}

// Like SetUp, but doesn't panic.
func (t *SubprocessTest) initialize(ctx context.Context) (err error) {
	t.Ctx = ctx

	// Set up a temporary directory.
	t.Dir, err = ioutil.TempDir("", "sample_test")
	if err != nil {
		err = fmt.Errorf("TempDir: %v", err)
		return
	}

	// Build the tool now, so that failures show up in set up.
	if _, err = buildMountBlockdev(); err != nil {
		err = fmt.Errorf("buildMountBlockdev: %v", err)
		return
	}

	return
}

// Run mount_blockdev with the supplied flags and wait for it to exit,
// returning what it wrote to stderr. If it exits unsuccessfully the error
// includes that output.
func RunMountBlockdev(ctx context.Context, flags ...string) (stderr string, err error) {
	toolPath, err := buildMountBlockdev()
	if err != nil {
		return
	}

	var stdout, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, toolPath, flags...)
	cmd.Stdout = &stdout
	cmd.Stderr = &errBuf

	err = cmd.Run()
	stderr = errBuf.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			err = fmt.Errorf(
				"mount_blockdev exited with %v. Stderr:\n%s",
				exitErr,
				stderr)

			return
		}

		err = fmt.Errorf("Run: %v", err)
		return
	}

	return
}

// Clean up. Panics on error.
func (t *SubprocessTest) TearDown() {
	err := t.destroy()
	if err != nil {
		panic(err)
	}
}

// Like TearDown, but doesn't panic.
func (t *SubprocessTest) destroy() (err error) {
	// Close what is necessary.
	for _, c := range t.ToClose {
		if c == nil {
			continue
		}

		ogletest.ExpectEq(nil, c.Close())
	}

	if t.Dir == "" {
		return
	}

	if err = os.RemoveAll(t.Dir); err != nil {
		err = fmt.Errorf("RemoveAll: %v", err)
		return
	}

	return
}
