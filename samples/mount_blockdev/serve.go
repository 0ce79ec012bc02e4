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

package main

import (
	"fmt"

	"github.com/jacobsa/fiu/device"
	"github.com/jacobsa/fiu/fiuutil"
	"github.com/jacobsa/fiu/kernel"
	"github.com/jacobsa/fiu/samples/blockdev"
	"golang.org/x/net/context"
)

type deviceHandle struct {
	name    string
	id      device.ID
	serving chan error
}

// Register the driver as --name and serve it in the background until the
// kernel shuts down.
func serve(k *kernel.Kernel, driver *blockdev.BlockDev) (h *deviceHandle, err error) {
	h = &deviceHandle{
		name:    *fName,
		serving: make(chan error, 1),
	}

	h.id, err = k.RegisterDevice(driverPID, h.name, blockdev.Caps)
	if err != nil {
		err = fmt.Errorf("RegisterDevice: %w", err)
		return
	}

	cfg := k.Config()
	conn, err := fiuutil.NewConnection(k.Devices(), driverPID, h.id, cfg.Debug())
	if err != nil {
		err = fmt.Errorf("NewConnection: %w", err)
		return
	}

	go func() {
		h.serving <- fiuutil.Serve(context.Background(), conn, driver)
	}()

	return
}
