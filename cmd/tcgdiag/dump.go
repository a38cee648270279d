// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// outputDump spew-dumps every diagnosed device's Identify response and
// full Level-0 Discovery feature set, for interactive troubleshooting
// (cmd/tcgstorage's main.go uses the same spew.Dump pattern for its
// certificate/security-protocol dump).
func outputDump(state Devices) {
	spew.Config.Indent = "  "
	for _, s := range state {
		fmt.Printf("===> %s\n", s.Device)
		spew.Dump(s.Identity)
		if s.Level0 == nil {
			fmt.Println("(no Level-0 Discovery response)")
			continue
		}
		spew.Dump(s.Level0)
	}
}
