// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// dmxstat - DMX512 / RDM line analyzer and controller
//
// A CLI tool for driving, monitoring and discovering DMX512 lines and RDM
// responders through RS-485 serial adapters.

package main

import (
	"os"

	"github.com/Thermoquad/dmxstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
