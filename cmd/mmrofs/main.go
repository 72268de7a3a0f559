// Copyright 2026 The MMROFS Authors
// SPDX-License-Identifier: Apache-2.0

// The mmrofs command operates on MMROFS partition images: formatting,
// file operations, inspection, snapshots, and FUSE mounting.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Root().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
