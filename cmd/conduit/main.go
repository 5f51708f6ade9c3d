// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0

// This is the entrypoint for the conduit binary.
package main

import (
	"fmt"
	"os"

	"github.com/conduitdb/conduit/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
