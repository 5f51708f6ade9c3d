// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0

// Package cmd holds the conduit command-line interface.
package cmd

import (
	"io"

	conduit "github.com/conduitdb/conduit"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the conduit root command.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "conduit",
		Short: "Conduit executes pre-defined SQL queries across multiple databases.",
		Long: `Conduit is a query execution service. Each configured database carries a
table of pre-defined queries; clients submit a query reference plus
parameters and conduit routes the work onto per-database worker queues
segmented by expected latency.

Version: ` + conduit.Version + "\n",
	}

	rc.AddCommand(newServeCmd(stdin, stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}
