// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	conduit "github.com/conduitdb/conduit"
	"github.com/conduitdb/conduit/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Server is global so that tests can control and verify it.
var Server *server.Command

func newServeCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var configPath string
	var bind string
	var verbose bool

	serveCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the conduit server.",
		Long: `conduit server connects to every configured database, bootstraps the
query caches and starts listening for query submissions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := conduit.NewConfig()
			if configPath != "" {
				loaded, err := conduit.LoadConfig(configPath)
				if err != nil {
					return errors.Wrap(err, "loading config")
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("bind") {
				cfg.Bind = bind
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Verbose = verbose
			}

			Server = server.NewCommand(cfg)
			if err := Server.Run(); err != nil {
				return errors.Wrap(err, "running server")
			}

			// first signal shuts down gracefully, second one hard
			c := make(chan os.Signal, 2)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			sig := <-c
			fmt.Fprintf(stderr, "received %s, shutting down\n", sig)
			go func() { <-c; os.Exit(1) }()
			return Server.Close()
		},
	}

	flags := serveCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Configuration file to read from.")
	flags.StringVarP(&bind, "bind", "b", conduit.DefaultBind, "Address to listen on.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	return serveCmd
}
