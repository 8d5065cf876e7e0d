/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harold-b/musashi-dap/internal/logger"
	"github.com/harold-b/musashi-dap/internal/session"
	"github.com/harold-b/musashi-dap/internal/version"
)

const (
	errCommand = 1

	runtimeFlag = "runtime"
	listenFlag  = "listen"

	defaultRuntimeAddress = "127.0.0.1:9091"
)

type rootFlagData struct {
	runtimeAddress string
	listenAddress  string
}

var rootFlags rootFlagData

func newRootCmd(log *logger.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "musashi-dap",
		Short: "Debug adapter for Musashi script runtimes.",
		Long: `Debug adapter for Musashi script runtimes.

The adapter speaks the Debug Adapter Protocol (DAP) to a debugger front end
and the binary debug protocol to a running script runtime. By default the
DAP stream is served on stdin/stdout; use --listen to serve it over TCP
instead. The adapter attaches to a runtime whose debug server is already
listening; it never launches one.`,
		Version:      version.String(),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log.Info("Starting debug adapter", "version", version.String())

			config := session.Config{
				RuntimeAddress: rootFlags.runtimeAddress,
				Logger:         log.Logger,
			}

			if rootFlags.listenAddress != "" {
				return session.ListenAndServe(cmd.Context(), rootFlags.listenAddress, config)
			}
			return session.ServeStdio(cmd.Context(), config)
		},
	}

	rootCmd.Flags().StringVar(&rootFlags.runtimeAddress, runtimeFlag, defaultRuntimeAddress,
		"Address of the runtime's debug server.")
	rootCmd.Flags().StringVar(&rootFlags.listenAddress, listenFlag, "",
		"Serve DAP over TCP on this address instead of stdin/stdout.")
	log.AddLevelFlag(rootCmd.PersistentFlags())

	return rootCmd
}

func main() {
	log := logger.New("musashi-dap")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(log)
	err := root.ExecuteContext(ctx)
	log.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errCommand)
	}
}
