package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benaskins/gateboot/internal/daemon"
	"github.com/benaskins/gateboot/internal/keychain"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the gateboot daemon",
	Long:  "Serve the gateboot API on a unix socket, launch the gateway on request and watch the config file for changes.",
	RunE:  runDaemon,
}

var apiAddr string

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:9494)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	home, err := gatebootHome()
	if err != nil {
		return fmt.Errorf("locating home: %w", err)
	}

	d, err := daemon.NewDaemon(path,
		daemon.WithStateDir(home),
		daemon.WithSecrets(keychain.NewSystemStore()),
	)
	if err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	addr := apiAddr
	if addr == "" {
		addr = d.Config().APIAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("gateboot daemon starting", "config", path)
	return d.Run(ctx, defaultSocketPath(), addr)
}
