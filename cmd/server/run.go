package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/presence-chat/internal/config"
	"github.com/Tyrowin/presence-chat/internal/logging"
	"github.com/Tyrowin/presence-chat/internal/server"
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the presence server",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	config.BindFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return err
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.WithFields(logrus.Fields{
		"addr":       cfg.Addr,
		"group_addr": cfg.GroupAddr,
		"translate":  cfg.Translation.Enabled,
	}).Info("starting presence server")
	return srv.Run(ctx)
}
