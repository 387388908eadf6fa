package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "presence-server",
	Short: "Presence, friendship, chat relay and group multicast server",
	Long: `presence-server tracks who is online, relays direct chat messages and
file transfer offers between friends, and fans group messages out over IP
multicast.`,
	SilenceUsage: true,
}

// Execute runs the command line. It is called once by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $XDG_CONFIG_HOME/presence-chat/server.toml)")
}
