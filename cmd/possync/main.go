// Package main is the possync binary: the local sync service for the POS
// and a CLI over its outbox.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/possync/internal/config"
	"github.com/kimhsiao/possync/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries state shared by the command tree.
type cli struct {
	configFile string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "possync",
		Short:         "Offline-first outbox sync from the POS to Google Sheets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			level := logging.ParseLevel(cfg.LogLevel)
			if cfg.LogFile != "" {
				logging.InitFile(cfg.LogFile, level)
			} else {
				logging.Init(os.Stderr, level)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default: possync.yaml in . or the data dir)")

	root.AddGroup(
		&cobra.Group{ID: "service", Title: "Service:"},
		&cobra.Group{ID: "queue", Title: "Outbox:"},
	)
	root.AddCommand(
		c.serveCmd(),
		c.syncCmd(),
		c.statusCmd(),
		c.authCmd(),
		c.settingsCmd(),
		c.enqueueCmd(),
		c.retryFailedCmd(),
		c.purgeCmd(),
		c.logsCmd(),
	)
	return root
}
