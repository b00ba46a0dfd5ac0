package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/notifyd/internal/config"
)

// Execute loads configuration from the environment and runs the root command.
func Execute() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := NewRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd assembles the notifyd command tree around cfg.
func NewRootCmd(cfg *config.AppConfig) *cobra.Command {
	root := &cobra.Command{
		Use:   "notifyd",
		Short: "Notification dispatch engine",
		Long: `notifyd turns workflow events (account requests, approvals, vehicle
reviews) into e-mail notifications, delivered at most once per event and
recipient set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		NewServeCmd(cfg),
		NewNotifyCmd(cfg),
		NewUpdateCmd(),
		NewVersionCmd(),
	)
	return root
}
