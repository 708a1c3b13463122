package cli

import (
	"github.com/spf13/cobra"

	"github.com/qepting91/redditbot/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the archive charts without polling",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		logger.Info("Starting Dashboard", "port", cfg.Port, "archive", cfg.Archive)
		return dashboard.StartServer(cfg.Archive, cfg.Port)
	},
}
