package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repliahq/replia/internal/config"
	"github.com/repliahq/replia/internal/db"
	"github.com/repliahq/replia/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:          "replia",
		Short:        "Chat automation engine for small businesses",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the message worker pool",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			if err := db.Migrate(cfg.Postgres); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.L.Info("migrations applied")
			return nil
		},
	}

	root.AddCommand(serveCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
