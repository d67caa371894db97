package cli

import (
	"github.com/integems/caption-agent/config"
	"github.com/integems/caption-agent/src/database"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database if needed and migrate its tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			if cfg.StoreBackend == config.StoreBackendMemory {
				logger.Info("in-memory store selected; nothing to migrate")
				return nil
			}

			db, err := database.NewDatabaseConnection(cfg, logger)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := database.AutoMigrateTables(db); err != nil {
				return err
			}
			logger.Info("tables migrated")
			return nil
		},
	}
}
