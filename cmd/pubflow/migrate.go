package pubflow

import (
	"fmt"

	"github.com/pubflow/pubflow/engine/infra/postgres"
	"github.com/pubflow/pubflow/pkg/config"
	"github.com/pubflow/pubflow/pkg/logger"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := setupLogger(cmd)
			if err != nil {
				return err
			}
			ctx := logger.ContextWithLogger(cmd.Context(), log)
			cfg, err := config.NewLoader().Load(ctx)
			if err != nil {
				return err
			}
			if err := postgres.ApplyMigrationsWithLock(ctx, cfg.Database.DSN()); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func setupLogger(cmd *cobra.Command) (logger.Logger, error) {
	level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return nil, err
	}
	return logger.SetupLogger(level, logJSON, logSource), nil
}
