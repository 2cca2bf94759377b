package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashwinyue/next-crm/internal/database"
	"github.com/ashwinyue/next-crm/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables and purge expired tokens",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	if err := repository.NewAuthRepository(db.DB).DeleteExpiredTokens(); err != nil {
		return fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	log.Info("migration complete", "driver", cfg.Database.Driver)
	return nil
}
