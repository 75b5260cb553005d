package cmd

import (
	"github.com/spf13/cobra"

	"github.com/velikanov/kbase/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Migrate creates or updates the database schema: the pgvector
extension, document and chunk tables, usage statistics and user access
tables. Safe to run repeatedly; only pending migrations are applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return db.Migrate(cfg.PostgresURL(), logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
