package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonahGroendal/asn1-decode/internal/config"
	"github.com/JonahGroendal/asn1-decode/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the run history schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	Long: `Roll back the most recent schema migrations.

Examples:
  asn1-deployer migrate down
  asn1-deployer migrate down --steps 2`,
	Args: cobra.NoArgs,
	RunE: runMigrateDown,
}

func init() {
	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

func openPostgres(cmd *cobra.Command) (*database.Postgres, error) {
	if !cfg.Database.Enabled() {
		return nil, fmt.Errorf("database.dsn is not set (env %s_DATABASE_DSN)", config.EnvPrefix)
	}
	return database.NewPostgres(cmd.Context(), cfg.Database)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	pg, err := openPostgres(cmd)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.RunMigrations(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Migrations applied\n", colorGreen("✓"))
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	steps, _ := cmd.Flags().GetInt("steps")
	if steps < 1 {
		return fmt.Errorf("--steps must be at least 1, got %d", steps)
	}

	pg, err := openPostgres(cmd)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.MigrateDown(steps); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Rolled back %d migration(s)\n", colorGreen("✓"), steps)
	return nil
}
