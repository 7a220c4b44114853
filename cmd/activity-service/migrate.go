package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ms-activity/internal/database"
	"ms-activity/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|<version>]",
	Short: "Apply the embedded SQL migrations to Postgres",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if database.IsSQLite(cfg.Database.DSN) {
			return fmt.Errorf("migrations target postgres; sqlite schemas are created on serve")
		}

		bunDB, err := database.Open(context.Background(), cfg.Database, log)
		if err != nil {
			return err
		}
		defer bunDB.Close()

		runner := migrations.NewRunner(bunDB, log)
		defer runner.Close()

		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		switch direction {
		case "up":
			err = runner.MigrateUp()
		case "down":
			err = runner.MigrateDown()
		default:
			version, perr := strconv.ParseUint(direction, 10, 32)
			if perr != nil {
				return fmt.Errorf("unknown migration target %q", direction)
			}
			err = runner.MigrateTo(uint(version))
		}
		if err != nil {
			return err
		}
		log.Info("MIGRATE", fmt.Sprintf("✅ migrate %s complete", direction))
		return nil
	},
}
