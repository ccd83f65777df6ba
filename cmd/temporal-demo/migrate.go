package main

import (
	"context"
	"errors"

	"github.com/flightctl/temporal/pkg/temporal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// errDryRunComplete signals that migrations validated successfully in dry-run mode.
var errDryRunComplete = errors.New("dry-run complete")

func NewCmdMigrate() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the device table and its history table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newDemoEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close(ctx)
			return runMigrate(ctx, env, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate migrations without committing any changes")
	return cmd
}

func runMigrate(ctx context.Context, env *demoEnv, dryRun bool) error {
	// SQLite cannot roll back every DDL statement, so dry runs only make sense on PostgreSQL.
	err := env.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&Device{}); err != nil {
			return err
		}
		p, err := temporal.Installed(tx)
		if err != nil {
			return err
		}
		if err := tx.Table(env.history.Table()).AutoMigrate(env.history.New()); err != nil {
			return err
		}
		env.log.Infof("Migrated histories %v", p.Histories())
		if dryRun {
			return errDryRunComplete
		}
		return nil
	})
	if errors.Is(err, errDryRunComplete) {
		env.log.Println("Dry-run completed successfully; no changes were committed.")
		return nil
	}
	return err
}
