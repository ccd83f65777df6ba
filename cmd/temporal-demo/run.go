package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func NewCmdRun() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create, update, delete and restore a device, archiving each change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newDemoEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close(ctx)
			if err := runMigrate(ctx, env, false); err != nil {
				return err
			}
			return runLifecycle(ctx, env, owner)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "demo", "Owner recorded on the sample device")
	return cmd
}

func runLifecycle(ctx context.Context, env *demoEnv, owner string) error {
	db := env.db.WithContext(ctx)
	device := Device{Name: "device-" + uuid.NewString()[:8], Owner: owner}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"create", func() error { return db.Create(&device).Error }},
		{"update", func() error { return db.Model(&device).Update("status", "online").Error }},
		{"update in transaction", func() error {
			return db.Transaction(func(tx *gorm.DB) error {
				return tx.Model(&device).Updates(map[string]any{"status": "updating", "owner": owner + "-ops"}).Error
			})
		}},
		{"delete", func() error { return db.Delete(&device).Error }},
		{"restore", func() error { return env.history.Restore(ctx, nil, &device) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s %s: %w", step.name, device.Name, err)
		}
		n, err := env.history.Count(ctx, nil, "id = ?", device.ID)
		if err != nil {
			return err
		}
		env.log.Infof("%s %s: %d history record(s)", step.name, device.Name, n)
	}

	return printHistory(ctx, env, device.ID)
}
