package main

import (
	"context"
	"fmt"
	"time"

	"github.com/flightctl/temporal/internal/config"
	"github.com/flightctl/temporal/internal/instrumentation/tracing"
	"github.com/flightctl/temporal/internal/store"
	"github.com/flightctl/temporal/pkg/log"
	"github.com/flightctl/temporal/pkg/temporal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Device is the sample model tracked by the demo.
type Device struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Owner     string
	Status    string `gorm:"default:unknown"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type demoEnv struct {
	log      *logrus.Logger
	cfg      *config.Config
	db       *gorm.DB
	history  *temporal.History
	registry *prometheus.Registry
	shutdown func(context.Context) error
}

func newDemoEnv(cmd *cobra.Command) (*demoEnv, error) {
	full, err := cmd.Flags().GetBool("full")
	if err != nil {
		return nil, err
	}

	cfg := config.NewDefault()
	cfg.ApplyEnvOverrides()
	logger := log.InitLogs(cfg.LogLevel)

	env := &demoEnv{
		log:      logger,
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		shutdown: tracing.InitTracer(logger, cfg, appName),
	}

	env.db, err = store.InitDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	metrics := temporal.NewMetrics()
	if err := env.registry.Register(metrics); err != nil {
		return nil, err
	}
	if err := env.db.Use(temporal.New(temporal.WithLogger(logger), temporal.WithMetrics(metrics))); err != nil {
		return nil, fmt.Errorf("installing temporal plugin: %w", err)
	}

	hcfg := temporal.NewDefaultConfig()
	hcfg.Full = full
	env.history, err = temporal.Attach(env.db, &Device{}, hcfg)
	if err != nil {
		return nil, fmt.Errorf("attaching device history: %w", err)
	}
	return env, nil
}

func (e *demoEnv) close(ctx context.Context) {
	if sqlDB, err := e.db.DB(); err != nil {
		e.log.Printf("Failed to get database connection for cleanup: %v", err)
	} else if err := sqlDB.Close(); err != nil {
		e.log.Printf("Failed to close database connection: %v", err)
	}
	if err := e.shutdown(ctx); err != nil {
		e.log.Printf("Failed to shut down tracer: %v", err)
	}
}
