// Package testutil provides shared test database utilities
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flightctl/temporal/internal/config"
	"github.com/flightctl/temporal/internal/instrumentation/tracing"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// InitDBFunc is a function that initializes a database connection
type InitDBFunc func(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error)

// CreateTestDB creates a throwaway database and returns the config, db name, and gorm.DB connection.
// SQLite is used unless TEMPORAL_TEST_DB_TYPE is pgsql, in which case a fresh
// database is created on the server configured through the DB_* variables.
func CreateTestDB(ctx context.Context, log *logrus.Logger, prefix string, initDB InitDBFunc) (*config.Config, string, *gorm.DB) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerName+"/testutil", "CreateTestDB")
	defer span.End()

	cfg := config.NewDefault()
	cfg.ApplyEnvOverrides()
	randomDBName := generateRandomDBName(prefix)
	log.Debugf("Test DB name: %s", randomDBName)

	var (
		gormDb *gorm.DB
		err    error
	)

	switch dbType := os.Getenv("TEMPORAL_TEST_DB_TYPE"); dbType {
	case config.DBTypePostgres:
		cfg.Database.Type = config.DBTypePostgres
		gormDb, err = setupPostgres(ctx, cfg, randomDBName, log, initDB)
	case config.DBTypeSQLite, "":
		cfg.Database.Type = config.DBTypeSQLite
		gormDb, err = setupSQLite(cfg, randomDBName, log, initDB)
	default:
		err = fmt.Errorf("unknown test database type: %s (valid: %s, %s)", dbType, config.DBTypeSQLite, config.DBTypePostgres)
	}
	if err != nil {
		log.Fatal(err)
	}

	return cfg, randomDBName, gormDb
}

// DeleteTestDB drops the test database
func DeleteTestDB(ctx context.Context, log *logrus.Logger, cfg *config.Config, db *gorm.DB, dbName string, initDB InitDBFunc) {
	CloseDB(db)

	if cfg.Database.Type != config.DBTypePostgres {
		if err := os.RemoveAll(filepath.Dir(cfg.Database.Name)); err != nil {
			log.Warnf("removing database directory: %v", err)
		}
		return
	}

	cfg.Database.Name = "postgres"
	adminDB, err := initDB(cfg, log)
	if err != nil {
		log.Fatalf("initializing data store: %v", err)
	}
	defer CloseDB(adminDB)

	adminDB = adminDB.WithContext(ctx).Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s;", dbName))
	if adminDB.Error != nil {
		log.Fatalf("dropping database: %v", adminDB.Error)
	}
}

// CloseDB closes the database connection
func CloseDB(db *gorm.DB) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	_ = sqlDB.Close()
}

func generateRandomDBName(prefix string) string {
	if prefix == "" {
		prefix = "test"
	}
	return fmt.Sprintf("_%s_%s", prefix, strings.ReplaceAll(uuid.New().String(), "-", "_"))
}

func setupSQLite(cfg *config.Config, dbName string, log *logrus.Logger, initDB InitDBFunc) (*gorm.DB, error) {
	dir, err := os.MkdirTemp("", "temporal-test-")
	if err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	cfg.Database.Name = filepath.Join(dir, dbName+".db")
	log.Debugf("Creating SQLite test database at %s", cfg.Database.Name)

	gormDb, err := initDB(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}
	return gormDb, nil
}

func setupPostgres(ctx context.Context, cfg *config.Config, dbName string, log *logrus.Logger, initDB InitDBFunc) (*gorm.DB, error) {
	cfg.Database.Name = "postgres"
	adminDB, err := initDB(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}
	defer CloseDB(adminDB)

	log.Debugf("Creating empty PostgreSQL test database")
	res := adminDB.WithContext(ctx).Exec(fmt.Sprintf("CREATE DATABASE %s;", dbName))
	if res.Error != nil {
		return nil, fmt.Errorf("creating empty database: %w", res.Error)
	}

	cfg.Database.Name = dbName
	gormDb, err := initDB(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}

	return gormDb, nil
}
