package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/flightctl/temporal/internal/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
	"gorm.io/plugin/prometheus"
)

const sqliteBusyTimeout = 5000

func InitDB(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	var dia gorm.Dialector

	switch cfg.Database.Type {
	case config.DBTypePostgres:
		dia = postgres.Open(cfg.Database.CreateDSN(cfg.Database.User, cfg.Database.Password))
	case config.DBTypeSQLite, "":
		dia = sqlite.Open(sqliteDSN(cfg.Database.Name))
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}

	newDB, err := gorm.Open(dia, &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		log.Errorf("failed to connect database: %v", err)
		return nil, err
	}

	sqlDB, err := newDB.DB()
	if err != nil {
		log.Errorf("failed to configure connections: %v", err)
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		if err := newDB.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Errorf("failed to register database tracing: %v", err)
			return nil, err
		}
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := newDB.Use(prometheus.New(prometheus.Config{
			DBName:          cfg.Database.Name,
			RefreshInterval: cfg.Metrics.RefreshInterval,
		})); err != nil {
			log.Errorf("failed to register database metrics: %v", err)
			return nil, err
		}
	}

	if cfg.Database.Type == config.DBTypePostgres {
		var minorVersion string
		if result := newDB.Raw("SELECT version()").Scan(&minorVersion); result.Error != nil {
			log.Infoln(result.Error.Error())
			return nil, result.Error
		}

		log.Infof("PostgreSQL information: '%s'", minorVersion)
	}

	return newDB, nil
}

func sqliteDSN(name string) string {
	if strings.Contains(name, "?") {
		return name
	}
	return fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on", name, sqliteBusyTimeout)
}
