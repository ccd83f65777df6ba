package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DBTypePostgres = "pgsql"
	DBTypeSQLite   = "sqlite"
)

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `json:"type,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Port     uint   `json:"port,omitempty"`
	// Name is the database name for pgsql and the file path for sqlite.
	Name     string `json:"name,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	SSLMode  string `json:"sslmode,omitempty"`
}

// NewDefaultDatabase returns a SQLite database in the working directory.
func NewDefaultDatabase() *DatabaseConfig {
	return &DatabaseConfig{
		Type:     DBTypeSQLite,
		Hostname: "localhost",
		Port:     5432,
		Name:     filepath.Join(".", appName+".db"),
		User:     appName,
		Password: "adminpass",
	}
}

// ApplyEnvOverrides applies environment variable overrides to the database config.
func (c *DatabaseConfig) ApplyEnvOverrides() {
	if c == nil {
		return
	}
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		c.Type = dbType
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		c.Hostname = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		if port, err := strconv.ParseUint(dbPort, 10, 16); err == nil {
			c.Port = uint(port)
		}
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		c.Name = dbName
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		c.User = dbUser
	}
	if dbPass := os.Getenv("DB_PASSWORD"); dbPass != "" {
		c.Password = dbPass
	}
}

// CreateDSN creates a PostgreSQL data source name for the given user.
func (c *DatabaseConfig) CreateDSN(user string, password string) string {
	dsn := fmt.Sprintf("host=%s user=%s password=%s port=%d",
		c.Hostname, user, password, c.Port)

	if c.Name != "" {
		dsn += fmt.Sprintf(" dbname=%s", c.Name)
	}
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}
