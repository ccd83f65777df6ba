package temporal

import (
	"fmt"
	"strings"
)

const (
	DefaultModelSuffix = "History"
	DefaultIDColumn    = "hid"
	DefaultDateColumn  = "archivedAt"
)

// Config is fixed when a model is attached. Changing it means attaching again
// against a freshly migrated history table.
type Config struct {
	// ModelPrefix and ModelSuffix surround the model name to form the history name.
	ModelPrefix string `json:"modelPrefix,omitempty"`
	ModelSuffix string `json:"modelSuffix,omitempty"`
	// IDColumn is the auto-incrementing surrogate key of the history table.
	IDColumn string `json:"idColumn,omitempty"`
	// DateColumn holds the archival timestamp.
	DateColumn string `json:"dateColumn,omitempty"`
	// Full archives every version (creation and restore included) instead of
	// only the version preceding a change.
	Full bool `json:"full,omitempty"`
}

func NewDefaultConfig() Config {
	return Config{
		ModelSuffix: DefaultModelSuffix,
		IDColumn:    DefaultIDColumn,
		DateColumn:  DefaultDateColumn,
	}
}

// ApplyDefaults fills unset fields. An empty suffix always means
// DefaultModelSuffix.
func (c *Config) ApplyDefaults() {
	if c.IDColumn == "" {
		c.IDColumn = DefaultIDColumn
	}
	if c.DateColumn == "" {
		c.DateColumn = DefaultDateColumn
	}
	if c.ModelSuffix == "" {
		c.ModelSuffix = DefaultModelSuffix
	}
}

func (c Config) Validate() error {
	for _, col := range []struct{ key, value string }{
		{"idColumn", c.IDColumn},
		{"dateColumn", c.DateColumn},
	} {
		if col.value == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, col.key)
		}
		if strings.ContainsAny(col.value, ";:,\"` \t\n") {
			return fmt.Errorf("%w: %s %q contains invalid characters", ErrInvalidConfig, col.key, col.value)
		}
	}
	if c.IDColumn == c.DateColumn {
		return fmt.Errorf("%w: idColumn and dateColumn are both %q", ErrInvalidConfig, c.IDColumn)
	}
	if strings.ContainsAny(c.ModelPrefix+c.ModelSuffix, " \t\n") {
		return fmt.Errorf("%w: model prefix and suffix must not contain whitespace", ErrInvalidConfig)
	}
	return nil
}

func (c Config) HistoryName(modelName string) string {
	return c.ModelPrefix + modelName + c.ModelSuffix
}

func (c Config) Mode() string {
	if c.Full {
		return "full"
	}
	return "default"
}
