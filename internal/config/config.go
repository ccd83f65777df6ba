package config

const appName = "temporal"

type Config struct {
	Database *DatabaseConfig `json:"database,omitempty"`
	Metrics  *MetricsConfig  `json:"metrics,omitempty"`
	Tracing  *TracingConfig  `json:"tracing,omitempty"`
	// LogLevel is parsed by logrus; an empty or unknown level means info.
	LogLevel string `json:"logLevel,omitempty"`
}

// MetricsConfig controls the connection pool metrics exported for the database.
type MetricsConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	// RefreshInterval is in seconds.
	RefreshInterval uint32 `json:"refreshInterval,omitempty"`
}

// TracingConfig controls the OpenTelemetry spans emitted for each statement
// and history write, and where they are exported.
type TracingConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Insecure bool   `json:"insecure,omitempty"`
}

func NewDefault() *Config {
	return &Config{
		Database: NewDefaultDatabase(),
		Metrics:  &MetricsConfig{RefreshInterval: 15},
		Tracing:  &TracingConfig{},
		LogLevel: "info",
	}
}

// ApplyEnvOverrides applies environment variable overrides to every section.
func (c *Config) ApplyEnvOverrides() {
	if c == nil {
		return
	}
	c.Database.ApplyEnvOverrides()
}
