package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Env           string `mapstructure:"ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema      string `mapstructure:"DB_SCHEMA"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	CatalogURI    string `mapstructure:"CATALOG_URI"`
	CatalogFormat string `mapstructure:"CATALOG_FORMAT"`
	S3Region      string `mapstructure:"S3_REGION"`
	S3Endpoint    string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle   bool   `mapstructure:"S3_PATH_STYLE"`
	MetricsFile   string `mapstructure:"METRICS_FILE"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"MIGRATIONS_DIR", "CATALOG_URI", "CATALOG_FORMAT", "S3_REGION", "S3_ENDPOINT",
	"S3_PATH_STYLE", "METRICS_FILE",
}

// Load reads the environment and an optional .env file in the working
// directory. DATABASE_URL is not checked here; commands that need Postgres
// call RequireDatabase.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CATALOG_FORMAT", "auto")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_PATH_STYLE", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Level returns the zerolog level named by LOG_LEVEL.
func (c *Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(c.LogLevel))
}

// Validate checks cross-field rules.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch strings.ToLower(c.CatalogFormat) {
	case "", "auto", "json", "yaml":
	default:
		return fmt.Errorf("CATALOG_FORMAT must be \"auto\", \"json\" or \"yaml\", got %q", c.CatalogFormat)
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
	}
	return nil
}

// RequireDatabase reports whether a Postgres connection string is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
