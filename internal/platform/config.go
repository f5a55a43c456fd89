package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// HTTPServerConfig holds HTTP server tunables.
type HTTPServerConfig struct {
	Port            int           `env:"PORT" envDefault:"3000"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// MetricsConfig controls the metrics registry.
type MetricsConfig struct {
	// DefaultInterval is how often sampled process metrics are refreshed.
	DefaultInterval time.Duration `env:"METRICS_DEFAULT_INTERVAL" envDefault:"5s"`
	// Namespace prefixes request metric names. Empty means no prefix.
	Namespace string `env:"METRICS_NAMESPACE"`
}

// DemoConfig tunes the demonstration routes.
type DemoConfig struct {
	Version      string        `env:"APP_VERSION" envDefault:"1.0.0"`
	ErrorRate    float64       `env:"RANDOM_ERROR_RATE" envDefault:"0.1"`
	LoadDuration time.Duration `env:"LOAD_DURATION" envDefault:"100ms"`
}

// LogConfig controls the default logger.
type LogConfig struct {
	Level slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// AppConfig contains the configuration for the app.
type AppConfig struct {
	HTTPSrvCfg *HTTPServerConfig
	MetricsCfg *MetricsConfig
	DemoCfg    *DemoConfig
	LogCfg     *LogConfig
}

// LoadAppConfig loads an optional .env file and then reads the environment.
// Unset variables keep the defaults above.
func LoadAppConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &AppConfig{
		HTTPSrvCfg: &HTTPServerConfig{},
		MetricsCfg: &MetricsConfig{},
		DemoCfg:    &DemoConfig{},
		LogCfg:     &LogConfig{},
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch {
	case c.HTTPSrvCfg.Port <= 0 || c.HTTPSrvCfg.Port > 65535:
		return fmt.Errorf("config: PORT %d out of range", c.HTTPSrvCfg.Port)
	case c.MetricsCfg.DefaultInterval <= 0:
		return fmt.Errorf("config: METRICS_DEFAULT_INTERVAL must be positive, got %s", c.MetricsCfg.DefaultInterval)
	case c.DemoCfg.ErrorRate < 0 || c.DemoCfg.ErrorRate > 1:
		return fmt.Errorf("config: RANDOM_ERROR_RATE must be within [0, 1], got %v", c.DemoCfg.ErrorRate)
	case c.DemoCfg.LoadDuration < 0:
		return fmt.Errorf("config: LOAD_DURATION must not be negative, got %s", c.DemoCfg.LoadDuration)
	}
	return nil
}
