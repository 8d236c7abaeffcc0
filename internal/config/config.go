package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server's runtime settings.
type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	DebugAddr   string `mapstructure:"debug_addr"`
	DatabaseDSN string `mapstructure:"database_dsn"`
	TemplateDir string `mapstructure:"template_dir"`
	LogLevel    string `mapstructure:"log_level"`
	// PerRollDefault expands lots one work item per operation per roll
	// unless the create request says otherwise.
	PerRollDefault bool `mapstructure:"per_roll_default"`
}

// Load reads configuration from config.yaml (searched in path, or the
// working directory when path is empty), with STITCHFLOW_* environment
// variables overriding file values. A missing file is not an error; the
// defaults stand.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("STITCHFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("debug_addr", ":9090")
	v.SetDefault("database_dsn", "stitchflow.db")
	v.SetDefault("template_dir", "templates")
	v.SetDefault("log_level", "info")
	v.SetDefault("per_roll_default", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
