// Package config loads server settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/bindc/pkg/filters"
	"github.com/lemonberrylabs/bindc/pkg/statistics"
)

// Config holds everything the servers and the CLI need.
type Config struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	GRPCPort         int    `yaml:"grpcPort"`
	SchemaDir        string `yaml:"schemaDir"`
	Roles            string `yaml:"roles"`
	StatisticsFolder string `yaml:"statisticsFolder"`
	AuthScheme       string `yaml:"authScheme"`
	CacheSize        int    `yaml:"cacheSize"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Host:       "0.0.0.0",
		Port:       8787,
		GRPCPort:   8788,
		AuthScheme: filters.DefaultAuthScheme,
		CacheSize:  256,
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then applies environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Host = envOrDefault("BINDC_HOST", c.Host)
	c.SchemaDir = envOrDefault("SCHEMA_DIR", c.SchemaDir)
	c.StatisticsFolder = envOrDefault("STATISTICS_FOLDER", c.StatisticsFolder)
	c.Roles = envOrDefault("AUTH_ROLES", c.Roles)

	var err error
	if c.Port, err = envInt("PORT", c.Port); err != nil {
		return err
	}
	if c.GRPCPort, err = envInt("GRPC_PORT", c.GRPCPort); err != nil {
		return err
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddr returns the gRPC listen address.
func (c Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// Statistics returns the statistics settings.
func (c Config) Statistics() statistics.Config {
	return statistics.Config{StatisticsFolder: c.StatisticsFolder}
}

// Authorize returns the authorization filter for the configured roles.
func (c Config) Authorize() *filters.Authorize {
	a := filters.NewAuthorize(c.Roles)
	if c.AuthScheme != "" {
		a.Scheme = c.AuthScheme
	}
	return a
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
