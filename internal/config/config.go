// Package config loads gateway configuration from defaults, an optional
// YAML file, and OKAPI_-prefixed environment variables, in that order.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full gateway configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Okapi    OkapiConfig    `koanf:"okapi"`
	Storage  StorageConfig  `koanf:"storage"`
	Postgres PostgresConfig `koanf:"postgres"`
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Cluster  ClusterConfig  `koanf:"cluster"`
	Redis    RedisConfig    `koanf:"redis"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type OkapiConfig struct {
	// URL is the gateway base URL advertised to modules via X-Okapi-Url.
	URL string `koanf:"url"`
}

type StorageConfig struct {
	// Backend is memory, sqlite, or postgres.
	Backend string `koanf:"backend"`
}

// PostgresConfig carries the postgres_* options. The defaults suit
// development only.
type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	// DBInit drops and recreates the schema on startup (legacy flag).
	DBInit bool `koanf:"db_init"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type ClusterConfig struct {
	// Enabled switches the reload bus from in-process to redis.
	Enabled bool `koanf:"enabled"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Load reads configuration. path may be empty to skip the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"server.port":       9130,
		"okapi.url":         "http://localhost:9130",
		"storage.backend":   "memory",
		"postgres.host":     "localhost",
		"postgres.port":     5432,
		"postgres.username": "okapi",
		"postgres.password": "okapi25",
		"postgres.database": "okapi",
		"sqlite.path":       "okapi.db",
		"redis.addr":        "localhost:6379",
	}
	for key, val := range defaults {
		k.Set(key, val)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("OKAPI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "OKAPI_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
