// Package config holds reverie configuration: defaults, an optional
// YAML file, and REVERIE_* environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all reverie configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Dreamer  DreamerConfig  `yaml:"dreamer"`
	Priority PriorityConfig `yaml:"priority"`
	Query    QueryConfig    `yaml:"query"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
	// CombinePolicy: "weighted-average", "max", or "last".
	CombinePolicy string `yaml:"combine_policy"`
}

type OracleConfig struct {
	// Provider: "heuristic" (default, deterministic, offline) or "openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

type DreamerConfig struct {
	Enabled            bool    `yaml:"enabled"`
	IntervalSeconds    int     `yaml:"interval"`
	SampleSize         int     `yaml:"sample_size"`
	DiscoveryThreshold float64 `yaml:"discovery_threshold"`
	ClusterThreshold   float64 `yaml:"cluster_threshold"`
	MinClusterSize     int     `yaml:"min_cluster_size"`
	RedundancyOverlap  float64 `yaml:"redundancy_overlap"`
	MergeSimilarity    float64 `yaml:"merge_similarity"`
	OracleTimeoutSecs  int     `yaml:"oracle_timeout"`
}

type PriorityConfig struct {
	HalfLifeHours       int     `yaml:"half_life_hours"`
	FrequencySaturation float64 `yaml:"frequency_saturation"`
	Floor               float64 `yaml:"floor"`
}

type QueryConfig struct {
	MatchThreshold      float64 `yaml:"match_threshold"`
	ExhaustiveThreshold float64 `yaml:"exhaustive_threshold"`
	PriorityFloor       float64 `yaml:"priority_floor"`
	Limit               int     `yaml:"limit"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38280,
		},
		Database: DatabaseConfig{
			Path:          "", // resolved at runtime via store.DefaultDBPath()
			CombinePolicy: "weighted-average",
		},
		Oracle: OracleConfig{
			Provider: "heuristic",
		},
		Dreamer: DreamerConfig{
			Enabled:            true,
			IntervalSeconds:    300,
			SampleSize:         10,
			DiscoveryThreshold: 0.3,
			ClusterThreshold:   0.8,
			MinClusterSize:     3,
			RedundancyOverlap:  0.5,
			MergeSimilarity:    0.9,
			OracleTimeoutSecs:  30,
		},
		Priority: PriorityConfig{
			HalfLifeHours:       168,
			FrequencySaturation: 5,
			Floor:               0.01,
		},
		Query: QueryConfig{
			MatchThreshold:      0.5,
			ExhaustiveThreshold: 0.2,
			PriorityFloor:       0.05,
			Limit:               10,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or missing), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv layers REVERIE_* environment variables over the config.
func (c *Config) applyEnv() {
	setString(&c.Server.Bind, "REVERIE_BIND")
	setInt(&c.Server.Port, "REVERIE_PORT")
	setString(&c.Database.Path, "REVERIE_DB_PATH")
	setString(&c.Database.CombinePolicy, "REVERIE_COMBINE_POLICY")
	setString(&c.Oracle.Provider, "REVERIE_ORACLE_PROVIDER")
	setString(&c.Oracle.Model, "REVERIE_ORACLE_MODEL")
	setString(&c.Oracle.APIKey, "REVERIE_ORACLE_API_KEY")
	if c.Oracle.APIKey == "" {
		setString(&c.Oracle.APIKey, "OPENAI_API_KEY")
	}
	setBool(&c.Dreamer.Enabled, "REVERIE_DREAMER_ENABLED")
	setInt(&c.Dreamer.IntervalSeconds, "REVERIE_DREAMER_INTERVAL")
	setInt(&c.Dreamer.SampleSize, "REVERIE_DREAMER_SAMPLE_SIZE")
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
