// Package config loads service configuration from an optional YAML file
// overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fieldroute/internal/planner"
	"fieldroute/internal/travel"
)

type Config struct {
	Port        string  `yaml:"port"`
	DatabaseURL string  `yaml:"database_url"`
	DBMigrate   bool    `yaml:"db_migrate"`
	RedisURL    string  `yaml:"redis_url"`
	RateRPS     float64 `yaml:"rate_rps"`
	RateBurst   int     `yaml:"rate_burst"`

	ORS     travel.ORSConfig `yaml:"ors"`
	Planner planner.Config   `yaml:"planner"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:      "8080",
		DBMigrate: true,
		RateBurst: 20,
		ORS: travel.ORSConfig{
			BaseURL: "https://api.openrouteservice.org",
			Profile: "driving-car",
			RPS:     0.6,
			Burst:   1,
			Timeout: 10 * time.Second,
		},
		Planner: planner.DefaultConfig(),
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	cfg.ORS.SpeedKph = cfg.Planner.SpeedKph
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("ORS_API_KEY", &c.ORS.APIKey)
	str("ORS_BASE_URL", &c.ORS.BaseURL)
	str("ORS_PROFILE", &c.ORS.Profile)

	var err error
	num := func(key string, set func(string) error) {
		v := strings.TrimSpace(getenv(key))
		if v == "" || err != nil {
			return
		}
		if e := set(v); e != nil {
			err = fmt.Errorf("env %s=%q: %w", key, v, e)
		}
	}
	num("DB_MIGRATE", func(v string) (e error) { c.DBMigrate, e = strconv.ParseBool(v); return })
	num("RATE_RPS", func(v string) (e error) { c.RateRPS, e = strconv.ParseFloat(v, 64); return })
	num("RATE_BURST", func(v string) (e error) { c.RateBurst, e = strconv.Atoi(v); return })
	num("ORS_RPS", func(v string) (e error) { c.ORS.RPS, e = strconv.ParseFloat(v, 64); return })
	num("CACHE_TTL", func(v string) (e error) { c.Planner.CacheTTL, e = time.ParseDuration(v); return })
	num("EXACT_BUDGET", func(v string) (e error) { c.Planner.Settings.ExactBudget, e = time.ParseDuration(v); return })
	num("GA_SEED", func(v string) (e error) { c.Planner.Settings.Seed, e = strconv.ParseInt(v, 10, 64); return })
	num("LOOKUP_CONCURRENCY", func(v string) (e error) { c.Planner.Concurrency, e = strconv.Atoi(v); return })
	num("LOOKUP_TIMEOUT", func(v string) (e error) { c.Planner.CallTimeout, e = time.ParseDuration(v); return })
	num("DAY_END_HOUR", func(v string) (e error) { c.Planner.DayEndHour, e = strconv.Atoi(v); return })
	return err
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.RateRPS < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate limits must be >= 0")
	}
	if c.Planner.DayEndHour < 0 || c.Planner.DayEndHour > 24 {
		return fmt.Errorf("day_end_hour must be in [0,24]")
	}
	s := c.Planner.Settings
	if s.ExactMaxStops > 0 && s.GeneticMaxStops > 0 && s.GeneticMaxStops < s.ExactMaxStops {
		return fmt.Errorf("genetic_max_stops must be >= exact_max_stops")
	}
	if s.MutationRate < 0 || s.MutationRate > 1 {
		return fmt.Errorf("mutation_rate must be in [0,1]")
	}
	return nil
}
