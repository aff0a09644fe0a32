package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Planner.CacheTTL != 15*time.Minute {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Planner.Settings.ExactMaxStops != 5 || cfg.Planner.Settings.GeneticMaxStops != 15 {
		t.Fatalf("strategy thresholds: %+v", cfg.Planner.Settings)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldroute.yaml")
	body := `
port: "9000"
rate_rps: 5
ors:
  profile: driving-hgv
planner:
  day_end_hour: 19
  late_after: 15m
  strategies:
    exact_max_stops: 6
    exact_budget: 2s
    population: 80
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9100")
	t.Setenv("ORS_API_KEY", "secret")
	t.Setenv("CACHE_TTL", "5m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9100" {
		t.Fatalf("env should win over file, port=%s", cfg.Port)
	}
	if cfg.RateRPS != 5 || cfg.ORS.Profile != "driving-hgv" || cfg.ORS.APIKey != "secret" {
		t.Fatalf("cfg = %+v", cfg)
	}
	p := cfg.Planner
	if p.DayEndHour != 19 || p.LateAfter != 15*time.Minute || p.CacheTTL != 5*time.Minute {
		t.Fatalf("planner = %+v", p)
	}
	if p.Settings.ExactMaxStops != 6 || p.Settings.ExactBudget != 2*time.Second || p.Settings.Population != 80 {
		t.Fatalf("settings = %+v", p.Settings)
	}
	// untouched nested defaults survive
	if p.Settings.GeneticMaxStops != 15 || p.MinImprovement != 0.10 {
		t.Fatalf("defaults lost: %+v", p)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("RATE_BURST", "lots")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for bad RATE_BURST")
	}
	t.Setenv("RATE_BURST", "")
	t.Setenv("DAY_END_HOUR", "30")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for day end hour")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
