package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"schelling_sim/internal/domain"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("empty path did not yield defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.toml")
	body := `
[grid]
width = 12
height = 8
boundary = "wrap"

[sim]
similarity_threshold = 0.375
random_seed = 99

[population.densities]
green = 0.25
purple = 0.25
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Grid.Width != 12 || cfg.Grid.Height != 8 || cfg.Grid.Boundary != BoundaryWrap {
		t.Fatalf("grid section not applied: %+v", cfg.Grid)
	}
	if cfg.Sim.SimilarityThreshold != 0.375 || cfg.Sim.RandomSeed != 99 {
		t.Fatalf("sim section not applied: %+v", cfg.Sim)
	}
	// Unset fields keep their defaults.
	if cfg.Sim.MaxRounds != Default().Sim.MaxRounds {
		t.Fatalf("max rounds = %d, want default %d", cfg.Sim.MaxRounds, Default().Sim.MaxRounds)
	}
	if cfg.Server.Addr != Default().Server.Addr {
		t.Fatalf("server addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.Path != path {
		t.Fatalf("cfg.Path = %q, want %q", cfg.Path, path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsBadParameters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Grid.Width = 0 }},
		{"negative height", func(c *Config) { c.Grid.Height = -3 }},
		{"unknown boundary", func(c *Config) { c.Grid.Boundary = "reflect" }},
		{"zero radius", func(c *Config) { c.Grid.NeighborhoodRadius = 0 }},
		{"wrap radius spans grid", func(c *Config) {
			c.Grid.Boundary = BoundaryWrap
			c.Grid.Width = 5
			c.Grid.Height = 9
			c.Grid.NeighborhoodRadius = 5
		}},
		{"unknown placement", func(c *Config) { c.Population.Placement = "spiral" }},
		{"no groups", func(c *Config) { c.Population.Densities = nil }},
		{"empty group name", func(c *Config) { c.Population.Densities = map[string]float64{" ": 0.2} }},
		{"zero density", func(c *Config) { c.Population.Densities["red"] = 0 }},
		{"densities fill grid", func(c *Config) { c.Population.Densities = map[string]float64{"red": 0.5, "blue": 0.5} }},
		{"threshold above one", func(c *Config) { c.Sim.SimilarityThreshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.Sim.SimilarityThreshold = -0.1 }},
		{"zero rounds", func(c *Config) { c.Sim.MaxRounds = 0 }},
		{"zero collect timeout", func(c *Config) { c.Sim.CollectTimeoutMS = 0 }},
		{"clustered without noise", func(c *Config) {
			c.Population.Placement = PlacementClustered
			c.Population.NoiseScale = 0
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("err = %v, want configuration error", err)
			}
		})
	}
}

func TestValidateAcceptsFittingWrapRadius(t *testing.T) {
	cfg := Default()
	cfg.Grid.Boundary = BoundaryWrap
	cfg.Grid.NeighborhoodRadius = 3
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestGroupsSorted(t *testing.T) {
	cfg := Default()
	cfg.Population.Densities = map[string]float64{"zebra": 0.1, "ant": 0.1, "moth": 0.1}
	got := cfg.Groups()
	want := []string{"ant", "moth", "zebra"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("groups = %v, want %v", got, want)
	}
}
