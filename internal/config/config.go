package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"schelling_sim/internal/domain"
)

type Config struct {
	Grid       GridConfig       `toml:"grid"`
	Population PopulationConfig `toml:"population"`
	Sim        SimConfig        `toml:"sim"`
	Server     ServerConfig     `toml:"server"`
	Path       string           `toml:"-"`
}

type GridConfig struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
	// Boundary decides what happens at grid edges: "exclude" drops
	// out-of-bounds neighbors, "wrap" folds the grid into a torus.
	Boundary string `toml:"boundary"`
	// NeighborhoodRadius is the Chebyshev radius of the scanned box.
	// Radius 1 is the classic Moore neighborhood.
	NeighborhoodRadius int `toml:"neighborhood_radius"`
}

type PopulationConfig struct {
	// Placement is "uniform" or "clustered" (simplex-noise banding).
	Placement  string  `toml:"placement"`
	NoiseScale float64 `toml:"noise_scale"`
	// Densities maps group name to its share of all cells, e.g.
	// red = 0.4. The sum must stay below 1 so empty cells exist.
	Densities map[string]float64 `toml:"densities"`
}

type SimConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	MaxRounds           int     `toml:"max_rounds"`
	RandomSeed          int64   `toml:"random_seed"`
	CollectTimeoutMS    int     `toml:"collect_timeout_ms"`
}

type ServerConfig struct {
	Addr   string `toml:"addr"`
	DBPath string `toml:"db_path"`
}

const (
	BoundaryExclude = "exclude"
	BoundaryWrap    = "wrap"

	PlacementUniform   = "uniform"
	PlacementClustered = "clustered"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Grid: GridConfig{
			Width:              50,
			Height:             50,
			Boundary:           BoundaryExclude,
			NeighborhoodRadius: 1,
		},
		Population: PopulationConfig{
			Placement:  PlacementUniform,
			NoiseScale: 0.1,
			Densities: map[string]float64{
				"red":  0.4,
				"blue": 0.4,
			},
		},
		Sim: SimConfig{
			SimilarityThreshold: 0.6,
			MaxRounds:           200,
			RandomSeed:          1,
			CollectTimeoutMS:    500,
		},
		Server: ServerConfig{
			Addr:   ":8117",
			DBPath: "data/schelling.db",
		},
	}
}

// Load reads a TOML config file. An empty path yields Default().
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	resolved := path
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	cfg.Path = resolved
	return cfg, nil
}

// Validate rejects parameter combinations the simulation cannot start with.
// Every reported problem wraps domain.ErrConfiguration.
func (c Config) Validate() error {
	if c.Grid.Width <= 0 || c.Grid.Height <= 0 {
		return domain.ConfigError("grid dimensions must be positive, got %dx%d", c.Grid.Width, c.Grid.Height)
	}
	if c.Grid.Boundary != BoundaryExclude && c.Grid.Boundary != BoundaryWrap {
		return domain.ConfigError("unknown boundary policy %q", c.Grid.Boundary)
	}
	if c.Grid.NeighborhoodRadius < 1 {
		return domain.ConfigError("neighborhood radius must be at least 1, got %d", c.Grid.NeighborhoodRadius)
	}
	if c.Grid.Boundary == BoundaryWrap && c.Grid.NeighborhoodRadius >= min(c.Grid.Width, c.Grid.Height) {
		// Wrapping a box wider than the grid folds distinct offsets onto the
		// same cell, double counting neighbors.
		return domain.ConfigError("neighborhood radius %d does not fit a wrapped %dx%d grid",
			c.Grid.NeighborhoodRadius, c.Grid.Width, c.Grid.Height)
	}
	if c.Population.Placement != PlacementUniform && c.Population.Placement != PlacementClustered {
		return domain.ConfigError("unknown placement mode %q", c.Population.Placement)
	}
	if c.Population.Placement == PlacementClustered && c.Population.NoiseScale <= 0 {
		return domain.ConfigError("noise scale must be positive for clustered placement, got %g", c.Population.NoiseScale)
	}
	if len(c.Population.Densities) == 0 {
		return domain.ConfigError("at least one population group is required")
	}
	total := 0.0
	for group, density := range c.Population.Densities {
		if strings.TrimSpace(group) == "" {
			return domain.ConfigError("population group name must not be empty")
		}
		if density <= 0 {
			return domain.ConfigError("density for group %q must be positive, got %g", group, density)
		}
		total += density
	}
	if total >= 1 {
		return domain.ConfigError("population densities sum to %g, must stay below 1 so empty cells exist", total)
	}
	if c.Sim.SimilarityThreshold < 0 || c.Sim.SimilarityThreshold > 1 {
		return domain.ConfigError("similarity threshold must be within [0,1], got %g", c.Sim.SimilarityThreshold)
	}
	if c.Sim.MaxRounds <= 0 {
		return domain.ConfigError("max rounds must be positive, got %d", c.Sim.MaxRounds)
	}
	if c.Sim.CollectTimeoutMS <= 0 {
		return domain.ConfigError("collect timeout must be positive, got %dms", c.Sim.CollectTimeoutMS)
	}
	return nil
}

// Groups returns the configured group names in stable (sorted) order so
// placement is reproducible regardless of map iteration order.
func (c Config) Groups() []string {
	names := make([]string, 0, len(c.Population.Densities))
	for name := range c.Population.Densities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
