package grid

import (
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"schelling_sim/internal/domain"
)

type PlacementMode string

const (
	// PlacementUniform scatters every group independently over the grid.
	PlacementUniform PlacementMode = "uniform"
	// PlacementClustered bands groups along a simplex-noise field, giving a
	// patchy start instead of a fully mixed one.
	PlacementClustered PlacementMode = "clustered"
)

// GroupShare is one group's slice of the population.
type GroupShare struct {
	Group   domain.Group
	Density float64 // share of all cells, (0,1)
}

// PlacementConfig describes the initial population. Groups must be given in
// a stable order; together with the seed it fully determines the layout.
type PlacementConfig struct {
	Rows       int
	Cols       int
	Groups     []GroupShare
	Mode       PlacementMode
	NoiseScale float64
	Seed       int64
}

// Place builds the generation-0 grid. Agent IDs are assigned sequentially
// from 1 in placement order so runs with equal seeds are identical.
func Place(cfg PlacementConfig) (*Grid, error) {
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return nil, domain.ConfigError("grid dimensions must be positive, got %dx%d", cfg.Cols, cfg.Rows)
	}
	totalCells := cfg.Rows * cfg.Cols

	counts := make([]int, len(cfg.Groups))
	population := 0
	for i, share := range cfg.Groups {
		if share.Density <= 0 {
			return nil, domain.ConfigError("density for group %q must be positive", share.Group)
		}
		counts[i] = int(share.Density * float64(totalCells))
		population += counts[i]
	}
	if population >= totalCells {
		return nil, domain.ConfigError("population %d does not leave an empty cell on a %d-cell grid", population, totalCells)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	positions := make([]domain.Pos, 0, totalCells)
	for row := 0; row < cfg.Rows; row++ {
		for col := 0; col < cfg.Cols; col++ {
			positions = append(positions, domain.Pos{Row: row, Col: col})
		}
	}
	rng.Shuffle(len(positions), func(i, j int) {
		positions[i], positions[j] = positions[j], positions[i]
	})
	occupied := positions[:population]

	if cfg.Mode == PlacementClustered {
		// Sort the occupied cells along the noise field, then cut it into
		// one contiguous band per group. Band sizes equal the group counts,
		// so clustering changes geometry but never population.
		noise := opensimplex.NewNormalized(cfg.Seed)
		scale := cfg.NoiseScale
		if scale <= 0 {
			scale = 0.1
		}
		sort.Slice(occupied, func(i, j int) bool {
			a := noise.Eval2(float64(occupied[i].Col)*scale, float64(occupied[i].Row)*scale)
			b := noise.Eval2(float64(occupied[j].Col)*scale, float64(occupied[j].Row)*scale)
			if a == b {
				return occupied[i].Row*cfg.Cols+occupied[i].Col < occupied[j].Row*cfg.Cols+occupied[j].Col
			}
			return a < b
		})
	}

	g := &Grid{
		rows:   cfg.Rows,
		cols:   cfg.Cols,
		cells:  make([]domain.Cell, totalCells),
		agents: make(map[domain.AgentID]domain.Pos, population),
	}
	nextID := domain.AgentID(1)
	offset := 0
	for i, share := range cfg.Groups {
		for _, pos := range occupied[offset : offset+counts[i]] {
			g.setCell(pos, domain.Cell{Agent: nextID, Group: share.Group})
			g.agents[nextID] = pos
			nextID++
		}
		offset += counts[i]
	}
	return g, nil
}

// NewFromRows builds a grid from explicit group rows, empty string for empty
// cells. Agent IDs are assigned in row-major order. Intended for tests and
// for replaying stored generations.
func NewFromRows(rows [][]string) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, domain.ConfigError("grid rows must not be empty")
	}
	cols := len(rows[0])
	g := &Grid{
		rows:   len(rows),
		cols:   cols,
		cells:  make([]domain.Cell, len(rows)*cols),
		agents: make(map[domain.AgentID]domain.Pos),
	}
	nextID := domain.AgentID(1)
	for r, line := range rows {
		if len(line) != cols {
			return nil, domain.ConfigError("row %d has %d cells, want %d", r, len(line), cols)
		}
		for c, group := range line {
			if group == "" {
				continue
			}
			pos := domain.Pos{Row: r, Col: c}
			g.setCell(pos, domain.Cell{Agent: nextID, Group: domain.Group(group)})
			g.agents[nextID] = pos
			nextID++
		}
	}
	return g, nil
}
