package grid

import (
	"reflect"
	"testing"

	"schelling_sim/internal/domain"
)

func placementConfig(mode PlacementMode, seed int64) PlacementConfig {
	return PlacementConfig{
		Rows: 10,
		Cols: 10,
		Groups: []GroupShare{
			{Group: "blue", Density: 0.2},
			{Group: "red", Density: 0.3},
		},
		Mode:       mode,
		NoiseScale: 0.15,
		Seed:       seed,
	}
}

func countGroups(t *testing.T, snap *domain.Snapshot) map[domain.Group]int {
	t.Helper()
	counts := make(map[domain.Group]int)
	for id, pos := range snap.Agents() {
		cell := snap.At(pos)
		if cell.Agent != id {
			t.Fatalf("agent index disagrees with cells at %+v", pos)
		}
		counts[cell.Group]++
	}
	return counts
}

func TestPlaceUniformMatchesDensities(t *testing.T) {
	g, err := Place(placementConfig(PlacementUniform, 7))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	counts := countGroups(t, g.Snapshot())
	if counts["blue"] != 20 || counts["red"] != 30 {
		t.Fatalf("group counts = %v, want blue=20 red=30", counts)
	}
	if g.Population() != 50 {
		t.Fatalf("population = %d, want 50", g.Population())
	}
}

func TestPlaceClusteredKeepsPopulation(t *testing.T) {
	g, err := Place(placementConfig(PlacementClustered, 7))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	counts := countGroups(t, g.Snapshot())
	if counts["blue"] != 20 || counts["red"] != 30 {
		t.Fatalf("clustering changed group counts: %v", counts)
	}
}

func TestPlaceDeterministicForSeed(t *testing.T) {
	for _, mode := range []PlacementMode{PlacementUniform, PlacementClustered} {
		a, err := Place(placementConfig(mode, 42))
		if err != nil {
			t.Fatalf("place %s: %v", mode, err)
		}
		b, err := Place(placementConfig(mode, 42))
		if err != nil {
			t.Fatalf("place %s: %v", mode, err)
		}
		if !reflect.DeepEqual(a.Snapshot().GroupRows(), b.Snapshot().GroupRows()) {
			t.Fatalf("mode %s: same seed produced different layouts", mode)
		}
	}
}

func TestPlaceRejectsFullGrid(t *testing.T) {
	_, err := Place(PlacementConfig{
		Rows:   2,
		Cols:   2,
		Groups: []GroupShare{{Group: "red", Density: 0.99}, {Group: "blue", Density: 0.99}},
		Mode:   PlacementUniform,
		Seed:   1,
	})
	if err == nil {
		t.Fatalf("expected error when population fills the grid")
	}
}
