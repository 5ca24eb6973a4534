package grid

import (
	"schelling_sim/internal/domain"
)

// BoundaryPolicy decides how the oracle treats positions beyond the edge.
type BoundaryPolicy string

const (
	// BoundaryExclude drops out-of-bounds neighbors; cells at edges and
	// corners simply have a smaller neighborhood.
	BoundaryExclude BoundaryPolicy = "exclude"
	// BoundaryWrap folds the grid into a torus.
	BoundaryWrap BoundaryPolicy = "wrap"
)

// NeighborCounts is what an agent learns about its surroundings.
type NeighborCounts struct {
	Same        int
	Different   int
	EmptyNearby bool
}

// CountNeighbors scans the Chebyshev box of the given radius around p
// (radius 1 = Moore neighborhood) in the snapshot and tallies occupied
// neighbors relative to group. The probed cell itself is never counted.
// Pure function of its inputs; safe to call concurrently against one
// shared snapshot.
func CountNeighbors(s *domain.Snapshot, p domain.Pos, group domain.Group, radius int, boundary BoundaryPolicy) NeighborCounts {
	var counts NeighborCounts
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			n := domain.Pos{Row: p.Row + dr, Col: p.Col + dc}
			if boundary == BoundaryWrap {
				n.Row = wrap(n.Row, s.Rows())
				n.Col = wrap(n.Col, s.Cols())
			} else if !s.Contains(n) {
				continue
			}
			cell := s.At(n)
			switch {
			case cell.Empty():
				counts.EmptyNearby = true
			case cell.Group == group:
				counts.Same++
			default:
				counts.Different++
			}
		}
	}
	return counts
}

func wrap(v, size int) int {
	v %= size
	if v < 0 {
		v += size
	}
	return v
}
