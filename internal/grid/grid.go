// Package grid owns the authoritative occupancy state of the simulation and
// everything derived from it: immutable per-generation snapshots, the
// neighborhood oracle, and initial agent placement.
package grid

import (
	"schelling_sim/internal/domain"
)

// Grid is the authoritative lattice. It is not safe for concurrent use; the
// round coordinator is its only writer, and every other component works off
// the immutable snapshots it hands out.
type Grid struct {
	rows       int
	cols       int
	generation int
	cells      []domain.Cell // row-major
	agents     map[domain.AgentID]domain.Pos
}

func (g *Grid) Rows() int       { return g.rows }
func (g *Grid) Cols() int       { return g.cols }
func (g *Grid) Generation() int { return g.generation }
func (g *Grid) Population() int { return len(g.agents) }

// Snapshot returns the current state as an immutable snapshot. Callers never
// observe a partially applied round.
func (g *Grid) Snapshot() *domain.Snapshot {
	return domain.NewSnapshot(g.generation, g.rows, g.cols, g.cells, g.agents)
}

// Apply advances the grid by one generation. Moves must be the resolver's
// output: pairwise cell-disjoint and sourced from each agent's current
// position. Any inconsistency is a defect upstream and yields an
// InvariantViolation without mutating the grid.
func (g *Grid) Apply(moves []domain.Move) (*domain.Snapshot, error) {
	claimed := make(map[domain.Pos]bool, len(moves))
	for _, m := range moves {
		current, ok := g.agents[m.Agent]
		if !ok {
			return nil, domain.InvariantError("move for unknown agent %d", m.Agent)
		}
		if current != m.From {
			return nil, domain.InvariantError(
				"stale source for agent %d: move says (%d,%d), grid says (%d,%d)",
				m.Agent, m.From.Row, m.From.Col, current.Row, current.Col)
		}
		if !g.contains(m.To) {
			return nil, domain.InvariantError("move target (%d,%d) is out of bounds", m.To.Row, m.To.Col)
		}
		if claimed[m.To] {
			return nil, domain.InvariantError("two moves target cell (%d,%d)", m.To.Row, m.To.Col)
		}
		if !g.cellAt(m.To).Empty() {
			return nil, domain.InvariantError("move target (%d,%d) is occupied", m.To.Row, m.To.Col)
		}
		claimed[m.To] = true
	}

	for _, m := range moves {
		cell := g.cellAt(m.From)
		g.setCell(m.From, domain.Cell{})
		g.setCell(m.To, cell)
		g.agents[m.Agent] = m.To
	}
	g.generation++
	return g.Snapshot(), nil
}

func (g *Grid) contains(p domain.Pos) bool {
	return p.Row >= 0 && p.Row < g.rows && p.Col >= 0 && p.Col < g.cols
}

func (g *Grid) cellAt(p domain.Pos) domain.Cell {
	return g.cells[p.Row*g.cols+p.Col]
}

func (g *Grid) setCell(p domain.Pos, c domain.Cell) {
	g.cells[p.Row*g.cols+p.Col] = c
}
