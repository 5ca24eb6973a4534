package domain

// Snapshot is an immutable, fully consistent view of grid occupancy at one
// generation. Once constructed it is read-only and safe to share across any
// number of goroutines without locking; the grid builds a fresh one per
// generation instead of mutating one that has been handed out.
type Snapshot struct {
	generation int
	rows       int
	cols       int
	cells      []Cell // row-major
	agents     map[AgentID]Pos
}

// NewSnapshot copies cells and agents so later writes to the caller's slices
// cannot leak into the snapshot. len(cells) must equal rows*cols.
func NewSnapshot(generation, rows, cols int, cells []Cell, agents map[AgentID]Pos) *Snapshot {
	copied := make([]Cell, len(cells))
	copy(copied, cells)
	byAgent := make(map[AgentID]Pos, len(agents))
	for id, pos := range agents {
		byAgent[id] = pos
	}
	return &Snapshot{
		generation: generation,
		rows:       rows,
		cols:       cols,
		cells:      copied,
		agents:     byAgent,
	}
}

func (s *Snapshot) Generation() int { return s.generation }
func (s *Snapshot) Rows() int       { return s.rows }
func (s *Snapshot) Cols() int       { return s.cols }

func (s *Snapshot) Contains(p Pos) bool {
	return p.Row >= 0 && p.Row < s.rows && p.Col >= 0 && p.Col < s.cols
}

// At returns the cell at p. p must be in bounds.
func (s *Snapshot) At(p Pos) Cell {
	return s.cells[p.Row*s.cols+p.Col]
}

// PosOf returns the position of an agent in this snapshot.
func (s *Snapshot) PosOf(id AgentID) (Pos, bool) {
	pos, ok := s.agents[id]
	return pos, ok
}

func (s *Snapshot) AgentCount() int {
	return len(s.agents)
}

// Agents returns a copy of the agent index.
func (s *Snapshot) Agents() map[AgentID]Pos {
	out := make(map[AgentID]Pos, len(s.agents))
	for id, pos := range s.agents {
		out[id] = pos
	}
	return out
}

// EmptyCells returns the currently unoccupied positions in row-major order.
// The order is stable so the resolver's seeded shuffle is reproducible.
func (s *Snapshot) EmptyCells() []Pos {
	var out []Pos
	for row := 0; row < s.rows; row++ {
		for col := 0; col < s.cols; col++ {
			if s.cells[row*s.cols+col].Empty() {
				out = append(out, Pos{Row: row, Col: col})
			}
		}
	}
	return out
}

// GroupRows renders occupancy as group names per cell, empty string for empty
// cells. Used by the store encoding and the HTTP snapshot payload.
func (s *Snapshot) GroupRows() [][]string {
	out := make([][]string, s.rows)
	for row := 0; row < s.rows; row++ {
		line := make([]string, s.cols)
		for col := 0; col < s.cols; col++ {
			line[col] = string(s.cells[row*s.cols+col].Group)
		}
		out[row] = line
	}
	return out
}
