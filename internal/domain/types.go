package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Group identifies the population an agent belongs to, e.g. "red" or "blue".
type Group string

// AgentID is a stable agent identity. IDs start at 1; the zero value marks
// an empty cell. IDs are sequential integers rather than uuids because the
// conflict resolver keys its deterministic base ordering off them.
type AgentID int

type Pos struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Cell is one grid cell. The zero value is an empty cell.
type Cell struct {
	Agent AgentID `json:"agent,omitempty"`
	Group Group   `json:"group,omitempty"`
}

func (c Cell) Empty() bool {
	return c.Agent == 0
}

type IntentKind string

const (
	IntentStay        IntentKind = "STAY"
	IntentRequestMove IntentKind = "REQUEST_MOVE"
)

// Intent is one agent's answer for one generation. Movers never name a
// destination cell; cell assignment belongs to the resolver.
type Intent struct {
	Agent      AgentID    `json:"agent"`
	Generation int        `json:"generation"`
	Kind       IntentKind `json:"kind"`
}

// Move is a resolved relocation. The resolver guarantees the targets of one
// round are pairwise disjoint.
type Move struct {
	Agent AgentID `json:"agent"`
	From  Pos     `json:"from"`
	To    Pos     `json:"to"`
}

type MessageType string

const (
	// MessageTypeBroadcast carries the round's snapshot to an agent.
	MessageTypeBroadcast MessageType = "BROADCAST"
	// MessageTypeIntent carries an agent's decision back to the coordinator.
	MessageTypeIntent MessageType = "INTENT"
)

// Message is the unit exchanged on the in-proc bus. Bodies stay typed and
// in-memory; nothing here crosses a process boundary.
type Message struct {
	FromActor  string
	ToActor    string
	Type       MessageType
	Generation int
	Snapshot   *Snapshot
	Intent     Intent
}

// Frame is what the simulation publishes after each round: the new snapshot
// plus the aggregate satisfaction measured from the intents that produced it.
type Frame struct {
	Generation     int       `json:"generation"`
	MoveRequests   int       `json:"move_requests"`
	Moved          int       `json:"moved"`
	SatisfiedRatio float64   `json:"satisfied_ratio"`
	Snapshot       *Snapshot `json:"-"`
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusConverged RunStatus = "converged"
	RunStatusMaxRounds RunStatus = "max_rounds"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one simulation execution as recorded in the store.
type Run struct {
	ID             string          `json:"id"`
	Config         json.RawMessage `json:"config"`
	Seed           int64           `json:"seed"`
	Status         RunStatus       `json:"status"`
	LastGeneration int             `json:"last_generation"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// GenerationRecord is one persisted generation of a run.
type GenerationRecord struct {
	RunID          string     `json:"run_id"`
	Generation     int        `json:"generation"`
	MoveRequests   int        `json:"move_requests"`
	Moved          int        `json:"moved"`
	SatisfiedRatio float64    `json:"satisfied_ratio"`
	Cells          [][]string `json:"cells"`
	CreatedAt      time.Time  `json:"created_at"`
}

var (
	// ErrConfiguration marks invalid simulation parameters; surfaced before
	// the run starts.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrInvariantViolation marks an internal consistency failure in the
	// resolver or grid. Always fatal.
	ErrInvariantViolation = errors.New("invariant violation")
)

func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func InvariantError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
