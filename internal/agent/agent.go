// Package agent implements the per-cell actor: a goroutine that receives the
// round's snapshot, judges its neighborhood, and answers with exactly one
// relocation intent.
package agent

import (
	"context"
	"fmt"
	"log"

	"schelling_sim/internal/domain"
	"schelling_sim/internal/grid"
)

type MessageQueue interface {
	Register(actor string) <-chan domain.Message
	Unregister(actor string)
}

type Publisher interface {
	Publish(msg domain.Message) error
}

// Rules carries the decision parameters every agent shares.
type Rules struct {
	SimilarityThreshold float64
	NeighborhoodRadius  int
	Boundary            grid.BoundaryPolicy
}

// Actor is one grid occupant. It holds no position of its own: the position
// is read from each published snapshot, so the grid stays the single source
// of truth and the actor never races the resolver.
type Actor struct {
	id          domain.AgentID
	name        string
	group       domain.Group
	rules       Rules
	queue       MessageQueue
	publisher   Publisher
	coordinator string
	logger      *log.Logger
}

// Name returns the bus address for an agent ID.
func Name(id domain.AgentID) string {
	return fmt.Sprintf("agent-%d", id)
}

func New(id domain.AgentID, group domain.Group, rules Rules, queue MessageQueue, publisher Publisher, coordinator string, logger *log.Logger) *Actor {
	if logger == nil {
		logger = log.Default()
	}
	return &Actor{
		id:          id,
		name:        Name(id),
		group:       group,
		rules:       rules,
		queue:       queue,
		publisher:   publisher,
		coordinator: coordinator,
		logger:      logger,
	}
}

func (a *Actor) ID() domain.AgentID { return a.id }
func (a *Actor) Name() string       { return a.name }
func (a *Actor) Group() domain.Group {
	return a.group
}

// Start registers the actor on the bus and runs its receive loop until the
// context is canceled or the queue is closed.
func (a *Actor) Start(ctx context.Context) {
	ch := a.queue.Register(a.name)
	go func() {
		defer a.queue.Unregister(a.name)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				a.handleMessage(msg)
			}
		}
	}()
}

func (a *Actor) handleMessage(msg domain.Message) {
	if msg.Type != domain.MessageTypeBroadcast || msg.Snapshot == nil {
		return
	}
	intent := a.Decide(msg.Snapshot)
	err := a.publisher.Publish(domain.Message{
		FromActor:  a.name,
		ToActor:    a.coordinator,
		Type:       domain.MessageTypeIntent,
		Generation: msg.Generation,
		Intent:     intent,
	})
	if err != nil {
		// The coordinator treats the missing intent as Stay.
		a.logger.Printf("agent %d failed to publish intent: %v", a.id, err)
	}
}

// Decide evaluates the satisfaction rule against one snapshot. An agent with
// zero occupied neighbors is satisfied: there is no reference neighborhood
// to be unhappy about, and moving would only churn sparse regions.
func (a *Actor) Decide(snap *domain.Snapshot) domain.Intent {
	intent := domain.Intent{
		Agent:      a.id,
		Generation: snap.Generation(),
		Kind:       domain.IntentStay,
	}
	pos, ok := snap.PosOf(a.id)
	if !ok {
		a.logger.Printf("agent %d missing from snapshot generation %d", a.id, snap.Generation())
		return intent
	}
	counts := grid.CountNeighbors(snap, pos, a.group, a.rules.NeighborhoodRadius, a.rules.Boundary)
	total := counts.Same + counts.Different
	if total == 0 {
		return intent
	}
	if float64(counts.Same)/float64(total) < a.rules.SimilarityThreshold {
		intent.Kind = domain.IntentRequestMove
	}
	return intent
}
