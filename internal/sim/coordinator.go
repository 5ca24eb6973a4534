// Package sim drives the simulation through discrete rounds: broadcast the
// current snapshot, gather one intent per agent, resolve relocations, apply
// them, publish the next generation, and decide whether to keep going.
package sim

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"schelling_sim/internal/domain"
	"schelling_sim/internal/grid"
	"schelling_sim/internal/resolver"
)

// CoordinatorName is the coordinator's bus address.
const CoordinatorName = "coordinator"

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseBroadcasting Phase = "broadcasting"
	PhaseCollecting   Phase = "collecting_intents"
	PhaseResolving    Phase = "resolving"
	PhasePublishing   Phase = "publishing"
	PhaseTerminated   Phase = "terminated"
)

type Bus interface {
	Register(actor string) <-chan domain.Message
	Unregister(actor string)
	Publish(msg domain.Message) error
}

type Store interface {
	RecordGeneration(ctx context.Context, runID string, frame domain.Frame) error
}

type Config struct {
	MaxRounds      int
	CollectTimeout time.Duration
}

// Coordinator is the sole writer of the grid state transition. All phases of
// a round run on the Run goroutine; concurrency exists only inside the
// collection window, where agents decide in parallel against the immutable
// snapshot broadcast to all of them.
type Coordinator struct {
	runID string
	grid  *grid.Grid
	bus   Bus
	res   *resolver.Resolver
	store Store // optional
	cfg   Config
	// agents holds the bus names broadcast to each round; it is fixed for
	// the lifetime of a run (relocation, not birth or death).
	agents []string
	logger *log.Logger

	mu        sync.RWMutex
	phase     Phase
	lastFrame *domain.Frame
	subs      []chan domain.Frame
}

func New(runID string, g *grid.Grid, bus Bus, res *resolver.Resolver, store Store, cfg Config, agents []string, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		runID:  runID,
		grid:   g,
		bus:    bus,
		res:    res,
		store:  store,
		cfg:    cfg,
		agents: agents,
		logger: logger,
		phase:  PhaseIdle,
	}
}

func (c *Coordinator) RunID() string { return c.runID }

func (c *Coordinator) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// LastFrame returns the most recently published frame.
func (c *Coordinator) LastFrame() (domain.Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastFrame == nil {
		return domain.Frame{}, false
	}
	return *c.lastFrame, true
}

// Subscribe returns a channel receiving every published frame. Slow
// subscribers lose frames rather than stalling the simulation; the channel
// closes when the run terminates.
func (c *Coordinator) Subscribe(buffer int) <-chan domain.Frame {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.Frame, buffer)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Run executes rounds until convergence, the round limit, or an external
// stop. Cancellation is honored only between phases, never inside a publish,
// so observers can never see a partial generation. The returned status tells
// the caller how the run ended; err is non-nil only for fatal invariant
// failures.
func (c *Coordinator) Run(ctx context.Context) (domain.RunStatus, error) {
	intake := c.bus.Register(CoordinatorName)
	defer c.bus.Unregister(CoordinatorName)
	defer c.closeSubs()
	defer c.setPhase(PhaseTerminated)

	current := c.grid.Snapshot()
	population := c.grid.Population()

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return domain.RunStatusStopped, nil
		}

		c.setPhase(PhaseBroadcasting)
		for _, name := range c.agents {
			err := c.bus.Publish(domain.Message{
				FromActor:  CoordinatorName,
				ToActor:    name,
				Type:       domain.MessageTypeBroadcast,
				Generation: current.Generation(),
				Snapshot:   current,
			})
			if err != nil {
				// The silent agent defaults to Stay at the barrier.
				c.logger.Printf("run %s: broadcast to %s failed: %v", c.runID, name, err)
			}
		}

		c.setPhase(PhaseCollecting)
		intents, stopped := c.collect(ctx, intake, current.Generation())
		if stopped {
			return domain.RunStatusStopped, nil
		}

		moveRequests := 0
		for _, intent := range intents {
			if intent.Kind == domain.IntentRequestMove {
				moveRequests++
			}
		}
		satisfied := 1.0
		if population > 0 {
			satisfied = float64(population-moveRequests) / float64(population)
		}
		if round == 1 {
			// The initial placement, rated by the first round's decisions.
			c.record(ctx, domain.Frame{
				Generation:     current.Generation(),
				MoveRequests:   moveRequests,
				SatisfiedRatio: satisfied,
				Snapshot:       current,
			})
		}

		c.setPhase(PhaseResolving)
		moves, err := c.res.Resolve(current, intents)
		if err != nil {
			return domain.RunStatusFailed, c.fatal(current.Generation(), err)
		}

		c.setPhase(PhasePublishing)
		next, err := c.grid.Apply(moves)
		if err != nil {
			return domain.RunStatusFailed, c.fatal(current.Generation(), err)
		}

		frame := domain.Frame{
			Generation:     next.Generation(),
			MoveRequests:   moveRequests,
			Moved:          len(moves),
			SatisfiedRatio: satisfied,
			Snapshot:       next,
		}
		c.record(ctx, frame)
		c.publish(frame)
		current = next

		// Termination is judged on the intents already collected, not by
		// rescanning the new snapshot.
		if moveRequests == 0 {
			c.logger.Printf("run %s: converged at generation %d, no agent wants to move", c.runID, next.Generation())
			return domain.RunStatusConverged, nil
		}
		if next.Generation() >= c.cfg.MaxRounds {
			c.logger.Printf("run %s: round limit %d reached", c.runID, c.cfg.MaxRounds)
			return domain.RunStatusMaxRounds, nil
		}
	}
}

// collect is the round's synchronization barrier: it waits for one intent
// per live agent, bounded by the collection window. Agents that miss the
// window are treated as Stay so a stuck actor cannot wedge the run.
func (c *Coordinator) collect(ctx context.Context, intake <-chan domain.Message, generation int) ([]domain.Intent, bool) {
	want := len(c.agents)
	got := make(map[domain.AgentID]domain.Intent, want)
	timer := time.NewTimer(c.cfg.CollectTimeout)
	defer timer.Stop()

	for len(got) < want {
		select {
		case <-ctx.Done():
			return nil, true
		case <-timer.C:
			c.logger.Printf("run %s: collection window closed with %d of %d intents for generation %d, missing agents default to stay",
				c.runID, len(got), want, generation)
			want = len(got)
		case msg, ok := <-intake:
			if !ok {
				return nil, true
			}
			if msg.Type != domain.MessageTypeIntent {
				continue
			}
			if msg.Generation != generation {
				// Late reply from a previous round's timed-out agent.
				continue
			}
			if _, dup := got[msg.Intent.Agent]; dup {
				continue
			}
			got[msg.Intent.Agent] = msg.Intent
		}
	}

	intents := make([]domain.Intent, 0, len(got))
	for _, intent := range got {
		intents = append(intents, intent)
	}
	return intents, false
}

func (c *Coordinator) record(ctx context.Context, frame domain.Frame) {
	if c.store == nil {
		return
	}
	if err := c.store.RecordGeneration(ctx, c.runID, frame); err != nil {
		// History is an observer-side concern; the run itself stays healthy.
		c.logger.Printf("run %s: record generation %d failed: %v", c.runID, frame.Generation, err)
	}
}

func (c *Coordinator) publish(frame domain.Frame) {
	c.mu.Lock()
	c.lastFrame = &frame
	subs := make([]chan domain.Frame, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (c *Coordinator) closeSubs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Coordinator) fatal(lastPublished int, err error) error {
	return fmt.Errorf("run %s aborted, last published generation %d: %w", c.runID, lastPublished, err)
}
