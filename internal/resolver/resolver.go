// Package resolver assigns destination cells among competing relocation
// requests. It owns the simulation's only random generator; given the same
// seed and the same inputs it always produces the same moves.
package resolver

import (
	"math/rand"
	"sort"

	"schelling_sim/internal/domain"
)

type Resolver struct {
	rng *rand.Rand
}

func New(seed int64) *Resolver {
	return &Resolver{rng: rand.New(rand.NewSource(seed))}
}

// Resolve turns the round's intents into a conflict-free move list. Movers
// are put into a seeded random order and each pops one still-available empty
// cell; first in resolution order wins. Movers left without a cell degrade
// to Stay by simply not appearing in the output. The returned targets are
// pairwise disjoint and were all empty in snap.
func (r *Resolver) Resolve(snap *domain.Snapshot, intents []domain.Intent) ([]domain.Move, error) {
	movers := make([]domain.AgentID, 0, len(intents))
	for _, intent := range intents {
		if intent.Kind == domain.IntentRequestMove {
			movers = append(movers, intent.Agent)
		}
	}
	// Sort first: the incoming intent order depends on goroutine timing,
	// the shuffle below must start from a reproducible base.
	sort.Slice(movers, func(i, j int) bool { return movers[i] < movers[j] })
	r.rng.Shuffle(len(movers), func(i, j int) {
		movers[i], movers[j] = movers[j], movers[i]
	})

	empty := snap.EmptyCells()
	r.rng.Shuffle(len(empty), func(i, j int) {
		empty[i], empty[j] = empty[j], empty[i]
	})

	n := len(movers)
	if len(empty) < n {
		n = len(empty)
	}
	moves := make([]domain.Move, 0, n)
	for i := 0; i < n; i++ {
		from, ok := snap.PosOf(movers[i])
		if !ok {
			return nil, domain.InvariantError("intent from agent %d not present in snapshot", movers[i])
		}
		moves = append(moves, domain.Move{Agent: movers[i], From: from, To: empty[i]})
	}
	return moves, nil
}
