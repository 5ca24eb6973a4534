package agent

import (
	"context"
	"log"
	"testing"
	"time"

	"schelling_sim/internal/domain"
	"schelling_sim/internal/grid"
	"schelling_sim/internal/messaging/inproc"
)

func snapshotFromRows(t *testing.T, rows [][]string) *domain.Snapshot {
	t.Helper()
	g, err := grid.NewFromRows(rows)
	if err != nil {
		t.Fatalf("build grid: %v", err)
	}
	return g.Snapshot()
}

func defaultRules(threshold float64) Rules {
	return Rules{
		SimilarityThreshold: threshold,
		NeighborhoodRadius:  1,
		Boundary:            grid.BoundaryExclude,
	}
}

func TestDecideZeroNeighborsIsSatisfied(t *testing.T) {
	// One red agent in the middle of an empty 3x3 grid: no reference
	// neighborhood, so it stays even at a high threshold.
	snap := snapshotFromRows(t, [][]string{
		{"", "", ""},
		{"", "red", ""},
		{"", "", ""},
	})
	a := New(1, "red", defaultRules(0.6), nil, nil, "coordinator", log.Default())
	intent := a.Decide(snap)
	if intent.Kind != domain.IntentStay {
		t.Fatalf("intent = %s, want stay", intent.Kind)
	}
	if intent.Agent != 1 || intent.Generation != 0 {
		t.Fatalf("intent metadata = %+v", intent)
	}
}

func TestDecideBelowThresholdRequestsMove(t *testing.T) {
	snap := snapshotFromRows(t, [][]string{
		{"red", "blue"},
		{"blue", "blue"},
	})
	a := New(1, "red", defaultRules(0.5), nil, nil, "coordinator", log.Default())
	if intent := a.Decide(snap); intent.Kind != domain.IntentRequestMove {
		t.Fatalf("intent = %s, want move request", intent.Kind)
	}
}

func TestDecideAtThresholdStays(t *testing.T) {
	// Exactly one same and one different neighbor: ratio 0.5 meets a 0.5
	// threshold, the rule is >=.
	snap := snapshotFromRows(t, [][]string{
		{"red", "red", "blue"},
	})
	a := New(2, "red", defaultRules(0.5), nil, nil, "coordinator", log.Default())
	if intent := a.Decide(snap); intent.Kind != domain.IntentStay {
		t.Fatalf("intent = %s, want stay", intent.Kind)
	}
}

func TestActorAnswersBroadcastWithOneIntent(t *testing.T) {
	snap := snapshotFromRows(t, [][]string{
		{"red", "blue", ""},
	})
	bus := inproc.New(8)
	intake := bus.Register("coordinator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := New(1, "red", defaultRules(0.6), bus, bus, "coordinator", log.Default())
	a.Start(ctx)

	err := bus.Publish(domain.Message{
		FromActor:  "coordinator",
		ToActor:    a.Name(),
		Type:       domain.MessageTypeBroadcast,
		Generation: snap.Generation(),
		Snapshot:   snap,
	})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case msg := <-intake:
		if msg.Type != domain.MessageTypeIntent {
			t.Fatalf("message type = %s, want intent", msg.Type)
		}
		if msg.Intent.Agent != 1 || msg.Intent.Kind != domain.IntentRequestMove {
			t.Fatalf("intent = %+v, want move request from agent 1", msg.Intent)
		}
		if msg.Generation != snap.Generation() {
			t.Fatalf("intent generation = %d, want %d", msg.Generation, snap.Generation())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no intent received")
	}
}

func TestActorIgnoresNonBroadcastMessages(t *testing.T) {
	bus := inproc.New(8)
	intake := bus.Register("coordinator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := New(1, "red", defaultRules(0.6), bus, bus, "coordinator", log.Default())
	a.Start(ctx)

	if err := bus.Publish(domain.Message{
		FromActor: "coordinator",
		ToActor:   a.Name(),
		Type:      domain.MessageTypeIntent,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-intake:
		t.Fatalf("unexpected reply: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
