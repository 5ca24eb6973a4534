package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"

	"schelling_sim/internal/domain"
	"schelling_sim/internal/grid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func testFrame(t *testing.T, generation int, rows [][]string) domain.Frame {
	t.Helper()
	g, err := grid.NewFromRows(rows)
	if err != nil {
		t.Fatalf("build grid: %v", err)
	}
	return domain.Frame{
		Generation:     generation,
		MoveRequests:   2,
		Moved:          1,
		SatisfiedRatio: 0.5,
		Snapshot:       g.Snapshot(),
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := domain.Run{
		ID:     "run-1",
		Config: json.RawMessage(`{"seed":7}`),
		Seed:   7,
		Status: domain.RunStatusRunning,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.ID != "run-1" || got.Seed != 7 || got.Status != domain.RunStatusRunning {
		t.Fatalf("run round-trip mismatch: %+v", got)
	}
	if got.FinishedAt != nil {
		t.Fatalf("fresh run already finished: %+v", got.FinishedAt)
	}
	if got.StartedAt.IsZero() {
		t.Fatalf("started_at not defaulted")
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}

func TestRecordGenerationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, domain.Run{ID: "run-1", Seed: 1}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	layout := [][]string{
		{"red", "", "blue"},
		{"", "blue", ""},
	}
	if err := s.RecordGeneration(ctx, "run-1", testFrame(t, 3, layout)); err != nil {
		t.Fatalf("record generation: %v", err)
	}

	rec, err := s.GetGeneration(ctx, "run-1", 3)
	if err != nil {
		t.Fatalf("get generation: %v", err)
	}
	if rec.RunID != "run-1" || rec.Generation != 3 {
		t.Fatalf("record keys = %+v", rec)
	}
	if rec.MoveRequests != 2 || rec.Moved != 1 || rec.SatisfiedRatio != 0.5 {
		t.Fatalf("record stats = %+v", rec)
	}
	if !reflect.DeepEqual(rec.Cells, layout) {
		t.Fatalf("cells round-trip mismatch:\n%v\n%v", rec.Cells, layout)
	}

	run, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.LastGeneration != 3 {
		t.Fatalf("last_generation = %d, want 3", run.LastGeneration)
	}
}

func TestRecordGenerationRejectsNilSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, domain.Run{ID: "run-1"}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.RecordGeneration(ctx, "run-1", domain.Frame{Generation: 1}); err == nil {
		t.Fatalf("expected error for frame without snapshot")
	}
}

func TestLatestAndListGenerations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, domain.Run{ID: "run-1"}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	layout := [][]string{{"red", ""}}
	for gen := 0; gen <= 4; gen++ {
		if err := s.RecordGeneration(ctx, "run-1", testFrame(t, gen, layout)); err != nil {
			t.Fatalf("record generation %d: %v", gen, err)
		}
	}

	latest, err := s.LatestGeneration(ctx, "run-1")
	if err != nil {
		t.Fatalf("latest generation: %v", err)
	}
	if latest.Generation != 4 {
		t.Fatalf("latest = %d, want 4", latest.Generation)
	}

	recs, err := s.ListGenerations(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("list generations: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("listed %d generations, want 5", len(recs))
	}
	for i, rec := range recs {
		if rec.Generation != i {
			t.Fatalf("generations out of order: %d at index %d", rec.Generation, i)
		}
	}
}

func TestFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, domain.Run{ID: "run-1"}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := s.FinishRun(ctx, "run-1", domain.RunStatusConverged); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	run, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.RunStatusConverged {
		t.Fatalf("status = %s, want converged", run.Status)
	}
	if run.FinishedAt == nil {
		t.Fatalf("finished_at not set")
	}

	if err := s.FinishRun(ctx, "missing", domain.RunStatusFailed); err == nil {
		t.Fatalf("expected error finishing unknown run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreateRun(ctx, domain.Run{ID: id}); err != nil {
			t.Fatalf("create run %s: %v", id, err)
		}
	}
	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("listed %d runs, want 2", len(runs))
	}
}
