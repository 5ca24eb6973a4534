package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"schelling_sim/internal/agent"
	"schelling_sim/internal/config"
	"schelling_sim/internal/domain"
	"schelling_sim/internal/grid"
	"schelling_sim/internal/messaging/inproc"
	"schelling_sim/internal/resolver"
	"schelling_sim/internal/sim"
	sqlitestore "schelling_sim/internal/store/sqlite"
)

type app struct {
	cfg   config.Config
	store *sqlitestore.Store
	coord *sim.Coordinator
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: built-in configuration)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	widthFlag := flag.Int("width", 0, "grid width override")
	heightFlag := flag.Int("height", 0, "grid height override")
	thresholdFlag := flag.Float64("threshold", -1, "similarity threshold override")
	roundsFlag := flag.Int("rounds", 0, "max rounds override")
	seedFlag := flag.Int64("seed", 0, "random seed override (any value, including 0)")
	boundaryFlag := flag.String("boundary", "", "boundary policy override (exclude|wrap)")
	placementFlag := flag.String("placement", "", "placement mode override (uniform|clustered)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Server.Addr = firstNonEmpty(*addrFlag, cfg.Server.Addr, ":8117")
	cfg.Server.DBPath = firstNonEmpty(*dbPathFlag, cfg.Server.DBPath, "data/schelling.db")
	cfg.Grid.Boundary = firstNonEmpty(*boundaryFlag, cfg.Grid.Boundary, config.BoundaryExclude)
	cfg.Population.Placement = firstNonEmpty(*placementFlag, cfg.Population.Placement, config.PlacementUniform)
	if *widthFlag > 0 {
		cfg.Grid.Width = *widthFlag
	}
	if *heightFlag > 0 {
		cfg.Grid.Height = *heightFlag
	}
	if *thresholdFlag >= 0 {
		cfg.Sim.SimilarityThreshold = *thresholdFlag
	}
	if *roundsFlag > 0 {
		cfg.Sim.MaxRounds = *roundsFlag
	}
	if flagProvided(flag.CommandLine, "seed") {
		// Zero is a valid seed, so presence decides, not the value.
		cfg.Sim.RandomSeed = *seedFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration rejected: %v", err)
	}

	dbPath := filepath.Clean(cfg.Server.DBPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	shares := make([]grid.GroupShare, 0, len(cfg.Population.Densities))
	for _, name := range cfg.Groups() {
		shares = append(shares, grid.GroupShare{
			Group:   domain.Group(name),
			Density: cfg.Population.Densities[name],
		})
	}
	world, err := grid.Place(grid.PlacementConfig{
		Rows:       cfg.Grid.Height,
		Cols:       cfg.Grid.Width,
		Groups:     shares,
		Mode:       grid.PlacementMode(cfg.Population.Placement),
		NoiseScale: cfg.Population.NoiseScale,
		Seed:       cfg.Sim.RandomSeed,
	})
	if err != nil {
		log.Fatalf("place initial population: %v", err)
	}

	runID := uuid.NewString()
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		log.Fatalf("encode config: %v", err)
	}
	if err := store.CreateRun(ctx, domain.Run{
		ID:     runID,
		Config: cfgJSON,
		Seed:   cfg.Sim.RandomSeed,
		Status: domain.RunStatusRunning,
	}); err != nil {
		log.Fatalf("create run: %v", err)
	}

	bus := inproc.New(world.Population() + 64)
	rules := agent.Rules{
		SimilarityThreshold: cfg.Sim.SimilarityThreshold,
		NeighborhoodRadius:  cfg.Grid.NeighborhoodRadius,
		Boundary:            grid.BoundaryPolicy(cfg.Grid.Boundary),
	}
	actors, names := spawnAgents(ctx, world, rules, bus)

	coord := sim.New(runID, world, bus, resolver.New(cfg.Sim.RandomSeed), store, sim.Config{
		MaxRounds:      cfg.Sim.MaxRounds,
		CollectTimeout: time.Duration(cfg.Sim.CollectTimeoutMS) * time.Millisecond,
	}, names, log.Default())

	go func() {
		status, err := coord.Run(ctx)
		if err != nil {
			log.Printf("simulation failed: %v", err)
		}
		finishCtx, finishCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer finishCancel()
		if err := store.FinishRun(finishCtx, runID, status); err != nil {
			log.Printf("finish run: %v", err)
		}
		log.Printf("run %s finished status=%s", runID, status)
	}()

	a := &app{cfg: cfg, store: store, coord: coord}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/snapshot", a.handleSnapshot)
	mux.HandleFunc("/runs", a.handleRuns)
	mux.HandleFunc("/runs/", a.handleRunByID)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf(
		"schelling_sim started addr=%s db=%s run=%s grid=%dx%d population=%d threshold=%.2f seed=%d",
		cfg.Server.Addr,
		dbPath,
		runID,
		cfg.Grid.Width,
		cfg.Grid.Height,
		len(actors),
		cfg.Sim.SimilarityThreshold,
		cfg.Sim.RandomSeed,
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
}

// spawnAgents creates one actor per occupied cell, in agent-ID order.
func spawnAgents(ctx context.Context, world *grid.Grid, rules agent.Rules, bus *inproc.Bus) ([]*agent.Actor, []string) {
	snap := world.Snapshot()
	ids := make([]domain.AgentID, 0, snap.AgentCount())
	for id := range snap.Agents() {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	actors := make([]*agent.Actor, 0, len(ids))
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		pos, _ := snap.PosOf(id)
		a := agent.New(id, snap.At(pos).Group, rules, bus, bus, sim.CoordinatorName, log.Default())
		a.Start(ctx)
		actors = append(actors, a)
		names = append(names, a.Name())
	}
	return actors, names
}

type snapshotPayload struct {
	RunID          string     `json:"run_id"`
	Phase          string     `json:"phase"`
	Generation     int        `json:"generation"`
	MoveRequests   int        `json:"move_requests"`
	Moved          int        `json:"moved"`
	SatisfiedRatio float64    `json:"satisfied_ratio"`
	Rows           int        `json:"rows"`
	Cols           int        `json:"cols"`
	Cells          [][]string `json:"cells"`
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   a.cfg.Path,
		"config": a.cfg,
	})
}

// handleSnapshot serves the most recently published frame. Observers only
// ever read; there is no mutating surface on this server.
func (a *app) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	frame, ok := a.coord.LastFrame()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no generation published yet"))
		return
	}
	writeJSON(w, http.StatusOK, snapshotPayload{
		RunID:          a.coord.RunID(),
		Phase:          string(a.coord.Phase()),
		Generation:     frame.Generation,
		MoveRequests:   frame.MoveRequests,
		Moved:          frame.Moved,
		SatisfiedRatio: frame.SatisfiedRatio,
		Rows:           frame.Snapshot.Rows(),
		Cols:           frame.Snapshot.Cols(),
		Cells:          frame.Snapshot.GroupRows(),
	})
}

func (a *app) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runs, err := a.store.ListRuns(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *app) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	trimmed := strings.TrimPrefix(r.URL.Path, "/runs/")
	parts := strings.Split(trimmed, "/")
	runID := parts[0]
	if runID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("run id is required"))
		return
	}

	if len(parts) == 1 {
		run, err := a.store.GetRun(r.Context(), runID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	switch parts[1] {
	case "generations":
		if len(parts) == 3 {
			generation, err := strconv.Atoi(parts[2])
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid generation: %s", parts[2]))
				return
			}
			rec, err := a.store.GetGeneration(r.Context(), runID, generation)
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeJSON(w, http.StatusOK, rec)
			return
		}
		items, err := a.store.ListGenerations(r.Context(), runID, queryInt(r, "limit", 200))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case "latest":
		rec, err := a.store.LatestGeneration(r.Context(), runID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", parts[1]))
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

// flagProvided reports whether the flag was set on the command line.
func flagProvided(fs *flag.FlagSet, name string) bool {
	provided := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			provided = true
		}
	})
	return provided
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
