package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"schelling_sim/internal/domain"
)

// The monitor is a read-only observer: it polls the simulator's HTTP surface
// and renders published frames. It has no way to mutate simulation state.

type client struct {
	baseURL string
	http    *http.Client
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

type embeddedSimulator struct {
	cmd *exec.Cmd
}

func main() {
	addr := flag.String("addr", "http://localhost:8117", "simulator base URL")
	interval := flag.Duration("interval", time.Second, "refresh interval")
	embedded := flag.Bool("embedded", false, "start the simulator in this process lifecycle")
	simBinary := flag.String("simulator-bin", "", "path to simulator binary (embedded mode)")
	dbPath := flag.String("db", "data/schelling.db", "sqlite db path for the embedded simulator")
	cfgPath := flag.String("config", "", "config path for the embedded simulator")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if *embedded {
		proc, err := startEmbeddedSimulator(*addr, *simBinary, *dbPath, *cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded simulator: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "simulator health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()

	gridView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	gridView.SetTitle("Grid").SetBorder(true)

	statsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statsView.SetTitle("Current Run").SetBorder(true)

	runsTable := tview.NewTable().
		SetBorders(false)
	runsTable.SetTitle("Runs (F5 refresh, F10 quit)").SetBorder(true)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf("Connected to %s | embedded=%t | refresh every %s", c.baseURL, *embedded, *interval))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(statsView, 9, 0, false).
		AddItem(runsTable, 0, 1, false)
	mainLayout := tview.NewFlex().
		AddItem(gridView, 0, 2, false).
		AddItem(right, 0, 1, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 1, false).
		AddItem(statusView, 3, 0, false)

	refresh := func() {
		snap, snapErr := c.getSnapshot()
		runs, runsErr := c.listRuns()
		app.QueueUpdateDraw(func() {
			if snapErr != nil {
				gridView.SetText(fmt.Sprintf("no snapshot yet: %v", snapErr))
				statsView.SetText("")
			} else {
				gridView.SetText(renderGrid(snap.Cells))
				statsView.SetText(renderStats(snap))
			}
			if runsErr != nil {
				runsTable.Clear()
				runsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", runsErr)))
			} else {
				renderRunsTable(runsTable, runs)
			}
		})
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refresh()
			return nil
		}
		return event
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		refresh()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()

	if err := app.SetRoot(root, true).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func startEmbeddedSimulator(addr, binary, dbPath, cfgPath string) (*embeddedSimulator, error) {
	if strings.TrimSpace(binary) == "" {
		binary = "simulator"
	}
	listen, err := listenAddr(addr)
	if err != nil {
		return nil, err
	}
	args := []string{"-addr", listen, "-db", dbPath}
	if strings.TrimSpace(cfgPath) != "" {
		args = append(args, "-config", cfgPath)
	}
	cmd := exec.Command(binary, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}
	return &embeddedSimulator{cmd: cmd}, nil
}

func (e *embeddedSimulator) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func listenAddr(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse simulator address: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return "", fmt.Errorf("simulator address %q has no port", baseURL)
	}
	return ":" + port, nil
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if lastErr = c.getJSON("/healthz", &struct{}{}); lastErr == nil {
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return lastErr
}

func (c *client) getSnapshot() (snapshotPayload, error) {
	var snap snapshotPayload
	err := c.getJSON("/snapshot", &snap)
	return snap, err
}

func (c *client) listRuns() ([]domain.Run, error) {
	var runs []domain.Run
	err := c.getJSON("/runs?limit=20", &runs)
	return runs, err
}

func (c *client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

// tview color tags per group. Groups named after colors render as themselves;
// anything else gets a stable palette color.
var palette = []string{"red", "blue", "green", "yellow", "fuchsia", "aqua", "orange"}

var knownColors = map[string]bool{
	"red": true, "blue": true, "green": true, "yellow": true,
	"fuchsia": true, "aqua": true, "orange": true, "white": true,
}

func colorMap(cells [][]string) map[string]string {
	groups := make(map[string]bool)
	for _, row := range cells {
		for _, cell := range row {
			if cell != "" {
				groups[cell] = true
			}
		}
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	// Palette entries claimed by a group literally named after them are off
	// limits for the others, so two groups never render the same.
	claimed := make(map[string]bool)
	for _, name := range names {
		if knownColors[name] {
			claimed[name] = true
		}
	}
	free := make([]string, 0, len(palette))
	for _, p := range palette {
		if !claimed[p] {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		free = palette
	}

	colors := make(map[string]string, len(names))
	next := 0
	for _, name := range names {
		if knownColors[name] {
			colors[name] = name
			continue
		}
		colors[name] = free[next%len(free)]
		next++
	}
	return colors
}

func renderGrid(cells [][]string) string {
	colors := colorMap(cells)
	var b strings.Builder
	for _, row := range cells {
		for _, cell := range row {
			if cell == "" {
				b.WriteString("[#3a3a3a]·")
				continue
			}
			fmt.Fprintf(&b, "[%s]█", colors[cell])
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderStats(snap snapshotPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run        %s\n", snap.RunID)
	fmt.Fprintf(&b, "phase      %s\n", snap.Phase)
	fmt.Fprintf(&b, "generation %d\n", snap.Generation)
	fmt.Fprintf(&b, "grid       %dx%d\n", snap.Cols, snap.Rows)
	fmt.Fprintf(&b, "satisfied  %.1f%%\n", snap.SatisfiedRatio*100)
	fmt.Fprintf(&b, "requests   %d\n", snap.MoveRequests)
	fmt.Fprintf(&b, "moved      %d\n", snap.Moved)
	return b.String()
}

func renderRunsTable(table *tview.Table, runs []domain.Run) {
	table.Clear()
	headers := []string{"ID", "STATUS", "GEN", "SEED", "STARTED"}
	for col, h := range headers {
		table.SetCell(0, col, tview.NewTableCell("[::b]"+h).SetSelectable(false))
	}
	for i, run := range runs {
		id := run.ID
		if len(id) > 8 {
			id = id[:8]
		}
		table.SetCell(i+1, 0, tview.NewTableCell(id))
		table.SetCell(i+1, 1, tview.NewTableCell(string(run.Status)))
		table.SetCell(i+1, 2, tview.NewTableCell(fmt.Sprintf("%d", run.LastGeneration)))
		table.SetCell(i+1, 3, tview.NewTableCell(fmt.Sprintf("%d", run.Seed)))
		table.SetCell(i+1, 4, tview.NewTableCell(run.StartedAt.Format("15:04:05")))
	}
}
