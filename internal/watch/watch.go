// Package watch renders a polling terminal dashboard over the admin
// complaint overview. Every refresh rebuilds the view from scratch so a
// replayed snapshot produces identical output.
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	civicdesksdk "civicdesk/sdk/go"
)

const defaultInterval = 30 * time.Second

// Source supplies the complaint overview. *civicdesksdk.Client satisfies it.
type Source interface {
	Complaints(ctx context.Context, department string) (civicdesksdk.Overview, error)
}

// Marker is a map pin: a complaint that carries coordinates.
type Marker struct {
	ID      string
	Lat     float64
	Lng     float64
	Address string
	Status  string
}

// ViewState is the complete dashboard state. Refresh replaces it whole;
// nothing is patched in place.
type ViewState struct {
	Department string
	Items      []civicdesksdk.Complaint
	Recent     []civicdesksdk.Complaint
	ByPriority map[string][]civicdesksdk.Complaint
	Markers    []Marker
	AnyOverdue bool
	FetchedAt  time.Time
}

type Watcher struct {
	Source     Source
	Department string
	Interval   time.Duration
	Out        io.Writer
	Now        func() time.Time

	mu       sync.Mutex
	state    ViewState
	inFlight atomic.Bool
}

func New(src Source, department string) *Watcher {
	return &Watcher{
		Source:     src,
		Department: department,
		Interval:   defaultInterval,
		Out:        os.Stdout,
		Now:        time.Now,
	}
}

// State returns the last rendered view.
func (w *Watcher) State() ViewState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Refresh fetches the overview, rebuilds the whole ViewState and renders
// it. The previous state is discarded, never merged.
func (w *Watcher) Refresh(ctx context.Context) error {
	ov, err := w.Source.Complaints(ctx, w.Department)
	if err != nil {
		return err
	}
	state := buildViewState(ov, w.Department, w.Now())
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
	w.render(state)
	return nil
}

// Run refreshes immediately and then on every tick. A tick that arrives
// while a refresh is still running is skipped, not queued.
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if w.inFlight.CompareAndSwap(false, true) {
			if err := w.Refresh(ctx); err != nil {
				fmt.Fprintf(w.Out, "refresh failed: %v\n", err)
			}
			w.inFlight.Store(false)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func buildViewState(ov civicdesksdk.Overview, department string, now time.Time) ViewState {
	state := ViewState{
		Department: department,
		Items:      ov.Items,
		Recent:     ov.Recent,
		ByPriority: map[string][]civicdesksdk.Complaint{},
		AnyOverdue: ov.AnyOverdue,
		FetchedAt:  now,
	}
	for p, items := range ov.ByPriority {
		state.ByPriority[p] = items
	}
	for _, c := range ov.Items {
		if c.Lat == nil || c.Lng == nil {
			continue
		}
		state.Markers = append(state.Markers, Marker{
			ID:      c.ID,
			Lat:     *c.Lat,
			Lng:     *c.Lng,
			Address: c.Address,
			Status:  c.Status,
		})
	}
	return state
}

func (w *Watcher) render(state ViewState) {
	scope := "all departments"
	if state.Department != "" {
		scope = state.Department
	}
	fmt.Fprintf(w.Out, "CivicDesk — %d complaints (%s)\n", len(state.Items), scope)
	if state.AnyOverdue {
		fmt.Fprintln(w.Out, "!! overdue complaints present")
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w.Out)
	tw.AppendHeader(table.Row{"ID", "Status", "Priority", "Department", "Age", "Overdue", "Description"})
	for _, c := range state.Items {
		tw.AppendRow(table.Row{
			shortID(c.ID), c.Status, c.Priority, c.Department,
			c.TimePassed, overdueMark(c.IsOverdue), clip(c.Description, 48),
		})
	}
	tw.Render()

	for _, priority := range priorityOrder(state.ByPriority) {
		items := state.ByPriority[priority]
		fmt.Fprintf(w.Out, "%s: %d", priority, len(items))
		fmt.Fprintln(w.Out)
	}
	if len(state.Recent) > 0 {
		fmt.Fprintln(w.Out, "Recent:")
		for _, c := range state.Recent {
			fmt.Fprintf(w.Out, "  %s %s — %s (%s ago)\n", shortID(c.ID), c.Status, clip(c.Description, 48), c.TimePassed)
		}
	}
	fmt.Fprintf(w.Out, "%d mapped locations\n\n", len(state.Markers))
}

// priorityOrder keeps rendering deterministic: known priorities first in
// severity order, anything else alphabetically after.
func priorityOrder(groups map[string][]civicdesksdk.Complaint) []string {
	known := []string{"High", "Medium", "Low"}
	var out []string
	seen := map[string]bool{}
	for _, p := range known {
		if _, ok := groups[p]; ok {
			out = append(out, p)
			seen[p] = true
		}
	}
	var rest []string
	for p := range groups {
		if !seen[p] {
			rest = append(rest, p)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func overdueMark(overdue bool) string {
	if overdue {
		return "yes"
	}
	return ""
}

func clip(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
