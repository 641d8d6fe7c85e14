// Package systemd reports unit health from the local systemd manager:
// every failed unit plus the state of an explicit watch list.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"agentmon/internal/monitor"
)

const Name = "systemd"

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

type Config struct {
	Enabled bool
	// Units to watch. A bare name gets ".service" appended; glob patterns are allowed.
	Units []string
}

// UnitState is the subset of unit properties the report uses.
type UnitState struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
	StateChange time.Time
}

// conn is the manager connection. *dbus.Conn is wrapped by dbusConn on linux.
type conn interface {
	ListUnits(ctx context.Context, patterns []string) ([]UnitState, error)
	ListFailed(ctx context.Context) ([]UnitState, error)
	StateChange(ctx context.Context, unit string) (time.Time, error)
	Close()
}

type Source struct {
	cfg  Config
	dial func(ctx context.Context) (conn, error)
	loc  *time.Location
}

func New(cfg Config, loc *time.Location) *Source {
	if loc == nil {
		loc = time.UTC
	}
	return &Source{cfg: cfg, dial: dialSystem, loc: loc}
}

func (s *Source) Name() string { return Name }

func (s *Source) Configured() bool { return s.cfg.Enabled }

// Fetch ignores lookback: unit state is a point-in-time view.
func (s *Source) Fetch(ctx context.Context, _ time.Duration) (monitor.SourceRecord, error) {
	c, err := s.dial(ctx)
	if err != nil {
		return monitor.SourceRecord{}, fmt.Errorf("connect to systemd: %w", err)
	}
	defer c.Close()

	failed, err := c.ListFailed(ctx)
	if err != nil {
		return monitor.SourceRecord{}, fmt.Errorf("list failed units: %w", err)
	}

	patterns := normalizeUnits(s.cfg.Units)
	var watched []UnitState
	if len(patterns) > 0 {
		watched, err = c.ListUnits(ctx, patterns)
		if err != nil {
			return monitor.SourceRecord{}, fmt.Errorf("list watched units: %w", err)
		}
		watched = addMissing(watched, patterns)
	}

	// Down-since timestamps are only worth a property query for units that are not up.
	for _, list := range [][]UnitState{failed, watched} {
		for i := range list {
			if isDown(list[i]) && list[i].LoadState != "not-found" {
				if ts, err := c.StateChange(ctx, list[i].Name); err == nil {
					list[i].StateChange = ts
				}
			}
		}
	}

	return monitor.SourceRecord{
		SourceName: Name,
		Summary:    summarize(failed, watched),
		RawText:    s.render(failed, watched),
	}, nil
}

func normalizeUnits(units []string) []string {
	out := make([]string, 0, len(units))
	seen := map[string]bool{}
	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !strings.Contains(u, ".") && !isPattern(u) {
			u += ".service"
		}
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

func isPattern(s string) bool { return strings.ContainsAny(s, "*?[") }

// addMissing appends a not-found entry for every literal name the manager did not return.
func addMissing(units []UnitState, patterns []string) []UnitState {
	have := make(map[string]bool, len(units))
	for _, u := range units {
		have[u.Name] = true
	}
	for _, p := range patterns {
		if !isPattern(p) && !have[p] {
			units = append(units, UnitState{Name: p, LoadState: "not-found", ActiveState: "unknown", SubState: "not-found"})
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	return units
}

func isDown(u UnitState) bool { return u.ActiveState != "active" && u.ActiveState != "reloading" }

func summarize(failed, watched []UnitState) string {
	set := map[string]bool{}
	for _, u := range failed {
		set[u.Name] = true
	}
	for _, u := range watched {
		if isDown(u) {
			set[u.Name] = true
		}
	}
	if len(set) == 0 {
		if len(watched) > 0 {
			return fmt.Sprintf("All units active (%d watched)", len(watched))
		}
		return "No failed units"
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return "Units not active: " + strings.Join(names, ", ")
}

func (s *Source) render(failed, watched []UnitState) string {
	var b strings.Builder
	if len(watched) > 0 {
		b.WriteString("Watched units:\n")
		for _, u := range watched {
			s.writeUnit(&b, u)
		}
		b.WriteString("\n")
	}
	if len(failed) == 0 {
		b.WriteString("Failed units: none")
		return b.String()
	}
	b.WriteString("Failed units:\n")
	for _, u := range failed {
		s.writeUnit(&b, u)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Source) writeUnit(b *strings.Builder, u UnitState) {
	fmt.Fprintf(b, "  %s: %s/%s", u.Name, u.ActiveState, u.SubState)
	if isDown(u) && !u.StateChange.IsZero() {
		fmt.Fprintf(b, " since %s", u.StateChange.In(s.loc).Format("2006-01-02 15:04:05 MST"))
	}
	if u.Description != "" {
		fmt.Fprintf(b, " (%s)", u.Description)
	}
	b.WriteString("\n")
}
