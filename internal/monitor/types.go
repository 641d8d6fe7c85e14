// Package monitor runs the monitoring cycle: collect from every source,
// condense the results into one report, keep it as the latest report and
// push it to every exporter.
package monitor

import (
	"context"
	"time"
)

// SourceRecord is one source's contribution to a tick.
// A failed fetch is still a record: Summary starts with "Error: " and RawText is empty.
type SourceRecord struct {
	SourceName string
	Summary    string
	RawText    string
}

// Failed reports whether the record was synthesized from a fetch error.
func (r SourceRecord) Failed() bool { return len(r.Summary) >= 7 && r.Summary[:7] == "Error: " }

// Report is the outcome of one successful tick.
type Report struct {
	Text        string
	GeneratedAt time.Time
	// Fallback is true when the analyzer was skipped or failed.
	Fallback bool
	Sources  []SourceStatus
}

type SourceStatus struct {
	Name   string `json:"name"`
	Failed bool   `json:"failed"`
}

// Source collects observations for a lookback window.
type Source interface {
	Name() string
	Configured() bool
	Fetch(ctx context.Context, lookback time.Duration) (SourceRecord, error)
}

// Analyzer turns the budgeted payload into a human-readable report.
type Analyzer interface {
	Configured() bool
	Analyze(ctx context.Context, payload string) (string, error)
}

// Exporter delivers a finished report somewhere.
type Exporter interface {
	Name() string
	Configured() bool
	Export(ctx context.Context, report Report) error
}

// Schedule yields the next activation after a given time.
// robfig/cron schedules satisfy it.
type Schedule interface {
	Next(time.Time) time.Time
}

// TriggerStatus is the answer to a manual trigger request.
type TriggerStatus string

const (
	TriggerStarted        TriggerStatus = "started"
	TriggerAlreadyRunning TriggerStatus = "already_running"
)

// Event types published on the bus.
const (
	EventTickStarted      = "monitor.tick.started"
	EventTickCompleted    = "monitor.tick.completed"
	EventTickFailed       = "monitor.tick.failed"
	EventSourceFailed     = "monitor.source.failed"
	EventAnalyzerFallback = "monitor.analyzer.fallback"
	EventExportFailed     = "monitor.export.failed"
)
