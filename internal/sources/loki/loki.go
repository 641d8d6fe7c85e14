// Package loki collects recent error and warning log lines from Grafana Loki.
package loki

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"agentmon/internal/monitor"
	"agentmon/internal/sources"
	"agentmon/pkg/tgui"
)

const (
	Name = "loki"

	DefaultLimit        = 50
	DefaultMaxLineChars = 500

	queryRangePath = "/loki/api/v1/query_range"
	noEntries      = "No log entries found."
)

// BuiltinQueries match error and warning levels on both the shipped "level"
// label and Loki's detected_level.
var BuiltinQueries = []string{
	`{level=~"error|ERROR|fatal|FATAL"}`,
	`{level=~"warning|WARNING"}`,
	`{detected_level=~"error|ERROR|fatal|FATAL"}`,
	`{detected_level=~"warning|WARNING"}`,
}

type Config struct {
	Enabled      bool
	URL          string
	ExtraQueries []string
	Limit        int
	MaxLineChars int
	Timeout      time.Duration
}

type Source struct {
	cfg    Config
	client *sources.Client
	now    func() time.Time
}

func New(cfg Config) *Source {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.MaxLineChars <= 0 {
		cfg.MaxLineChars = DefaultMaxLineChars
	}
	return &Source{cfg: cfg, client: sources.NewClient(cfg.URL, cfg.Timeout), now: time.Now}
}

func (s *Source) Name() string { return Name }

func (s *Source) Configured() bool { return s.cfg.Enabled && strings.TrimSpace(s.cfg.URL) != "" }

func (s *Source) queries() []string {
	return append(append([]string(nil), BuiltinQueries...), s.cfg.ExtraQueries...)
}

// Fetch runs every query over the lookback window. A failing query is
// reported inline and the rest still run; if all of them fail, Fetch fails.
func (s *Source) Fetch(ctx context.Context, lookback time.Duration) (monitor.SourceRecord, error) {
	end := s.now()
	start := end.Add(-lookback)

	var (
		sections []string
		errs     []error
		errCount int
		warnings int
	)
	queries := s.queries()
	for _, q := range queries {
		lines, err := s.queryRange(ctx, q, start, end)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", q, err))
			sections = append(sections, "Query: "+q+"\nError fetching: "+err.Error())
			continue
		}
		if len(lines) == 0 {
			continue
		}
		lq := strings.ToLower(q)
		switch {
		case strings.Contains(lq, "error") || strings.Contains(lq, "fatal"):
			errCount += len(lines)
		case strings.Contains(lq, "warn"):
			warnings += len(lines)
		}
		sections = append(sections, "Query: "+q+"\n"+strings.Join(lines, "\n"))
	}
	if len(queries) > 0 && len(errs) == len(queries) {
		return monitor.SourceRecord{}, fmt.Errorf("all %d queries failed: %w", len(queries), errors.Join(errs...))
	}

	raw := noEntries
	if len(sections) > 0 {
		raw = strings.Join(sections, "\n\n")
	}
	return monitor.SourceRecord{
		SourceName: Name,
		Summary:    fmt.Sprintf("Errors: %d, Warnings: %d", errCount, warnings),
		RawText:    raw,
	}, nil
}

type queryRangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

func (s *Source) queryRange(ctx context.Context, q string, start, end time.Time) ([]string, error) {
	params := url.Values{
		"query":     {q},
		"start":     {strconv.FormatInt(start.UnixNano(), 10)},
		"end":       {strconv.FormatInt(end.UnixNano(), 10)},
		"limit":     {strconv.Itoa(s.cfg.Limit)},
		"direction": {"backward"},
	}
	var resp queryRangeResponse
	if err := s.client.GetJSON(ctx, queryRangePath, params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, fmt.Errorf("loki status %q", resp.Status)
	}

	lines := make([]string, 0, s.cfg.Limit)
	for _, stream := range resp.Data.Result {
		prefix := formatLabels(stream.Stream)
		for _, v := range stream.Values {
			if len(lines) >= s.cfg.Limit {
				return lines, nil
			}
			lines = append(lines, prefix+tgui.TruncRunes(v[1], s.cfg.MaxLineChars))
		}
	}
	return lines, nil
}

// formatLabels renders a stream label set as "[k=v, k=v] " with sorted keys.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return "[" + strings.Join(parts, ", ") + "] "
}
