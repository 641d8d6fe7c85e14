// Package prometheus collects service health and traffic metrics with
// instant PromQL queries.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"agentmon/internal/monitor"
	"agentmon/internal/sources"
)

const (
	Name = "prometheus"

	queryPath = "/api/v1/query"
	upLabel   = "Service Up"
)

var BuiltinQueries = []sources.Query{
	{Label: upLabel, Expr: "up"},
	{Label: "Request Rate (5m)", Expr: "sum(rate(http_requests_total[5m])) by (job)"},
	{Label: "Error Rate 5xx (5m)", Expr: `sum(rate(http_requests_total{status=~"5.."}[5m])) by (job)`},
	{Label: "P95 Latency", Expr: "histogram_quantile(0.95, sum(rate(http_request_duration_seconds_bucket[5m])) by (le, job))"},
	{Label: "P99 Latency", Expr: "histogram_quantile(0.99, sum(rate(http_request_duration_seconds_bucket[5m])) by (le, job))"},
}

type Config struct {
	Enabled      bool
	URL          string
	ExtraQueries []string
	Timeout      time.Duration
}

type Source struct {
	cfg    Config
	client *sources.Client
	now    func() time.Time
}

func New(cfg Config) *Source {
	return &Source{cfg: cfg, client: sources.NewClient(cfg.URL, cfg.Timeout), now: time.Now}
}

func (s *Source) Name() string { return Name }

func (s *Source) Configured() bool { return s.cfg.Enabled && strings.TrimSpace(s.cfg.URL) != "" }

func (s *Source) queries() []sources.Query {
	qs := append([]sources.Query(nil), BuiltinQueries...)
	for _, q := range s.cfg.ExtraQueries {
		qs = append(qs, sources.Query{Label: q, Expr: q})
	}
	return qs
}

type sample struct {
	Metric map[string]string `json:"metric"`
	Value  [2]any            `json:"value"`
}

func (smp sample) value() string {
	if v, ok := smp.Value[1].(string); ok {
		return v
	}
	return fmt.Sprint(smp.Value[1])
}

type queryResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string   `json:"resultType"`
		Result     []sample `json:"result"`
	} `json:"data"`
}

// Fetch evaluates every query at the current instant. The lookback window
// is carried by the range selectors inside the queries themselves.
func (s *Source) Fetch(ctx context.Context, _ time.Duration) (monitor.SourceRecord, error) {
	var (
		sections []string
		errs     []error
		down     []string
		upSeen   bool
	)
	queries := s.queries()
	for _, q := range queries {
		result, err := s.query(ctx, q.Expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", q.Label, err))
			sections = append(sections, fmt.Sprintf("%s (%s):\n  Error: %v", q.Label, q.Expr, err))
			continue
		}
		if q.Label == upLabel {
			upSeen = true
			down = downJobs(result)
		}
		sections = append(sections, formatSection(q, result))
	}
	if len(errs) == len(queries) {
		return monitor.SourceRecord{}, fmt.Errorf("all %d queries failed: %w", len(queries), errors.Join(errs...))
	}

	summary := "All services up"
	switch {
	case len(down) > 0:
		summary = "Down services: " + strings.Join(down, ", ")
	case !upSeen:
		summary = "Service status unknown"
	}
	return monitor.SourceRecord{SourceName: Name, Summary: summary, RawText: strings.Join(sections, "\n\n")}, nil
}

func (s *Source) query(ctx context.Context, expr string) ([]sample, error) {
	params := url.Values{"query": {expr}, "time": {fmt.Sprintf("%d", s.now().Unix())}}
	var resp queryResponse
	if err := s.client.GetJSON(ctx, queryPath, params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("prometheus status %q: %s", resp.Status, resp.Error)
	}
	return resp.Data.Result, nil
}

func formatSection(q sources.Query, result []sample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s):", q.Label, q.Expr)
	if len(result) == 0 {
		b.WriteString("\n  no data")
		return b.String()
	}
	for _, smp := range result {
		b.WriteString("\n  ")
		b.WriteString(formatMetric(smp.Metric))
		b.WriteString(": ")
		b.WriteString(smp.value())
	}
	return b.String()
}

func formatMetric(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// downJobs returns the sorted, de-duplicated jobs whose "up" sample is 0.
func downJobs(result []sample) []string {
	set := map[string]struct{}{}
	for _, smp := range result {
		if smp.value() != "0" {
			continue
		}
		name := smp.Metric["job"]
		if name == "" {
			name = smp.Metric["instance"]
		}
		if name == "" {
			name = "unknown"
		}
		set[name] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
