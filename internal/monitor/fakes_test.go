package monitor

import (
	"context"
	"sync"
	"time"
)

type fakeSource struct {
	name    string
	rec     SourceRecord
	err     error
	panics  bool
	blockOn bool
}

func (f *fakeSource) Name() string     { return f.name }
func (f *fakeSource) Configured() bool { return true }
func (f *fakeSource) Fetch(ctx context.Context, _ time.Duration) (SourceRecord, error) {
	if f.panics {
		panic("source exploded")
	}
	if f.blockOn {
		<-ctx.Done()
		return SourceRecord{}, ctx.Err()
	}
	return f.rec, f.err
}

type fakeAnalyzer struct {
	configured bool
	out        string
	err        error
	release    chan struct{}

	mu       sync.Mutex
	payloads []string
}

func (f *fakeAnalyzer) Configured() bool { return f.configured }
func (f *fakeAnalyzer) Analyze(ctx context.Context, payload string) (string, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.out, f.err
}

func (f *fakeAnalyzer) lastPayload() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return ""
	}
	return f.payloads[len(f.payloads)-1]
}

type fakeExporter struct {
	name string
	err  error

	mu      sync.Mutex
	reports []Report
}

func (f *fakeExporter) Name() string     { return f.name }
func (f *fakeExporter) Configured() bool { return true }
func (f *fakeExporter) Export(_ context.Context, r Report) error {
	f.mu.Lock()
	f.reports = append(f.reports, r)
	f.mu.Unlock()
	return f.err
}

func (f *fakeExporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func (f *fakeExporter) last() Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[len(f.reports)-1]
}
