package monitor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmon/internal/eventbus"
)

func lokiOK() *fakeSource {
	return &fakeSource{name: "loki", rec: SourceRecord{SourceName: "loki", Summary: "Errors: 5, Warnings: 1", RawText: "boom"}}
}

func promOK() *fakeSource {
	return &fakeSource{name: "prometheus", rec: SourceRecord{SourceName: "prometheus", Summary: "All ok", RawText: "up 1"}}
}

func TestTickHappyPath(t *testing.T) {
	t.Parallel()
	an := &fakeAnalyzer{configured: true, out: "<b>Overall Status</b>: 🟢"}
	ex := &fakeExporter{name: "telegram"}
	m := New(Config{}, Deps{Sources: []Source{lokiOK(), promOK()}, Analyzer: an, Exporters: []Exporter{ex}})

	require.NoError(t, m.Tick(context.Background(), "test"))

	rep, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, "<b>Overall Status</b>: 🟢", rep.Text)
	assert.False(t, rep.Fallback)
	assert.False(t, rep.GeneratedAt.IsZero())
	assert.Equal(t, []SourceStatus{{Name: "loki"}, {Name: "prometheus"}}, rep.Sources)

	payload := an.lastPayload()
	assert.True(t, strings.Index(payload, "=== LOKI ===") < strings.Index(payload, "=== PROMETHEUS ==="))
	require.Equal(t, 1, ex.count())
	assert.Equal(t, rep.Text, ex.last().Text)
}

func TestLatestBeforeFirstTick(t *testing.T) {
	t.Parallel()
	m := New(Config{}, Deps{})
	_, ok := m.Latest()
	assert.False(t, ok)
}

func TestTickSourceErrorBecomesRecord(t *testing.T) {
	t.Parallel()
	failing := &fakeSource{name: "loki", err: errors.New("connection refused")}
	ex := &fakeExporter{name: "telegram"}
	m := New(Config{}, Deps{Sources: []Source{failing, promOK()}, Exporters: []Exporter{ex}})

	require.NoError(t, m.Tick(context.Background(), "test"))

	rep, ok := m.Latest()
	require.True(t, ok)
	assert.True(t, rep.Fallback)
	assert.Contains(t, rep.Text, "loki: Error: connection refused")
	assert.Contains(t, rep.Text, "prometheus: All ok")
	assert.Equal(t, []SourceStatus{{Name: "loki", Failed: true}, {Name: "prometheus"}}, rep.Sources)
	assert.Equal(t, 1, ex.count())
}

func TestTickSourcePanicBecomesRecord(t *testing.T) {
	t.Parallel()
	an := &fakeAnalyzer{configured: true, out: "ok"}
	m := New(Config{}, Deps{Sources: []Source{&fakeSource{name: "loki", panics: true}, promOK()}, Analyzer: an})

	require.NoError(t, m.Tick(context.Background(), "test"))
	assert.Contains(t, an.lastPayload(), "Summary: Error: panic: source exploded")
}

func TestTickSourceTimeout(t *testing.T) {
	t.Parallel()
	an := &fakeAnalyzer{configured: true, out: "ok"}
	m := New(Config{SourceTimeout: 20 * time.Millisecond}, Deps{Sources: []Source{&fakeSource{name: "slow", blockOn: true}}, Analyzer: an})

	start := time.Now()
	require.NoError(t, m.Tick(context.Background(), "test"))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, an.lastPayload(), "Summary: Error: context deadline exceeded")
}

func TestTickAnalyzerFailureFallsBack(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		an   *fakeAnalyzer
	}{
		{"unconfigured", &fakeAnalyzer{configured: false, out: "never"}},
		{"error", &fakeAnalyzer{configured: true, err: errors.New("503")}},
		{"empty", &fakeAnalyzer{configured: true, out: "  \n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ex := &fakeExporter{name: "telegram"}
			m := New(Config{}, Deps{Sources: []Source{lokiOK(), promOK()}, Analyzer: tt.an, Exporters: []Exporter{ex}})

			require.NoError(t, m.Tick(context.Background(), "test"))
			rep, ok := m.Latest()
			require.True(t, ok)
			assert.True(t, rep.Fallback)
			assert.Contains(t, strings.ToLower(rep.Text), "fallback")
			assert.Contains(t, rep.Text, "Errors: 5")
			assert.Contains(t, rep.Text, "All ok")
			assert.Equal(t, rep.Text, ex.last().Text)
		})
	}
}

func TestTickExporterFailureIsolated(t *testing.T) {
	t.Parallel()
	bad := &fakeExporter{name: "bad", err: errors.New("chat not found")}
	good := &fakeExporter{name: "good"}
	m := New(Config{}, Deps{Sources: []Source{lokiOK()}, Analyzer: &fakeAnalyzer{configured: true, out: "r"}, Exporters: []Exporter{bad, good}})

	require.NoError(t, m.Tick(context.Background(), "test"))
	assert.Equal(t, 1, bad.count())
	assert.Equal(t, 1, good.count())
	rep, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, "r", rep.Text)
}

func TestTickCanceledKeepsPreviousReport(t *testing.T) {
	t.Parallel()
	an := &fakeAnalyzer{configured: true, out: "first"}
	m := New(Config{}, Deps{Sources: []Source{lokiOK()}, Analyzer: an})
	require.NoError(t, m.Tick(context.Background(), "test"))

	an.out = "second"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Tick(ctx, "test")
	require.ErrorIs(t, err, context.Canceled)

	rep, _ := m.Latest()
	assert.Equal(t, "first", rep.Text)
}

func TestTriggerSingleFlight(t *testing.T) {
	t.Parallel()
	an := &fakeAnalyzer{configured: true, out: "done", release: make(chan struct{})}
	ex := &fakeExporter{name: "telegram"}
	m := New(Config{}, Deps{Sources: []Source{lokiOK()}, Analyzer: an, Exporters: []Exporter{ex}})

	assert.Equal(t, TriggerStarted, m.Trigger())
	assert.Equal(t, TriggerAlreadyRunning, m.Trigger())
	assert.True(t, m.Running())

	close(an.release)
	require.Eventually(t, func() bool { return !m.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ex.count())

	assert.Equal(t, TriggerStarted, m.Trigger())
	require.Eventually(t, func() bool { return ex.count() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestRunLoopTicksAndStops(t *testing.T) {
	t.Parallel()
	ex := &fakeExporter{name: "telegram"}
	m := New(Config{RunOnStart: true, Schedule: every(20 * time.Millisecond)}, Deps{Sources: []Source{lokiOK()}, Exporters: []Exporter{ex}})

	m.Start(context.Background())
	require.Eventually(t, func() bool { return ex.count() >= 3 }, 3*time.Second, 5*time.Millisecond)
	assert.True(t, m.LoopActive())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	assert.False(t, m.LoopActive())
}

type exhaustedSchedule struct{ calls atomic.Int32 }

func (s *exhaustedSchedule) Next(time.Time) time.Time {
	s.calls.Add(1)
	return time.Time{}
}

func TestRunOnStartOncePerStart(t *testing.T) {
	t.Parallel()
	ex := &fakeExporter{name: "telegram"}
	sched := &exhaustedSchedule{}
	m := New(Config{RunOnStart: true, Schedule: sched}, Deps{Sources: []Source{lokiOK()}, Exporters: []Exporter{ex}})

	m.Start(context.Background())
	defer m.Stop(context.Background())

	// The loop fails on the empty schedule and is restarted after its backoff.
	require.Eventually(t, func() bool { return sched.calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ex.count())
}

func TestApplyReschedules(t *testing.T) {
	t.Parallel()
	ex := &fakeExporter{name: "telegram"}
	m := New(Config{Schedule: every(time.Hour)}, Deps{Sources: []Source{lokiOK()}, Exporters: []Exporter{ex}})
	m.Start(context.Background())
	defer m.Stop(context.Background())

	require.Eventually(t, m.LoopActive, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, ex.count())

	m.Apply(Config{Schedule: every(10 * time.Millisecond)})
	require.Eventually(t, func() bool { return ex.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTickPublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	m := New(Config{}, Deps{Sources: []Source{&fakeSource{name: "loki", err: errors.New("down")}}, Bus: bus})
	require.NoError(t, m.Tick(context.Background(), "test"))

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{EventTickStarted, EventSourceFailed, EventAnalyzerFallback, EventTickCompleted}, types)
}
