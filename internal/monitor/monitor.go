package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"agentmon/internal/eventbus"
	rtsup "agentmon/internal/runtime/supervisor"
	logx "agentmon/pkg/logx"
)

const (
	DefaultLookback        = time.Hour
	DefaultMaxInputTokens  = 12000
	DefaultSourceTimeout   = 30 * time.Second
	DefaultAnalyzerTimeout = 60 * time.Second
	DefaultExportTimeout   = 2 * time.Minute
)

// Config holds the knobs that may change on config reload.
type Config struct {
	Schedule        Schedule
	RunOnStart      bool
	Lookback        time.Duration
	MaxInputTokens  int
	SourceTimeout   time.Duration
	AnalyzerTimeout time.Duration
	ExportTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.MaxInputTokens <= 0 {
		c.MaxInputTokens = DefaultMaxInputTokens
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = DefaultSourceTimeout
	}
	if c.AnalyzerTimeout <= 0 {
		c.AnalyzerTimeout = DefaultAnalyzerTimeout
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = DefaultExportTimeout
	}
	if c.Schedule == nil {
		c.Schedule = every(time.Hour)
	}
	return c
}

type Deps struct {
	Sources   []Source
	Analyzer  Analyzer
	Exporters []Exporter
	Bus       eventbus.Bus
	Log       logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Monitor owns the periodic loop, the single-flight guard and the latest report.
type Monitor struct {
	sources   []Source
	analyzer  Analyzer
	exporters []Exporter
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	cfg        atomic.Pointer[Config]
	latest     atomic.Pointer[Report]
	running    atomic.Bool
	loopActive atomic.Bool
	// startup is armed by Start and consumed by the first loop run, so a
	// restarted loop does not repeat the run-on-start tick.
	startup atomic.Bool
	reschedule chan struct{}

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func New(cfg Config, deps Deps) *Monitor {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	m := &Monitor{
		sources:    deps.Sources,
		analyzer:   deps.Analyzer,
		exporters:  deps.Exporters,
		bus:        deps.Bus,
		log:        log,
		now:        now,
		reschedule: make(chan struct{}, 1),
	}
	c := cfg.withDefaults()
	m.cfg.Store(&c)
	return m
}

func (m *Monitor) config() Config { return *m.cfg.Load() }

// Config returns the active runtime config with defaults applied.
func (m *Monitor) Config() Config { return m.config() }

// Apply swaps the runtime config. A changed schedule takes effect
// immediately: the pending timer is recomputed.
func (m *Monitor) Apply(cfg Config) {
	c := cfg.withDefaults()
	m.cfg.Store(&c)
	select {
	case m.reschedule <- struct{}{}:
	default:
	}
}

// Latest returns the most recent report, if any tick has completed.
func (m *Monitor) Latest() (Report, bool) {
	r := m.latest.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Running reports whether a tick is in progress.
func (m *Monitor) Running() bool { return m.running.Load() }

// LoopActive reports whether the periodic loop is running.
func (m *Monitor) LoopActive() bool { return m.loopActive.Load() }

// Start launches the periodic loop. Stop cancels it along with any tick in flight.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sup != nil {
		return
	}
	m.startup.Store(true)
	m.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log))
	m.sup.GoRestart("monitor.loop", m.run, rtsup.WithRestartBackoff(time.Second, time.Minute))
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	sup := m.sup
	m.sup = nil
	m.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// Supervisor exposes the loop supervisor for health output (nil if stopped).
func (m *Monitor) Supervisor() *rtsup.Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sup
}

func (m *Monitor) run(ctx context.Context) error {
	m.loopActive.Store(true)
	defer m.loopActive.Store(false)

	if m.startup.Swap(false) && m.config().RunOnStart {
		m.runExclusive(ctx, "startup")
	}
	for {
		now := m.now()
		next := m.config().Schedule.Next(now)
		if next.IsZero() {
			return errors.New("schedule has no next activation")
		}
		m.log.Debug("next tick scheduled", logx.Time("at", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.reschedule:
			timer.Stop()
		case <-timer.C:
			m.runExclusive(ctx, "schedule")
		}
	}
}

// Trigger starts a tick in the background unless one is already running.
func (m *Monitor) Trigger() TriggerStatus {
	if !m.running.CompareAndSwap(false, true) {
		return TriggerAlreadyRunning
	}
	body := func(ctx context.Context) {
		defer m.running.Store(false)
		_ = m.Tick(ctx, "trigger")
	}

	m.mu.Lock()
	sup := m.sup
	m.mu.Unlock()
	if sup == nil {
		go body(context.Background())
		return TriggerStarted
	}
	sup.Go0("monitor.trigger", body)
	return TriggerStarted
}

func (m *Monitor) runExclusive(ctx context.Context, reason string) {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Info("tick skipped, previous tick still running", logx.String("reason", reason))
		return
	}
	defer m.running.Store(false)
	_ = m.Tick(ctx, reason)
}

// Tick runs one full cycle. It does not take the single-flight guard; use
// Trigger for concurrent callers. The latest report is replaced only when
// collection and analysis complete; a canceled or panicking tick leaves it as is.
func (m *Monitor) Tick(ctx context.Context, reason string) (err error) {
	cfg := m.config()
	started := m.now()
	log := m.log.With(logx.String("reason", reason))
	m.publish(EventTickStarted, map[string]any{"reason": reason})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
			log.Error("tick failed", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		if err != nil {
			m.publish(EventTickFailed, map[string]any{"reason": reason, "err": err.Error()})
		}
	}()

	records := m.collect(ctx, cfg)
	if err := ctx.Err(); err != nil {
		log.Warn("tick canceled during collection", logx.Err(err))
		return err
	}

	text, fallback := m.analyze(ctx, cfg, records)
	if err := ctx.Err(); err != nil {
		log.Warn("tick canceled during analysis", logx.Err(err))
		return err
	}

	report := Report{Text: text, GeneratedAt: m.now().UTC(), Fallback: fallback}
	for _, r := range records {
		report.Sources = append(report.Sources, SourceStatus{Name: r.SourceName, Failed: r.Failed()})
	}
	m.latest.Store(&report)

	failed := m.export(ctx, cfg, report)
	dur := m.now().Sub(started)
	log.Info("tick complete",
		logx.Int("sources", len(records)),
		logx.Bool("fallback", fallback),
		logx.Int("export_failures", failed),
		logx.Duration("took", dur),
	)
	m.publish(EventTickCompleted, map[string]any{"reason": reason, "fallback": fallback, "export_failures": failed, "took": dur.String()})
	return nil
}

// collect queries every source concurrently and waits for all of them.
// Errors and panics become error records; input order is preserved.
func (m *Monitor) collect(ctx context.Context, cfg Config) []SourceRecord {
	records := make([]SourceRecord, len(m.sources))
	var wg sync.WaitGroup
	for i, src := range m.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := m.fetchOne(ctx, cfg, src)
			if err != nil {
				m.log.Warn("source fetch failed", logx.String("source", src.Name()), logx.Err(err))
				m.publish(EventSourceFailed, map[string]any{"source": src.Name(), "err": err.Error()})
				rec = SourceRecord{SourceName: src.Name(), Summary: "Error: " + err.Error()}
			}
			if rec.SourceName == "" {
				rec.SourceName = src.Name()
			}
			records[i] = rec
		}()
	}
	wg.Wait()
	return records
}

func (m *Monitor) fetchOne(ctx context.Context, cfg Config, src Source) (rec SourceRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fctx, cancel := context.WithTimeout(ctx, cfg.SourceTimeout)
	defer cancel()
	return src.Fetch(fctx, cfg.Lookback)
}

func (m *Monitor) analyze(ctx context.Context, cfg Config, records []SourceRecord) (string, bool) {
	if m.analyzer == nil || !m.analyzer.Configured() {
		m.log.Info("analyzer not configured, using fallback report")
		m.publish(EventAnalyzerFallback, map[string]any{"cause": "not configured"})
		return FallbackReport(records), true
	}

	payload := BuildPayload(records, cfg.MaxInputTokens)
	m.log.Debug("analyzer payload built", logx.Int("est_tokens", EstimateTokens(payload)), logx.Int("budget", cfg.MaxInputTokens))

	text, err := m.callAnalyzer(ctx, cfg, payload)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty analysis")
	}
	if err != nil {
		m.log.Error("analyzer failed, using fallback report", logx.Err(err))
		m.publish(EventAnalyzerFallback, map[string]any{"cause": err.Error()})
		return FallbackReport(records), true
	}
	return text, false
}

func (m *Monitor) callAnalyzer(ctx context.Context, cfg Config, payload string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	actx, cancel := context.WithTimeout(ctx, cfg.AnalyzerTimeout)
	defer cancel()
	return m.analyzer.Analyze(actx, payload)
}

// export pushes the report to every configured exporter concurrently and
// returns how many failed.
func (m *Monitor) export(ctx context.Context, cfg Config, report Report) int {
	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for _, ex := range m.exporters {
		if !ex.Configured() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.exportOne(ctx, cfg, ex, report); err != nil {
				failed.Add(1)
				m.log.Error("export failed", logx.String("exporter", ex.Name()), logx.Err(err))
				m.publish(EventExportFailed, map[string]any{"exporter": ex.Name(), "err": err.Error()})
			}
		}()
	}
	wg.Wait()
	return int(failed.Load())
}

func (m *Monitor) exportOne(ctx context.Context, cfg Config, ex Exporter, report Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	ectx, cancel := context.WithTimeout(ctx, cfg.ExportTimeout)
	defer cancel()
	return ex.Export(ectx, report)
}

func (m *Monitor) publish(typ string, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: m.now(), Data: data})
}

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }
