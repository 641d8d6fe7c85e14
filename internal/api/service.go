// Package api serves the operational HTTP endpoints: manual trigger, latest
// report, health and readiness, plus optional pprof.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"agentmon/internal/monitor"
	rtsup "agentmon/internal/runtime/supervisor"
	logx "agentmon/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

// Config controls the HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Monitor is the part of the orchestrator the API drives.
type Monitor interface {
	Trigger() monitor.TriggerStatus
	Latest() (monitor.Report, bool)
	Running() bool
	LoopActive() bool
}

// HealthFunc returns named supervisor snapshots for /health.
type HealthFunc func() map[string]rtsup.Snapshot

type Service struct {
	cfg    Config
	mon    Monitor
	health HealthFunc
	log    logx.Logger

	mu       sync.Mutex
	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	ready    chan struct{}
	readyOne sync.Once
}

func New(cfg Config, mon Monitor, health HealthFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Service{cfg: cfg, mon: mon, health: health, log: log, ready: make(chan struct{})}
}

// Supervisor returns the serve loop's supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Addr returns the bound address once the server listens, else "".
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Listening is closed after the first successful bind.
func (s *Service) Listening() <-chan struct{} { return s.ready }

// Start runs the server under a restart loop. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// The API is operational tooling; a broken listener never stops monitoring.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the server down gracefully within ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	// Cancel first so the serve loop treats the close as a clean stop.
	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	err := sup.Wait(ctx)
	s.log.Info("http api stopped")
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (s *Service) serveOnce(ctx context.Context) error {
	cfg := s.cfg
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		s.log.Error("http api refused to start: non-loopback addr requires token or allow_insecure",
			logx.String("addr", cfg.Addr),
		)
		return errors.New("http api refused to start: insecure bind")
	}
	if cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		s.log.Warn("http api running without token on non-loopback addr (insecure)", logx.String("addr", cfg.Addr))
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		s.log.Error("http api listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()
	s.readyOne.Do(func() { close(s.ready) })

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http api started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
	)
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

// Handler returns the routed, authenticated handler.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("POST /trigger", wrap(s.handleTrigger))
	mux.HandleFunc("GET /report", wrap(s.handleReport))
	mux.HandleFunc("GET /health", wrap(s.handleHealth))
	mux.HandleFunc("GET /ready", wrap(s.handleReady))

	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

type triggerResponse struct {
	Status monitor.TriggerStatus `json:"status"`
}

type reportResponse struct {
	Report      *string                `json:"report"`
	GeneratedAt *string                `json:"generated_at"`
	Fallback    bool                   `json:"fallback"`
	Sources     []monitor.SourceStatus `json:"sources,omitempty"`
}

type healthResponse struct {
	Status     string                    `json:"status"`
	Running    bool                      `json:"tick_running"`
	LoopActive bool                      `json:"loop_active"`
	Goroutines map[string]rtsup.Snapshot `json:"goroutines,omitempty"`
}

func (s *Service) handleTrigger(w http.ResponseWriter, r *http.Request) {
	st := s.mon.Trigger()
	s.log.Info("manual trigger", logx.String("status", string(st)), logx.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, triggerResponse{Status: st})
}

func (s *Service) handleReport(w http.ResponseWriter, _ *http.Request) {
	var resp reportResponse
	if rep, ok := s.mon.Latest(); ok {
		text := rep.Text
		at := rep.GeneratedAt.UTC().Format(time.RFC3339)
		resp = reportResponse{Report: &text, GeneratedAt: &at, Fallback: rep.Fallback, Sources: rep.Sources}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Running: s.mon.Running(), LoopActive: s.mon.LoopActive()}
	if s.health != nil {
		resp.Goroutines = s.health()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.mon.LoopActive() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either "Authorization: Bearer <token>" or "?token=<token>".
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
