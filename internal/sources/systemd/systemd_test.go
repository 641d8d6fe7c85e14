package systemd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	units    []UnitState
	failed   []UnitState
	failErr  error
	since    time.Time
	patterns []string
	closed   bool
}

func (f *fakeConn) ListUnits(_ context.Context, patterns []string) ([]UnitState, error) {
	f.patterns = patterns
	return append([]UnitState(nil), f.units...), nil
}

func (f *fakeConn) ListFailed(context.Context) ([]UnitState, error) {
	return append([]UnitState(nil), f.failed...), f.failErr
}

func (f *fakeConn) StateChange(context.Context, string) (time.Time, error) { return f.since, nil }

func (f *fakeConn) Close() { f.closed = true }

func newTestSource(cfg Config, fc *fakeConn) *Source {
	s := New(cfg, time.UTC)
	s.dial = func(context.Context) (conn, error) { return fc, nil }
	return s
}

func TestFetchAllActive(t *testing.T) {
	t.Parallel()
	fc := &fakeConn{units: []UnitState{
		{Name: "nginx.service", ActiveState: "active", SubState: "running", Description: "web"},
	}}
	s := newTestSource(Config{Enabled: true, Units: []string{"nginx", "nginx.service", " "}}, fc)

	rec, err := s.Fetch(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"nginx.service"}, fc.patterns)
	assert.Equal(t, Name, rec.SourceName)
	assert.Equal(t, "All units active (1 watched)", rec.Summary)
	assert.Equal(t, "Watched units:\n  nginx.service: active/running (web)\n\nFailed units: none", rec.RawText)
	assert.True(t, fc.closed)
}

func TestFetchFailedAndMissing(t *testing.T) {
	t.Parallel()
	since := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	fc := &fakeConn{
		units: []UnitState{{Name: "api.service", ActiveState: "failed", SubState: "failed"}},
		failed: []UnitState{
			{Name: "api.service", ActiveState: "failed", SubState: "failed"},
			{Name: "backup.timer", ActiveState: "failed", SubState: "failed"},
		},
		since: since,
	}
	s := newTestSource(Config{Enabled: true, Units: []string{"api", "ghost"}}, fc)

	rec, err := s.Fetch(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "Units not active: api.service, backup.timer, ghost.service", rec.Summary)
	assert.Contains(t, rec.RawText, "  api.service: failed/failed since 2026-10-19 13:00:00 UTC\n")
	assert.Contains(t, rec.RawText, "  ghost.service: unknown/not-found\n")
	assert.Contains(t, rec.RawText, "Failed units:\n  api.service")
}

func TestFetchNoWatchList(t *testing.T) {
	t.Parallel()
	fc := &fakeConn{}
	s := newTestSource(Config{Enabled: true}, fc)
	rec, err := s.Fetch(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Nil(t, fc.patterns)
	assert.Equal(t, "No failed units", rec.Summary)
	assert.Equal(t, "Failed units: none", rec.RawText)
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, nil)
	s.dial = func(context.Context) (conn, error) { return nil, errors.New("no bus") }
	_, err := s.Fetch(context.Background(), time.Hour)
	assert.ErrorContains(t, err, "connect to systemd: no bus")

	fc := &fakeConn{failErr: errors.New("denied")}
	s = newTestSource(Config{Enabled: true}, fc)
	_, err = s.Fetch(context.Background(), time.Hour)
	assert.ErrorContains(t, err, "list failed units: denied")
	assert.True(t, fc.closed)
}

func TestConfigured(t *testing.T) {
	t.Parallel()
	assert.False(t, New(Config{}, nil).Configured())
	assert.True(t, New(Config{Enabled: true}, nil).Configured())
	assert.Equal(t, Name, New(Config{}, nil).Name())
}
