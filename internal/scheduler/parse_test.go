package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		kind   Kind
		every  time.Duration
		cron   string
		source string
	}{
		{in: "1h", kind: KindInterval, every: time.Hour, source: "duration"},
		{in: " 2h30m ", kind: KindInterval, every: 150 * time.Minute, source: "duration"},
		{in: "02:30", kind: KindInterval, every: 150 * time.Minute, source: "hhmm"},
		{in: "00:50", kind: KindInterval, every: 50 * time.Minute, source: "hhmm"},
		{in: "interval:45m", kind: KindInterval, every: 45 * time.Minute, source: "duration"},
		{in: "Every: 01:00", kind: KindInterval, every: time.Hour, source: "hhmm"},
		{in: "@hourly", kind: KindCron, cron: "@hourly", source: "cron"},
		{in: "*/30 * * * *", kind: KindCron, cron: "*/30 * * * *", source: "cron"},
		{in: "cron:0 9 * * 1-5", kind: KindCron, cron: "0 9 * * 1-5", source: "cron"},
	}
	for _, tc := range cases {
		got, err := ParseSpec(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, got.Kind, tc.in)
		assert.Equal(t, tc.every, got.Every, tc.in)
		assert.Equal(t, tc.cron, got.Cron, tc.in)
		assert.Equal(t, tc.source, got.Source, tc.in)
	}
}

func TestParseSpecErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   ", "cron:", "interval:", "every:abc", "-5m", "0s", "01:75", "bogus", "* * *", "00:00"} {
		_, err := ParseSpec(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParseInterval(t *testing.T) {
	t.Parallel()
	s, err := Parse("45m", nil)
	require.NoError(t, err)
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(45*time.Minute), s.Next(base))

	_, err = Parse("500ms", nil)
	assert.Error(t, err)
}

func TestParseCronUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	s, err := Parse("0 9 * * *", loc)
	require.NoError(t, err)

	// 01:30 UTC is 08:30 at UTC+7, so the next 09:00 local is 02:00 UTC.
	base := time.Date(2026, 10, 19, 1, 30, 0, 0, time.UTC)
	next := s.Next(base)
	assert.True(t, next.Equal(time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC)), "next = %s", next)
}

func TestParseCronDescriptor(t *testing.T) {
	t.Parallel()
	s, err := Parse("@hourly", time.UTC)
	require.NoError(t, err)
	base := time.Date(2026, 10, 19, 10, 15, 0, 0, time.UTC)
	assert.True(t, s.Next(base).Equal(time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)))
}
