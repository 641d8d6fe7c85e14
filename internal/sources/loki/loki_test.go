package loki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func streamsBody(labels, line string, n int) string {
	vals := make([]string, n)
	for i := range vals {
		vals[i] = `["` + strconv.Itoa(1700000000000000000+i) + `", "` + line + `"]`
	}
	return `{"status":"success","data":{"resultType":"streams","result":[{"stream":` + labels + `,"values":[` + strings.Join(vals, ",") + `]}]}}`
}

func TestFetchCountsErrorsAndWarnings(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	seen := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		seen[q.Get("query")] = q.Get("start") + "/" + q.Get("end") + "/" + q.Get("limit")
		mu.Unlock()
		switch q.Get("query") {
		case BuiltinQueries[0]:
			_, _ = w.Write([]byte(streamsBody(`{"service":"api","level":"error"}`, "db timeout", 3)))
		case BuiltinQueries[1]:
			_, _ = w.Write([]byte(streamsBody(`{"service":"web"}`, "slow response", 2)))
		default:
			_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"streams","result":[]}}`))
		}
	}))
	defer srv.Close()

	now := time.Unix(1700003600, 0)
	s := New(Config{Enabled: true, URL: srv.URL, ExtraQueries: []string{`{app="x"}`}})
	s.now = func() time.Time { return now }

	rec, err := s.Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.SourceName != "loki" || rec.Summary != "Errors: 3, Warnings: 2" {
		t.Fatalf("record = %+v", rec)
	}
	if !strings.Contains(rec.RawText, "Query: "+BuiltinQueries[0]+"\n[level=error, service=api] db timeout") {
		t.Fatalf("raw text missing labelled error line:\n%s", rec.RawText)
	}
	if len(seen) != 5 {
		t.Fatalf("queried %d expressions, want 4 builtin + 1 extra", len(seen))
	}
	want := strconv.FormatInt(now.Add(-time.Hour).UnixNano(), 10) + "/" + strconv.FormatInt(now.UnixNano(), 10) + "/50"
	if got := seen[`{app="x"}`]; got != want {
		t.Fatalf("range params = %q, want %q", got, want)
	}
}

func TestFetchNoEntries(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"streams","result":[]}}`))
	}))
	defer srv.Close()

	rec, err := New(Config{Enabled: true, URL: srv.URL}).Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.RawText != "No log entries found." || rec.Summary != "Errors: 0, Warnings: 0" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestFetchPartialFailureIsInline(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == BuiltinQueries[2] {
			http.Error(w, "parse error", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"result":[]}}`))
	}))
	defer srv.Close()

	rec, err := New(Config{Enabled: true, URL: srv.URL}).Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(rec.RawText, "Query: "+BuiltinQueries[2]+"\nError fetching: http 400") {
		t.Fatalf("raw text = %q", rec.RawText)
	}
}

func TestFetchAllQueriesFail(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{Enabled: true, URL: url, Timeout: time.Second}).Fetch(context.Background(), time.Hour)
	if err == nil || !strings.Contains(err.Error(), "all 4 queries failed") {
		t.Fatalf("err = %v, want all queries failed", err)
	}
}

func TestLineLimitAndTruncation(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 900)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == BuiltinQueries[0] {
			_, _ = w.Write([]byte(streamsBody(`{}`, long, 10)))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"result":[]}}`))
	}))
	defer srv.Close()

	rec, err := New(Config{Enabled: true, URL: srv.URL, Limit: 4}).Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Summary != "Errors: 4, Warnings: 0" {
		t.Fatalf("summary = %q, want 4 errors (limit)", rec.Summary)
	}
	for _, line := range strings.Split(rec.RawText, "\n")[1:] {
		if n := len([]rune(line)); n > DefaultMaxLineChars+1 {
			t.Fatalf("line has %d runes, want <= %d", n, DefaultMaxLineChars+1)
		}
	}
}

func TestLabelsDoNotEatLineBudget(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 900)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == BuiltinQueries[0] {
			_, _ = w.Write([]byte(streamsBody(`{"job":"api","host":"h1"}`, long, 1)))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"result":[]}}`))
	}))
	defer srv.Close()

	rec, err := New(Config{Enabled: true, URL: srv.URL}).Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := "[host=h1, job=api] " + strings.Repeat("x", DefaultMaxLineChars-1) + "…"
	if !strings.Contains(rec.RawText, want) {
		t.Fatalf("labelled line not cut after the prefix:\n%s", rec.RawText)
	}
}

func TestConfigured(t *testing.T) {
	t.Parallel()
	if New(Config{Enabled: true}).Configured() {
		t.Fatalf("configured without URL")
	}
	if New(Config{URL: "http://loki:3100"}).Configured() {
		t.Fatalf("configured while disabled")
	}
	if !New(Config{Enabled: true, URL: "http://loki:3100"}).Configured() {
		t.Fatalf("not configured with URL")
	}
}
