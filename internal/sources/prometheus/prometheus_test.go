package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func promServer(t *testing.T, handle func(query string) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			http.NotFound(w, r)
			return
		}
		code, body := handle(r.URL.Query().Get("query"))
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const emptyVector = `{"status":"success","data":{"resultType":"vector","result":[]}}`

func TestFetchAllUp(t *testing.T) {
	t.Parallel()
	srv := promServer(t, func(q string) (int, string) {
		if q == "up" {
			return 200, `{"status":"success","data":{"resultType":"vector","result":[
				{"metric":{"job":"api","instance":"a:9100"},"value":[1700000000,"1"]},
				{"metric":{"job":"web"},"value":[1700000000,"1"]}]}}`
		}
		return 200, emptyVector
	})

	rec, err := New(Config{Enabled: true, URL: srv.URL}).Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Summary != "All services up" {
		t.Fatalf("summary = %q", rec.Summary)
	}
	if !strings.Contains(rec.RawText, "Service Up (up):\n  {instance=a:9100, job=api}: 1\n  {job=web}: 1") {
		t.Fatalf("raw text:\n%s", rec.RawText)
	}
	if !strings.Contains(rec.RawText, "P99 Latency (") || !strings.Contains(rec.RawText, "no data") {
		t.Fatalf("raw text missing empty sections:\n%s", rec.RawText)
	}
}

func TestFetchDownServices(t *testing.T) {
	t.Parallel()
	srv := promServer(t, func(q string) (int, string) {
		if q == "up" {
			return 200, `{"status":"success","data":{"resultType":"vector","result":[
				{"metric":{"job":"worker"},"value":[1,"0"]},
				{"metric":{"job":"api"},"value":[1,"0"]},
				{"metric":{"job":"api","instance":"b"},"value":[1,"0"]},
				{"metric":{"job":"web"},"value":[1,"1"]}]}}`
		}
		return 200, emptyVector
	})

	rec, err := New(Config{Enabled: true, URL: srv.URL}).Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Summary != "Down services: api, worker" {
		t.Fatalf("summary = %q", rec.Summary)
	}
}

func TestFetchQueryErrorInline(t *testing.T) {
	t.Parallel()
	srv := promServer(t, func(q string) (int, string) {
		if strings.HasPrefix(q, "histogram_quantile(0.95") {
			return 400, `{"status":"error","errorType":"bad_data","error":"parse error"}`
		}
		return 200, emptyVector
	})

	rec, err := New(Config{Enabled: true, URL: srv.URL, ExtraQueries: []string{"node_load1"}}).Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(rec.RawText, "P95 Latency (") || !strings.Contains(rec.RawText, "  Error: http 400") {
		t.Fatalf("raw text:\n%s", rec.RawText)
	}
	if !strings.Contains(rec.RawText, "node_load1 (node_load1):\n  no data") {
		t.Fatalf("extra query section missing:\n%s", rec.RawText)
	}
}

func TestFetchUpQueryFailsLeavesStatusUnknown(t *testing.T) {
	t.Parallel()
	srv := promServer(t, func(q string) (int, string) {
		if q == "up" {
			return 503, "unavailable"
		}
		return 200, emptyVector
	})
	rec, err := New(Config{Enabled: true, URL: srv.URL}).Fetch(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Summary != "Service status unknown" {
		t.Fatalf("summary = %q", rec.Summary)
	}
}

func TestFetchAllFail(t *testing.T) {
	t.Parallel()
	srv := promServer(t, func(string) (int, string) { return 500, "boom" })
	_, err := New(Config{Enabled: true, URL: srv.URL}).Fetch(context.Background(), time.Hour)
	if err == nil || !strings.Contains(err.Error(), "all 5 queries failed") {
		t.Fatalf("err = %v", err)
	}
}
