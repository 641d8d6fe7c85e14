package monitor

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestBuildPayloadFitsUnchanged(t *testing.T) {
	t.Parallel()
	records := []SourceRecord{
		{SourceName: "loki", Summary: "Errors: 1, Warnings: 0", RawText: "line one"},
		{SourceName: "prometheus", Summary: "All services up", RawText: "up: 1"},
	}
	got := BuildPayload(records, 12000)
	want := "=== LOKI ===\nSummary: Errors: 1, Warnings: 0\n\nline one\n\n=== PROMETHEUS ===\nSummary: All services up\n\nup: 1"
	if got != want {
		t.Fatalf("BuildPayload = %q, want %q", got, want)
	}
}

func TestBuildPayloadSoftTruncation(t *testing.T) {
	t.Parallel()
	records := []SourceRecord{{SourceName: "loki", Summary: "s", RawText: strings.Repeat("z", 4000)}}
	// Full is ~1000 tokens; divisor 2 gives 2000 chars (~500 tokens), divisor 4 gives 1000 chars.
	got := BuildPayload(records, 300)
	if !strings.Contains(got, truncatedMarker) {
		t.Fatalf("expected truncation marker in %q", got[:50])
	}
	if strings.Contains(got, hardTruncateMarker) {
		t.Fatalf("unexpected hard truncation")
	}
	if n := strings.Count(got, "z"); n != 1000 {
		t.Fatalf("kept %d raw chars, want 1000 (divisor 4)", n)
	}
}

func TestBuildPayloadMinimumKeep(t *testing.T) {
	t.Parallel()
	records := []SourceRecord{
		{SourceName: "big", Summary: "s", RawText: strings.Repeat("b", 8000)},
		{SourceName: "small", Summary: "s", RawText: strings.Repeat("c", 150)},
	}
	got := BuildPayload(records, 600)
	// Small records are never cut below 200 chars, the marker is still appended.
	if !strings.Contains(got, strings.Repeat("c", 150)+truncatedMarker) {
		t.Fatalf("small record should be kept whole with marker")
	}
}

func TestBuildPayloadHardTruncation(t *testing.T) {
	t.Parallel()
	records := []SourceRecord{{SourceName: "loki", Summary: "s", RawText: strings.Repeat("x", 100000)}}
	got := BuildPayload(records, 100)
	if !strings.HasSuffix(got, hardTruncateMarker) {
		t.Fatalf("expected hard truncation marker")
	}
	if est := EstimateTokens(got); est > 100 {
		t.Fatalf("EstimateTokens = %d, want <= 100", est)
	}
	if !strings.HasPrefix(got, "=== LOKI ===") {
		t.Fatalf("hard cut should keep the beginning, got %q", got[:20])
	}
}

func TestBuildPayloadTinyBudgetDropsMarker(t *testing.T) {
	t.Parallel()
	records := []SourceRecord{{SourceName: "loki", Summary: "s", RawText: strings.Repeat("x", 5000)}}
	for budget := 1; budget <= 5; budget++ {
		got := BuildPayload(records, budget)
		if est := EstimateTokens(got); est > budget {
			t.Fatalf("budget %d: EstimateTokens = %d", budget, est)
		}
		if strings.Contains(got, "truncated") {
			t.Fatalf("budget %d: marker should not fit, got %q", budget, got)
		}
	}
}

func TestBuildPayloadEmpty(t *testing.T) {
	t.Parallel()
	if got := BuildPayload(nil, 10); got != "" {
		t.Fatalf("BuildPayload(nil) = %q, want empty", got)
	}
}

func TestBuildPayloadMultibyte(t *testing.T) {
	t.Parallel()
	records := []SourceRecord{{SourceName: "loki", Summary: "s", RawText: strings.Repeat("é", 4000)}}
	got := BuildPayload(records, 300)
	if !strings.Contains(got, truncatedMarker) {
		t.Fatalf("expected truncation")
	}
	if strings.ContainsRune(got, '�') {
		t.Fatalf("truncation split a multibyte rune")
	}
}

func TestBuildPayloadNeverExceedsBudget(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(t, "records")
		records := make([]SourceRecord, n)
		for i := range records {
			records[i] = SourceRecord{
				SourceName: rapid.StringMatching(`[a-z]{1,10}`).Draw(t, "name"),
				Summary:    rapid.StringMatching(`[A-Za-z0-9 :,]{0,40}`).Draw(t, "summary"),
				RawText:    strings.Repeat(rapid.StringMatching(`[a-z\n ]{1,20}`).Draw(t, "chunk"), rapid.IntRange(0, 3000).Draw(t, "repeat")),
			}
		}
		budget := rapid.IntRange(1, 20000).Draw(t, "budget")

		got := BuildPayload(records, budget)
		if est := EstimateTokens(got); est > budget {
			t.Fatalf("EstimateTokens = %d > budget %d", est, budget)
		}
		full := renderSections(records, func(r SourceRecord) string { return r.RawText })
		if EstimateTokens(full) <= budget && got != full {
			t.Fatalf("payload within budget was modified")
		}
	})
}
