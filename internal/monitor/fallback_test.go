package monitor

import (
	"strings"
	"testing"
)

func TestFallbackReport(t *testing.T) {
	t.Parallel()
	got := FallbackReport([]SourceRecord{
		{SourceName: "loki", Summary: "Errors: 5, Warnings: 0"},
		{SourceName: "prometheus", Summary: "Down services: a<b"},
	})
	lines := strings.Split(got, "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %q, want header, blank and two records", lines)
	}
	if !strings.Contains(strings.ToLower(lines[0]), "fallback") || !strings.Contains(lines[0], "unavailable") {
		t.Fatalf("header = %q", lines[0])
	}
	if lines[1] != "" {
		t.Fatalf("second line = %q, want blank", lines[1])
	}
	if lines[2] != "loki: Errors: 5, Warnings: 0" {
		t.Fatalf("line 2 = %q", lines[2])
	}
	if lines[3] != "prometheus: Down services: a&lt;b" {
		t.Fatalf("line 3 = %q", lines[3])
	}
}

func TestSourceRecordFailed(t *testing.T) {
	t.Parallel()
	if !(SourceRecord{Summary: "Error: x"}).Failed() {
		t.Fatalf("Failed() = false for error summary")
	}
	if (SourceRecord{Summary: "Errors: 5"}).Failed() {
		t.Fatalf("Failed() = true for a counting summary")
	}
}
