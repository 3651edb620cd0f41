package main

import (
	"strings"
	"testing"
)

func TestRenderTableKeepsFooterCase(t *testing.T) {
	out := renderTableWithFooter(
		[]string{"File", "Size"},
		[][]string{{"a.jpg", "1 kB"}},
		[]string{"1 total", "1 kB"},
		[]columnAlignment{alignLeft, alignRight},
	)
	if !strings.Contains(out, "1 total") {
		t.Fatalf("footer should keep its case, got:\n%s", out)
	}
	if !strings.Contains(out, "a.jpg") || !strings.HasSuffix(out, "\n") {
		t.Fatalf("unexpected table output:\n%s", out)
	}
}

func TestRenderTableWithoutHeaders(t *testing.T) {
	if out := renderTable(nil, [][]string{{"x"}}, nil); out != "" {
		t.Fatalf("expected empty output without headers, got %q", out)
	}
}
