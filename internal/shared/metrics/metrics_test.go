package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	snap := h.Snapshot()
	if snap.count != 3 || snap.sum != 555 {
		t.Fatalf("unexpected snapshot count=%d sum=%v", snap.count, snap.sum)
	}

	var buf bytes.Buffer
	writeHistogram(&buf, "x", "test", snap)
	for _, want := range []string{
		`x_bucket{le="10"} 1`,
		`x_bucket{le="100"} 2`,
		`x_bucket{le="+Inf"} 3`,
		"x_sum 555",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, buf.String())
		}
	}
}

func TestHistogramBoundaryFallsInBucket(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(10)
	if snap := h.Snapshot(); snap.counts[0] != 1 {
		t.Fatalf("value equal to a bound belongs to that bucket, got %v", snap.counts)
	}
}

func TestRenderIncludesJobCounters(t *testing.T) {
	IncJobsSubmitted()
	IncJobsFailed("EXTRACTION_TIMEOUT")
	IncJobsFailed("")
	out := Render()
	for _, name := range []string{
		"jobs_submitted_total",
		`jobs_failed_total{code="EXTRACTION_TIMEOUT"}`,
		`jobs_failed_total{code="unknown"}`,
		"job_duration_ms_count",
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in output", name)
		}
	}
}
