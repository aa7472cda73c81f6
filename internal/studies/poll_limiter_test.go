package studies

import (
	"testing"
	"time"
)

func TestPollLimiterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newPollLimiter(2*time.Second, func() time.Time { return now })

	if !l.Allow("10.0.0.1", "job-1") {
		t.Fatalf("first poll must pass")
	}
	if l.Allow("10.0.0.1", "job-1") {
		t.Fatalf("second poll inside the window must be limited")
	}
	if !l.Allow("10.0.0.2", "job-1") || !l.Allow("10.0.0.1", "job-2") {
		t.Fatalf("limits are per client and job")
	}
	now = now.Add(2 * time.Second)
	if !l.Allow("10.0.0.1", "job-1") {
		t.Fatalf("poll after the window must pass")
	}
	if got := l.RetryAfter(); got != 2*time.Second {
		t.Fatalf("expected Retry-After 2s, got %s", got)
	}

	var nilLimiter *pollLimiter
	if !nilLimiter.Allow("a", "b") {
		t.Fatalf("nil limiter allows everything")
	}
}
