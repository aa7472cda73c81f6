package queue

import (
	"errors"
	"testing"
	"time"
)

func TestNewMessageRoundTrip(t *testing.T) {
	msg := NewMessage("job-123", "study-9", "request-456", time.Date(2026, 1, 30, 17, 0, 0, 0, time.FixedZone("EST", -5*3600)))
	if msg.EnqueuedAt != "2026-01-30T22:00:00Z" || msg.Version != MessageVersion {
		t.Fatalf("unexpected stamp: %+v", msg)
	}

	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	got, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got != msg {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestDecodeMessageVersions(t *testing.T) {
	if _, err := DecodeMessage([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
	msg, err := DecodeMessage([]byte(`{"jobId":"job-1"}`))
	if err != nil || msg.JobID != "job-1" {
		t.Fatalf("unversioned payloads must decode, got %+v %v", msg, err)
	}
	if _, err := DecodeMessage([]byte(`{"jobId":"job-1","version":2}`)); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}
