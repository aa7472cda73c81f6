package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatcherRunsEveryMessage(t *testing.T) {
	d := NewDispatcher(3, 10)

	var mu sync.Mutex
	var seen []string
	d.Start(context.Background(), func(ctx context.Context, msg Message) error {
		mu.Lock()
		seen = append(seen, msg.JobID)
		mu.Unlock()
		if msg.JobID == "job-2" {
			return errors.New("boom")
		}
		return nil
	})

	for _, id := range []string{"job-1", "job-2", "job-3", "job-4"} {
		if err := d.Send(context.Background(), Message{JobID: id}); err != nil {
			t.Fatalf("send %s: %v", id, err)
		}
	}
	d.Close()

	sort.Strings(seen)
	if len(seen) != 4 || seen[0] != "job-1" || seen[3] != "job-4" {
		t.Fatalf("unexpected processed jobs %v", seen)
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(1, 0)
	d.Start(context.Background(), func(context.Context, Message) error { return nil })
	d.Close()
	d.Close()

	if err := d.Send(context.Background(), Message{JobID: "late"}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestDispatcherSendHonorsContext(t *testing.T) {
	d := NewDispatcher(1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Send(ctx, Message{JobID: "blocked"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	d.Close()
}
