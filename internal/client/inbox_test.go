package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
)

func answer(n int) domain.BroadcastMessage {
	return domain.NewDataEvent(time.UnixMilli(int64(n)), map[string]any{"answer": n})
}

func TestInbox_NewestWins(t *testing.T) {
	in := NewInbox()
	in.Deliver(answer(1))
	in.Deliver(answer(2))

	msg, ok := in.Pending()
	if !ok || msg.Payload["answer"] != 2 {
		t.Fatalf("Pending = %v, %v; want answer 2", msg.Payload, ok)
	}
	// Re-reading without a clear yields the same message, not a backlog.
	if again, _ := in.Pending(); again.Payload["answer"] != 2 {
		t.Fatalf("second Pending = %v", again.Payload)
	}
	in.Clear()
	if _, ok := in.Pending(); ok {
		t.Fatal("slot should be empty after Clear")
	}
}

func TestInbox_RunProcessesSecondArrivalOnly(t *testing.T) {
	in := NewInbox()
	in.Deliver(answer(1))
	in.Deliver(answer(2))

	var mu sync.Mutex
	var seen []any
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = in.Run(ctx, func(m domain.BroadcastMessage) {
			mu.Lock()
			seen = append(seen, m.Payload["answer"])
			mu.Unlock()
		})
	}()

	eventually(t, "one message handled", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})
	// Give Run a chance to misbehave before checking nothing else arrived.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("handled = %v, want [2]", seen)
	}
	if _, ok := in.Pending(); ok {
		t.Error("slot should be cleared after handling")
	}
}

func TestInbox_ArrivalDuringHandlingIsKept(t *testing.T) {
	in := NewInbox()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []any
	go func() {
		_ = in.Run(ctx, func(m domain.BroadcastMessage) {
			mu.Lock()
			seen = append(seen, m.Payload["answer"])
			first := len(seen) == 1
			mu.Unlock()
			if first {
				<-release
			}
		})
	}()

	in.Deliver(answer(1))
	eventually(t, "first handled", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})
	in.Deliver(answer(2))
	close(release)

	eventually(t, "second handled", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if seen[1] != 2 {
		t.Errorf("handled = %v, want [1 2]", seen)
	}
}
