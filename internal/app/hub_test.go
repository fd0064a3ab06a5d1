package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
)

func TestHub_Broadcast(t *testing.T) {
	h := NewHub(SimplePolicy{}, testMetrics(t))
	ok1 := newFakeConn("ok1", 4)
	ok2 := newFakeConn("ok2", 4)
	closed := newFakeConn("closed", 4)
	closed.Close()
	full := newFakeConn("full", 0)
	for _, c := range []*fakeConn{ok1, ok2, closed, full} {
		h.Register(c)
	}

	res := h.Broadcast(domain.NewDataEvent(time.UnixMilli(1000), map[string]any{"answer": 7}))

	if res.SendTo != 2 || res.Skipped != 1 || len(res.Dropped) != 1 {
		t.Errorf("result = sent %d, skipped %d, dropped %d; want 2, 1, 1", res.SendTo, res.Skipped, len(res.Dropped))
	}
	if h.Count() != 4 {
		t.Errorf("Count = %d, want 4 (skipped and slow connections stay registered)", h.Count())
	}
	if full.closed != 0 {
		t.Error("SimplePolicy must not close slow connections")
	}

	var got domain.BroadcastMessage
	if err := json.Unmarshal(ok1.frames[0], &got); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if got.Type != domain.MessageDataEvent || got.Timestamp != 1000 {
		t.Errorf("frame = %+v", got)
	}
}

func TestHub_StrictPolicyClosesSlowConnection(t *testing.T) {
	h := NewHub(StrictPolicy{}, testMetrics(t))
	slow := newFakeConn("slow", 0)
	h.Register(slow)

	h.Broadcast(domain.NewTermination(time.Now(), domain.ReasonTimeout, "u1", "s1"))

	if slow.closed != 1 {
		t.Errorf("slow connection closed %d times, want 1", slow.closed)
	}
	if h.Count() != 0 {
		t.Errorf("Count = %d, want 0", h.Count())
	}
}

func TestHub_RegisterUnregisterIdempotent(t *testing.T) {
	h := NewHub(nil, testMetrics(t))
	c := newFakeConn("c", 4)

	h.Register(c)
	h.Register(c)
	if h.Count() != 1 {
		t.Fatalf("Count = %d, want 1", h.Count())
	}
	h.Unregister(c)
	h.Unregister(c)
	if h.Count() != 0 {
		t.Fatalf("Count = %d, want 0", h.Count())
	}

	h.Broadcast(domain.NewDataEvent(time.Now(), nil))
	if c.received() != 0 {
		t.Error("unregistered connection received a message")
	}
}

func TestHub_PerConnectionOrder(t *testing.T) {
	h := NewHub(nil, testMetrics(t))
	c := newFakeConn("c", 8)
	h.Register(c)

	for i := 0; i < 5; i++ {
		h.Broadcast(domain.NewDataEvent(time.UnixMilli(int64(i)), map[string]any{"i": i}))
	}
	for i, f := range c.frames {
		var m domain.BroadcastMessage
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if m.Timestamp != int64(i) {
			t.Errorf("frame %d has timestamp %d", i, m.Timestamp)
		}
	}
}
