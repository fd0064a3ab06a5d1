package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceCoach/internal/core"
)

// fakeTransport records calls in order and lets tests raise events.
type fakeTransport struct {
	mu      sync.Mutex
	handler func(core.TransportEvent)
	joinErr error
	calls   []string
	audio   bool
	// joinBlock holds the next Join until closed.
	joinBlock chan struct{}
	// leftOnLeave raises a left event from inside Leave.
	leftOnLeave bool
}

func (t *fakeTransport) Join(ctx context.Context, address, credential string) error {
	t.mu.Lock()
	block := t.joinBlock
	t.joinBlock = nil
	t.mu.Unlock()
	t.record("join")
	if block != nil {
		<-block
	}
	return t.joinErr
}

func (t *fakeTransport) Leave() error {
	t.record("leave")
	t.mu.Lock()
	left := t.leftOnLeave
	t.mu.Unlock()
	if left {
		t.raise(core.TransportEvent{Kind: core.TransportLeft})
	}
	return errors.New("already gone")
}

func (t *fakeTransport) SetLocalAudioEnabled(enabled bool) error {
	t.mu.Lock()
	t.audio = enabled
	t.mu.Unlock()
	t.record("audio")
	return nil
}

func (t *fakeTransport) OnEvent(fn func(core.TransportEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

func (t *fakeTransport) raise(ev core.TransportEvent) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	h(ev)
}

func (t *fakeTransport) record(c string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, c)
}

func (t *fakeTransport) log() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *fakeTransport) audioEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audio
}

// fakeBackend shares its call log with the transport so tests can check
// cleanup ordering across both.
type fakeBackend struct {
	mu        sync.Mutex
	tr        *fakeTransport
	creates   int
	createErr error
	muteErr   error
	block     chan struct{}
	mutes     []bool
}

func (b *fakeBackend) CreateSession(ctx context.Context) (SessionInfo, error) {
	b.mu.Lock()
	b.creates++
	block, err := b.block, b.createErr
	b.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{OwnerID: "u1", SessionID: "s1", RoomURL: "https://rooms.test/r", Token: "tok"}, nil
}

func (b *fakeBackend) EndSession(ctx context.Context) error {
	b.tr.record("end")
	return nil
}

func (b *fakeBackend) SetMuted(ctx context.Context, muted bool) error {
	b.mu.Lock()
	b.mutes = append(b.mutes, muted)
	err := b.muteErr
	b.mu.Unlock()
	return err
}

func (b *fakeBackend) holdCreates(block chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.block = block
}

func (b *fakeBackend) createCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates
}

func (b *fakeBackend) muteCalls() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.mutes...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// drain returns the events buffered so far.
func drain(m *Machine) []Event {
	var out []Event
	for {
		select {
		case ev := <-m.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}
