package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceCoach/internal/core"
	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/dkeye/VoiceCoach/internal/observe"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// fakeProvisioner hands out rooms with predictable external ids. When block
// is set every call waits on it, which lets tests hold a call in flight.
type fakeProvisioner struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	started chan struct{}
}

func (p *fakeProvisioner) StartAgentSession(ctx context.Context, owner domain.OwnerID, sid domain.ExternalSessionID) (domain.Room, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	block, started, err := p.block, p.started, p.err
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return domain.Room{}, err
	}
	return domain.Room{
		ExternalID: domain.ExternalSessionID("ext-" + string(owner) + "-" + strconv.Itoa(n)),
		Address:    "https://rooms.example/" + string(sid),
		Credential: "tok",
	}, nil
}

func (p *fakeProvisioner) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recorder is a core.Broadcaster that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []domain.BroadcastMessage
}

func (r *recorder) Broadcast(msg domain.BroadcastMessage) core.PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return core.PublishResult{SendTo: 1}
}

func (r *recorder) ofType(t domain.MessageType) []domain.BroadcastMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.BroadcastMessage
	for _, m := range r.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) terminations(reason string) int {
	n := 0
	for _, m := range r.ofType(domain.MessageTermination) {
		if m.Reason() == reason {
			n++
		}
	}
	return n
}

// fakeConn is a core.SignalConnection with a bounded buffer.
type fakeConn struct {
	id     core.ConnID
	mu     sync.Mutex
	open   bool
	cap    int
	frames []core.Frame
	closed int
}

func newFakeConn(id string, capacity int) *fakeConn {
	return &fakeConn{id: core.ConnID(id), open: true, cap: capacity}
}

func (c *fakeConn) ID() core.ConnID { return c.id }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errors.New("connection closed")
	}
	if len(c.frames) >= c.cap {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed++
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// eventually polls cond until it holds; fake clock timers fire on their
// own goroutine after Advance.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
