package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/jonboulle/clockwork"
)

func newTestManager(t *testing.T, prov *fakeProvisioner) (*Manager, *clockwork.FakeClock, *recorder) {
	t.Helper()
	clk := clockwork.NewFakeClock()
	rec := &recorder{}
	m := NewManager(NewStore(), ManagerConfig{
		Provisioner: prov,
		Broadcaster: rec,
		Clock:       clk,
		Metrics:     testMetrics(t),
	})
	return m, clk, rec
}

func TestManager_CreateSession(t *testing.T) {
	t.Run("stores session and reverse index", func(t *testing.T) {
		m, _, _ := newTestManager(t, &fakeProvisioner{})

		s, err := m.CreateSession(context.Background(), "u1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.RoomAddress == "" || s.TransportCredential == "" {
			t.Errorf("expected room address and credential, got %+v", s)
		}
		owner, ok := m.OwnerOf(s.ExternalSessionID)
		if !ok || owner != "u1" {
			t.Errorf("OwnerOf(%q) = %q, %v; want u1, true", s.ExternalSessionID, owner, ok)
		}
	})

	t.Run("remaining time starts at the ttl", func(t *testing.T) {
		m, _, _ := newTestManager(t, &fakeProvisioner{})

		if _, err := m.CreateSession(context.Background(), "u1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := m.RemainingTime("u1")
		if got < 599*time.Second || got > 600*time.Second {
			t.Errorf("RemainingTime = %v, want within [599s, 600s]", got)
		}
	})

	t.Run("replaces an existing session", func(t *testing.T) {
		m, _, rec := newTestManager(t, &fakeProvisioner{})

		first, _ := m.CreateSession(context.Background(), "u1")
		second, err := m.CreateSession(context.Background(), "u1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first.ExternalSessionID == second.ExternalSessionID {
			t.Fatal("expected a new external session id")
		}
		if _, ok := m.OwnerOf(first.ExternalSessionID); ok {
			t.Error("reverse index still holds the replaced session")
		}
		if m.Len() != 1 {
			t.Errorf("Len = %d, want 1", m.Len())
		}
		if n := rec.terminations(domain.ReasonReplaced); n != 1 {
			t.Errorf("replaced terminations = %d, want 1", n)
		}
	})

	t.Run("provisioning failure leaves no state", func(t *testing.T) {
		prov := &fakeProvisioner{err: errors.New("upstream 500")}
		m, _, _ := newTestManager(t, prov)

		_, err := m.CreateSession(context.Background(), "u1")
		if !errors.Is(err, domain.ErrProvisioning) {
			t.Fatalf("expected ErrProvisioning, got %v", err)
		}
		if m.Len() != 0 {
			t.Errorf("Len = %d, want 0", m.Len())
		}

		prov.mu.Lock()
		prov.err = nil
		prov.mu.Unlock()
		if _, err := m.CreateSession(context.Background(), "u1"); err != nil {
			t.Fatalf("retry after failure: %v", err)
		}
	})

	t.Run("configuration error is returned without calling out", func(t *testing.T) {
		prov := &fakeProvisioner{}
		m := NewManager(NewStore(), ManagerConfig{
			Provisioner: prov,
			ConfigErr:   domain.ErrMissingCredential,
			Clock:       clockwork.NewFakeClock(),
			Metrics:     testMetrics(t),
		})

		_, err := m.CreateSession(context.Background(), "u1")
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Fatalf("expected ErrConfiguration, got %v", err)
		}
		if prov.CallCount() != 0 {
			t.Errorf("provisioner called %d times, want 0", prov.CallCount())
		}
	})
}

func TestManager_ConcurrentCreateKeepsOneSession(t *testing.T) {
	prov := &fakeProvisioner{block: make(chan struct{})}
	m, _, rec := newTestManager(t, prov)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.CreateSession(context.Background(), "u1")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(prov.block)
	wg.Wait()

	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	live := prov.CallCount() - rec.terminations(domain.ReasonReplaced)
	if live != 1 {
		t.Errorf("provisioned %d rooms, ended %d; want exactly one live",
			prov.CallCount(), rec.terminations(domain.ReasonReplaced))
	}
}

func TestManager_EndDuringProvisioningDiscardsResult(t *testing.T) {
	prov := &fakeProvisioner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	m, _, _ := newTestManager(t, prov)

	errc := make(chan error, 1)
	go func() {
		_, err := m.CreateSession(context.Background(), "u1")
		errc <- err
	}()
	<-prov.started

	if m.EndSession("u1", domain.ReasonUserStop) {
		t.Error("EndSession reported a session before provisioning finished")
	}
	close(prov.block)

	if err := <-errc; !errors.Is(err, domain.ErrSessionCancelled) {
		t.Fatalf("expected ErrSessionCancelled, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestManager_CreateAfterEndDuringProvisioningProvisionsAgain(t *testing.T) {
	for _, tc := range []struct {
		name string
		end  func(m *Manager)
	}{
		{"end session", func(m *Manager) { m.EndSession("u1", domain.ReasonUserStop) }},
		{"shutdown all", func(m *Manager) { m.ShutdownAll(domain.ReasonShutdown) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			prov := &fakeProvisioner{block: make(chan struct{}), started: make(chan struct{}, 1)}
			m, _, _ := newTestManager(t, prov)

			first := make(chan error, 1)
			go func() {
				_, err := m.CreateSession(context.Background(), "u1")
				first <- err
			}()
			<-prov.started
			tc.end(m)

			type result struct {
				s   domain.Session
				err error
			}
			second := make(chan result, 1)
			go func() {
				s, err := m.CreateSession(context.Background(), "u1")
				second <- result{s, err}
			}()
			select {
			case <-prov.started:
			case <-time.After(time.Second):
				t.Fatal("second create did not start its own provisioning call")
			}
			close(prov.block)

			if err := <-first; !errors.Is(err, domain.ErrSessionCancelled) {
				t.Errorf("first create: expected ErrSessionCancelled, got %v", err)
			}
			r := <-second
			if r.err != nil {
				t.Fatalf("second create: %v", r.err)
			}
			if prov.CallCount() != 2 {
				t.Errorf("provisioning calls = %d, want 2", prov.CallCount())
			}
			got, ok := m.Status("u1")
			if !ok || got.ExternalSessionID != r.s.ExternalSessionID {
				t.Errorf("stored session = %+v (ok=%v), want %s", got, ok, r.s.ExternalSessionID)
			}
		})
	}
}

func TestManager_EndSession(t *testing.T) {
	m, _, rec := newTestManager(t, &fakeProvisioner{})
	s, _ := m.CreateSession(context.Background(), "u1")

	if !m.EndSession("u1", domain.ReasonUserStop) {
		t.Fatal("first EndSession should remove the session")
	}
	if m.EndSession("u1", domain.ReasonUserStop) {
		t.Error("second EndSession should be a no-op")
	}
	if _, ok := m.OwnerOf(s.ExternalSessionID); ok {
		t.Error("reverse index entry survived EndSession")
	}
	if n := rec.terminations(domain.ReasonUserStop); n != 1 {
		t.Errorf("user_stop terminations = %d, want 1", n)
	}
	if got := m.RemainingTime("u1"); got != 0 {
		t.Errorf("RemainingTime after end = %v, want 0", got)
	}
}

func TestManager_TimeoutEndsSession(t *testing.T) {
	m, clk, rec := newTestManager(t, &fakeProvisioner{})
	if _, err := m.CreateSession(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(599 * time.Second)
	if _, ok := m.Status("u1"); !ok {
		t.Fatal("session ended before its ttl")
	}

	clk.Advance(time.Second)
	eventually(t, "session expiry", func() bool { return m.Len() == 0 })

	msgs := rec.ofType(domain.MessageTermination)
	if len(msgs) != 1 {
		t.Fatalf("terminations = %d, want 1", len(msgs))
	}
	if msgs[0].Reason() != domain.ReasonTimeout || msgs[0].Owner() != "u1" {
		t.Errorf("termination = %+v, want timeout for u1", msgs[0].Payload)
	}
}

func TestManager_EndCancelsTimer(t *testing.T) {
	m, clk, rec := newTestManager(t, &fakeProvisioner{})
	_, _ = m.CreateSession(context.Background(), "u1")
	m.EndSession("u1", domain.ReasonUserStop)

	clk.Advance(DefaultSessionTTL + time.Second)
	time.Sleep(20 * time.Millisecond)

	if n := rec.terminations(domain.ReasonTimeout); n != 0 {
		t.Errorf("timeout terminations after explicit end = %d, want 0", n)
	}
}

func TestManager_Mute(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeProvisioner{})

	if err := m.SetMuted("u1", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetMuted on absent session: got %v, want ErrNotFound", err)
	}

	_, _ = m.CreateSession(context.Background(), "u1")
	if err := m.SetMuted("u1", true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	if !m.IsMuted("u1") {
		t.Error("IsMuted = false after SetMuted(true)")
	}
	_ = m.SetMuted("u1", false)
	if m.IsMuted("u1") {
		t.Error("IsMuted = true after SetMuted(false)")
	}
}

func TestManager_ShutdownAll(t *testing.T) {
	m, _, rec := newTestManager(t, &fakeProvisioner{})
	for _, o := range []domain.OwnerID{"u1", "u2", "u3"} {
		if _, err := m.CreateSession(context.Background(), o); err != nil {
			t.Fatalf("create %s: %v", o, err)
		}
	}

	if n := m.ShutdownAll(domain.ReasonShutdown); n != 3 {
		t.Errorf("ShutdownAll ended %d, want 3", n)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
	if n := rec.terminations(domain.ReasonShutdown); n != 3 {
		t.Errorf("shutdown terminations = %d, want 3", n)
	}
}
