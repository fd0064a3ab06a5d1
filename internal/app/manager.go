package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/VoiceCoach/internal/core"
	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/dkeye/VoiceCoach/internal/observe"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const DefaultSessionTTL = 10 * time.Minute

type ManagerConfig struct {
	Provisioner core.Provisioner
	// ConfigErr is returned by every CreateSession when set, without calling out.
	ConfigErr   error
	Broadcaster core.Broadcaster
	Clock       clockwork.Clock
	TTL         time.Duration
	Metrics     *observe.Metrics
}

// Manager owns session lifecycle: provisioning, expiry timers and teardown.
// It enforces at most one session per owner.
type Manager struct {
	store     *Store
	prov      core.Provisioner
	configErr error
	bc        core.Broadcaster
	clock     clockwork.Clock
	ttl       time.Duration
	metrics   *observe.Metrics

	flights singleflight.Group
}

func NewManager(store *Store, cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Provisioner == nil && cfg.ConfigErr == nil {
		cfg.ConfigErr = domain.ErrMissingCredential
	}
	return &Manager{
		store:     store,
		prov:      cfg.Provisioner,
		configErr: cfg.ConfigErr,
		bc:        cfg.Broadcaster,
		clock:     cfg.Clock,
		ttl:       cfg.TTL,
		metrics:   cfg.Metrics,
	}
}

// ConfigErr reports the configuration error that disables provisioning, if any.
func (m *Manager) ConfigErr() error { return m.configErr }

func (m *Manager) TTL() time.Duration { return m.ttl }

// CreateSession provisions a fresh session for owner, ending any existing one
// first. Concurrent calls for the same owner share a single provisioning call.
func (m *Manager) CreateSession(ctx context.Context, owner domain.OwnerID) (domain.Session, error) {
	if m.configErr != nil {
		return domain.Session{}, m.configErr
	}
	v, err, shared := m.flights.Do(string(owner), func() (any, error) {
		return m.create(ctx, owner)
	})
	if shared {
		log.Info().Str("module", "app.manager").Str("owner", string(owner)).Msg("joined in-flight create")
	}
	if err != nil {
		return domain.Session{}, err
	}
	return v.(domain.Session), nil
}

func (m *Manager) create(ctx context.Context, owner domain.OwnerID) (domain.Session, error) {
	if m.end(owner, domain.ReasonReplaced) {
		log.Info().Str("module", "app.manager").Str("owner", string(owner)).Msg("ended previous session before create")
	}

	token := m.store.BeginPending(owner)
	sid := domain.NewExternalSessionID()

	// The provisioning call cannot be cancelled once started; a caller that
	// goes away does not abort it.
	callCtx := context.WithoutCancel(ctx)
	start := m.clock.Now()
	room, err := m.prov.StartAgentSession(callCtx, owner, sid)
	m.metrics.ProvisionDuration.Record(callCtx, m.clock.Since(start).Seconds())
	if err != nil {
		m.store.AbortPending(owner, token)
		kind := "remote"
		if errors.Is(err, domain.ErrConfiguration) {
			kind = "configuration"
		}
		m.metrics.RecordProvisionError(callCtx, kind)
		log.Error().Err(err).Str("module", "app.manager").Str("owner", string(owner)).Msg("provisioning failed")
		var perr *domain.ProvisioningError
		if errors.As(err, &perr) || errors.Is(err, domain.ErrConfiguration) {
			return domain.Session{}, err
		}
		return domain.Session{}, &domain.ProvisioningError{Err: err}
	}
	if room.ExternalID != "" {
		sid = room.ExternalID
	}

	now := m.clock.Now()
	sess := domain.Session{
		OwnerID:             owner,
		ExternalSessionID:   sid,
		RoomAddress:         room.Address,
		TransportCredential: room.Credential,
		CreatedAt:           now,
		ExpiresAt:           now.Add(m.ttl),
	}
	timer := m.clock.AfterFunc(m.ttl, func() { m.expire(owner, sid) })
	prev, ok := m.store.Commit(sess, timer, token)
	if !ok {
		timer.Stop()
		log.Warn().Str("module", "app.manager").Str("owner", string(owner)).Str("session_id", string(sid)).
			Msg("session ended during provisioning, discarding room")
		return domain.Session{}, domain.ErrSessionCancelled
	}
	if prev != nil {
		prev.Timer.Stop()
		m.finish(prev.Session, domain.ReasonReplaced)
	}
	m.metrics.RecordSessionCreated(callCtx)
	log.Info().Str("module", "app.manager").Str("owner", string(owner)).Str("session_id", string(sid)).
		Time("expires_at", sess.ExpiresAt).Msg("session created")
	return sess, nil
}

// EndSession removes the owner's session and reports whether one existed.
// Ending an absent session is a no-op. No remote call is made: the provider
// has no end operation and rooms expire on their own. A create still in
// flight is detached so the next create provisions a fresh room.
func (m *Manager) EndSession(owner domain.OwnerID, reason string) bool {
	m.flights.Forget(string(owner))
	return m.end(owner, reason)
}

func (m *Manager) end(owner domain.OwnerID, reason string) bool {
	m.store.CancelPending(owner)
	e, ok := m.store.Remove(owner)
	if !ok {
		log.Debug().Str("module", "app.manager").Str("owner", string(owner)).Str("reason", reason).Msg("end: no session")
		return false
	}
	e.Timer.Stop()
	m.finish(e.Session, reason)
	return true
}

func (m *Manager) expire(owner domain.OwnerID, sid domain.ExternalSessionID) {
	e, ok := m.store.RemoveIf(owner, sid)
	if !ok {
		return
	}
	m.finish(e.Session, domain.ReasonTimeout)
}

func (m *Manager) finish(s domain.Session, reason string) {
	m.metrics.RecordSessionEnded(context.Background(), reason)
	log.Info().Str("module", "app.manager").Str("owner", string(s.OwnerID)).Str("session_id", string(s.ExternalSessionID)).
		Str("reason", reason).Msg("session ended")
	if m.bc != nil {
		m.bc.Broadcast(domain.NewTermination(m.clock.Now(), reason, s.OwnerID, s.ExternalSessionID))
	}
}

// ShutdownAll ends every session and discards in-flight provisioning results.
func (m *Manager) ShutdownAll(reason string) int {
	for _, owner := range m.store.CancelAllPending() {
		m.flights.Forget(string(owner))
	}
	n := 0
	for _, owner := range m.store.Owners() {
		if m.EndSession(owner, reason) {
			n++
		}
	}
	log.Info().Str("module", "app.manager").Str("reason", reason).Int("ended", n).Msg("shutdown all sessions")
	return n
}

func (m *Manager) SetMuted(owner domain.OwnerID, muted bool) error {
	if !m.store.SetMuted(owner, muted) {
		return domain.ErrNotFound
	}
	return nil
}

func (m *Manager) IsMuted(owner domain.OwnerID) bool { return m.store.IsMuted(owner) }

func (m *Manager) OwnerOf(sid domain.ExternalSessionID) (domain.OwnerID, bool) {
	return m.store.OwnerOf(sid)
}

func (m *Manager) Status(owner domain.OwnerID) (domain.Session, bool) {
	return m.store.Get(owner)
}

// RemainingTime is max(0, expiresAt-now), zero when there is no session.
func (m *Manager) RemainingTime(owner domain.OwnerID) time.Duration {
	s, ok := m.store.Get(owner)
	if !ok {
		return 0
	}
	return s.Remaining(m.clock.Now())
}

func (m *Manager) Len() int { return m.store.Len() }
