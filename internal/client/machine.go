package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/VoiceCoach/internal/core"
	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultErrorDelay  = 3 * time.Second
	DefaultEventBuffer = 64
	tickInterval       = time.Second
	genericError       = "Voice session unavailable, please try again."
)

var ErrNotActive = errors.New("voice session not active")

// Backend is the server side of a voice session as seen by one client.
type Backend interface {
	CreateSession(ctx context.Context) (SessionInfo, error)
	EndSession(ctx context.Context) error
	SetMuted(ctx context.Context, muted bool) error
}

type MachineConfig struct {
	Transport core.Transport
	Backend   Backend
	Clock     clockwork.Clock
	// TTL seeds the countdown when the server does not report one.
	TTL         time.Duration
	ErrorDelay  time.Duration
	EventBuffer int
}

// Machine drives one client's voice session through
// off, connecting, active, disconnecting and error.
type Machine struct {
	tr         core.Transport
	be         Backend
	clock      clockwork.Clock
	ttl        time.Duration
	errorDelay time.Duration
	events     chan Event

	mu        sync.Mutex
	state     State
	gen       uint64
	accepting bool
	muted     bool
	remaining time.Duration
	deadline  time.Time
	session   *SessionInfo
	tickStop  chan struct{}
	errTimer  clockwork.Timer
	// staleLeaves counts Leave calls made for superseded attempts; a left
	// event raised while one runs belongs to that attempt.
	staleLeaves int
}

func NewMachine(cfg MachineConfig) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = DefaultErrorDelay
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	m := &Machine{
		tr:         cfg.Transport,
		be:         cfg.Backend,
		clock:      cfg.Clock,
		ttl:        cfg.TTL,
		errorDelay: cfg.ErrorDelay,
		events:     make(chan Event, cfg.EventBuffer),
		state:      StateOff,
		remaining:  cfg.TTL,
	}
	m.tr.OnEvent(m.handleTransport)
	return m
}

// Events delivers notifications; when the buffer is full new events are dropped.
func (m *Machine) Events() <-chan Event { return m.events }

func (m *Machine) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Warn().Str("module", "client").Interface("event", ev).Msg("event buffer full, dropping")
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Machine) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

func (m *Machine) Session() (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return SessionInfo{}, false
	}
	return *m.session, true
}

// setStateLocked must be called with mu held; the returned event is emitted
// by the caller after unlocking.
func (m *Machine) setStateLocked(to State, reason string) StateChanged {
	ev := StateChanged{From: m.state, To: to, Reason: reason, At: m.clock.Now()}
	m.state = to
	return ev
}

// Start provisions a session and joins its room. A Start while a session
// is connecting, active or being torn down is ignored.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateOff {
		st := m.state
		m.mu.Unlock()
		log.Debug().Str("module", "client").Str("state", string(st)).Msg("start ignored")
		return nil
	}
	m.gen++
	gen := m.gen
	m.accepting = true
	ev := m.setStateLocked(StateConnecting, "start")
	m.mu.Unlock()
	m.emit(ev)

	info, err := m.be.CreateSession(ctx)

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		if err == nil {
			// Stopped while provisioning; the room would otherwise leak.
			m.endBackend(ctx)
		}
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		m.fail(gen, err, false)
		return err
	}
	m.session = &info
	m.mu.Unlock()

	if err := m.tr.Join(ctx, info.RoomURL, info.Token); err != nil {
		m.fail(gen, err, true)
		return err
	}
	m.mu.Lock()
	stale := m.gen != gen
	m.mu.Unlock()
	if stale {
		// Stop ran its Leave before the room was joined.
		m.mu.Lock()
		m.staleLeaves++
		m.mu.Unlock()
		if err := m.tr.Leave(); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("transport leave failed")
		}
		m.mu.Lock()
		m.staleLeaves--
		m.mu.Unlock()
	}
	return nil
}

// Stop tears the session down in order: stop accepting input, cancel the
// countdown, leave the room, end the backend session, reset defaults.
// It is a no-op unless the machine is connecting or active.
func (m *Machine) Stop(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.state != StateConnecting && m.state != StateActive {
		m.mu.Unlock()
		return
	}
	m.accepting = false
	m.stopCountdownLocked()
	m.gen++
	ev := m.setStateLocked(StateDisconnecting, reason)
	m.session = nil
	m.mu.Unlock()
	m.emit(ev)

	log.Info().Str("module", "client").Str("reason", reason).Msg("stopping voice session")
	if err := m.tr.Leave(); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("transport leave failed")
	}
	m.endBackend(ctx)

	m.mu.Lock()
	m.muted = false
	m.remaining = m.ttl
	m.deadline = time.Time{}
	ev = m.setStateLocked(StateOff, reason)
	m.mu.Unlock()
	m.emit(ev)
}

func (m *Machine) endBackend(ctx context.Context) {
	if err := m.be.EndSession(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Str("module", "client").Msg("backend end session failed")
	}
}

// fail moves a connecting or active attempt to error and schedules the
// automatic return to off. joined reports whether a room may need leaving.
func (m *Machine) fail(gen uint64, cause error, joined bool) {
	m.mu.Lock()
	if m.gen != gen || (m.state != StateConnecting && m.state != StateActive) {
		m.mu.Unlock()
		return
	}
	m.accepting = false
	m.stopCountdownLocked()
	hadSession := m.session != nil
	m.session = nil
	ev := m.setStateLocked(StateError, cause.Error())
	if m.errTimer != nil {
		m.errTimer.Stop()
	}
	m.errTimer = m.clock.AfterFunc(m.errorDelay, func() { m.resetFromError(gen) })
	m.mu.Unlock()

	log.Error().Err(cause).Str("module", "client").Msg("voice session failed")
	m.emit(ev)
	m.emit(Error{Message: genericError, Err: cause})

	if joined {
		if err := m.tr.Leave(); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("transport leave failed")
		}
	}
	if hadSession {
		m.endBackend(context.Background())
	}
}

func (m *Machine) resetFromError(gen uint64) {
	m.mu.Lock()
	if m.state != StateError || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.errTimer = nil
	m.muted = false
	m.remaining = m.ttl
	ev := m.setStateLocked(StateOff, "error reset")
	m.mu.Unlock()
	m.emit(ev)
}

// SetMuted flips local audio immediately and tells the backend in the
// background. A backend failure is reported but does not undo local mute.
func (m *Machine) SetMuted(ctx context.Context, muted bool) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	m.mu.Unlock()

	if err := m.tr.SetLocalAudioEnabled(!muted); err != nil {
		return err
	}
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		if err := m.be.SetMuted(bg, muted); err != nil {
			log.Warn().Err(err).Str("module", "client").Bool("muted", muted).Msg("backend mute failed")
			m.emit(Error{Message: "Could not sync mute with the server.", Err: err})
		}
	}()
	return nil
}

// HandleMessage applies a server broadcast. Terminations addressed to a
// different owner or an older session are ignored. Before the session is
// known only global terminations apply.
func (m *Machine) HandleMessage(ctx context.Context, msg domain.BroadcastMessage) {
	if msg.Type != domain.MessageTermination {
		return
	}
	m.mu.Lock()
	sess, st := m.session, m.state
	m.mu.Unlock()
	if st != StateConnecting && st != StateActive {
		return
	}
	if sess == nil {
		if msg.Owner() != "" {
			return
		}
	} else {
		if o := msg.Owner(); o != "" && o != sess.OwnerID {
			return
		}
		if sid := msg.SessionID(); sid != "" && sid != sess.SessionID {
			return
		}
	}

	reason := msg.Reason()
	if reason == domain.ReasonUserGoodbye {
		m.emit(GoodbyeDetected{})
	}
	m.Stop(ctx, reason)
}

func (m *Machine) handleTransport(ev core.TransportEvent) {
	switch ev.Kind {
	case core.TransportJoined:
		m.onJoined()
	case core.TransportLeft:
		m.mu.Lock()
		stale := m.staleLeaves > 0
		m.mu.Unlock()
		if stale {
			log.Debug().Str("module", "client").Msg("left event from superseded attempt ignored")
			return
		}
		m.Stop(context.Background(), domain.ReasonTransportEnd)
	case core.TransportParticipantLeft:
		if m.State() == StateActive {
			m.Stop(context.Background(), domain.ReasonAgentLeft)
		}
	case core.TransportError:
		m.mu.Lock()
		gen := m.gen
		m.mu.Unlock()
		err := ev.Err
		if err == nil {
			err = errors.New("transport error")
		}
		m.fail(gen, err, true)
	case core.TransportParticipantUpdated:
		m.mu.Lock()
		accepting := m.accepting && m.state == StateActive
		m.mu.Unlock()
		if accepting {
			m.emit(VoiceLevel{Level: ev.AudioLevel})
		}
	case core.TransportNetworkQuality:
		log.Debug().Str("module", "client").Str("quality", ev.Quality).Msg("network quality changed")
	}
}

func (m *Machine) onJoined() {
	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	ttl := m.ttl
	if m.session != nil && m.session.Remaining > 0 {
		ttl = m.session.Remaining
	}
	m.remaining = ttl
	m.deadline = m.clock.Now().Add(ttl)
	ev := m.setStateLocked(StateActive, "joined")
	m.startCountdownLocked(m.gen)
	m.mu.Unlock()
	m.emit(ev)
}

func (m *Machine) startCountdownLocked(gen uint64) {
	stop := make(chan struct{})
	m.tickStop = stop
	ticker := m.clock.NewTicker(tickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				if m.tick(gen) {
					m.Stop(context.Background(), domain.ReasonTimeout)
					return
				}
			}
		}
	}()
}

func (m *Machine) stopCountdownLocked() {
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}
}

// tick refreshes the remaining time from the deadline and reports expiry.
func (m *Machine) tick(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state != StateActive {
		return false
	}
	rem := m.deadline.Sub(m.clock.Now())
	if rem < 0 {
		rem = 0
	}
	m.remaining = rem
	return rem == 0
}
