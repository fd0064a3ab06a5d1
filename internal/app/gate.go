package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/VoiceCoach/internal/core"
	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/dkeye/VoiceCoach/internal/observe"
	"github.com/dkeye/VoiceCoach/internal/transcript"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDebounceWindow = 900 * time.Millisecond
	DefaultGoodbyeGrace   = 2 * time.Second
)

type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeDebounced   Outcome = "debounced"
	OutcomeMuted       Outcome = "muted"
	OutcomeTermination Outcome = "termination"
	OutcomeMalformed   Outcome = "malformed"
)

type Result struct {
	Outcome Outcome        `json:"outcome"`
	Owner   domain.OwnerID `json:"owner_id,omitempty"`
	Answer  *int           `json:"answer,omitempty"`
}

type GateConfig struct {
	Directory   core.SessionDirectory
	Terminator  core.Terminator
	Broadcaster core.Broadcaster
	Clock       clockwork.Clock
	Window      time.Duration
	Grace       time.Duration
	Farewells   []string
	Metrics     *observe.Metrics
}

// Gate ingests agent events: farewell detection, mute filtering, a single
// global debounce window and spoken-number correction.
type Gate struct {
	dir       core.SessionDirectory
	term      core.Terminator
	bc        core.Broadcaster
	clock     clockwork.Clock
	window    time.Duration
	grace     time.Duration
	farewells []string
	metrics   *observe.Metrics

	mu           sync.Mutex
	lastAccepted time.Time
	cascade      clockwork.Timer
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultDebounceWindow
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGoodbyeGrace
	}
	if len(cfg.Farewells) == 0 {
		cfg.Farewells = transcript.DefaultFarewells
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Gate{
		dir:       cfg.Directory,
		term:      cfg.Terminator,
		bc:        cfg.Broadcaster,
		clock:     cfg.Clock,
		window:    cfg.Window,
		grace:     cfg.Grace,
		farewells: cfg.Farewells,
		metrics:   cfg.Metrics,
	}
}

// Accept runs one raw agent post through the gate. It never fails: bad
// input comes back as OutcomeMalformed and is dropped.
func (g *Gate) Accept(body []byte) Result {
	res := g.accept(body)
	g.metrics.RecordWebhookEvent(context.Background(), string(res.Outcome))
	return res
}

func (g *Gate) accept(body []byte) Result {
	now := g.clock.Now()
	ev, err := ParseEvent(body, now)
	if err != nil {
		log.Debug().Err(err).Str("module", "app.gate").Int("bytes", len(body)).Msg("dropping unparsable event")
		return Result{Outcome: OutcomeMalformed}
	}

	if transcript.ContainsFarewell(ev.Transcript, g.farewells) {
		g.startCascade(now)
		return Result{Outcome: OutcomeTermination}
	}

	owner, sid := g.resolve(ev.SessionRefs)
	if owner != "" && g.dir.IsMuted(owner) {
		log.Debug().Str("module", "app.gate").Str("owner", string(owner)).Msg("owner muted, dropping event")
		return Result{Outcome: OutcomeMuted, Owner: owner}
	}

	if !ev.HasContent() {
		log.Debug().Str("module", "app.gate").Msg("event without number or transcript, dropping")
		return Result{Outcome: OutcomeMalformed, Owner: owner}
	}

	g.mu.Lock()
	if since := now.Sub(g.lastAccepted); !g.lastAccepted.IsZero() && since < g.window {
		g.mu.Unlock()
		log.Debug().Str("module", "app.gate").Dur("since_last", since).Msg("debounced")
		return Result{Outcome: OutcomeDebounced, Owner: owner}
	}
	g.lastAccepted = now
	g.mu.Unlock()

	answer, source := normalize(ev)
	payload := map[string]any{
		"transcription": ev.Transcript,
		"source":        source,
	}
	if answer != nil {
		payload["answer"] = *answer
	} else {
		payload["answer"] = nil
	}
	if owner != "" {
		payload["owner_id"] = string(owner)
		payload["session_id"] = string(sid)
	}
	if ev.Metadata != nil {
		payload["metadata"] = ev.Metadata
	}
	if g.bc != nil {
		g.bc.Broadcast(domain.NewDataEvent(now, payload))
	}
	log.Info().Str("module", "app.gate").Str("owner", string(owner)).Str("source", source).Msg("event accepted")
	return Result{Outcome: OutcomeAccepted, Owner: owner, Answer: answer}
}

func (g *Gate) resolve(refs []domain.ExternalSessionID) (domain.OwnerID, domain.ExternalSessionID) {
	if g.dir == nil {
		return "", ""
	}
	for _, ref := range refs {
		if owner, ok := g.dir.OwnerOf(ref); ok {
			return owner, ref
		}
	}
	return "", ""
}

// normalize prefers a number parsed from the transcript over the numeric
// field, which the agent sometimes reports stale.
func normalize(ev InboundEvent) (*int, string) {
	if n, ok := transcript.ParseNumber(ev.Transcript); ok {
		if ev.Number != nil && *ev.Number != n {
			log.Debug().Str("module", "app.gate").Int("field", *ev.Number).Int("spoken", n).Msg("correcting numeric field from transcript")
		}
		return &n, "transcript"
	}
	if ev.Number != nil {
		n := *ev.Number
		return &n, "field"
	}
	return nil, "none"
}

// startCascade broadcasts the termination immediately and ends every
// session after the grace delay, so the agent can finish its farewell.
func (g *Gate) startCascade(now time.Time) {
	log.Info().Str("module", "app.gate").Dur("grace", g.grace).Msg("farewell detected")
	if g.bc != nil {
		g.bc.Broadcast(domain.NewTermination(now, domain.ReasonUserGoodbye, "", ""))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cascade != nil {
		return
	}
	g.cascade = g.clock.AfterFunc(g.grace, func() {
		g.mu.Lock()
		g.cascade = nil
		g.mu.Unlock()
		if g.term != nil {
			g.term.ShutdownAll(domain.ReasonUserGoodbye)
		}
	})
}

// Close stops a pending farewell cascade.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cascade != nil {
		g.cascade.Stop()
		g.cascade = nil
	}
}
