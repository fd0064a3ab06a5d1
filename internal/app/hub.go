package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/VoiceCoach/internal/core"
	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/dkeye/VoiceCoach/internal/observe"
	"github.com/rs/zerolog/log"
)

// Hub tracks live events connections and fans messages out to them.
// It never closes connections except when the backpressure policy says so.
type Hub struct {
	mu      sync.RWMutex
	conns   map[core.ConnID]core.SignalConnection
	policy  Policy
	metrics *observe.Metrics
}

func NewHub(policy Policy, metrics *observe.Metrics) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Hub{
		conns:   make(map[core.ConnID]core.SignalConnection),
		policy:  policy,
		metrics: metrics,
	}
}

func (h *Hub) Register(conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID()]; ok {
		return
	}
	h.conns[conn.ID()] = conn
	h.metrics.LiveConnections.Add(context.Background(), 1)
	log.Info().Str("module", "app.hub").Str("conn", string(conn.ID())).Int("live", len(h.conns)).Msg("connection registered")
}

// Unregister is idempotent; close and transport error paths both call it.
func (h *Hub) Unregister(conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID()]; !ok {
		return
	}
	delete(h.conns, conn.ID())
	h.metrics.LiveConnections.Add(context.Background(), -1)
	log.Info().Str("module", "app.hub").Str("conn", string(conn.ID())).Int("live", len(h.conns)).Msg("connection unregistered")
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends msg to every open connection. Closed connections are
// skipped and left registered; nothing is retried or stored for late joiners.
func (h *Hub) Broadcast(msg domain.BroadcastMessage) core.PublishResult {
	res := core.PublishResult{}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("broadcast marshal")
		return res
	}

	h.mu.RLock()
	targets := make([]core.SignalConnection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.IsOpen() {
			res.Skipped++
			continue
		}
		if err := c.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, c)
			continue
		}
		res.SendTo++
	}

	for _, slow := range res.Dropped {
		switch h.policy.OnBackpressure(slow) {
		case CloseConnection:
			log.Warn().Str("module", "app.hub").Str("conn", string(slow.ID())).Msg("closing slow connection")
			h.Unregister(slow)
			slow.Close()
		case DropMessage:
			log.Debug().Str("module", "app.hub").Str("conn", string(slow.ID())).Msg("dropped message for slow connection")
		}
	}

	ctx := context.Background()
	h.metrics.RecordBroadcast(ctx, "sent", res.SendTo)
	h.metrics.RecordBroadcast(ctx, "skipped", res.Skipped)
	h.metrics.RecordBroadcast(ctx, "dropped", len(res.Dropped))
	log.Debug().Str("module", "app.hub").Str("type", string(msg.Type)).Int("sent_to", res.SendTo).
		Int("skipped", res.Skipped).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
