package core

import (
	"github.com/dkeye/VoiceCoach/internal/domain"
)

// PublishResult reports delivery stats/backpressure to callers.
type PublishResult struct {
	SendTo  int
	Skipped int
	Dropped []SignalConnection
}

// Broadcaster fans a message out to every live events connection.
type Broadcaster interface {
	Broadcast(msg domain.BroadcastMessage) PublishResult
}

// SessionDirectory is the read side of the session store the webhook gate needs.
type SessionDirectory interface {
	OwnerOf(sid domain.ExternalSessionID) (domain.OwnerID, bool)
	IsMuted(owner domain.OwnerID) bool
}

// Terminator ends sessions on behalf of components that do not own them.
type Terminator interface {
	ShutdownAll(reason string) int
}
