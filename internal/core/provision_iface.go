package core

import (
	"context"

	"github.com/dkeye/VoiceCoach/internal/domain"
)

// Provisioner starts a remote agent session. There is no matching stop:
// rooms expire passively on the provider side.
type Provisioner interface {
	StartAgentSession(ctx context.Context, owner domain.OwnerID, sid domain.ExternalSessionID) (domain.Room, error)
}
