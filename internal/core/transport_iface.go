package core

import "context"

type TransportEventKind string

const (
	TransportJoined             TransportEventKind = "joined"
	TransportLeft               TransportEventKind = "left"
	TransportError              TransportEventKind = "error"
	TransportParticipantUpdated TransportEventKind = "participant-updated"
	TransportNetworkQuality     TransportEventKind = "network-quality-changed"
	TransportParticipantLeft    TransportEventKind = "participant-left"
)

// TransportEvent is raised by a Transport on its own goroutines.
type TransportEvent struct {
	Kind TransportEventKind
	// AudioLevel of the remote participant in [0,1], for participant-updated.
	AudioLevel float64
	// Quality is "good", "fair" or "poor", for network-quality-changed.
	Quality string
	Err     error
}

// Transport is the client side of the real-time audio room.
type Transport interface {
	Join(ctx context.Context, address, credential string) error
	Leave() error
	SetLocalAudioEnabled(enabled bool) error
	OnEvent(fn func(TransportEvent))
}
