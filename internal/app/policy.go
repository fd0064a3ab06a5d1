package app

import "github.com/dkeye/VoiceCoach/internal/core"

type BackpressureAction int

const (
	// DropMessage loses this message for the slow connection only.
	DropMessage BackpressureAction = iota
	// CloseConnection disconnects the slow client; it has to reconnect.
	CloseConnection
)

type Policy interface {
	OnBackpressure(conn core.SignalConnection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(core.SignalConnection) BackpressureAction {
	return DropMessage
}

type StrictPolicy struct{}

func (StrictPolicy) OnBackpressure(core.SignalConnection) BackpressureAction {
	return CloseConnection
}

// PolicyByName maps the config value to a policy; unknown names drop.
func PolicyByName(name string) Policy {
	if name == "close" {
		return StrictPolicy{}
	}
	return SimplePolicy{}
}
