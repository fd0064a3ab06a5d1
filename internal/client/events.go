package client

import (
	"fmt"
	"time"
)

type State string

const (
	StateOff           State = "off"
	StateConnecting    State = "connecting"
	StateActive        State = "active"
	StateDisconnecting State = "disconnecting"
	StateError         State = "error"
)

// Event is one of StateChanged, VoiceLevel, Error or GoodbyeDetected.
type Event interface {
	isEvent()
}

type StateChanged struct {
	From, To State
	Reason   string
	At       time.Time
}

type VoiceLevel struct {
	Level float64
}

// Error carries a short user-facing message; Err is for logs.
type Error struct {
	Message string
	Err     error
}

type GoodbyeDetected struct{}

func (StateChanged) isEvent()    {}
func (VoiceLevel) isEvent()      {}
func (Error) isEvent()           {}
func (GoodbyeDetected) isEvent() {}

func (e StateChanged) String() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("%s -> %s (%s)", e.From, e.To, e.Reason)
}
