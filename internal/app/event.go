package app

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/tidwall/gjson"
)

var ErrMalformedEvent = errors.New("malformed event")

var (
	numberKeys     = []string{"number", "answer", "value"}
	transcriptKeys = []string{"transcription", "transcript", "text"}
	sessionKeys    = []string{"session_id", "conversation_id", "call_id", "room_id"}
	sessionScopes  = []string{"", "metadata.", "custom_data."}
)

// InboundEvent is one agent post, parsed best-effort from whatever shape
// the provider sends. It is consumed once and never stored.
type InboundEvent struct {
	Number      *int
	Transcript  string
	Metadata    map[string]any
	SessionRefs []domain.ExternalSessionID
	ArrivedAt   time.Time
}

// HasContent reports whether the event carries anything worth broadcasting.
func (e InboundEvent) HasContent() bool {
	return e.Number != nil || strings.TrimSpace(e.Transcript) != ""
}

// ParseEvent fails only when body is not JSON; missing fields are left empty.
func ParseEvent(body []byte, at time.Time) (InboundEvent, error) {
	if !gjson.ValidBytes(body) {
		return InboundEvent{}, ErrMalformedEvent
	}
	root := gjson.ParseBytes(body)
	ev := InboundEvent{ArrivedAt: at}

	for _, k := range numberKeys {
		if n, ok := asInt(root.Get(k)); ok {
			ev.Number = &n
			break
		}
	}
	for _, k := range transcriptKeys {
		if r := root.Get(k); r.Type == gjson.String {
			ev.Transcript = r.Str
			break
		}
	}
	if md := root.Get("metadata"); md.IsObject() {
		if m, ok := md.Value().(map[string]any); ok {
			ev.Metadata = m
		}
	}
	seen := make(map[string]struct{})
	for _, scope := range sessionScopes {
		for _, k := range sessionKeys {
			r := root.Get(scope + k)
			if r.Type != gjson.String && r.Type != gjson.Number {
				continue
			}
			id := strings.TrimSpace(r.String())
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ev.SessionRefs = append(ev.SessionRefs, domain.ExternalSessionID(id))
		}
	}
	return ev, nil
}

func asInt(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Int()), true
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(r.Str))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
