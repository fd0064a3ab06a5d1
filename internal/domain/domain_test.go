package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseOwnerID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "ok", raw: "8a3f", want: nil},
		{name: "empty", raw: "", want: ErrOwnerIDEmpty},
		{name: "max length", raw: strings.Repeat("a", MaxOwnerIDLen), want: nil},
		{name: "too long", raw: strings.Repeat("a", MaxOwnerIDLen+1), want: ErrOwnerIDTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOwnerID(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseOwnerID(%q) = %v, want %v", tt.raw, err, tt.want)
			}
		})
	}
}

func TestSessionRemaining(t *testing.T) {
	now := time.Unix(1000, 0)
	s := Session{ExpiresAt: now.Add(time.Minute)}
	if got := s.Remaining(now); got != time.Minute {
		t.Errorf("Remaining = %v, want 1m", got)
	}
	if got := s.Remaining(now.Add(2 * time.Minute)); got != 0 {
		t.Errorf("Remaining after expiry = %v, want 0", got)
	}
}

func TestTermination(t *testing.T) {
	at := time.UnixMilli(1234)
	msg := NewTermination(at, ReasonTimeout, "u1", "s1")
	if msg.Type != MessageTermination || msg.Timestamp != 1234 {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Reason() != ReasonTimeout || msg.Owner() != "u1" || msg.SessionID() != "s1" {
		t.Errorf("accessors = %q %q %q", msg.Reason(), msg.Owner(), msg.SessionID())
	}

	global := NewTermination(at, ReasonUserGoodbye, "", "")
	if _, ok := global.Payload["owner_id"]; ok {
		t.Error("global termination must not carry owner_id")
	}
	if data := NewDataEvent(at, map[string]any{"reason": "x"}); data.Reason() != "" {
		t.Error("data events have no termination reason")
	}
}

func TestProvisioningError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ProvisioningError{Status: 502, Err: cause})
	if !errors.Is(err, ErrProvisioning) || !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if errors.Is(err, ErrConfiguration) {
		t.Error("provisioning failure is not a configuration error")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("Error() = %q, want status", err.Error())
	}
}
