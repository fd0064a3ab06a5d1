package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// EventStream reads broadcasts from the server's events channel.
type EventStream struct {
	url    string
	dialer *websocket.Dialer
}

func NewEventStream(baseURL string, jar http.CookieJar) *EventStream {
	u := strings.TrimRight(baseURL, "/") + "/api/ws/events"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &EventStream{
		url: u,
		dialer: &websocket.Dialer{
			Jar:              jar,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Run delivers every broadcast until ctx is done or the connection drops.
func (s *EventStream) Run(ctx context.Context, deliver func(domain.BroadcastMessage)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	log.Info().Str("module", "client").Str("url", s.url).Msg("events stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var msg domain.BroadcastMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Str("module", "client").Msg("bad broadcast frame")
			continue
		}
		if msg.Type != domain.MessageDataEvent && msg.Type != domain.MessageTermination {
			continue
		}
		deliver(msg)
	}
}
