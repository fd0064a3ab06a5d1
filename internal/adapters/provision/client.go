package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/dkeye/VoiceCoach/internal/observe"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultTimeout = 15 * time.Second
	sessionsPath   = "/v1/agent-sessions"
	maxBody        = 1 << 20
)

var (
	errNoAddress = errors.New("response has no room address")
	errNoToken   = errors.New("response has no access token")
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client starts agent sessions on the voice-room provider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.ErrMissingCredential
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: empty provider base url", domain.ErrConfiguration)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
	}, nil
}

type startRequest struct {
	OwnerID   string            `json:"owner_id"`
	SessionID string            `json:"session_id"`
	Metadata  map[string]string `json:"metadata"`
}

// StartAgentSession asks the provider for a room with an agent in it.
// The generated sid travels in the metadata so webhook posts can be
// mapped back to owner.
func (c *Client) StartAgentSession(ctx context.Context, owner domain.OwnerID, sid domain.ExternalSessionID) (domain.Room, error) {
	ctx, span := observe.StartSpan(ctx, "provision.StartAgentSession")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", string(owner)), attribute.String("session_id", string(sid)))

	room, status, err := c.start(ctx, owner, sid)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provisioning failed")
		log.Error().Err(err).Str("module", "provision").Str("owner", string(owner)).Int("status", status).Msg("start agent session")
		return domain.Room{}, &domain.ProvisioningError{Status: status, Err: err}
	}
	log.Info().Str("module", "provision").Str("owner", string(owner)).Str("sid", string(room.ExternalID)).Msg("agent session started")
	return room, nil
}

func (c *Client) start(ctx context.Context, owner domain.OwnerID, sid domain.ExternalSessionID) (domain.Room, int, error) {
	body, err := json.Marshal(startRequest{
		OwnerID:   string(owner),
		SessionID: string(sid),
		Metadata: map[string]string{
			"owner_id":   string(owner),
			"session_id": string(sid),
		},
	})
	if err != nil {
		return domain.Room{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionsPath, bytes.NewReader(body))
	if err != nil {
		return domain.Room{}, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if cid := observe.CorrelationID(ctx); cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Room{}, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.Room{}, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Room{}, resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}

	room, err := parseRoom(raw, sid)
	return room, resp.StatusCode, err
}

func parseRoom(raw []byte, sid domain.ExternalSessionID) (domain.Room, error) {
	if !gjson.ValidBytes(raw) {
		return domain.Room{}, errors.New("response is not json")
	}
	res := gjson.ParseBytes(raw)
	room := domain.Room{
		Address:    firstString(res, "room_url", "room", "dailyRoom"),
		Credential: firstString(res, "token", "dailyToken"),
		ExternalID: domain.ExternalSessionID(firstString(res, "session_id")),
	}
	if room.Address == "" {
		return domain.Room{}, errNoAddress
	}
	if room.Credential == "" {
		return domain.Room{}, errNoToken
	}
	if room.ExternalID == "" {
		room.ExternalID = sid
	}
	return room, nil
}

func firstString(res gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := res.Get(k); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
