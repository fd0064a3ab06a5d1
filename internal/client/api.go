package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/tidwall/gjson"
)

var ErrRateLimited = errors.New("too many session requests")

type SessionInfo struct {
	OwnerID   domain.OwnerID
	SessionID domain.ExternalSessionID
	RoomURL   string
	Token     string
	ExpiresAt time.Time
	Remaining time.Duration
}

type StatusInfo struct {
	Active    bool
	SessionID domain.ExternalSessionID
	Muted     bool
	Remaining time.Duration
}

// APIClient talks to the session endpoints. Identity is the client-token
// cookie the server sets on the first response, kept in the jar.
type APIClient struct {
	base string
	http *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) (*APIClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

// Jar exposes the cookie jar so the events stream shares the identity.
func (c *APIClient) Jar() http.CookieJar { return c.http.Jar }

func (c *APIClient) BaseURL() string { return c.base }

func (c *APIClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, raw, err
}

func errorText(raw []byte) string {
	if msg := gjson.GetBytes(raw, "error").String(); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(raw))
}

func (c *APIClient) CreateSession(ctx context.Context) (SessionInfo, error) {
	status, raw, err := c.do(ctx, http.MethodPost, "/api/session", nil)
	if err != nil {
		return SessionInfo{}, &domain.ProvisioningError{Err: err}
	}
	switch status {
	case http.StatusCreated, http.StatusOK:
	case http.StatusServiceUnavailable:
		return SessionInfo{}, fmt.Errorf("%w: %s", domain.ErrConfiguration, errorText(raw))
	case http.StatusConflict:
		return SessionInfo{}, domain.ErrSessionCancelled
	case http.StatusTooManyRequests:
		return SessionInfo{}, ErrRateLimited
	default:
		return SessionInfo{}, &domain.ProvisioningError{Status: status, Err: errors.New(errorText(raw))}
	}

	var body struct {
		OwnerID     string    `json:"owner_id"`
		SessionID   string    `json:"session_id"`
		RoomURL     string    `json:"room_url"`
		Token       string    `json:"token"`
		ExpiresAt   time.Time `json:"expires_at"`
		RemainingMS int64     `json:"remaining_ms"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return SessionInfo{}, &domain.ProvisioningError{Status: status, Err: err}
	}
	return SessionInfo{
		OwnerID:   domain.OwnerID(body.OwnerID),
		SessionID: domain.ExternalSessionID(body.SessionID),
		RoomURL:   body.RoomURL,
		Token:     body.Token,
		ExpiresAt: body.ExpiresAt,
		Remaining: time.Duration(body.RemainingMS) * time.Millisecond,
	}, nil
}

// EndSession treats an absent session as success.
func (c *APIClient) EndSession(ctx context.Context) error {
	status, raw, err := c.do(ctx, http.MethodDelete, "/api/session", nil)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent || status == http.StatusOK || status == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("end session: status %d: %s", status, errorText(raw))
}

func (c *APIClient) SetMuted(ctx context.Context, muted bool) error {
	status, raw, err := c.do(ctx, http.MethodPost, "/api/session/mute", map[string]bool{"muted": muted})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return domain.ErrNotFound
	default:
		return fmt.Errorf("mute: status %d: %s", status, errorText(raw))
	}
}

func (c *APIClient) Status(ctx context.Context) (StatusInfo, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/api/session", nil)
	if err != nil {
		return StatusInfo{}, err
	}
	if status != http.StatusOK {
		return StatusInfo{}, fmt.Errorf("status: status %d: %s", status, errorText(raw))
	}
	res := gjson.ParseBytes(raw)
	return StatusInfo{
		Active:    res.Get("active").Bool(),
		SessionID: domain.ExternalSessionID(res.Get("session_id").String()),
		Muted:     res.Get("muted").Bool(),
		Remaining: time.Duration(res.Get("remaining_ms").Int()) * time.Millisecond,
	}, nil
}
