package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/VoiceCoach/internal/app"
	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const lastSessionKey = "external_session_id"

type sessionHandlers struct {
	mgr     *app.Manager
	limiter *CreateRateLimiter
}

type CreateResponse struct {
	OwnerID     domain.OwnerID           `json:"owner_id"`
	SessionID   domain.ExternalSessionID `json:"session_id"`
	RoomURL     string                   `json:"room_url"`
	Token       string                   `json:"token"`
	ExpiresAt   time.Time                `json:"expires_at"`
	RemainingMS int64                    `json:"remaining_ms"`
}

type StatusResponse struct {
	Active        bool                     `json:"active"`
	SessionID     domain.ExternalSessionID `json:"session_id,omitempty"`
	LastSessionID string                   `json:"last_session_id,omitempty"`
	Muted         bool                     `json:"muted"`
	RemainingMS   int64                    `json:"remaining_ms"`
	ExpiresAt     *time.Time               `json:"expires_at,omitempty"`
}

type MuteRequest struct {
	Muted *bool `json:"muted"`
}

func owner(c *gin.Context) (domain.OwnerID, bool) {
	o, err := domain.ParseOwnerID(c.GetString("client_token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return o, true
}

func (h *sessionHandlers) create(c *gin.Context) {
	o, ok := owner(c)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(o) {
		log.Warn().Str("module", "adapters.http").Str("owner", string(o)).Msg("create rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many session requests"})
		return
	}

	sess, err := h.mgr.CreateSession(c.Request.Context(), o)
	if err != nil {
		c.JSON(createStatus(err), gin.H{"error": err.Error()})
		return
	}

	s := sessions.Default(c)
	s.Set(lastSessionKey, string(sess.ExternalSessionID))
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
	}

	c.JSON(http.StatusCreated, CreateResponse{
		OwnerID:     sess.OwnerID,
		SessionID:   sess.ExternalSessionID,
		RoomURL:     sess.RoomAddress,
		Token:       sess.TransportCredential,
		ExpiresAt:   sess.ExpiresAt,
		RemainingMS: h.mgr.RemainingTime(o).Milliseconds(),
	})
}

func createStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSessionCancelled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProvisioning):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// end is idempotent: an absent session still answers 204.
func (h *sessionHandlers) end(c *gin.Context) {
	o, ok := owner(c)
	if !ok {
		return
	}
	h.mgr.EndSession(o, domain.ReasonUserStop)
	c.Status(http.StatusNoContent)
}

func (h *sessionHandlers) status(c *gin.Context) {
	o, ok := owner(c)
	if !ok {
		return
	}
	resp := StatusResponse{}
	if last, ok := sessions.Default(c).Get(lastSessionKey).(string); ok {
		resp.LastSessionID = last
	}
	if sess, ok := h.mgr.Status(o); ok {
		resp.Active = true
		resp.SessionID = sess.ExternalSessionID
		resp.Muted = sess.Muted
		resp.RemainingMS = h.mgr.RemainingTime(o).Milliseconds()
		resp.ExpiresAt = &sess.ExpiresAt
	}
	c.JSON(http.StatusOK, resp)
}

func (h *sessionHandlers) mute(c *gin.Context) {
	o, ok := owner(c)
	if !ok {
		return
	}
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid muted"})
		return
	}
	if err := h.mgr.SetMuted(o, *req.Muted); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}

// webhookHandler always answers 200; the outcome tells the agent what
// happened to its post.
func webhookHandler(gate *app.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			log.Debug().Err(err).Str("module", "adapters.http").Msg("read webhook body")
			c.JSON(http.StatusOK, app.Result{Outcome: app.OutcomeMalformed})
			return
		}
		c.JSON(http.StatusOK, gate.Accept(body))
	}
}
