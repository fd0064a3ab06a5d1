package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 5 * time.Second

// Checker is a named readiness probe; Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type Health struct {
	checkers []Checker
}

func NewHealth(checkers ...Checker) *Health {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Health{checkers: c}
}

// Register mounts /healthz and /readyz.
func (h *Health) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
}

func (h *Health) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Health) Readyz(c *gin.Context) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true
	for _, ch := range h.checkers {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		err := ch.Check(ctx)
		cancel()
		if err != nil {
			checks[ch.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[ch.Name] = "ok"
		}
	}

	if !allOK {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "fail", Checks: checks})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}
