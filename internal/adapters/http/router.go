package http

import (
	"context"
	"net/http"

	"github.com/dkeye/VoiceCoach/internal/adapters/signal"
	"github.com/dkeye/VoiceCoach/internal/app"
	"github.com/dkeye/VoiceCoach/internal/config"
	"github.com/dkeye/VoiceCoach/internal/observe"
	transporthttp "github.com/dkeye/VoiceCoach/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	clientTokenCookie = "ct"
	maxWebhookBody    = 64 << 10
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if token == "" {
			token = genClientToken()
			c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// Deps are the collaborators the router exposes over HTTP.
type Deps struct {
	Manager *app.Manager
	Gate    *app.Gate
	Hub     *app.Hub
	Limiter *CreateRateLimiter
	Health  *transporthttp.Health
	Metrics *observe.Metrics
	// Metrics handler; defaults to promhttp.Handler().
	Scrape http.Handler
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Scrape == nil {
		d.Scrape = promhttp.Handler()
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(observe.Middleware(d.Metrics))

	if d.Health != nil {
		d.Health.Register(r)
	}
	r.GET("/metrics", gin.WrapH(d.Scrape))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	// The agent webhook carries no browser identity.
	r.POST("/api/webhook/agent", webhookHandler(d.Gate))

	store := cookie.NewStore([]byte(cfg.Secret))
	api := r.Group("/api")
	api.Use(sessions.Sessions("VoiceSessions", store))
	api.Use(ClientTokenMiddleware())

	h := &sessionHandlers{mgr: d.Manager, limiter: d.Limiter}
	api.POST("/session", h.create)
	api.DELETE("/session", h.end)
	api.GET("/session", h.status)
	api.POST("/session/mute", h.mute)

	events := signal.NewEventsController(d.Hub, cfg.ReadLimit, cfg.PingPeriod)
	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("owner", c.GetString("client_token")).Msg("ws events endpoint hit")
		events.HandleEvents(ctx, c)
	})

	return r
}
