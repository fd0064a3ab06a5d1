package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/VoiceCoach/internal/adapters/http"
	"github.com/dkeye/VoiceCoach/internal/adapters/provision"
	"github.com/dkeye/VoiceCoach/internal/app"
	"github.com/dkeye/VoiceCoach/internal/config"
	"github.com/dkeye/VoiceCoach/internal/core"
	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/dkeye/VoiceCoach/internal/observe"
	transporthttp "github.com/dkeye/VoiceCoach/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voicecoach"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init telemetry")
	}
	metrics := observe.DefaultMetrics()

	// A missing credential disables sessions but keeps the server up, so the
	// failure surfaces on the first attempt and in /readyz.
	var prov core.Provisioner
	configErr := cfg.Validate()
	if configErr == nil {
		client, err := provision.New(provision.Config{
			BaseURL: cfg.Provider.BaseURL,
			APIKey:  cfg.Provider.APIKey,
			Timeout: cfg.Provider.Timeout,
		})
		if err != nil {
			configErr = err
		} else {
			prov = client
		}
	}
	if configErr != nil {
		log.Error().Err(configErr).Msg("voice sessions disabled")
	}

	clock := clockwork.NewRealClock()
	hub := app.NewHub(app.PolicyByName(cfg.Backpressure), metrics)
	manager := app.NewManager(app.NewStore(), app.ManagerConfig{
		Provisioner: prov,
		ConfigErr:   configErr,
		Broadcaster: hub,
		Clock:       clock,
		TTL:         cfg.Session.TTL,
		Metrics:     metrics,
	})
	gate := app.NewGate(app.GateConfig{
		Directory:   manager,
		Terminator:  manager,
		Broadcaster: hub,
		Clock:       clock,
		Window:      cfg.Webhook.Debounce,
		Grace:       cfg.Webhook.GoodbyeGrace,
		Farewells:   cfg.Webhook.Farewells,
		Metrics:     metrics,
	})
	health := transporthttp.NewHealth(transporthttp.Checker{
		Name:  "provisioning",
		Check: func(context.Context) error { return manager.ConfigErr() },
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Manager: manager,
		Gate:    gate,
		Hub:     hub,
		Limiter: router.NewCreateRateLimiter(cfg.Session.CreateLimit, cfg.Session.CreateInterval, clock),
		Health:  health,
		Metrics: metrics,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("VoiceCoach server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	gate.Close()
	ended := manager.ShutdownAll(domain.ReasonShutdown)
	log.Info().Int("sessions", ended).Msg("sessions ended")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("telemetry shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
