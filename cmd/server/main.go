package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentwire-protocol/agentwire/internal/agent"
	"github.com/agentwire-protocol/agentwire/internal/almanac"
	"github.com/agentwire-protocol/agentwire/internal/api"
	"github.com/agentwire-protocol/agentwire/internal/config"
	"github.com/agentwire-protocol/agentwire/internal/dispatch"
	"github.com/agentwire-protocol/agentwire/internal/dispense"
	"github.com/agentwire-protocol/agentwire/internal/identity"
	"github.com/agentwire-protocol/agentwire/internal/resolver"
	"github.com/agentwire-protocol/agentwire/internal/schema"
	"github.com/agentwire-protocol/agentwire/internal/store"
)

// pingDigest identifies the built-in liveness message every hosted agent
// answers.
var pingDigest = schema.MustDigest("Ping", "Liveness check",
	schema.Field{Name: "message", Type: "string"},
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Agent identity: deterministic from seed if configured
	var id *identity.Identity
	if cfg.Seed != "" {
		id, err = identity.FromSeed(cfg.Seed, cfg.SeedIndex)
		if err != nil {
			logger.Fatal().Err(err).Msg("identity derivation failed")
		}
	} else {
		id = identity.Generate()
		logger.Warn().Msg("no AGENT_SEED configured, generated an ephemeral identity")
	}
	logger.Info().Str("address", id.Address()).Str("name", cfg.Name).Msg("agent identity ready")

	// Agent state store
	var kv store.KVStore
	if cfg.DatabasePath != "" {
		kv, err = store.NewSQLiteStore(ctx, cfg.DatabasePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite connection failed")
		}
		logger.Info().Str("path", cfg.DatabasePath).Msg("connected to SQLite")
	} else {
		kv = store.NewMemoryStore()
	}
	defer kv.Close()

	// Runtime wiring
	dispatcher := dispatch.New()
	dispenser := dispense.New(dispatcher, logger)
	go dispenser.Run(ctx)

	registry := almanac.NewClient(cfg.AlmanacURL)
	res := resolver.New(registry, cfg.MaxEndpoints)

	hosted := agent.New(id, cfg.Name, dispatcher, dispenser, res, logger)
	hosted.SetStorage(kv)
	if err := hosted.OnMessage(pingDigest, pingHandler); err != nil {
		logger.Fatal().Err(err).Msg("handler registration failed")
	}

	pending := api.NewPendingResponses()
	hosted.SetReplyCapture(pending)
	hosted.Start()
	defer hosted.Stop()

	// Optional durable history mirror
	var mirror *store.RedisHistory
	if cfg.RedisURL != "" {
		mirror, err = store.NewRedisHistory(ctx, cfg.RedisURL, id.Address())
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer mirror.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Periodic almanac registration
	if endpoint := cfg.AdvertisedEndpoint(); endpoint != "" {
		go hosted.RunRegistration(ctx, registry,
			[]almanac.Endpoint{{URL: endpoint, Weight: 1}},
			cfg.RegistrationInterval)
	} else {
		logger.Warn().Msg("no endpoint or mailbox configured, skipping almanac registration")
	}

	// Create router and server
	router := api.NewRouter(logger, dispatcher, hosted.History(), mirror, pending)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second, // sync submits hold the connection open
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting agentwire server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// pingHandler answers the built-in liveness message, counting pings in agent
// storage.
func pingHandler(ctx context.Context, self *agent.Agent, msg *agent.Message) error {
	count := 1
	if raw, err := self.Storage().Get(ctx, "ping_count"); err == nil {
		json.Unmarshal(raw, &count)
		count++
	}
	if raw, err := json.Marshal(count); err == nil {
		self.Storage().Set(ctx, "ping_count", raw)
	}
	return self.Reply(ctx, msg, pingDigest, []byte(`{"message":"pong"}`))
}
