package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Lolevel/thunderclap/internal/api/rest"
	"github.com/Lolevel/thunderclap/internal/api/websocket"
	"github.com/Lolevel/thunderclap/internal/cache"
	"github.com/Lolevel/thunderclap/internal/config"
	"github.com/Lolevel/thunderclap/internal/publisher"
	"github.com/Lolevel/thunderclap/internal/ratelimit"
	"github.com/Lolevel/thunderclap/internal/refresh"
	"github.com/Lolevel/thunderclap/internal/riot"
	"github.com/Lolevel/thunderclap/internal/store"
	"github.com/Lolevel/thunderclap/internal/store/repository"
)

const serviceName = "thunderclap"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg.LogLevel)
	log.Info().Str("service", serviceName).Msg("starting")

	// Database
	db, err := store.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to database")

	if err := db.RunMigrations(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Redis, with retries so the service survives a slower-starting
	// dependency in compose environments.
	redisCache, err := connectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisCache.Close()
	log.Info().Msg("connected to redis")

	// Upstream client behind the shared limiter
	clock := clockwork.NewRealClock()
	limiter, err := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitPerTwoMinutes, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid rate limit configuration")
	}
	riotClient, err := riot.NewClient(cfg.RiotAPIKey, cfg.RiotRegion, cfg.RiotPlatform, limiter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build upstream client")
	}

	// Repositories
	refreshRepo := repository.NewRefreshRepository(db)
	statusRepo := repository.NewStatusRepository(db)
	teamRepo := repository.NewTeamRepository(db)

	// Progress fan-out: WebSocket hub + Redis stream mirror
	wsHub := websocket.NewHub()
	streamSink := publisher.NewRedisStreamSink(redisCache.Client())
	progress := refresh.NewPublisher(clock, cfg.HeartbeatInterval, wsHub, streamSink)
	defer progress.Close()

	// Pipeline and coordinator
	pipeline := refresh.NewPipeline(refreshRepo, statusRepo, riotClient, progress, clock, refresh.Config{
		MinRosterOverlap:  cfg.MinRosterOverlap,
		MatchHistoryCount: cfg.MatchHistoryCount,
		MatchType:         "tourney",
	})
	coordinator := refresh.NewCoordinator(pipeline, statusRepo, teamRepo, clock, refresh.CoordinatorConfig{
		StaleRunningAfter: cfg.StaleRunningAfter,
		NightlyHour:       cfg.NightlyRefreshHour,
		EnableNightly:     cfg.EnableNightlyRefresh,
	})
	if err := coordinator.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start coordinator")
	}

	// Servers
	refreshHandler := rest.NewRefreshHandler(coordinator, statusRepo, progress)
	restServer := rest.NewServer(cfg.RESTPort, db, redisCache, refreshHandler)
	wsServer := websocket.NewServer(wsHub)

	go func() {
		log.Info().Str("port", cfg.RESTPort).Msg("rest server listening")
		if err := restServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("rest server stopped")
		}
	}()
	go func() {
		if err := wsServer.Start(cfg.WSPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("websocket server stopped")
		}
	}()

	// Block until shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("rest shutdown incomplete")
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket shutdown incomplete")
	}
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("coordinator shutdown incomplete")
	}
	log.Info().Msg("stopped")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func connectRedis(redisURL string) (*cache.RedisCache, error) {
	const maxRetries = 30
	const retryDelay = 2 * time.Second

	var rc *cache.RedisCache
	var err error
	for i := 0; i < maxRetries; i++ {
		rc, err = cache.NewRedisCache(redisURL)
		if err == nil {
			return rc, nil
		}
		if i < maxRetries-1 {
			log.Warn().Int("attempt", i+1).Int("max", maxRetries).Err(err).
				Msg("redis connection failed, retrying")
			time.Sleep(retryDelay)
		}
	}
	return nil, err
}
