package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzzlehub/chess-puzzles/config"
	"github.com/puzzlehub/chess-puzzles/internal/application/command"
	"github.com/puzzlehub/chess-puzzles/internal/application/query"
	"github.com/puzzlehub/chess-puzzles/internal/application/saga"
	"github.com/puzzlehub/chess-puzzles/internal/domain/gamestate"
	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/metrics"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/persistence/memory"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/persistence/postgres"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/persistence/redis"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/seed"
	httpapi "github.com/puzzlehub/chess-puzzles/internal/interface/http"
	"github.com/puzzlehub/chess-puzzles/internal/interface/http/handlers"
	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/retry"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// storage holds the repositories selected by STORAGE_BACKEND plus the
// Redis-backed pieces when Redis is reachable.
type storage struct {
	db    *postgres.Connection
	cache *redis.Cache

	puzzles    puzzle.Repository
	progress   progress.Repository
	gameStates gamestate.Store
	locker     progress.Locker

	closers []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// connectPostgres opens the pool, retrying while the database boots.
func connectPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig(cfg.Database.URL)
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	if _, err := pgCfg.PoolConfig(); err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	var extra []retry.Option
	if cfg.Database.ConnectAttempts > 0 {
		extra = append(extra, retry.WithMaxAttempts(cfg.Database.ConnectAttempts))
	}
	retrier := retry.DatabaseRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("database not ready, retrying",
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
	}, extra...)

	var conn *postgres.Connection
	err := retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		conn, err = postgres.NewConnection(ctx, pgCfg)
		if postgres.IsAuthFailure(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

// connectRedis returns nil without error when Redis is disabled or
// unreachable: the service falls back to in-process stores.
func connectRedis(ctx context.Context, cfg *config.Config, log *slog.Logger) *redis.Cache {
	if cfg.Redis.Disabled {
		log.Info("redis disabled, using in-process game state and locks")
		return nil
	}

	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout

	retrier := retry.CacheRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("redis not ready, retrying", "attempt", attempt, "delay", delay.String(), "error", err)
	})

	var cache *redis.Cache
	err := retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		cache, err = redis.NewCache(ctx, rc)
		return err
	})
	if err != nil {
		log.Warn("failed to connect to Redis, falling back to in-process stores", "addr", rc.Addr(), "error", err)
		return nil
	}
	log.Info("redis connection established", "addr", rc.Addr())
	return cache
}

// openStorage builds the repositories for the configured backend.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger, appLog *logger.Logger, catalogBreaker *circuitbreaker.CircuitBreaker) (*storage, error) {
	st := &storage{}

	switch cfg.Storage {
	case config.StoragePostgres:
		conn, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		st.db = conn
		st.closers = append(st.closers, conn.Close)

		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", "applied", applied)

		st.puzzles = postgres.NewPuzzleRepository(conn)
		st.progress = postgres.NewProgressRepository(conn)
	case config.StorageMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		st.puzzles = memory.NewPuzzleRepository()
		st.progress = memory.NewProgressRepository()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	st.cache = connectRedis(ctx, cfg, log)
	if st.cache != nil {
		cache := st.cache
		st.closers = append(st.closers, func() { _ = cache.Close() })

		st.gameStates = redis.NewGameStateStore(cache, cfg.Progress.GameStateTTL)
		st.locker = redis.NewLocker(cache, cfg.Progress.LockTTL, appLog)
		st.puzzles = redis.NewPuzzleCache(st.puzzles, cache, redis.PuzzleCacheConfig{
			TTL:     cfg.Progress.CatalogCacheTTL,
			Enabled: func() bool { return cfg.Features.IsEnabled(config.FeatureCatalogCache) },
			Breaker: catalogBreaker,
			Logger:  appLog,
		})
	} else {
		st.gameStates = memory.NewGameStateStore(cfg.Progress.GameStateTTL, nil)
		st.locker = memory.NewLocker()
	}

	return st, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION
// ══════════════════════════════════════════════════════════════════════════════

// application is the fully wired HTTP service.
type application struct {
	server  *httpapi.Server
	storage *storage
}

func buildApplication(ctx context.Context, cfg *config.Config, log *slog.Logger, appLog *logger.Logger) (*application, error) {
	var collectors *metrics.Collectors
	if cfg.Observability.MetricsEnabled {
		collectors = metrics.New(true)
	}

	onBreakerChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		if collectors != nil {
			collectors.BreakerStateChanged(name, from, to)
		}
	}
	gameStateBreaker := circuitbreaker.GameStateBreaker(onBreakerChange)
	catalogBreaker := circuitbreaker.CatalogCacheBreaker(onBreakerChange)
	if collectors != nil {
		collectors.TrackBreaker(gameStateBreaker)
		collectors.TrackBreaker(catalogBreaker)
	}

	st, err := openStorage(ctx, cfg, log, appLog, catalogBreaker)
	if err != nil {
		return nil, err
	}

	clock := timeutil.SystemClock{}
	if cfg.Storage == config.StorageMemory || cfg.Progress.SeedOnStart {
		if err := seedCatalog(ctx, st.puzzles, clock, appLog, false); err != nil {
			st.Close()
			return nil, err
		}
	}

	rules := progress.DefaultRules()
	limit := cfg.Progress.RecentActivityLimit

	// The collectors satisfy the command and saga metrics ports; a nil
	// *Collectors must not leak into the interfaces.
	var cmdMetrics command.Metrics
	var sagaMetrics saga.Metrics
	var httpMetrics httpapi.Metrics
	if collectors != nil {
		cmdMetrics, sagaMetrics, httpMetrics = collectors, collectors, collectors
	}

	flow := saga.NewAchievementFlowSaga(st.progress, saga.AchievementFlowConfig{
		Rules:   rules,
		Clock:   clock,
		Logger:  appLog,
		Metrics: sagaMetrics,
	})

	recordAttempt := command.NewRecordAttemptHandler(
		st.puzzles, st.progress, st.locker, flow, st.gameStates, gameStateBreaker,
		command.RecordAttemptHandlerConfig{
			AutoEvaluate:        cfg.Features.Gate(config.FeatureAutoEvaluate),
			CleanupGameState:    cfg.Features.Gate(config.FeatureCleanupGameState),
			RecentActivityLimit: limit,
			Rules:               rules,
			Clock:               clock,
			Logger:              appLog,
			Metrics:             cmdMetrics,
		},
	)
	awardAchievement := command.NewAwardAchievementHandler(
		st.puzzles, st.progress, st.locker,
		command.AwardAchievementHandlerConfig{
			Enabled:             cfg.Features.Gate(config.FeatureManualAchievement),
			RecentActivityLimit: limit,
			Rules:               rules,
			Clock:               clock,
			Logger:              appLog,
			Metrics:             cmdMetrics,
		},
	)

	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if st.db != nil {
		checker.AddDetailedCheck("postgres", true, st.db.HealthCheck)
	}
	if st.cache != nil {
		checker.AddOptionalCheck("redis", handlers.NewPingCheck(st.cache))
		checker.AddDetailedCheck("gamestate_breaker", false, handlers.NewBreakerCheck(gameStateBreaker))
		checker.AddDetailedCheck("catalog_cache_breaker", false, handlers.NewBreakerCheck(catalogBreaker))
	}

	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.AllowedOrigins = cfg.HTTP.CORSOrigins
	serverCfg.RateLimit = cfg.HTTP.RateLimit
	serverCfg.RateLimitBurst = cfg.HTTP.RateLimitBurst
	serverCfg.DefaultUserID = cfg.Progress.DefaultUserID
	serverCfg.Version = cfg.App.Version

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		RecordAttempt:    recordAttempt,
		AwardAchievement: awardAchievement,
		GameState:        command.NewGameStateHandler(st.puzzles, st.gameStates, gameStateBreaker, clock, appLog),
		Puzzles:          command.NewPuzzleHandler(st.puzzles, clock, appLog),
		GetProgress:      query.NewGetProgressHandler(st.puzzles, st.progress, rules, limit, clock),
		ListPuzzles:      query.NewListPuzzlesHandler(st.puzzles, st.progress, clock),
		GetPuzzle:        query.NewGetPuzzleHandler(st.puzzles, st.progress, clock),
		LoadGameState:    query.NewLoadGameStateHandler(st.gameStates, gameStateBreaker),
		HealthChecker:    checker,
		Metrics:          httpMetrics,
		Logger:           appLog,
	})

	return &application{server: server, storage: st}, nil
}

// seedCatalog loads the bundled catalog into repo.
func seedCatalog(ctx context.Context, repo puzzle.Repository, clock timeutil.Clock, log *logger.Logger, force bool) error {
	puzzles, err := seed.Default(clock)
	if err != nil {
		return fmt.Errorf("failed to parse bundled catalog: %w", err)
	}
	_, err = seed.NewSeeder(repo, puzzles, log).Run(ctx, seed.Options{Force: force})
	if errors.Is(err, seed.ErrForceUnsupported) {
		return fmt.Errorf("storage backend cannot be reseeded: %w", err)
	}
	return err
}
