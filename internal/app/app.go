package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/codeduel/duel-backend/internal/api"
	"github.com/codeduel/duel-backend/internal/api/handlers"
	"github.com/codeduel/duel-backend/internal/config"
	"github.com/codeduel/duel-backend/internal/repository"
	"github.com/codeduel/duel-backend/internal/service"
	"github.com/codeduel/duel-backend/internal/websocket"
	"github.com/codeduel/duel-backend/pkg/database"
	"github.com/codeduel/duel-backend/pkg/distributed"
	jwtutil "github.com/codeduel/duel-backend/pkg/jwt"
	"github.com/codeduel/duel-backend/pkg/logger"
	"github.com/codeduel/duel-backend/pkg/ratelimit"
)

const (
	redisPrefix     = "duel"
	settleQueueName = "settlement"
	shutdownTimeout = 10 * time.Second
)

// Module 서버 전체 의존성 그래프
var Module = fx.Options(
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Named("fx")}
	}),

	fx.Provide(
		config.Load,
		provideLogger,
		provideDatabase,
		provideRedis,
	),

	// stores
	fx.Provide(
		fx.Annotate(repository.NewUserRepository, fx.As(new(service.UserStore))),
		fx.Annotate(repository.NewRatingRepository, fx.As(new(service.RatingStore))),
		fx.Annotate(repository.NewDailyLimitRepository, fx.As(new(service.DailyLimitStore))),
		fx.Annotate(repository.NewProblemRepository, fx.As(new(service.ProblemStore))),
		fx.Annotate(repository.NewSubmissionRepository, fx.As(new(service.SubmissionStore))),
		provideMatchStore,
		provideSettlementQueue,
	),

	// realtime
	fx.Provide(
		newLateAuthorizer,
		provideHub,
		providePublisher,
	),

	// services
	fx.Provide(
		fx.Annotate(provideEligibility, fx.As(new(service.Eligibility))),
		fx.Annotate(provideProblemSelector, fx.As(new(service.ProblemPicker))),
		provideRatingService,
		provideMatchService,
		provideMatchmakingService,
		service.NewUserService,
		provideReaper,
	),

	// http
	fx.Provide(
		provideJWT,
		provideQueueLimiter,
		provideRouter,
		provideServer,
	),

	fx.Invoke(bindAuthorizer),
	fx.Invoke(func(*service.Reaper, *http.Server) {}),
)

func provideLogger(cfg *config.Config) *zap.Logger {
	logger.Init(cfg.Env, cfg.LogLevel)
	return logger.L()
}

func provideDatabase(lc fx.Lifecycle, cfg *config.Config) (*database.DB, error) {
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

// provideRedis REDIS_URL 이 없으면 nil (단일 인스턴스 모드)
func provideRedis(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (redis.UniversalClient, error) {
	if !cfg.UseRedis() {
		log.Info("Redis not configured, running single-instance")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info("Redis connected", zap.String("addr", opts.Addr))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func provideMatchStore(cfg *config.Config, db *database.DB, rdb redis.UniversalClient) (service.MatchStore, error) {
	switch cfg.MatchStore {
	case config.MatchStorePostgres:
		return repository.NewMatchRepository(db), nil
	case config.MatchStoreRedis:
		if rdb == nil {
			return nil, errors.New("MATCH_STORE=redis requires REDIS_URL")
		}
		return distributed.NewRedisMatchStore(rdb, redisPrefix), nil
	}
	return nil, fmt.Errorf("unknown MATCH_STORE %q", cfg.MatchStore)
}

func provideSettlementQueue(rdb redis.UniversalClient) service.SettlementQueue {
	if rdb == nil {
		return nil
	}
	return distributed.NewRetryQueue(rdb, settleQueueName)
}

// lateAuthorizer hub 와 MatchService 가 서로를 필요로 해서 MatchService 는 생성 후에 연결한다
type lateAuthorizer struct {
	target websocket.Authorizer
}

func newLateAuthorizer() *lateAuthorizer {
	return &lateAuthorizer{}
}

func (a *lateAuthorizer) CanSubscribe(ctx context.Context, userID, topic string) error {
	if a.target == nil {
		return service.ErrUnauthorized
	}
	return a.target.CanSubscribe(ctx, userID, topic)
}

func bindAuthorizer(a *lateAuthorizer, matches *service.MatchService) {
	a.target = matches
}

func provideHub(lc fx.Lifecycle, auth *lateAuthorizer, cfg *config.Config, log *zap.Logger) *websocket.Hub {
	hub := websocket.NewHub(auth, cfg.CORSAllowedOrigins, log.Named("hub"))

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go hub.Run()
			return nil
		},
		OnStop: func(context.Context) error {
			hub.Stop()
			return nil
		},
	})
	return hub
}

// providePublisher Redis 가 있으면 인스턴스 간 팬아웃, 없으면 로컬 hub 로 직접
func providePublisher(lc fx.Lifecycle, hub *websocket.Hub, rdb redis.UniversalClient, log *zap.Logger) service.Publisher {
	if rdb == nil {
		return hub
	}

	b := distributed.NewRedisBroadcaster(rdb, hub, log.Named("broadcaster"))
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := b.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("Broadcaster exited", zap.Error(err))
				}
			}()

			select {
			case <-b.Ready():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("broadcaster did not subscribe: %w", ctx.Err())
			}
		},
		OnStop: func(context.Context) error {
			b.Stop()
			cancel()
			return nil
		},
	})
	return b
}

func provideEligibility(users service.UserStore, limits service.DailyLimitStore, cfg *config.Config) *service.EligibilityService {
	return service.NewEligibilityService(users, limits, cfg.FreeDailyLimit)
}

func provideProblemSelector(problems service.ProblemStore, cfg *config.Config) *service.ProblemSelector {
	return service.NewProblemSelector(problems, cfg.ProblemRatingSpread, cfg.ProblemLookback)
}

func provideRatingService(store service.RatingStore, queue service.SettlementQueue, cfg *config.Config, log *zap.Logger) *service.RatingService {
	return service.NewRatingService(store, service.NewRatingEngine(), queue, cfg.SettleMaxAttempts, log.Named("rating"))
}

func phaseClock(cfg *config.Config) service.PhaseClock {
	return service.PhaseClock{
		Duration:       cfg.MatchDuration,
		PressureWindow: cfg.PressureWindow,
	}
}

func provideMatchService(
	matches service.MatchStore,
	submissions service.SubmissionStore,
	ratings *service.RatingService,
	publisher service.Publisher,
	cfg *config.Config,
) *service.MatchService {
	return service.NewMatchService(matches, submissions, ratings, publisher, phaseClock(cfg))
}

func provideMatchmakingService(
	matches service.MatchStore,
	ratings service.RatingStore,
	limits service.DailyLimitStore,
	problems service.ProblemPicker,
	eligibility service.Eligibility,
	matchSvc *service.MatchService,
	publisher service.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *service.MatchmakingService {
	return service.NewMatchmakingService(matches, ratings, limits, problems, eligibility, matchSvc, publisher,
		service.MatchmakingConfig{
			WindowMin:        cfg.RatingWindowMin,
			WindowMax:        cfg.RatingWindowMax,
			SettleMatches:    cfg.RatingWindowSettle,
			BaseWaitEstimate: cfg.BaseWaitEstimate,
			FogOfProgress:    cfg.FogOfProgress,
		},
		log.Named("matchmaking"),
	)
}

func provideReaper(
	lc fx.Lifecycle,
	matches service.MatchStore,
	matchSvc *service.MatchService,
	matchmaking *service.MatchmakingService,
	ratings *service.RatingService,
	rdb redis.UniversalClient,
	cfg *config.Config,
	log *zap.Logger,
) *service.Reaper {
	var lock service.SweepLock
	if rdb != nil {
		lock = distributed.NewRedisLockManager(rdb)
	}

	reaper := service.NewReaper(matches, matchSvc, matchmaking, ratings, lock,
		uuid.NewString(), cfg.WaitingMatchTTL, cfg.ReapInterval, log.Named("reaper"))

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			reaper.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			reaper.Stop()
			return nil
		},
	})
	return reaper
}

func provideJWT(cfg *config.Config) *jwtutil.JWTManager {
	return jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
}

// provideQueueLimiter 대기열 진입 요청 제한 (분당 QueueRateLimit 회)
func provideQueueLimiter(lc fx.Lifecycle, cfg *config.Config, rdb redis.UniversalClient) ratelimit.Limiter {
	if cfg.QueueRateLimit <= 0 {
		return nil
	}
	if rdb != nil {
		return ratelimit.NewRedisRateLimiter(rdb, redisPrefix+":ratelimit:", cfg.QueueRateLimit, time.Minute)
	}

	limiter := ratelimit.NewMemoryLimiter(cfg.QueueRateLimit, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			limiter.StartSweeper(ctx, 5*time.Minute)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return limiter
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func provideRouter(
	cfg *config.Config,
	db *database.DB,
	rdb redis.UniversalClient,
	users *service.UserService,
	matchmaking *service.MatchmakingService,
	matches *service.MatchService,
	ratings *service.RatingService,
	hub *websocket.Hub,
	jwtManager *jwtutil.JWTManager,
	queueLimiter ratelimit.Limiter,
) *gin.Engine {
	checks := map[string]handlers.Pinger{"postgres": db}
	if rdb != nil {
		checks["redis"] = redisPinger{client: rdb}
	}

	return api.SetupRouter(cfg, api.Dependencies{
		Users:        users,
		Matchmaking:  matchmaking,
		Matches:      matches,
		Ratings:      ratings,
		Hub:          hub,
		JWT:          jwtManager,
		QueueLimiter: queueLimiter,
		HealthChecks: checks,
	})
}

func provideServer(lc fx.Lifecycle, cfg *config.Config, router *gin.Engine, log *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("Server listening", zap.String("address", srv.Addr), zap.String("env", cfg.Env))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("Failed to start server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
	return srv
}
