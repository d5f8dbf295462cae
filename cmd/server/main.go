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

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/rundy/internal/api"
	"github.com/lalith-99/rundy/internal/chat"
	"github.com/lalith-99/rundy/internal/config"
	"github.com/lalith-99/rundy/internal/db"
	"github.com/lalith-99/rundy/internal/match"
	"github.com/lalith-99/rundy/internal/middleware"
	"github.com/lalith-99/rundy/internal/observ"
	"github.com/lalith-99/rundy/internal/profile"
	"github.com/lalith-99/rundy/internal/realtime"
	"github.com/lalith-99/rundy/internal/repository"
	"github.com/lalith-99/rundy/internal/repository/memory"
	"github.com/lalith-99/rundy/internal/repository/postgres"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stores is the set of repositories one backend provides.
type stores struct {
	matches      repository.MatchRepository
	participants repository.ParticipantRepository
	messages     repository.MessageRepository
	profiles     repository.ProfileRepository
	users        repository.UserRepository
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Realtime feed
	//
	// Redis pub/sub lets several server instances share one feed; the
	// in-process hub only reaches chat views on this instance.
	// ---------------------------------------------------------------
	var broker realtime.Broker
	switch cfg.RealtimeBackend {
	case config.BackendRedis:
		rb, err := realtime.NewRedisBroker(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		broker = rb
	default:
		broker = realtime.NewHub(realtime.DefaultBuffer, logger)
	}
	defer broker.Close()

	// ---------------------------------------------------------------
	// 4. Data store
	//
	// Every repository of a backend shares one pool; the pool is
	// goroutine-safe. Message stores publish each insert to the broker.
	// ---------------------------------------------------------------
	var (
		repos  stores
		health func(context.Context) error
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		mem := memory.New(broker, logger)
		repos = stores{
			matches:      mem.Matches(),
			participants: mem.Participants(),
			messages:     mem.Messages(),
			profiles:     mem.Profiles(),
			users:        mem.Users(),
		}
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()

		if cfg.AutoMigrate {
			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
		}

		pool := database.Pool()
		repos = stores{
			matches:      postgres.NewMatchStore(pool),
			participants: postgres.NewParticipantStore(pool),
			messages:     postgres.NewMessageStore(pool, broker, logger),
			profiles:     postgres.NewProfileStore(pool),
			users:        postgres.NewUserStore(pool),
		}
		health = database.Health
	}

	// ---------------------------------------------------------------
	// 5. Services
	// ---------------------------------------------------------------
	matchSvc := match.NewService(repos.matches, repos.participants, repos.profiles, logger)
	profileSvc := profile.NewService(repos.profiles, logger)
	chats := chat.NewOpener(matchSvc, repos.messages, broker, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
	go limiter.Run()
	defer limiter.Stop()

	// ---------------------------------------------------------------
	// 6. HTTP server
	// ---------------------------------------------------------------
	router := api.SetupRouter(api.Deps{
		JWTSecret:   cfg.JWTSecret,
		TokenTTL:    time.Duration(cfg.TokenTTLHours) * time.Hour,
		CORSOrigins: cfg.CORSOrigins,
		Users:       repos.users,
		Profiles:    repos.profiles,
		Matches:     matchSvc,
		ProfileSvc:  profileSvc,
		Chats:       chats,
		RateLimiter: limiter,
		Health:      health,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting Rundy",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.StoreBackend),
			zap.String("realtime", cfg.RealtimeBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ---------------------------------------------------------------
	// 7. Graceful shutdown
	//
	// Open WebSockets are hijacked connections that Shutdown does not
	// track; they drop when the process exits.
	// ---------------------------------------------------------------
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
