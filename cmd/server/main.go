package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fluent-auth/internal/auth"
	"fluent-auth/internal/config"
	apphttp "fluent-auth/internal/http"
	"fluent-auth/internal/metrics"
	"fluent-auth/internal/repository"
	"fluent-auth/internal/repository/postgres"
	redisrepo "fluent-auth/internal/repository/redis"
	"fluent-auth/internal/repository/sqlite"
	"fluent-auth/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	configureLogger(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup store: %v", err)
	}
	defer store.Close()

	hasher, err := auth.NewPasswordHasher(auth.HasherConfig{
		Algorithm:  cfg.Auth.Hasher,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		logger.Fatalf("password hasher: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatalf("token issuer: %v", err)
	}

	m := metrics.New()
	if err := m.RegisterDBStats(store.db, store.driver); err != nil {
		logger.Warnf("register db stats: %v", err)
	}

	userService := service.NewUserService(store.users, hasher, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(apphttp.Config{
		Users:         userService,
		Tokens:        tokens,
		Store:         store.db,
		Metrics:       m,
		Logger:        logger,
		Production:    cfg.IsProduction(),
		AllowedOrigin: cfg.Server.AllowedOrigin,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s (%s)", cfg.Server.Addr, cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	if strings.EqualFold(cfg.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

type store struct {
	db     *sql.DB
	driver string
	users  repository.UserRepository
	close  []func() error
}

func (s *store) Close() {
	for i := len(s.close) - 1; i >= 0; i-- {
		_ = s.close[i]()
	}
}

// buildStore opens the credential store named by the DSN, applies migrations
// and picks the sequence backend.
func buildStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*store, error) {
	s := &store{}

	var seq repository.SequenceGenerator
	if cfg.Sequence.Backend == config.SequenceBackendRedis {
		client, err := redisrepo.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.close = append(s.close, client.Close)
		seq = redisrepo.NewSequenceGenerator(client)
		logger.Info("using redis sequence generator")
	}

	if postgres.IsDSN(cfg.Database.DSN) {
		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.db, s.driver = db, "postgres"
		s.close = append(s.close, db.Close)
		if err := postgres.Migrate(db); err != nil {
			s.Close()
			return nil, err
		}
		var opts []postgres.UserRepositoryOption
		if seq != nil {
			opts = append(opts, postgres.WithSequenceGenerator(seq))
		}
		s.users = postgres.NewUserRepository(db, opts...)
		logger.Info("using postgres credential store")
		return s, nil
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.db, s.driver = db, "sqlite"
	s.close = append(s.close, db.Close)
	if err := sqlite.Migrate(db); err != nil {
		s.Close()
		return nil, err
	}
	var opts []sqlite.UserRepositoryOption
	if seq != nil {
		opts = append(opts, sqlite.WithSequenceGenerator(seq))
	}
	s.users = sqlite.NewUserRepository(db, opts...)
	logger.Infof("using sqlite credential store at %s", sqlite.PathFromDSN(cfg.Database.DSN))
	return s, nil
}
