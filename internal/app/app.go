package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/expozone/stallbook/internal/auth"
	"github.com/expozone/stallbook/internal/clock"
	"github.com/expozone/stallbook/internal/config"
	"github.com/expozone/stallbook/internal/gateway"
	"github.com/expozone/stallbook/internal/postgres"
	redisx "github.com/expozone/stallbook/internal/redis"
	postgresrepo "github.com/expozone/stallbook/internal/repository/postgres"
	redisrepo "github.com/expozone/stallbook/internal/repository/redis"
	"github.com/expozone/stallbook/internal/service"
	"github.com/expozone/stallbook/internal/service/coordinator"
	"github.com/expozone/stallbook/internal/service/payment"
	"github.com/expozone/stallbook/internal/sweeper"
	httpgin "github.com/expozone/stallbook/internal/transport/http/gin"
	"github.com/expozone/stallbook/migrations"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	sweeper    *sweeper.Sweeper
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	if err := migrations.Apply(context.Background(), pgxPool); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisx.NewNotificationsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "rl", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Services
	gw := gateway.New(cfg.Gateway.KeyID, cfg.Gateway.KeySecret)
	clk := clock.NewSystem()

	services := service.NewServices(store, cache, pubsub, limiter, gw, clk, logger, service.Config{
		Coordinator: coordinator.Config{
			PaymentWindow: cfg.Booking.PaymentWindow,
		},
		Payment: payment.Config{
			Currency:    cfg.Gateway.Currency,
			Secret:      cfg.Gateway.KeySecret,
			RedirectURL: cfg.Gateway.RedirectURL,
		},
	})

	swp := sweeper.New(services.Coordinator, store, clk, logger, sweeper.Config{
		Interval: cfg.Booking.SweepInterval,
	})

	jwtSvc := auth.New(cfg.Auth.JWTSecret, 24*time.Hour)

	router := httpgin.NewRouter(services, swp, jwtSvc, idempotencyStore, logger)

	return &App{
		cfg:     cfg,
		logger:  logger,
		sweeper: swp,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	a.sweeper.Start(gCtx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down")
		a.sweeper.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
