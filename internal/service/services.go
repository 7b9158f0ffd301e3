package service

import (
	"log/slog"

	"github.com/expozone/stallbook/internal/clock"
	postgres "github.com/expozone/stallbook/internal/repository/postgres"
	redis "github.com/expozone/stallbook/internal/repository/redis"
	"github.com/expozone/stallbook/internal/service/coordinator"
	"github.com/expozone/stallbook/internal/service/payment"
	"github.com/expozone/stallbook/internal/service/query"
)

type Services struct {
	Coordinator *coordinator.Service
	Payment     *payment.Service
	Query       *query.Service
}

type Config struct {
	Coordinator coordinator.Config
	Payment     payment.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	notifier coordinator.Notifier,
	limiter *redis.SlidingWindowLimiter,
	gw payment.Gateway,
	clk clock.Clock,
	logger *slog.Logger,
	cfg Config,
) *Services {
	coord := coordinator.New(store, cache, notifier, limiter, clk, logger, cfg.Coordinator)

	return &Services{
		Coordinator: coord,
		Payment:     payment.New(store, gw, coord, cfg.Payment),
		Query:       query.New(store, cache),
	}
}
