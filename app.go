package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/tiercache/internal/lru"
	"github.com/dgnsrekt/tiercache/internal/market"
	"github.com/dgnsrekt/tiercache/internal/memwatch"
	"github.com/dgnsrekt/tiercache/internal/metrics"
	"github.com/dgnsrekt/tiercache/internal/store/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// app is the fully wired cache stack for one command.
type app struct {
	repo     *market.Repository
	manager  *lru.Manager
	watcher  *memwatch.Watcher
	registry *prometheus.Registry
	redis    *redis.Client
	cancel   context.CancelFunc
}

func openApp(ctx context.Context) (*app, error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &app{
		registry: prometheus.NewRegistry(),
		cancel:   cancel,
	}
	m := metrics.New(a.registry)

	var fetcher market.Fetcher = market.NopFetcher{}
	if cfg.Redis.Enabled() {
		client, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			cancel()
			return nil, err //nolint:wrapcheck
		}
		a.redis = client
		fetcher = market.StoreFetcher{
			Quotes:     redisstore.New[market.Quote](client, cfg.Redis.Prefix+"quotes:", 0),
			Series:     redisstore.New[market.Series](client, cfg.Redis.Prefix+"series:", 0),
			Currencies: redisstore.New[market.Currency](client, cfg.Redis.Prefix+"currencies:", 0),
		}
		log.Debug("using redis as remote source", "addr", cfg.Redis.Addr)
	}

	a.manager = lru.NewManager(nil,
		lru.WithStatsInterval(cfg.StatsInterval),
		lru.WithMetrics(m))

	repo, err := market.NewRepository(cfg.Market(), fetcher, a.manager, market.WithMetrics(m))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("could not open cache: %w", err)
	}
	a.repo = repo

	if err := repo.Watch(ctx); err != nil {
		log.Warn("could not watch cache dir", "error", err)
	}

	threshold, _ := cfg.MemoryThresholdBytes()
	a.watcher = memwatch.New(threshold, cfg.MemoryInterval)
	a.watcher.Register(repo)
	a.watcher.Start()

	return a, nil
}

// Close stops background work and persists the disk indexes.
func (a *app) Close() error {
	a.cancel()
	if a.watcher != nil {
		a.watcher.Stop()
	}

	var errs []error
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	if a.manager != nil {
		a.manager.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
