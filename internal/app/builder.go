package app

import (
	"context"
	"fmt"
	"time"

	kcfg "kestrel/internal/config"
	"kestrel/internal/events"
	"kestrel/internal/gateway/chain"
	"kestrel/internal/gateway/database"
	"kestrel/internal/logger"
	"kestrel/internal/position"
	"kestrel/internal/store/eventlog"
	"kestrel/internal/store/gormstore"
	livehttp "kestrel/internal/transport/http/live"
	"kestrel/internal/verify"
)

// AppBuilder assembles the verification engine from config. Constructor
// hooks exist so tests can swap the chain client or the stores without
// touching the wiring order.
type AppBuilder struct {
	cfg *kcfg.Config

	chainClientFn func(kcfg.RPCConfig) (chain.Client, error)
	storeFn       func(string) (database.Store, error)
	eventStoreFn  func(string) (database.EventStore, error)
}

type AppBuilderOption func(*AppBuilder)

func WithChainClient(client chain.Client) AppBuilderOption {
	return func(b *AppBuilder) {
		b.chainClientFn = func(kcfg.RPCConfig) (chain.Client, error) { return client, nil }
	}
}

func WithStore(store database.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(string) (database.Store, error) { return store, nil }
	}
}

func NewAppBuilder(cfg *kcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		chainClientFn: buildChainClient,
		storeFn:       buildStore,
		eventStoreFn:  buildEventStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildChainClient(cfg kcfg.RPCConfig) (chain.Client, error) {
	return chain.NewRPCClient(chain.RPCConfig{
		Endpoint:         cfg.Endpoint,
		Wallet:           cfg.Wallet,
		TimeoutSeconds:   cfg.TimeoutSeconds,
		RequestsPerSec:   cfg.RequestsPerSec,
		Burst:            cfg.Burst,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
	})
}

func buildStore(path string) (database.Store, error) {
	return gormstore.NewGormStore(path)
}

func buildEventStore(path string) (database.EventStore, error) {
	if path == "" {
		return nil, nil
	}
	return eventlog.NewStore(path)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	db, err := b.storeFn(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open position store: %w", err)
	}
	eventStore, err := b.eventStoreFn(cfg.App.EventsDBPath)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	recorder := events.NewRecorder(eventStore)

	client, err := b.chainClientFn(cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("build rpc client: %w", err)
	}

	posStore := position.NewStore()
	admission := position.NewAdmission(cfg.Trading.MaxOpenPositions)
	queue := verify.NewQueue(
		time.Duration(cfg.Verify.BackoffMinSeconds*float64(time.Second)),
		time.Duration(cfg.Verify.BackoffMaxSeconds*float64(time.Second)),
		cfg.Verify.BackoffFactor,
	)

	if err := verify.Rehydrate(ctx, db, posStore, admission, queue, cfg.Trading.MaxOpenPositions); err != nil {
		return nil, fmt.Errorf("rehydrate: %w", err)
	}

	verifier := verify.NewVerifier(client, posStore, cfg.Verify.PartialExitTolerance)
	engine := verify.NewEngine(posStore, db, admission)
	worker := verify.NewWorker(verify.Config{
		BatchSize: cfg.Verify.BatchSize,
		GiveUp: verify.GiveUpPolicy{
			MaxAttempts: cfg.Verify.MaxAttempts,
			MaxAge:      time.Duration(cfg.Verify.MaxAgeSeconds) * time.Second,
		},
	}, queue, verifier, engine, posStore, db, client, recorder, verify.Dependencies{})

	liveHTTP, err := livehttp.NewServer(livehttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Router: livehttp.NewRouter(posStore, queue, admission, eventStore, worker),
	})
	if err != nil {
		return nil, fmt.Errorf("build live http server: %w", err)
	}

	return &App{
		cfg:       cfg,
		db:        db,
		events:    eventStore,
		recorder:  recorder,
		store:     posStore,
		admission: admission,
		queue:     queue,
		worker:    worker,
		liveHTTP:  liveHTTP,
	}, nil
}
