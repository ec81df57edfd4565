package app

import (
	"context"
	"errors"
	"fmt"

	kcfg "kestrel/internal/config"
	"kestrel/internal/events"
	"kestrel/internal/gateway/database"
	"kestrel/internal/logger"
	"kestrel/internal/position"
	livehttp "kestrel/internal/transport/http/live"
	"kestrel/internal/verify"

	"golang.org/x/sync/errgroup"
)

// App owns the assembled verification engine: storage, queue, worker and
// the live HTTP surface.
type App struct {
	cfg       *kcfg.Config
	db        database.Store
	events    database.EventStore
	recorder  *events.Recorder
	store     *position.Store
	admission *position.Admission
	queue     *verify.Queue
	worker    *verify.Worker
	liveHTTP  *livehttp.Server
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *kcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg).Build(context.Background())
}

// Run starts the worker and the HTTP server, blocking until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)

	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
		logger.Infof("live http server listening on %s", a.liveHTTP.Addr())
	}

	group.Go(func() error {
		err := a.worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return group.Wait()
}

// Close flushes pending events and closes storage.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			logger.Warnf("close event log: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warnf("close position store: %v", err)
		}
	}
}

// Worker exposes the verification worker (for tests and status probes).
func (a *App) Worker() *verify.Worker {
	if a == nil {
		return nil
	}
	return a.worker
}

// Queue exposes the live verification queue.
func (a *App) Queue() *verify.Queue {
	if a == nil {
		return nil
	}
	return a.queue
}

// Positions exposes the in-memory position store.
func (a *App) Positions() *position.Store {
	if a == nil {
		return nil
	}
	return a.store
}
