package verify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"kestrel/internal/events"
	"kestrel/internal/gateway/chain"
	"kestrel/internal/gateway/database"
	"kestrel/internal/logger"
	"kestrel/internal/metrics"
	"kestrel/internal/position"
)

// Config tunes the worker loop and the give-up policy.
type Config struct {
	BatchSize       int
	GiveUp          GiveUpPolicy
	SummaryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = 30 * time.Second
	}
	return c
}

// Dependencies are the readiness flags the worker waits on before touching
// the queue. Both default to ready when nil.
type Dependencies struct {
	TxIngestReady func() bool
	PricingReady  func() bool
}

func (d Dependencies) ready() (bool, string) {
	if d.TxIngestReady != nil && !d.TxIngestReady() {
		return false, "transaction ingestion"
	}
	if d.PricingReady != nil && !d.PricingReady() {
		return false, "pool pricing"
	}
	return true, ""
}

// Worker drives the verification loop: it paces itself by queue depth,
// re-enqueues signatures the queue lost, garbage-collects expired items and
// pushes batches through Verifier then Engine.
type Worker struct {
	cfg      Config
	queue    *Queue
	verifier *Verifier
	engine   *Engine
	store    *position.Store
	db       database.Store
	chain    chain.Client
	events   *events.Recorder
	deps     Dependencies

	ready       atomic.Bool
	lastSummary time.Time
	requeued    int64
}

func NewWorker(cfg Config, queue *Queue, verifier *Verifier, engine *Engine,
	store *position.Store, db database.Store, client chain.Client,
	recorder *events.Recorder, deps Dependencies) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		queue:    queue,
		verifier: verifier,
		engine:   engine,
		store:    store,
		db:       db,
		chain:    client,
		events:   recorder,
		deps:     deps,
	}
}

// Ready reports whether the worker has passed dependency wait. Other
// subsystems use it as the "positions system ready" flag.
func (w *Worker) Ready() bool {
	return w.ready.Load()
}

// Run blocks until ctx is cancelled. Shutdown is cooperative: it is only
// observed between iterations, never mid-transition.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.waitForDependencies(ctx); err != nil {
		return err
	}
	w.ready.Store(true)
	w.record("positions_system_ready", database.SeverityInfo, "", "", nil)
	logger.Infof("verification worker running")

	first := true
	w.lastSummary = time.Now()
	for {
		sleep := w.adaptiveSleep(first)
		first = false
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("verification worker shutting down")
			return ctx.Err()
		case <-timer.C:
		}
		w.runCycle(ctx)
	}
}

func (w *Worker) waitForDependencies(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastLog := time.Time{}
	for {
		ok, waitingOn := w.deps.ready()
		if ok {
			return nil
		}
		if time.Since(lastLog) >= 15*time.Second {
			logger.Infof("verification worker waiting on %s", waitingOn)
			lastLog = time.Now()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) adaptiveSleep(firstCycle bool) time.Duration {
	if firstCycle {
		return 3 * time.Second
	}
	switch depth := w.queue.Size(); {
	case depth > 50:
		return 500 * time.Millisecond
	case depth > 0:
		return 2 * time.Second
	default:
		return 5 * time.Second
	}
}

func (w *Worker) runCycle(ctx context.Context) {
	sizeBefore := w.queue.Size()
	w.selfHeal(ctx)
	w.maybeSummarize(sizeBefore)
	w.gcExpired(ctx)

	now := time.Now()
	batch := w.queue.PollBatch(w.cfg.BatchSize, now)
	for _, it := range batch {
		if ctx.Err() != nil {
			// Put un-started items back; in-flight work already finished.
			w.queue.Requeue(it, now)
			return
		}
		w.processItem(ctx, it)
	}

	metrics.QueueDepth.Set(float64(w.queue.Size()))
	metrics.OpenPositions.Set(float64(w.store.OpenCount()))
}

// selfHeal re-enqueues any position whose unverified signature is missing
// from the live queue. Queue entries only live in memory between writes, so
// a dropped item would otherwise strand its position forever.
func (w *Worker) selfHeal(ctx context.Context) {
	for _, pos := range w.store.Snapshot() {
		if pos.EntrySignature != "" && !pos.EntryVerified && !w.queue.Contains(pos.EntrySignature) {
			if w.queue.Enqueue(Item{
				Signature:  pos.EntrySignature,
				Mint:       pos.Mint,
				PositionID: pos.ID,
				Kind:       KindEntry,
			}) {
				w.requeued++
				logger.Warnf("self-heal: re-enqueued entry %s for %s", pos.EntrySignature, pos.Mint)
			}
		}
		if pos.ExitSignature != "" && !pos.ExitVerified && !w.queue.Contains(pos.ExitSignature) {
			it := Item{
				Signature:  pos.ExitSignature,
				Mint:       pos.Mint,
				PositionID: pos.ID,
				Kind:       KindExit,
			}
			// The signature alone cannot tell a partial exit from a full
			// close; the pending registry carries that context.
			if rec, ok, err := w.db.FindPendingPartialExit(ctx, pos.ExitSignature); err != nil {
				logger.Warnf("self-heal: pending partial exit lookup failed for %s: %v", pos.ExitSignature, err)
			} else if ok {
				it.IsPartialExit = true
				it.ExpectedExitAmount = rec.ExpectedExitAmount
				it.RequestedExitPct = rec.RequestedExitPct
				it.ExpiryHeight = rec.ExpiryHeight
			}
			if w.queue.Enqueue(it) {
				w.requeued++
				logger.Warnf("self-heal: re-enqueued exit %s for %s", pos.ExitSignature, pos.Mint)
			}
		}
	}
}

func (w *Worker) maybeSummarize(sizeBefore int) {
	if time.Since(w.lastSummary) < w.cfg.SummaryInterval {
		return
	}
	w.lastSummary = time.Now()
	w.record("verify_loop_summary", database.SeverityInfo, "", "", map[string]any{
		"queue_before": sizeBefore,
		"queue_after":  w.queue.Size(),
		"requeued":     w.requeued,
		"open":         w.store.OpenCount(),
	})
	w.requeued = 0
}

// gcExpired only pays for the block-height round trip when at least one
// queued item can actually expire.
func (w *Worker) gcExpired(ctx context.Context) {
	if !w.queue.HasExpiringItems() {
		return
	}
	height, err := w.chain.GetBlockHeight(ctx)
	if err != nil {
		logger.Warnf("block height fetch failed, skipping expiry gc: %v", err)
		return
	}
	for _, it := range w.queue.GCExpired(height) {
		metrics.Expired.Inc()
		reason := fmt.Sprintf("expired at height %d (deadline %d)", height, it.ExpiryHeight)
		w.record("verification_expired", database.SeverityWarn, it.Mint, it.Signature, map[string]any{
			"kind":   it.MetricKind(),
			"reason": reason,
			"age_ms": it.Age(time.Now()).Milliseconds(),
		})
		if _, err := w.engine.Apply(ctx, abandonCleanup(it, reason)); err != nil {
			metrics.Errors.Inc()
			logger.Errorf("expiry cleanup for %s failed: %v", it.Signature, err)
		}
	}
}

// processItem drives one item through verify and apply. A panic in one item
// must not take down the loop or skip the rest of the batch.
func (w *Worker) processItem(ctx context.Context, it Item) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Errors.Inc()
			logger.Errorf("panic verifying %s: %v\n%s", it.Signature, r, debug.Stack())
			w.queue.Requeue(it, time.Now())
		}
	}()

	metrics.Operations.Inc()
	w.record("verification_started", database.SeverityInfo, it.Mint, it.Signature, map[string]any{
		"kind":     it.MetricKind(),
		"attempts": it.Attempts,
	})

	outcome := w.verifier.Verify(ctx, it)
	switch outcome.Kind {
	case OutcomeRetry:
		w.handleRetry(ctx, it, outcome.Reason)
	case OutcomeTransition:
		w.handleTransition(ctx, it, outcome.Transition)
	case OutcomePermanentFailure:
		w.handlePermanentFailure(ctx, it, outcome)
	}
}

func (w *Worker) handleRetry(ctx context.Context, it Item, reason string) {
	it.LastError = reason
	now := time.Now()
	if w.cfg.GiveUp.ShouldGiveUp(it, now) {
		metrics.Abandoned.Inc()
		age := it.Age(now)
		logger.Errorf("abandoning %s after %d attempts (%s old): %s", it.Signature, it.Attempts, age, reason)
		w.record("verification_abandoned", database.SeverityError, it.Mint, it.Signature, map[string]any{
			"kind":       it.MetricKind(),
			"attempts":   it.Attempts,
			"age_ms":     age.Milliseconds(),
			"last_error": reason,
		})
		if _, err := w.engine.Apply(ctx, abandonCleanup(it, "abandoned: "+reason)); err != nil {
			metrics.Errors.Inc()
			logger.Errorf("abandon cleanup for %s failed: %v", it.Signature, err)
		}
		return
	}
	metrics.Retries.Inc()
	w.queue.Requeue(it, now)
	logger.Debugf("requeued %s (attempt %d): %s", it.Signature, it.Attempts, reason)
}

func (w *Worker) handleTransition(ctx context.Context, it Item, t Transition) {
	effects, err := w.engine.Apply(ctx, t)
	if err != nil {
		// Treated like a transient failure: memory was left unchanged, so
		// retrying the item reproduces the same transition.
		metrics.Errors.Inc()
		it.LastError = err.Error()
		w.queue.Requeue(it, time.Now())
		logger.Errorf("apply %s for %s failed, requeued: %v", t.Name(), it.Signature, err)
		return
	}
	metrics.Verified.WithLabelValues(it.MetricKind()).Inc()
	w.record("verification_resolved", database.SeverityInfo, it.Mint, it.Signature, map[string]any{
		"kind":       it.MetricKind(),
		"transition": t.Name(),
		"attempts":   it.Attempts,
		"db_updated": effects.DBUpdated,
		"closed":     effects.PositionClosed,
	})
}

func (w *Worker) handlePermanentFailure(ctx context.Context, it Item, outcome Outcome) {
	metrics.PermanentFailures.Inc()
	w.record("verification_permanent_failure", database.SeverityError, it.Mint, it.Signature, map[string]any{
		"kind":   it.MetricKind(),
		"reason": outcome.Reason,
	})
	if _, err := w.engine.Apply(ctx, outcome.Transition); err != nil {
		metrics.Errors.Inc()
		it.LastError = err.Error()
		w.queue.Requeue(it, time.Now())
		logger.Errorf("permanent failure cleanup for %s failed, requeued: %v", it.Signature, err)
	}
}

func (w *Worker) record(name string, severity database.EventSeverity, mint, signature string, payload map[string]any) {
	if w.events == nil {
		return
	}
	w.events.Record(name, severity, mint, signature, payload)
}
