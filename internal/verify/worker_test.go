package verify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"kestrel/internal/metrics"
	"kestrel/internal/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workerHarness struct {
	*engineHarness
	worker *Worker
	queue  *Queue
	chain  *stubChain
}

func newWorkerHarness(t *testing.T, cfg Config, capacity int, open ...types.Position) *workerHarness {
	t.Helper()
	eh := newEngineHarness(t, capacity, open...)
	q := newTestQueue()
	client := newStubChain()
	v := NewVerifier(client, eh.store, 0.02)
	w := NewWorker(cfg, q, v, eh.engine, eh.store, eh.db, client, nil, Dependencies{})
	return &workerHarness{engineHarness: eh, worker: w, queue: q, chain: client}
}

// drainDue processes every currently-live item as if its retry deadline had
// elapsed, so backoff tests never need to sleep.
func (h *workerHarness) drainDue(ctx context.Context) []Item {
	batch := h.queue.PollBatch(100, time.Now().Add(time.Hour))
	for _, it := range batch {
		h.worker.processItem(ctx, it)
	}
	return batch
}

func TestEntryVerifiedFirstAttempt(t *testing.T) {
	h := newWorkerHarness(t, Config{}, 3, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntrySizeSol: 1,
	})
	h.chain.respond("sig-e", confirmed(50000, -1.0, 0.0002))
	h.queue.Enqueue(Item{Signature: "sig-e", Mint: "m1", PositionID: "p1", Kind: KindEntry})

	h.worker.runCycle(context.Background())

	assert.False(t, h.queue.Contains("sig-e"))
	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	assert.True(t, pos.EntryVerified)
	saved, _ := h.db.position("p1")
	assert.True(t, saved.EntryVerified)
}

func TestExitVerifiedAfterThreeTransientRetries(t *testing.T) {
	h := newWorkerHarness(t, Config{GiveUp: GiveUpPolicy{MaxAttempts: 20}}, 3, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntryVerified: true,
		ExitSignature: "sig-x", TokenAmount: 40000,
	})
	h.chain.respond("sig-x", notFound(), notFound(), notFound(), confirmed(-40000, 1.4, 0.0003))
	h.queue.Enqueue(Item{Signature: "sig-x", Mint: "m1", PositionID: "p1", Kind: KindExit})

	retriesBefore := testutil.ToFloat64(metrics.Retries)
	ctx := context.Background()
	var last []Item
	for i := 0; i < 4; i++ {
		last = h.drainDue(ctx)
		require.Len(t, last, 1)
	}
	assert.Equal(t, 3, last[0].Attempts)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.Retries)-retriesBefore, 1e-9)

	assert.False(t, h.queue.Contains("sig-x"))
	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	assert.True(t, pos.ExitVerified)
	assert.NotNil(t, pos.ExitTime)
}

func TestExpiredDcaCleanupKeepsPosition(t *testing.T) {
	h := newWorkerHarness(t, Config{}, 3, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntryVerified: true, TokenAmount: 50000,
	})
	ctx := context.Background()
	require.NoError(t, h.db.SavePendingDcaSwap(ctx, types.PendingDcaSwap{
		Signature: "sig-d", Mint: "m1", PositionID: "p1", SolAmount: 0.5,
	}))
	h.queue.Enqueue(Item{
		Signature: "sig-d", Mint: "m1", PositionID: "p1",
		Kind: KindEntry, IsDca: true, ExpiryHeight: 100,
	})
	h.chain.height = 200
	heldBefore := h.admission.Held()

	h.worker.gcExpired(ctx)

	assert.False(t, h.queue.Contains("sig-d"))
	// DCA cleanup never removes the position or touches its permit.
	_, ok := h.store.GetByMint("m1")
	assert.True(t, ok)
	assert.Equal(t, heldBefore, h.admission.Held())
	pending, err := h.db.ListPendingDcaSwaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, h.chain.heightCalls)
}

func TestNoExpiryMeansNoBlockHeightCall(t *testing.T) {
	h := newWorkerHarness(t, Config{}, 3)
	h.queue.Enqueue(Item{Signature: "sig-1", Mint: "m1", Kind: KindEntry})

	h.worker.gcExpired(context.Background())

	assert.Equal(t, 0, h.chain.heightCalls)
	assert.True(t, h.queue.Contains("sig-1"))
}

func TestAbandonedExitForcesSyntheticClose(t *testing.T) {
	h := newWorkerHarness(t, Config{GiveUp: GiveUpPolicy{MaxAttempts: 3}}, 3, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntryVerified: true,
		ExitSignature: "sig-x", TokenAmount: 40000,
	})
	require.Equal(t, 1, h.admission.Held())

	// Chain never resolves the signature; the give-up policy fires once the
	// attempt count reaches the threshold.
	h.worker.processItem(context.Background(), Item{
		Signature: "sig-x", Mint: "m1", PositionID: "p1", Kind: KindExit,
		Attempts: 3, CreatedAt: time.Now().Add(-time.Hour),
	})

	assert.False(t, h.queue.Contains("sig-x"))
	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	require.NotNil(t, pos.ExitTime)
	assert.False(t, pos.ExitVerified)
	assert.Equal(t, 0, h.admission.Held())
}

func TestPanicInOneItemDoesNotKillBatch(t *testing.T) {
	h := newWorkerHarness(t, Config{GiveUp: GiveUpPolicy{MaxAttempts: 20}}, 3, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntrySizeSol: 1,
	})
	h.chain.panicSigs["sig-bad"] = true
	h.chain.respond("sig-e", confirmed(50000, -1.0, 0.0002))
	h.queue.Enqueue(Item{Signature: "sig-bad", Mint: "m2", PositionID: "p2", Kind: KindEntry})
	h.queue.Enqueue(Item{Signature: "sig-e", Mint: "m1", PositionID: "p1", Kind: KindEntry})

	ctx := context.Background()
	for _, it := range h.queue.PollBatch(10, time.Now()) {
		h.worker.processItem(ctx, it)
	}

	// The panicking item went back for retry, the healthy one resolved.
	assert.True(t, h.queue.Contains("sig-bad"))
	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	assert.True(t, pos.EntryVerified)
}

func TestSelfHealReEnqueuesLostSignatures(t *testing.T) {
	h := newWorkerHarness(t, Config{}, 3,
		types.Position{ID: "p1", Mint: "m1", EntrySignature: "sig-e"},
		types.Position{
			ID: "p2", Mint: "m2", EntrySignature: "sig-e2", EntryVerified: true,
			ExitSignature: "sig-p", TokenAmount: 40000,
		},
	)
	ctx := context.Background()
	require.NoError(t, h.db.SavePendingPartialExit(ctx, types.PendingPartialExit{
		Signature: "sig-p", Mint: "m2", PositionID: "p2",
		ExpectedExitAmount: 20000, RequestedExitPct: 0.5,
	}))

	h.worker.selfHeal(ctx)

	assert.True(t, h.queue.Contains("sig-e"))
	require.True(t, h.queue.Contains("sig-p"))
	var partial Item
	for _, it := range h.queue.Snapshot() {
		if it.Signature == "sig-p" {
			partial = it
		}
	}
	// Partial-exit context must survive the re-enqueue.
	assert.True(t, partial.IsPartialExit)
	assert.InDelta(t, 20000, partial.ExpectedExitAmount, 1e-9)

	// Idempotent: a second pass adds nothing.
	size := h.queue.Size()
	h.worker.selfHeal(ctx)
	assert.Equal(t, size, h.queue.Size())
}

func TestWorkerReadinessGate(t *testing.T) {
	h := newWorkerHarness(t, Config{}, 1)
	var ready atomic.Bool
	h.worker.deps = Dependencies{TxIngestReady: ready.Load}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, h.worker.Ready())

	ready.Store(true)
	require.Eventually(t, h.worker.Ready, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not shut down")
	}
}

func TestRehydrate(t *testing.T) {
	db := newMemStore()
	ctx := context.Background()
	closedAt := time.Now().Add(-time.Hour)
	seed := []types.Position{
		{ID: "p1", Mint: "m1", EntrySignature: "sig-e1"},
		{ID: "p2", Mint: "m2", EntrySignature: "sig-e2", EntryVerified: true, ExitSignature: "sig-p"},
		{ID: "p3", Mint: "m3", EntrySignature: "sig-e3", EntryVerified: true, ExitVerified: true, ExitTime: &closedAt},
	}
	for i := range seed {
		_, err := db.SavePosition(ctx, &seed[i])
		require.NoError(t, err)
	}
	require.NoError(t, db.SavePendingPartialExit(ctx, types.PendingPartialExit{
		Signature: "sig-p", Mint: "m2", PositionID: "p2",
		ExpectedExitAmount: 10000, RequestedExitPct: 0.25,
	}))
	require.NoError(t, db.SavePendingDcaSwap(ctx, types.PendingDcaSwap{
		Signature: "sig-d", Mint: "m2", PositionID: "p2", SolAmount: 0.3,
	}))

	h := newEngineHarness(t, 5)
	q := newTestQueue()
	require.NoError(t, Rehydrate(ctx, db, h.store, h.admission, q, 5))

	assert.Equal(t, 3, h.store.Count())
	assert.Equal(t, 2, h.store.OpenCount())
	assert.Equal(t, 2, h.admission.Held())

	assert.True(t, q.Contains("sig-e1"))
	assert.True(t, q.Contains("sig-p"))
	assert.True(t, q.Contains("sig-d"))
	// Closed positions contribute nothing.
	assert.False(t, q.Contains("sig-e3"))

	for _, it := range q.Snapshot() {
		if it.Signature == "sig-p" {
			assert.True(t, it.IsPartialExit)
			assert.InDelta(t, 10000, it.ExpectedExitAmount, 1e-9)
		}
		if it.Signature == "sig-d" {
			assert.True(t, it.IsDca)
			assert.Equal(t, KindEntry, it.Kind)
		}
	}
}
