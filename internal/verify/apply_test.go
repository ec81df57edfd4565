package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"kestrel/internal/position"
	"kestrel/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineHarness struct {
	engine    *Engine
	store     *position.Store
	admission *position.Admission
	db        *memStore
}

func newEngineHarness(t *testing.T, capacity int, open ...types.Position) *engineHarness {
	t.Helper()
	db := newMemStore()
	store := position.NewStore()
	ctx := context.Background()
	for i := range open {
		if open[i].CreatedAt.IsZero() {
			open[i].CreatedAt = time.Now()
		}
		_, err := db.SavePosition(ctx, &open[i])
		require.NoError(t, err)
	}
	store.Load(open)
	adm := position.NewAdmission(capacity)
	adm.Reconcile(capacity, store.OpenCount())
	return &engineHarness{
		engine:    NewEngine(store, db, adm),
		store:     store,
		admission: adm,
		db:        db,
	}
}

func TestApplyEntryConfirmed(t *testing.T) {
	h := newEngineHarness(t, 3, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntrySizeSol: 1.0,
	})
	ctx := context.Background()

	effects, err := h.engine.Apply(ctx, EntryConfirmed{
		PositionID: "p1", Mint: "m1", Signature: "sig-e",
		FeeSol: 0.0002, TokenAmount: 50000, SolSpent: 1.01, EffectiveEntryPrice: 0.0000202,
	})
	require.NoError(t, err)
	assert.True(t, effects.DBUpdated)
	assert.False(t, effects.PositionClosed)

	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	assert.True(t, pos.EntryVerified)
	assert.InDelta(t, 50000, pos.TokenAmount, 1e-9)
	assert.InDelta(t, 0.0000202, pos.EffectiveEntryPrice, 1e-12)

	saved, ok := h.db.position("p1")
	require.True(t, ok)
	assert.True(t, saved.EntryVerified)

	// Second application is a no-op.
	effects, err = h.engine.Apply(ctx, EntryConfirmed{PositionID: "p1", Mint: "m1", Signature: "sig-e"})
	require.NoError(t, err)
	assert.False(t, effects.DBUpdated)
}

func TestApplyExitConfirmedClosesAndReleasesOnce(t *testing.T) {
	h := newEngineHarness(t, 2, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntryVerified: true,
		ExitSignature: "sig-x", TokenAmount: 40000,
	})
	require.Equal(t, 1, h.admission.Held())
	ctx := context.Background()

	tr := ExitConfirmed{
		PositionID: "p1", Mint: "m1", Signature: "sig-x",
		SolReceived: 1.4, FeeSol: 0.0003, EffectiveExitPrice: 0.000035,
	}
	effects, err := h.engine.Apply(ctx, tr)
	require.NoError(t, err)
	assert.True(t, effects.DBUpdated)
	assert.True(t, effects.PositionClosed)

	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	assert.True(t, pos.ExitVerified)
	require.NotNil(t, pos.ExitTime)
	assert.InDelta(t, 1.4, pos.SolReceived, 1e-12)
	assert.Equal(t, 0, h.admission.Held())

	// Retried processing of the same signature must not release again.
	effects, err = h.engine.Apply(ctx, tr)
	require.NoError(t, err)
	assert.False(t, effects.PositionClosed)
	assert.Equal(t, 0, h.admission.Held())
}

func TestApplyPartialExitNeverCloses(t *testing.T) {
	h := newEngineHarness(t, 2, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntryVerified: true,
		ExitSignature: "sig-p", TokenAmount: 40000,
	})
	ctx := context.Background()
	require.NoError(t, h.db.SavePendingPartialExit(ctx, types.PendingPartialExit{
		Signature: "sig-p", Mint: "m1", PositionID: "p1",
		ExpectedExitAmount: 20000, RequestedExitPct: 0.5,
	}))
	heldBefore := h.admission.Held()

	tr := PartialExitConfirmed{
		PositionID: "p1", Mint: "m1", Signature: "sig-p",
		TokensSold: 20100, SolReceived: 0.7, FeeSol: 0.0002,
	}
	effects, err := h.engine.Apply(ctx, tr)
	require.NoError(t, err)
	assert.True(t, effects.DBUpdated)
	assert.False(t, effects.PositionClosed)

	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	assert.True(t, pos.IsOpen())
	assert.InDelta(t, 19900, pos.TokenAmount, 1e-6)
	assert.InDelta(t, 0.7, pos.SolReceived, 1e-12)
	assert.Empty(t, pos.ExitSignature)
	assert.Equal(t, heldBefore, h.admission.Held())

	// Pending record consumed; re-apply is a no-op.
	_, live, err := h.db.FindPendingPartialExit(ctx, "sig-p")
	require.NoError(t, err)
	assert.False(t, live)
	effects, err = h.engine.Apply(ctx, tr)
	require.NoError(t, err)
	assert.False(t, effects.DBUpdated)
	pos, _ = h.store.GetByMint("m1")
	assert.InDelta(t, 19900, pos.TokenAmount, 1e-6)
}

func TestApplyDcaConfirmedAccumulates(t *testing.T) {
	h := newEngineHarness(t, 2, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntryVerified: true,
		EntrySizeSol: 1.0, TokenAmount: 50000,
	})
	ctx := context.Background()
	require.NoError(t, h.db.SavePendingDcaSwap(ctx, types.PendingDcaSwap{
		Signature: "sig-d", Mint: "m1", PositionID: "p1", SolAmount: 0.5,
	}))

	tr := DcaConfirmed{
		PositionID: "p1", Mint: "m1", Signature: "sig-d",
		SolSpent: 0.5, FeeSol: 0.0001, TokenDelta: 24000,
	}
	effects, err := h.engine.Apply(ctx, tr)
	require.NoError(t, err)
	assert.True(t, effects.DBUpdated)

	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	assert.InDelta(t, 74000, pos.TokenAmount, 1e-6)
	assert.InDelta(t, 1.5, pos.EntrySizeSol, 1e-12)

	// Deltas must never fold in twice.
	effects, err = h.engine.Apply(ctx, tr)
	require.NoError(t, err)
	assert.False(t, effects.DBUpdated)
	pos, _ = h.store.GetByMint("m1")
	assert.InDelta(t, 74000, pos.TokenAmount, 1e-6)
}

func TestApplyRemoveOrphanEntry(t *testing.T) {
	h := newEngineHarness(t, 2, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e",
	})
	require.Equal(t, 1, h.admission.Held())
	ctx := context.Background()

	effects, err := h.engine.Apply(ctx, RemoveOrphanEntry{
		PositionID: "p1", Mint: "m1", Signature: "sig-e", Reason: "never confirmed",
	})
	require.NoError(t, err)
	assert.True(t, effects.PositionClosed)

	_, ok := h.store.GetByMint("m1")
	assert.False(t, ok)
	_, ok = h.db.position("p1")
	assert.False(t, ok)
	assert.Equal(t, 0, h.admission.Held())
}

func TestOrphanRemovalSkippedWhenEntryVerified(t *testing.T) {
	h := newEngineHarness(t, 2, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntryVerified: true,
	})
	effects, err := h.engine.Apply(context.Background(), RemoveOrphanEntry{
		PositionID: "p1", Mint: "m1", Signature: "sig-e",
	})
	require.NoError(t, err)
	assert.False(t, effects.PositionClosed)
	_, ok := h.store.GetByMint("m1")
	assert.True(t, ok)
	assert.Equal(t, 1, h.admission.Held())
}

func TestApplySyntheticClose(t *testing.T) {
	h := newEngineHarness(t, 2, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntryVerified: true,
		ExitSignature: "sig-x", TokenAmount: 40000,
	})
	ctx := context.Background()

	effects, err := h.engine.Apply(ctx, ExitPermanentFailureSynthetic{
		PositionID: "p1", Mint: "m1", Signature: "sig-x", Reason: "abandoned",
	})
	require.NoError(t, err)
	assert.True(t, effects.PositionClosed)

	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	require.NotNil(t, pos.ExitTime)
	assert.False(t, pos.ExitVerified)
	assert.Equal(t, 0, h.admission.Held())
}

func TestApplyExitFailedStaysOpen(t *testing.T) {
	h := newEngineHarness(t, 2, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e", EntryVerified: true,
		ExitSignature: "sig-x", TokenAmount: 40000,
	})
	ctx := context.Background()

	effects, err := h.engine.Apply(ctx, ExitFailed{
		PositionID: "p1", Mint: "m1", Signature: "sig-x", Reason: "slippage exceeded",
	})
	require.NoError(t, err)
	assert.True(t, effects.DBUpdated)
	assert.False(t, effects.PositionClosed)

	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	assert.True(t, pos.IsOpen())
	assert.Empty(t, pos.ExitSignature)
	assert.Equal(t, 1, h.admission.Held())
}

func TestApplyPersistenceFailureLeavesMemoryUnchanged(t *testing.T) {
	h := newEngineHarness(t, 2, types.Position{
		ID: "p1", Mint: "m1", EntrySignature: "sig-e",
	})
	h.db.updateErr = errors.New("disk full")

	_, err := h.engine.Apply(context.Background(), EntryConfirmed{
		PositionID: "p1", Mint: "m1", Signature: "sig-e", TokenAmount: 50000,
	})
	require.Error(t, err)

	pos, ok := h.store.GetByMint("m1")
	require.True(t, ok)
	assert.False(t, pos.EntryVerified)
	assert.Zero(t, pos.TokenAmount)
}
