package verify

import (
	"context"
	"fmt"

	"kestrel/internal/gateway/database"
	"kestrel/internal/logger"
	"kestrel/internal/position"
)

// Rehydrate rebuilds runtime state from durable storage at startup: the
// position store, the admission semaphore against the configured capacity,
// and the verification queue from unverified signatures plus the pending
// DCA and partial-exit registries.
func Rehydrate(ctx context.Context, db database.Store, store *position.Store,
	admission *position.Admission, queue *Queue, capacity int) error {

	positions, err := db.LoadAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	store.Load(positions)
	admission.Reconcile(capacity, store.OpenCount())

	enqueued := 0
	for i := range positions {
		pos := &positions[i]
		if !pos.IsOpen() {
			continue
		}
		if pos.EntrySignature != "" && !pos.EntryVerified {
			if queue.Enqueue(Item{
				Signature:  pos.EntrySignature,
				Mint:       pos.Mint,
				PositionID: pos.ID,
				Kind:       KindEntry,
			}) {
				enqueued++
			}
		}
		if pos.ExitSignature != "" && !pos.ExitVerified {
			it := Item{
				Signature:  pos.ExitSignature,
				Mint:       pos.Mint,
				PositionID: pos.ID,
				Kind:       KindExit,
			}
			if rec, ok, err := db.FindPendingPartialExit(ctx, pos.ExitSignature); err != nil {
				logger.Warnf("rehydrate: pending partial exit lookup failed for %s: %v", pos.ExitSignature, err)
			} else if ok {
				it.IsPartialExit = true
				it.ExpectedExitAmount = rec.ExpectedExitAmount
				it.RequestedExitPct = rec.RequestedExitPct
				it.ExpiryHeight = rec.ExpiryHeight
			}
			if queue.Enqueue(it) {
				enqueued++
			}
		}
	}

	dcas, err := db.ListPendingDcaSwaps(ctx)
	if err != nil {
		return fmt.Errorf("load pending dca swaps: %w", err)
	}
	for _, rec := range dcas {
		if queue.Enqueue(Item{
			Signature:    rec.Signature,
			Mint:         rec.Mint,
			PositionID:   rec.PositionID,
			Kind:         KindEntry,
			IsDca:        true,
			ExpiryHeight: rec.ExpiryHeight,
			CreatedAt:    rec.CreatedAt,
		}) {
			enqueued++
		}
	}

	partials, err := db.ListPendingPartialExits(ctx)
	if err != nil {
		return fmt.Errorf("load pending partial exits: %w", err)
	}
	for _, rec := range partials {
		if queue.Enqueue(Item{
			Signature:          rec.Signature,
			Mint:               rec.Mint,
			PositionID:         rec.PositionID,
			Kind:               KindExit,
			IsPartialExit:      true,
			ExpectedExitAmount: rec.ExpectedExitAmount,
			RequestedExitPct:   rec.RequestedExitPct,
			ExpiryHeight:       rec.ExpiryHeight,
			CreatedAt:          rec.CreatedAt,
		}) {
			enqueued++
		}
	}

	logger.Infof("rehydrated %d positions (%d open, held %d/%d), enqueued %d verification items",
		len(positions), store.OpenCount(), admission.Held(), admission.Capacity(), enqueued)
	return nil
}
