package verify

import (
	"context"
	"fmt"
	"time"

	"kestrel/internal/gateway/database"
	"kestrel/internal/logger"
	"kestrel/internal/position"
)

// Engine applies transitions to the position ledger. Each application runs
// under the target mint's lock and follows copy-mutate-persist-install
// order: the in-memory position is only replaced after the durable write
// succeeded, so a persistence failure leaves memory untouched and the
// caller requeues the item.
//
// Re-applying a retried verifier result is safe: every variant checks the
// position's current state first and degrades to a no-op once the work is
// already done, so a permit can never be released twice for one closure.
type Engine struct {
	store     *position.Store
	db        database.Store
	admission *position.Admission
}

func NewEngine(store *position.Store, db database.Store, admission *position.Admission) *Engine {
	return &Engine{store: store, db: db, admission: admission}
}

func (e *Engine) Apply(ctx context.Context, t Transition) (Effects, error) {
	unlock := e.store.LockMint(t.TargetMint())
	defer unlock()

	switch tr := t.(type) {
	case EntryConfirmed:
		return e.applyEntryConfirmed(ctx, tr)
	case DcaConfirmed:
		return e.applyDcaConfirmed(ctx, tr)
	case ExitConfirmed:
		return e.applyExitConfirmed(ctx, tr)
	case PartialExitConfirmed:
		return e.applyPartialExitConfirmed(ctx, tr)
	case DcaFailed:
		return e.applyDcaFailed(ctx, tr)
	case ExitFailed:
		return e.applyExitFailed(ctx, tr)
	case RemoveOrphanEntry:
		return e.applyRemoveOrphanEntry(ctx, tr)
	case ExitPermanentFailureSynthetic:
		return e.applySyntheticClose(ctx, tr)
	default:
		return Effects{}, fmt.Errorf("unknown transition %T", t)
	}
}

func (e *Engine) applyEntryConfirmed(ctx context.Context, t EntryConfirmed) (Effects, error) {
	pos, ok := e.store.GetByMint(t.Mint)
	if !ok || pos.ID != t.PositionID {
		logger.Warnf("entry_confirmed for unknown position %s (%s), skipping", t.PositionID, t.Mint)
		return Effects{}, nil
	}
	if pos.EntryVerified {
		return Effects{}, nil
	}
	pos.EntryVerified = true
	pos.EntryFeeSol = t.FeeSol
	if t.TokenAmount > 0 {
		pos.TokenAmount = t.TokenAmount
	}
	if t.SolSpent > 0 {
		pos.EntrySizeSol = t.SolSpent
	}
	if t.EffectiveEntryPrice > 0 {
		pos.EffectiveEntryPrice = t.EffectiveEntryPrice
	}
	pos.UpdatedAt = time.Now()
	if err := e.db.UpdatePosition(ctx, pos); err != nil {
		return Effects{}, fmt.Errorf("persist entry confirm %s: %w", pos.ID, err)
	}
	e.store.Upsert(pos)
	return Effects{DBUpdated: true}, nil
}

func (e *Engine) applyDcaConfirmed(ctx context.Context, t DcaConfirmed) (Effects, error) {
	// The pending record doubles as the idempotency guard: it is deleted
	// only after the position write succeeded, and DCA deltas must never be
	// folded in twice.
	pending, err := e.db.ListPendingDcaSwaps(ctx)
	if err != nil {
		return Effects{}, fmt.Errorf("list pending dca: %w", err)
	}
	found := false
	for _, rec := range pending {
		if rec.Signature == t.Signature {
			found = true
			break
		}
	}
	if !found {
		return Effects{}, nil
	}
	pos, ok := e.store.GetByMint(t.Mint)
	if !ok || !pos.IsOpen() {
		logger.Warnf("dca_confirmed %s but position is gone or closed, dropping pending record", t.Signature)
		e.deletePendingDca(ctx, t.Signature)
		return Effects{}, nil
	}
	pos.TokenAmount += t.TokenDelta
	pos.EntrySizeSol += t.SolSpent
	pos.EntryFeeSol += t.FeeSol
	if pos.TokenAmount > 0 && pos.EntrySizeSol > 0 {
		pos.EffectiveEntryPrice = ratio(pos.EntrySizeSol, pos.TokenAmount)
	}
	pos.UpdatedAt = time.Now()
	if err := e.db.UpdatePosition(ctx, pos); err != nil {
		return Effects{}, fmt.Errorf("persist dca confirm %s: %w", pos.ID, err)
	}
	e.store.Upsert(pos)
	e.deletePendingDca(ctx, t.Signature)
	return Effects{DBUpdated: true}, nil
}

func (e *Engine) applyExitConfirmed(ctx context.Context, t ExitConfirmed) (Effects, error) {
	pos, ok := e.store.GetByMint(t.Mint)
	if !ok || pos.ID != t.PositionID {
		logger.Warnf("exit_confirmed for unknown position %s (%s), skipping", t.PositionID, t.Mint)
		return Effects{}, nil
	}
	if !pos.IsOpen() {
		return Effects{}, nil
	}
	now := time.Now()
	pos.ExitVerified = true
	pos.ExitSignature = t.Signature
	pos.ExitFeeSol = t.FeeSol
	pos.SolReceived = t.SolReceived
	if t.EffectiveExitPrice > 0 {
		pos.EffectiveExitPrice = t.EffectiveExitPrice
	}
	pos.ExitTime = &now
	pos.UpdatedAt = now
	if err := e.db.UpdatePosition(ctx, pos); err != nil {
		return Effects{}, fmt.Errorf("persist exit confirm %s: %w", pos.ID, err)
	}
	e.store.Upsert(pos)
	e.admission.Release()
	return Effects{DBUpdated: true, PositionClosed: true}, nil
}

func (e *Engine) applyPartialExitConfirmed(ctx context.Context, t PartialExitConfirmed) (Effects, error) {
	_, live, err := e.db.FindPendingPartialExit(ctx, t.Signature)
	if err != nil {
		return Effects{}, fmt.Errorf("find pending partial exit: %w", err)
	}
	if !live {
		return Effects{}, nil
	}
	pos, ok := e.store.GetByMint(t.Mint)
	if !ok || !pos.IsOpen() {
		logger.Warnf("partial_exit_confirmed %s but position is gone or closed, dropping pending record", t.Signature)
		e.deletePendingPartialExit(ctx, t.Signature)
		return Effects{}, nil
	}
	pos.TokenAmount -= t.TokensSold
	if pos.TokenAmount < 0 {
		pos.TokenAmount = 0
	}
	pos.SolReceived += t.SolReceived
	pos.ExitFeeSol += t.FeeSol
	// A partial exit never closes: the resolved signature is cleared so the
	// position reads as plainly open again, and the permit stays held.
	if pos.ExitSignature == t.Signature {
		pos.ExitSignature = ""
		pos.ExitVerified = false
	}
	pos.UpdatedAt = time.Now()
	if err := e.db.UpdatePosition(ctx, pos); err != nil {
		return Effects{}, fmt.Errorf("persist partial exit %s: %w", pos.ID, err)
	}
	e.store.Upsert(pos)
	e.deletePendingPartialExit(ctx, t.Signature)
	return Effects{DBUpdated: true}, nil
}

func (e *Engine) applyDcaFailed(ctx context.Context, t DcaFailed) (Effects, error) {
	// The position is untouched: a DCA buy never held its own permit and
	// its failure only cancels the pending intent.
	e.deletePendingDca(ctx, t.Signature)
	logger.Infof("dca swap %s dropped: %s", t.Signature, t.Reason)
	return Effects{}, nil
}

func (e *Engine) applyExitFailed(ctx context.Context, t ExitFailed) (Effects, error) {
	if t.IsPartialExit {
		e.deletePendingPartialExit(ctx, t.Signature)
	}
	pos, ok := e.store.GetByMint(t.Mint)
	if !ok || !pos.IsOpen() || pos.ExitSignature != t.Signature {
		return Effects{}, nil
	}
	pos.ExitSignature = ""
	pos.ExitVerified = false
	pos.UpdatedAt = time.Now()
	if err := e.db.UpdatePosition(ctx, pos); err != nil {
		return Effects{}, fmt.Errorf("persist exit failure %s: %w", pos.ID, err)
	}
	e.store.Upsert(pos)
	logger.Warnf("exit %s failed on-chain for %s, position stays open: %s", t.Signature, t.Mint, t.Reason)
	return Effects{DBUpdated: true}, nil
}

func (e *Engine) applyRemoveOrphanEntry(ctx context.Context, t RemoveOrphanEntry) (Effects, error) {
	pos, ok := e.store.GetByMint(t.Mint)
	if !ok || pos.ID != t.PositionID {
		return Effects{}, nil
	}
	if pos.EntryVerified {
		// The entry confirmed while this cleanup was in flight. Keep it.
		logger.Warnf("orphan removal for %s skipped, entry already verified", t.PositionID)
		return Effects{}, nil
	}
	if err := e.db.DeletePositionByID(ctx, pos.ID); err != nil {
		return Effects{}, fmt.Errorf("delete orphan %s: %w", pos.ID, err)
	}
	e.store.RemoveByID(pos.ID)
	e.admission.Release()
	logger.Warnf("removed orphan position %s (%s): %s", t.PositionID, t.Mint, t.Reason)
	return Effects{DBUpdated: true, PositionClosed: true}, nil
}

func (e *Engine) applySyntheticClose(ctx context.Context, t ExitPermanentFailureSynthetic) (Effects, error) {
	pos, ok := e.store.GetByMint(t.Mint)
	if !ok || pos.ID != t.PositionID {
		return Effects{}, nil
	}
	if !pos.IsOpen() {
		return Effects{}, nil
	}
	now := time.Now()
	// Closed without confirmation: ExitVerified stays false so the ledger
	// records that the on-chain outcome was never learned.
	pos.ExitTime = &now
	pos.ExitVerified = false
	pos.UpdatedAt = now
	if err := e.db.UpdatePosition(ctx, pos); err != nil {
		return Effects{}, fmt.Errorf("persist synthetic close %s: %w", pos.ID, err)
	}
	e.store.Upsert(pos)
	e.admission.Release()
	logger.Errorf("synthetic close for %s (%s), exit %s never confirmed: %s", t.PositionID, t.Mint, t.Signature, t.Reason)
	return Effects{DBUpdated: true, PositionClosed: true}, nil
}

func (e *Engine) deletePendingDca(ctx context.Context, signature string) {
	if err := e.db.DeletePendingDcaSwap(ctx, signature); err != nil {
		logger.Warnf("delete pending dca %s failed: %v", signature, err)
	}
}

func (e *Engine) deletePendingPartialExit(ctx context.Context, signature string) {
	if err := e.db.DeletePendingPartialExit(ctx, signature); err != nil {
		logger.Warnf("delete pending partial exit %s failed: %v", signature, err)
	}
}
