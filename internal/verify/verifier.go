package verify

import (
	"context"
	"errors"
	"fmt"

	"kestrel/internal/gateway/chain"
	"kestrel/internal/logger"
	"kestrel/internal/position"

	"github.com/shopspring/decimal"
)

// OutcomeKind classifies a single verification attempt.
type OutcomeKind int

const (
	// OutcomeRetry means the chain has not resolved the signature yet, or
	// the lookup itself failed transiently. Requeue with backoff.
	OutcomeRetry OutcomeKind = iota
	// OutcomeTransition means the chain conclusively resolved the signature
	// and Transition describes the ledger update.
	OutcomeTransition
	// OutcomePermanentFailure means the chain conclusively rejected the
	// transaction; Transition carries the terminal cleanup.
	OutcomePermanentFailure
)

// Outcome is the result of verifying one item.
type Outcome struct {
	Kind       OutcomeKind
	Transition Transition
	Reason     string
}

func retryOutcome(reason string) Outcome {
	return Outcome{Kind: OutcomeRetry, Reason: reason}
}

// Verifier resolves one verification item against the chain. It is
// stateless: every call fetches the item's current position and transaction
// status fresh, so retried processing of the same signature stays safe.
type Verifier struct {
	chain     chain.Client
	store     *position.Store
	tolerance float64
}

func NewVerifier(client chain.Client, store *position.Store, partialExitTolerance float64) *Verifier {
	if partialExitTolerance <= 0 || partialExitTolerance >= 1 {
		partialExitTolerance = 0.02
	}
	return &Verifier{chain: client, store: store, tolerance: partialExitTolerance}
}

func (v *Verifier) Verify(ctx context.Context, it Item) Outcome {
	status, err := v.chain.GetTransactionStatus(ctx, it.Signature)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return retryOutcome("transaction not found yet")
		}
		return retryOutcome(fmt.Sprintf("rpc error: %v", err))
	}
	if !status.Confirmed {
		return retryOutcome("transaction not finalized")
	}
	if !status.Succeeded {
		return Outcome{
			Kind:       OutcomePermanentFailure,
			Transition: failureCleanup(it, onChainReason(status)),
			Reason:     onChainReason(status),
		}
	}

	switch {
	case it.Kind == KindEntry && it.IsDca:
		return v.resolveDca(it, status)
	case it.Kind == KindEntry:
		return v.resolveEntry(it, status)
	case it.Kind == KindExit && it.IsPartialExit:
		return v.resolvePartialExit(it, status)
	default:
		return v.resolveExit(it, status)
	}
}

func (v *Verifier) resolveEntry(it Item, status chain.TxStatus) Outcome {
	tokens := status.TokenDelta
	solSpent := -status.SolDelta
	if tokens <= 0 {
		// Succeeded on-chain but the wallet received nothing: the swap
		// instruction did not do what the bot intended. Terminal.
		return Outcome{
			Kind:       OutcomePermanentFailure,
			Transition: failureCleanup(it, "entry succeeded but no tokens received"),
			Reason:     "no tokens received",
		}
	}
	return Outcome{
		Kind: OutcomeTransition,
		Transition: EntryConfirmed{
			PositionID:          it.PositionID,
			Mint:                it.Mint,
			Signature:           it.Signature,
			FeeSol:              status.FeeSol,
			TokenAmount:         tokens,
			SolSpent:            solSpent,
			EffectiveEntryPrice: ratio(solSpent, tokens),
		},
	}
}

func (v *Verifier) resolveDca(it Item, status chain.TxStatus) Outcome {
	if status.TokenDelta <= 0 {
		return Outcome{
			Kind:       OutcomePermanentFailure,
			Transition: failureCleanup(it, "dca swap applied no tokens"),
			Reason:     "dca swap applied no tokens",
		}
	}
	return Outcome{
		Kind: OutcomeTransition,
		Transition: DcaConfirmed{
			PositionID: it.PositionID,
			Mint:       it.Mint,
			Signature:  it.Signature,
			SolSpent:   -status.SolDelta,
			FeeSol:     status.FeeSol,
			TokenDelta: status.TokenDelta,
		},
	}
}

func (v *Verifier) resolveExit(it Item, status chain.TxStatus) Outcome {
	pos, ok := v.store.GetByMint(it.Mint)
	effective := 0.0
	if ok && pos.TokenAmount > 0 {
		effective = ratio(status.SolDelta, pos.TokenAmount)
	}
	return Outcome{
		Kind: OutcomeTransition,
		Transition: ExitConfirmed{
			PositionID:         it.PositionID,
			Mint:               it.Mint,
			Signature:          it.Signature,
			SolReceived:        status.SolDelta,
			FeeSol:             status.FeeSol,
			EffectiveExitPrice: effective,
		},
	}
}

// resolvePartialExit reconciles the on-chain fill against the amount the bot
// asked to sell. The chain is authoritative: the actual token delta is
// applied even when it drifts outside tolerance, but the drift is logged
// because it usually means the sizing logic upstream is wrong.
func (v *Verifier) resolvePartialExit(it Item, status chain.TxStatus) Outcome {
	sold := -status.TokenDelta
	if sold <= 0 {
		return Outcome{
			Kind:       OutcomePermanentFailure,
			Transition: failureCleanup(it, "partial exit sold no tokens"),
			Reason:     "partial exit sold no tokens",
		}
	}
	if it.ExpectedExitAmount > 0 && !withinTolerance(sold, it.ExpectedExitAmount, v.tolerance) {
		logger.Warnf("partial exit %s fill drift: expected %.6f sold %.6f (pct %.2f)",
			it.Signature, it.ExpectedExitAmount, sold, it.RequestedExitPct)
	}
	return Outcome{
		Kind: OutcomeTransition,
		Transition: PartialExitConfirmed{
			PositionID:  it.PositionID,
			Mint:        it.Mint,
			Signature:   it.Signature,
			TokensSold:  sold,
			SolReceived: status.SolDelta,
			FeeSol:      status.FeeSol,
		},
	}
}

// failureCleanup picks the terminal transition for a conclusively failed
// transaction. A failed exit leaves the position open with its signature
// cleared so the bot can retry with a fresh transaction; the synthetic close
// is reserved for abandonment, where the real outcome was never learned.
func failureCleanup(it Item, reason string) Transition {
	switch {
	case it.Kind == KindEntry && it.IsDca:
		return DcaFailed{PositionID: it.PositionID, Mint: it.Mint, Signature: it.Signature, Reason: reason}
	case it.Kind == KindEntry:
		return RemoveOrphanEntry{PositionID: it.PositionID, Mint: it.Mint, Signature: it.Signature, Reason: reason}
	default:
		return ExitFailed{
			PositionID:    it.PositionID,
			Mint:          it.Mint,
			Signature:     it.Signature,
			IsPartialExit: it.IsPartialExit,
			Reason:        reason,
		}
	}
}

// abandonCleanup picks the terminal transition for an item the give-up
// policy or expiry GC dropped without ever learning the on-chain outcome.
func abandonCleanup(it Item, reason string) Transition {
	switch {
	case it.Kind == KindEntry && it.IsDca:
		return DcaFailed{PositionID: it.PositionID, Mint: it.Mint, Signature: it.Signature, Reason: reason}
	case it.Kind == KindEntry:
		return RemoveOrphanEntry{PositionID: it.PositionID, Mint: it.Mint, Signature: it.Signature, Reason: reason}
	case it.IsPartialExit:
		return ExitFailed{
			PositionID:    it.PositionID,
			Mint:          it.Mint,
			Signature:     it.Signature,
			IsPartialExit: true,
			Reason:        reason,
		}
	default:
		return ExitPermanentFailureSynthetic{
			PositionID: it.PositionID,
			Mint:       it.Mint,
			Signature:  it.Signature,
			Reason:     reason,
		}
	}
}

func onChainReason(status chain.TxStatus) string {
	if status.ErrText != "" {
		return "on-chain failure: " + status.ErrText
	}
	return "on-chain failure"
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	out, _ := decimal.NewFromFloat(num).Div(decimal.NewFromFloat(den)).Float64()
	return out
}

func withinTolerance(actual, expected, tol float64) bool {
	if expected == 0 {
		return actual == 0
	}
	e := decimal.NewFromFloat(expected)
	diff := decimal.NewFromFloat(actual).Sub(e).Abs()
	return diff.LessThanOrEqual(e.Abs().Mul(decimal.NewFromFloat(tol)))
}
