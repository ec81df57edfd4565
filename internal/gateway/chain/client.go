package chain

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the RPC node has no record of a signature.
// The transaction may still be in flight, so callers treat it as transient
// until the item's expiry height passes.
var ErrNotFound = errors.New("chain: transaction not found")

// TxStatus is the decoded outcome of one transaction lookup.
type TxStatus struct {
	// Confirmed is true once the transaction reached finalized commitment.
	Confirmed bool
	// Succeeded is only meaningful when Confirmed is true; false means the
	// chain conclusively rejected the transaction.
	Succeeded bool
	// ErrText carries the on-chain error when Succeeded is false.
	ErrText string
	// FeeSol is the transaction fee in SOL.
	FeeSol float64
	// TokenDelta is the signed change of the wallet's balance in the traded
	// token (positive on buys, negative on sells).
	TokenDelta float64
	// SolDelta is the signed change of the wallet's SOL balance, fee
	// excluded (negative on buys, positive on sells).
	SolDelta float64
	// Slot the transaction landed in.
	Slot uint64
}

// Client is the read-only chain surface the verification core consumes.
type Client interface {
	GetBlockHeight(ctx context.Context) (uint64, error)
	GetTransactionStatus(ctx context.Context, signature string) (TxStatus, error)
}
