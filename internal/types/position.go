package types

import (
	"time"
)

// Position is one tracked trade in a single token (mint). A position is
// open while ExitTime is nil; it is closing once an exit signature has been
// recorded but not yet verified on-chain.
type Position struct {
	ID     string `json:"id"`
	Mint   string `json:"mint"`
	Symbol string `json:"symbol"`

	EntrySignature string `json:"entry_signature"`
	EntryVerified  bool   `json:"entry_verified"`
	ExitSignature  string `json:"exit_signature,omitempty"`
	ExitVerified   bool   `json:"exit_verified"`

	EntryPrice          float64 `json:"entry_price"`
	EffectiveEntryPrice float64 `json:"effective_entry_price,omitempty"`
	ExitPrice           float64 `json:"exit_price,omitempty"`
	EffectiveExitPrice  float64 `json:"effective_exit_price,omitempty"`
	EntrySizeSol        float64 `json:"entry_size_sol"`
	TokenAmount         float64 `json:"token_amount"`
	EntryFeeSol         float64 `json:"entry_fee_sol,omitempty"`
	ExitFeeSol          float64 `json:"exit_fee_sol,omitempty"`
	SolReceived         float64 `json:"sol_received,omitempty"`

	ExitTime  *time.Time `json:"exit_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsOpen reports whether the position has not fully closed yet.
func (p *Position) IsOpen() bool {
	return p != nil && p.ExitTime == nil
}

// IsClosing reports whether an exit is in flight but unverified.
func (p *Position) IsClosing() bool {
	return p.IsOpen() && p.ExitSignature != "" && !p.ExitVerified
}

// Clone returns a shallow copy safe to mutate outside the store lock.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	if p.ExitTime != nil {
		t := *p.ExitTime
		cp.ExitTime = &t
	}
	return &cp
}

// PendingPartialExit is the durable record of a partial sell whose
// transaction has been submitted but not yet verified. It survives restarts
// so the queue can be rehydrated with the original exit context.
type PendingPartialExit struct {
	Signature          string    `json:"signature"`
	Mint               string    `json:"mint"`
	PositionID         string    `json:"position_id"`
	ExpectedExitAmount float64   `json:"expected_exit_amount"`
	RequestedExitPct   float64   `json:"requested_exit_pct"`
	ExpiryHeight       uint64    `json:"expiry_height,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// PendingDcaSwap is the durable record of a DCA buy into an already-open
// position, awaiting on-chain verification.
type PendingDcaSwap struct {
	Signature    string    `json:"signature"`
	Mint         string    `json:"mint"`
	PositionID   string    `json:"position_id"`
	SolAmount    float64   `json:"sol_amount"`
	ExpiryHeight uint64    `json:"expiry_height,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PositionSnapshot is the read model served by the live HTTP API.
type PositionSnapshot struct {
	ID             string  `json:"id"`
	Mint           string  `json:"mint"`
	Symbol         string  `json:"symbol"`
	EntryPrice     float64 `json:"entry_price"`
	TokenAmount    float64 `json:"token_amount"`
	EntrySizeSol   float64 `json:"entry_size_sol"`
	EntryVerified  bool    `json:"entry_verified"`
	ExitSignature  string  `json:"exit_signature,omitempty"`
	ExitVerified   bool    `json:"exit_verified"`
	Closing        bool    `json:"closing"`
	HoldingMs      int64   `json:"holding_ms"`
	SolReceived    float64 `json:"sol_received,omitempty"`
	ExitTimestamp  int64   `json:"exit_ts,omitempty"`
	EntrySignature string  `json:"entry_signature"`
}

// Snapshot builds the API read model for a position.
func (p *Position) Snapshot(now time.Time) PositionSnapshot {
	snap := PositionSnapshot{
		ID:             p.ID,
		Mint:           p.Mint,
		Symbol:         p.Symbol,
		EntryPrice:     p.EntryPrice,
		TokenAmount:    p.TokenAmount,
		EntrySizeSol:   p.EntrySizeSol,
		EntryVerified:  p.EntryVerified,
		ExitSignature:  p.ExitSignature,
		ExitVerified:   p.ExitVerified,
		Closing:        p.IsClosing(),
		SolReceived:    p.SolReceived,
		EntrySignature: p.EntrySignature,
	}
	if !p.CreatedAt.IsZero() {
		end := now
		if p.ExitTime != nil {
			end = *p.ExitTime
			snap.ExitTimestamp = p.ExitTime.UnixMilli()
		}
		snap.HoldingMs = end.Sub(p.CreatedAt).Milliseconds()
	}
	return snap
}
