package model

import (
	"gorm.io/datatypes"
)

// PositionModel is the durable row backing one tracked position.
// Timestamps are unix millis; exit_timestamp == 0 means the position is
// still open.
type PositionModel struct {
	ID                  string         `gorm:"column:id;primaryKey"`
	Mint                string         `gorm:"column:mint;uniqueIndex"`
	Symbol              string         `gorm:"column:symbol"`
	EntrySignature      string         `gorm:"column:entry_signature;index"`
	EntryVerified       int            `gorm:"column:entry_verified"`
	ExitSignature       string         `gorm:"column:exit_signature;index"`
	ExitVerified        int            `gorm:"column:exit_verified"`
	EntryPrice          float64        `gorm:"column:entry_price"`
	EffectiveEntryPrice float64        `gorm:"column:effective_entry_price"`
	ExitPrice           float64        `gorm:"column:exit_price"`
	EffectiveExitPrice  float64        `gorm:"column:effective_exit_price"`
	EntrySizeSol        float64        `gorm:"column:entry_size_sol"`
	TokenAmount         float64        `gorm:"column:token_amount"`
	EntryFeeSol         float64        `gorm:"column:entry_fee_sol"`
	ExitFeeSol          float64        `gorm:"column:exit_fee_sol"`
	SolReceived         float64        `gorm:"column:sol_received"`
	ExitTimestamp       int64          `gorm:"column:exit_timestamp"`
	Meta                datatypes.JSON `gorm:"column:meta"`
	CreatedAtUnix       int64          `gorm:"column:created_at"`
	UpdatedAtUnix       int64          `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

// PendingDcaModel records a submitted DCA swap awaiting verification.
type PendingDcaModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Signature     string  `gorm:"column:signature;uniqueIndex"`
	Mint          string  `gorm:"column:mint;index"`
	PositionID    string  `gorm:"column:position_id"`
	SolAmount     float64 `gorm:"column:sol_amount"`
	ExpiryHeight  uint64  `gorm:"column:expiry_height"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (PendingDcaModel) TableName() string { return "pending_dca_swaps" }

// PendingPartialExitModel records a submitted partial sell awaiting
// verification, including the context needed to reconcile the fill.
type PendingPartialExitModel struct {
	ID                 int64   `gorm:"column:id;primaryKey"`
	Signature          string  `gorm:"column:signature;uniqueIndex"`
	Mint               string  `gorm:"column:mint;index"`
	PositionID         string  `gorm:"column:position_id"`
	ExpectedExitAmount float64 `gorm:"column:expected_exit_amount"`
	RequestedExitPct   float64 `gorm:"column:requested_exit_pct"`
	ExpiryHeight       uint64  `gorm:"column:expiry_height"`
	CreatedAtUnix      int64   `gorm:"column:created_at"`
}

func (PendingPartialExitModel) TableName() string { return "pending_partial_exits" }
