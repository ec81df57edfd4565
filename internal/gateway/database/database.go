package database

import (
	"context"
	"time"

	"kestrel/internal/types"
)

// PositionStore is the durable side of the position ledger. The in-memory
// store under internal/position is authoritative at runtime; every mutation
// is written through here so a restart can rebuild state.
type PositionStore interface {
	LoadAllPositions(ctx context.Context) ([]types.Position, error)
	SavePosition(ctx context.Context, pos *types.Position) (string, error)
	UpdatePosition(ctx context.Context, pos *types.Position) error
	DeletePositionByID(ctx context.Context, id string) error
}

// PendingStore holds the durable intent records used to rehydrate the
// verification queue after a restart. Records are keyed by transaction
// signature and deleted once the signature resolves.
type PendingStore interface {
	SavePendingDcaSwap(ctx context.Context, rec types.PendingDcaSwap) error
	ListPendingDcaSwaps(ctx context.Context) ([]types.PendingDcaSwap, error)
	DeletePendingDcaSwap(ctx context.Context, signature string) error

	SavePendingPartialExit(ctx context.Context, rec types.PendingPartialExit) error
	ListPendingPartialExits(ctx context.Context) ([]types.PendingPartialExit, error)
	FindPendingPartialExit(ctx context.Context, signature string) (types.PendingPartialExit, bool, error)
	DeletePendingPartialExit(ctx context.Context, signature string) error
}

// Store is the full persistence surface consumed by the verification core.
type Store interface {
	PositionStore
	PendingStore
	Close() error
}

// EventSeverity classifies telemetry events.
type EventSeverity string

const (
	SeverityInfo  EventSeverity = "info"
	SeverityWarn  EventSeverity = "warn"
	SeverityError EventSeverity = "error"
)

// EventRecord is one telemetry event. Payload is free-form JSON.
type EventRecord struct {
	ID        string
	Name      string
	Severity  EventSeverity
	Mint      string
	Signature string
	Payload   []byte
	CreatedAt time.Time
}

// EventStore is an append-only sink for telemetry events.
type EventStore interface {
	AppendEvent(ctx context.Context, rec EventRecord) error
	ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	Close() error
}
