package verify

import "time"

// Kind distinguishes entry verifications from exit verifications.
type Kind string

const (
	KindEntry Kind = "entry"
	KindExit  Kind = "exit"
)

// Item is one unit of verification work, keyed by transaction signature.
// Exactly one live item exists per signature; Queue.Enqueue enforces that.
type Item struct {
	Signature  string
	Mint       string
	PositionID string
	Kind       Kind

	IsDca         bool
	IsPartialExit bool

	// Partial exit reconciliation context, carried from the pending record.
	ExpectedExitAmount float64
	RequestedExitPct   float64

	// ExpiryHeight of 0 means the item never expires by block height.
	ExpiryHeight uint64

	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt time.Time
	NextRetryAt   time.Time
	LastError     string
}

// MetricKind labels the item for the verified-by-kind counter.
func (it Item) MetricKind() string {
	switch {
	case it.Kind == KindEntry && it.IsDca:
		return "dca"
	case it.Kind == KindExit && it.IsPartialExit:
		return "partial_exit"
	case it.Kind == KindExit:
		return "exit"
	default:
		return "entry"
	}
}

// Age reports how long the item has been pending.
func (it Item) Age(now time.Time) time.Duration {
	if it.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(it.CreatedAt)
}

// GiveUpPolicy decides when retrying a verification stops being worth it.
// Either bound alone triggers abandonment; a zero value disables that bound.
type GiveUpPolicy struct {
	MaxAttempts int
	MaxAge      time.Duration
}

func (p GiveUpPolicy) ShouldGiveUp(it Item, now time.Time) bool {
	if p.MaxAttempts > 0 && it.Attempts >= p.MaxAttempts {
		return true
	}
	if p.MaxAge > 0 && it.Age(now) > p.MaxAge {
		return true
	}
	return false
}
