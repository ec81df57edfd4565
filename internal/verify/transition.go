package verify

// Transition is the closed set of outcomes the engine can apply to the
// position ledger. Every variant names the position it targets and carries
// the on-chain data needed to update it. New variants extend this set and
// the Apply switch, never a stringly-typed branch.
type Transition interface {
	transition()
	Name() string
	TargetMint() string
	TargetPositionID() string
}

// Effects reports what a transition application actually changed.
type Effects struct {
	DBUpdated      bool
	PositionClosed bool
}

// EntryConfirmed marks the opening buy as finalized on-chain.
type EntryConfirmed struct {
	PositionID string
	Mint       string
	Signature  string

	FeeSol              float64
	TokenAmount         float64
	SolSpent            float64
	EffectiveEntryPrice float64
}

// DcaConfirmed folds a finalized DCA buy into an already-open position.
type DcaConfirmed struct {
	PositionID string
	Mint       string
	Signature  string

	SolSpent   float64
	FeeSol     float64
	TokenDelta float64
}

// ExitConfirmed fully closes a position against its finalized sell.
type ExitConfirmed struct {
	PositionID string
	Mint       string
	Signature  string

	SolReceived        float64
	FeeSol             float64
	EffectiveExitPrice float64
}

// PartialExitConfirmed reduces a position by the reconciled on-chain amount
// without closing it.
type PartialExitConfirmed struct {
	PositionID string
	Mint       string
	Signature  string

	TokensSold  float64
	SolReceived float64
	FeeSol      float64
}

// DcaFailed drops a DCA swap that failed, expired or was abandoned. The
// underlying position is untouched: DCA buys never hold their own admission
// permit.
type DcaFailed struct {
	PositionID string
	Mint       string
	Signature  string
	Reason     string
}

// ExitFailed clears an exit signature whose transaction conclusively failed
// on-chain. The position stays open and keeps its permit; the bot may retry
// the exit with a fresh transaction.
type ExitFailed struct {
	PositionID    string
	Mint          string
	Signature     string
	IsPartialExit bool
	Reason        string
}

// RemoveOrphanEntry deletes a position whose entry never confirmed,
// releasing its admission permit.
type RemoveOrphanEntry struct {
	PositionID string
	Mint       string
	Signature  string
	Reason     string
}

// ExitPermanentFailureSynthetic force-closes a position whose exit could not
// be confirmed before the give-up threshold. The ledger must not stay open
// indefinitely against reality, so the close is applied without on-chain
// confirmation and one permit is released.
type ExitPermanentFailureSynthetic struct {
	PositionID string
	Mint       string
	Signature  string
	Reason     string
}

func (EntryConfirmed) transition()                {}
func (DcaConfirmed) transition()                  {}
func (ExitConfirmed) transition()                 {}
func (PartialExitConfirmed) transition()          {}
func (DcaFailed) transition()                     {}
func (ExitFailed) transition()                    {}
func (RemoveOrphanEntry) transition()             {}
func (ExitPermanentFailureSynthetic) transition() {}

func (EntryConfirmed) Name() string                { return "entry_confirmed" }
func (DcaConfirmed) Name() string                  { return "dca_confirmed" }
func (ExitConfirmed) Name() string                 { return "exit_confirmed" }
func (PartialExitConfirmed) Name() string          { return "partial_exit_confirmed" }
func (DcaFailed) Name() string                     { return "dca_failed" }
func (ExitFailed) Name() string                    { return "exit_failed" }
func (RemoveOrphanEntry) Name() string             { return "remove_orphan_entry" }
func (ExitPermanentFailureSynthetic) Name() string { return "exit_permanent_failure_synthetic" }

func (t EntryConfirmed) TargetMint() string                { return t.Mint }
func (t DcaConfirmed) TargetMint() string                  { return t.Mint }
func (t ExitConfirmed) TargetMint() string                 { return t.Mint }
func (t PartialExitConfirmed) TargetMint() string          { return t.Mint }
func (t DcaFailed) TargetMint() string                     { return t.Mint }
func (t ExitFailed) TargetMint() string                    { return t.Mint }
func (t RemoveOrphanEntry) TargetMint() string             { return t.Mint }
func (t ExitPermanentFailureSynthetic) TargetMint() string { return t.Mint }

func (t EntryConfirmed) TargetPositionID() string                { return t.PositionID }
func (t DcaConfirmed) TargetPositionID() string                  { return t.PositionID }
func (t ExitConfirmed) TargetPositionID() string                 { return t.PositionID }
func (t PartialExitConfirmed) TargetPositionID() string          { return t.PositionID }
func (t DcaFailed) TargetPositionID() string                     { return t.PositionID }
func (t ExitFailed) TargetPositionID() string                    { return t.PositionID }
func (t RemoveOrphanEntry) TargetPositionID() string             { return t.PositionID }
func (t ExitPermanentFailureSynthetic) TargetPositionID() string { return t.PositionID }
