package domain

import "time"

// PositionStatus tracks a position through its lifecycle in the trade store.
// Transitions are linear: pending_entry -> open -> pending_exit -> closed,
// with failed as the terminal state for entry or exit failures.
type PositionStatus string

const (
	PositionStatusPendingEntry PositionStatus = "pending_entry"
	PositionStatusOpen         PositionStatus = "open"
	PositionStatusPendingExit  PositionStatus = "pending_exit"
	PositionStatusClosed       PositionStatus = "closed"
	PositionStatusFailed       PositionStatus = "failed"
)

// Terminal reports whether the status is one of the two terminal states.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusFailed
}

// ManagedStatus is the position manager's coarser view of an open position.
// It is distinct from PositionStatus: it only tracks whether a breakeven
// partial sell has been issued and whether a full exit has been decided.
type ManagedStatus string

const (
	ManagedStatusActive      ManagedStatus = "active"
	ManagedStatusPartialExit ManagedStatus = "partial_exit"
	ManagedStatusExited      ManagedStatus = "exited"
)

// Position is one live holding of a launchpad token. At most one open
// Position exists per mint; it is owned exclusively by the position manager
// that created it. The trade store keeps a historical copy but never drives
// state transitions itself.
type Position struct {
	Mint           string
	EntrySignature string
	EntryTime      time.Time
	CostLamports   uint64 // lamports committed at entry
	TokenAmount    uint64 // raw token units acquired
	BreakevenSold  bool
	Status         PositionStatus
}
