package domain

import "context"

// TradeStore is the authoritative record of position status transitions. It
// is bookkeeping, not the decision authority: the position manager decides,
// the store records. Every lifecycle call validates ordering — confirming or
// failing an exit without a prior matching pending exit fails with
// ErrPositionNotFound, which is also how results of submissions that
// resolved after the position went terminal get discarded.
type TradeStore interface {
	// CreatePendingEntry opens a new record in pending_entry. It fails with
	// ErrPositionExists while a non-terminal record exists for the mint.
	CreatePendingEntry(ctx context.Context, mint string, costLamports uint64, entrySig string) (TradeRecord, error)
	// ConfirmEntry promotes pending_entry to open with the observed fill.
	ConfirmEntry(ctx context.Context, mint string, tokenAmount uint64) (TradeRecord, error)
	// FailEntry marks a pending entry failed with a reason.
	FailEntry(ctx context.Context, mint, reason string) error
	// RecordBreakeven books the proceeds of a breakeven partial sell against
	// the open record without changing its status.
	RecordBreakeven(ctx context.Context, mint string, proceedsLamports uint64) error
	// CreatePendingExit moves an open record to pending_exit.
	CreatePendingExit(ctx context.Context, mint, exitSig string) error
	// ConfirmExit closes a pending exit with realized proceeds and a reason.
	ConfirmExit(ctx context.Context, mint string, proceedsLamports uint64, reason string) (TradeRecord, error)
	// FailExit returns a pending exit to open so another attempt can follow,
	// recording the reason.
	FailExit(ctx context.Context, mint, reason string) error

	GetPosition(ctx context.Context, mint string) (TradeRecord, error)
	GetOpenPositions(ctx context.Context) ([]TradeRecord, error)
	GetHistory(ctx context.Context, limit int) ([]TradeRecord, error)
	OpenPositionCount(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// TradeLog is an append-only mirror of terminal trade records for durable
// historical query. The engine writes to it and never reads it back; losing
// it costs history, not correctness.
type TradeLog interface {
	Append(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
}

// SignalBus publishes engine events to external consumers and lets
// monitoring processes subscribe to them.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
