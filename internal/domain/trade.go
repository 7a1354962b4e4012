package domain

import "time"

// TradeRecord is the trade store's bookkeeping row for one position cycle:
// the entry, an optional breakeven partial sell, and the terminal exit.
type TradeRecord struct {
	ID                string
	Mint              string
	Status            PositionStatus
	EntrySignature    string
	ExitSignature     string
	CostLamports      uint64
	TokenAmount       uint64
	BreakevenLamports uint64 // proceeds recovered by the breakeven partial sell
	ExitLamports      uint64 // proceeds of the full exit
	RealizedPnLSol    float64
	Reason            string // why the position reached its terminal state
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ClosedAt          *time.Time
}

// TradeSide is the direction of an observed on-curve trade event.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeEvent is a single observed trade on a tracked token, as delivered by
// the event adapter. Delivery order is best effort across mints; the
// momentum tracker orders events by its own timestamps.
type TradeEvent struct {
	Mint      string
	Side      TradeSide
	Lamports  uint64
	Signature string
	Timestamp time.Time
}
