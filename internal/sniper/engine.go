// Package sniper wires the entry pipeline: it turns a target mint into a
// confirmed buy, books the lifecycle transitions in the trade store, and
// hands the open position to the position manager together with the sell
// action the manager will use to unwind it.
package sniper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/config"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/position"
	"github.com/alanyoungcy/snipebot/internal/rpc"
	"github.com/alanyoungcy/snipebot/internal/trade"
)

const lamportsPerSol = 1_000_000_000

// busChannel is the signal bus channel trade lifecycle events are published
// on.
const busChannel = "snipebot:trades"

// Builder builds and quotes trades. Implemented by *trade.Builder.
type Builder interface {
	BuildBuy(ctx context.Context, mint string, amountSol float64) (trade.BuiltTransaction, error)
	BuildSell(ctx context.Context, mint string, tokenAmount uint64, percent float64) (trade.BuiltTransaction, error)
	EstimateValue(ctx context.Context, mint string, tokenAmount uint64) (uint64, error)
}

// Submitter pushes a signed payload to the chain. Implemented by
// *rpc.Submitter.
type Submitter interface {
	SendWithRetry(ctx context.Context, payload []byte, policy rpc.RetryPolicy) (string, error)
}

// BalanceReader reads the wallet balance. Implemented by *rpc.Pool.
type BalanceReader interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
}

// Notifier delivers operator notifications. Implemented by *notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Engine runs the buy side and supplies the sell action for the position
// manager. The trade log, signal bus, and notifier are optional; a nil value
// disables that output without affecting trade correctness.
type Engine struct {
	cfg       config.SnipeConfig
	wallet    string
	policy    rpc.RetryPolicy
	builder   Builder
	submitter Submitter
	balances  BalanceReader
	store     domain.TradeStore
	manager   *position.Manager
	tradeLog  domain.TradeLog
	bus       domain.SignalBus
	notifier  Notifier
	logger    *slog.Logger
}

// NewEngine creates the entry pipeline. manager must be constructed with
// this engine's Sell method as its sell action.
func NewEngine(
	cfg config.SnipeConfig,
	wallet string,
	policy rpc.RetryPolicy,
	builder Builder,
	submitter Submitter,
	balances BalanceReader,
	store domain.TradeStore,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		wallet:    wallet,
		policy:    policy,
		builder:   builder,
		submitter: submitter,
		balances:  balances,
		store:     store,
		logger:    logger.With(slog.String("component", "sniper")),
	}
}

// SetManager attaches the position manager. The engine and the manager
// reference each other (the manager calls Engine.Sell), so the manager is
// attached after construction.
func (e *Engine) SetManager(m *position.Manager) { e.manager = m }

// SetTradeLog attaches the durable trade history mirror.
func (e *Engine) SetTradeLog(l domain.TradeLog) { e.tradeLog = l }

// SetSignalBus attaches the event bus.
func (e *Engine) SetSignalBus(b domain.SignalBus) { e.bus = b }

// SetNotifier attaches the operator notifier.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// Snipe buys the configured SOL amount of the token and starts managing the
// resulting position. It is synchronous: it returns once the entry is
// confirmed and handed to the manager, or with the reason the entry did not
// happen.
func (e *Engine) Snipe(ctx context.Context, mint string) error {
	if e.manager != nil && e.manager.HasPosition(mint) {
		return fmt.Errorf("sniper: snipe %s: %w", mint, domain.ErrPositionExists)
	}

	if e.cfg.MaxPositions > 0 {
		count, err := e.store.OpenPositionCount(ctx)
		if err != nil {
			return fmt.Errorf("sniper: snipe %s: count positions: %w", mint, err)
		}
		if count >= e.cfg.MaxPositions {
			return fmt.Errorf("sniper: snipe %s: position limit %d reached", mint, e.cfg.MaxPositions)
		}
	}

	if err := e.checkBalance(ctx); err != nil {
		return fmt.Errorf("sniper: snipe %s: %w", mint, err)
	}

	tx, err := e.builder.BuildBuy(ctx, mint, e.cfg.AmountSol)
	if err != nil {
		return fmt.Errorf("sniper: snipe %s: %w", mint, err)
	}

	if _, err := e.store.CreatePendingEntry(ctx, mint, tx.Lamports, tx.Signature); err != nil {
		return fmt.Errorf("sniper: snipe %s: %w", mint, err)
	}

	raw, err := tx.Bytes()
	if err != nil {
		e.failEntry(ctx, mint, err.Error())
		return fmt.Errorf("sniper: snipe %s: %w", mint, err)
	}

	e.logger.Info("submitting entry",
		slog.String("mint", mint),
		slog.String("signature", tx.Signature),
		slog.Uint64("cost_lamports", tx.Lamports),
	)

	sig, err := e.submitter.SendWithRetry(ctx, raw, e.policy)
	if err != nil {
		e.failEntry(ctx, mint, err.Error())
		return fmt.Errorf("sniper: snipe %s: entry submission: %w", mint, err)
	}

	rec, err := e.store.ConfirmEntry(ctx, mint, tx.TokenAmount)
	if err != nil {
		return fmt.Errorf("sniper: snipe %s: confirm entry: %w", mint, err)
	}

	pos := domain.Position{
		Mint:           mint,
		EntrySignature: sig,
		EntryTime:      time.Now(),
		CostLamports:   tx.Lamports,
		TokenAmount:    tx.TokenAmount,
		Status:         domain.PositionStatusOpen,
	}
	if e.manager != nil {
		if err := e.manager.StartPosition(ctx, pos); err != nil {
			return fmt.Errorf("sniper: snipe %s: start position: %w", mint, err)
		}
	}

	e.logger.Info("position opened",
		slog.String("mint", mint),
		slog.String("signature", sig),
		slog.Uint64("token_amount", tx.TokenAmount),
	)
	e.publish(ctx, "position_opened", rec)
	e.notify(ctx, "position_opened", "Position opened",
		fmt.Sprintf("%s: spent %.4f SOL for %d tokens", mint, float64(tx.Lamports)/lamportsPerSol, tx.TokenAmount))

	return nil
}

// Sell is the sell action handed to the position manager. percent in (0, 1)
// is a partial sell that keeps the position open; 1.0 unwinds the remainder
// through the pending-exit transition. A missing store record surfaces as
// ErrPositionNotFound, which the manager treats as terminal.
func (e *Engine) Sell(ctx context.Context, pos domain.Position, percent float64, reason string) error {
	rec, err := e.store.GetPosition(ctx, pos.Mint)
	if err != nil {
		return fmt.Errorf("sniper: sell %s: %w", pos.Mint, err)
	}

	tx, err := e.builder.BuildSell(ctx, pos.Mint, rec.TokenAmount, percent)
	if err != nil {
		return fmt.Errorf("sniper: sell %s: %w", pos.Mint, err)
	}
	raw, err := tx.Bytes()
	if err != nil {
		return fmt.Errorf("sniper: sell %s: %w", pos.Mint, err)
	}

	if percent < 1.0 {
		return e.partialSell(ctx, pos.Mint, tx, raw)
	}
	return e.fullSell(ctx, pos.Mint, tx, raw, reason)
}

// partialSell submits a breakeven-style sell. The record stays open; only
// the proceeds and sold amount are booked.
func (e *Engine) partialSell(ctx context.Context, mint string, tx trade.BuiltTransaction, raw []byte) error {
	if _, err := e.submitter.SendWithRetry(ctx, raw, e.policy); err != nil {
		return fmt.Errorf("sniper: partial sell %s: %w", mint, err)
	}
	if err := e.store.RecordBreakeven(ctx, mint, tx.Lamports); err != nil {
		return fmt.Errorf("sniper: partial sell %s: %w", mint, err)
	}

	rec, err := e.store.GetPosition(ctx, mint)
	if err == nil {
		e.publish(ctx, "breakeven", rec)
	}
	e.notify(ctx, "breakeven", "Breakeven taken",
		fmt.Sprintf("%s: recovered %.4f SOL", mint, float64(tx.Lamports)/lamportsPerSol))
	return nil
}

// fullSell walks the open record through pending_exit to closed. Submission
// failure returns the record to open so the manager can retry on a later
// tick.
func (e *Engine) fullSell(ctx context.Context, mint string, tx trade.BuiltTransaction, raw []byte, reason string) error {
	if err := e.store.CreatePendingExit(ctx, mint, tx.Signature); err != nil {
		return fmt.Errorf("sniper: sell %s: %w", mint, err)
	}

	if _, err := e.submitter.SendWithRetry(ctx, raw, e.policy); err != nil {
		if failErr := e.store.FailExit(ctx, mint, err.Error()); failErr != nil {
			e.logger.Error("could not reopen position after failed exit",
				slog.String("mint", mint),
				slog.String("error", failErr.Error()),
			)
		}
		return fmt.Errorf("sniper: sell %s: exit submission: %w", mint, err)
	}

	rec, err := e.store.ConfirmExit(ctx, mint, tx.Lamports, reason)
	if err != nil {
		return fmt.Errorf("sniper: sell %s: confirm exit: %w", mint, err)
	}

	e.logger.Info("position closed",
		slog.String("mint", mint),
		slog.String("reason", reason),
		slog.Float64("pnl_sol", rec.RealizedPnLSol),
	)
	if e.tradeLog != nil {
		if err := e.tradeLog.Append(ctx, rec); err != nil {
			e.logger.Warn("trade log append failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	}
	e.publish(ctx, "position_closed", rec)
	e.notify(ctx, "position_closed", "Position closed",
		fmt.Sprintf("%s: %s, PnL %.4f SOL", mint, reason, rec.RealizedPnLSol))
	return nil
}

// checkBalance verifies the wallet can fund the snipe and still keep the
// configured reserve.
func (e *Engine) checkBalance(ctx context.Context) error {
	balance, err := e.balances.GetBalance(ctx, e.wallet)
	if err != nil {
		return fmt.Errorf("balance check: %w", err)
	}

	need := uint64((e.cfg.AmountSol + e.cfg.MinBalanceSol) * lamportsPerSol)
	if balance < need {
		return fmt.Errorf("%w: have %d lamports, need %d", domain.ErrInsufficientBalance, balance, need)
	}
	return nil
}

// failEntry books a failed entry, logging rather than propagating any
// bookkeeping error since the caller already has the primary failure.
func (e *Engine) failEntry(ctx context.Context, mint, reason string) {
	rec, getErr := e.store.GetPosition(ctx, mint)
	if getErr != nil {
		rec = domain.TradeRecord{Mint: mint}
	}
	rec.Status = domain.PositionStatusFailed
	rec.Reason = reason

	if err := e.store.FailEntry(ctx, mint, reason); err != nil {
		e.logger.Error("could not record failed entry",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
	}
	if e.tradeLog != nil {
		// Failed entries are terminal; mirror them too.
		if err := e.tradeLog.Append(ctx, rec); err != nil {
			e.logger.Warn("trade log append failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	}
	e.publish(ctx, "entry_failed", rec)
	e.notify(ctx, "entry_failed", "Entry failed", fmt.Sprintf("%s: %s", mint, reason))
}

// publish emits a lifecycle event on the signal bus as JSON.
func (e *Engine) publish(ctx context.Context, event string, rec domain.TradeRecord) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Event string             `json:"event"`
		Trade domain.TradeRecord `json:"trade"`
	}{Event: event, Trade: rec})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, busChannel, payload); err != nil {
		e.logger.Warn("bus publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
