// Package position owns the decision loop for live positions: one periodic
// re-evaluation task per held token, deciding between breakeven partial
// exit, momentum exit, and timeout exit, with the guarantee that at most one
// full-exit action is ever submitted per position.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/momentum"
)

// ValueEstimator estimates the current liquidation value of a holding in
// lamports. It is a black box to this package and may fail independently of
// the state machine; a failed estimate only skips that tick's breakeven
// check.
type ValueEstimator interface {
	EstimateValue(ctx context.Context, mint string, tokenAmount uint64) (uint64, error)
}

// SellFunc is the caller-supplied sell action. percent is the fraction of
// the remaining holding to liquidate (1.0 for a full exit). The manager
// invokes it at most once per terminal decision; a returned error reverts
// the decision so the next tick can retry, except domain.ErrPositionNotFound
// which is fatal for the position.
type SellFunc func(ctx context.Context, pos domain.Position, percent float64, reason string) error

// Config holds the decision loop parameters.
type Config struct {
	TickInterval time.Duration
	MaxHold      time.Duration

	BreakevenEnabled bool
	// BreakevenTarget is the value/cost multiple at which the partial sell
	// recovers the committed amount.
	BreakevenTarget float64
	// BreakevenPercent is the fraction of the holding sold at breakeven.
	BreakevenPercent float64

	Momentum momentum.Config
}

// managed is one owned position with its tracker and tick task handle.
type managed struct {
	pos     domain.Position
	status  domain.ManagedStatus
	tracker *momentum.Tracker
	cancel  context.CancelFunc
}

// Manager owns at most one active position per mint and runs the periodic
// re-evaluation loop for each. All state transitions happen synchronously at
// decision time under the manager mutex — before the sell action's first
// network suspension — so a second tick observing the position mid-flight
// sees partial_exit/exited and backs off. That ordering, not a lock around
// the network call, is what prevents duplicate exit submissions.
type Manager struct {
	cfg       Config
	estimator ValueEstimator
	sell      SellFunc
	logger    *slog.Logger

	// onStop is invoked after a position is dropped, outside the manager
	// mutex. Used to release resources tied to the mint, like the trade
	// stream subscription.
	onStop func(mint string)

	mu        sync.Mutex
	positions map[string]*managed
}

// NewManager creates a Manager. sell is the single exit pathway for every
// position the manager starts.
func NewManager(cfg Config, estimator ValueEstimator, sell SellFunc, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		estimator: estimator,
		sell:      sell,
		logger:    logger.With(slog.String("component", "position_manager")),
		positions: make(map[string]*managed),
	}
}

// StartPosition takes ownership of an open position and starts its tick
// loop. A second position for the same mint is rejected while one is live.
func (m *Manager) StartPosition(ctx context.Context, pos domain.Position) error {
	m.mu.Lock()
	if _, exists := m.positions[pos.Mint]; exists {
		m.mu.Unlock()
		return fmt.Errorf("position: start %s: %w", pos.Mint, domain.ErrPositionExists)
	}

	tickCtx, cancel := context.WithCancel(ctx)
	m.positions[pos.Mint] = &managed{
		pos:     pos,
		status:  domain.ManagedStatusActive,
		tracker: momentum.New(m.cfg.Momentum),
		cancel:  cancel,
	}
	m.mu.Unlock()

	m.logger.Info("position started",
		slog.String("mint", pos.Mint),
		slog.Uint64("cost_lamports", pos.CostLamports),
		slog.Uint64("token_amount", pos.TokenAmount),
	)

	go m.run(tickCtx, pos.Mint)
	return nil
}

// run is the per-position tick task. Ticks are processed one at a time; a
// slow decision simply delays the next tick.
func (m *Manager) run(ctx context.Context, mint string) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, mint)
		}
	}
}

// tick evaluates the decision conditions in strict precedence order:
// breakeven, momentum exit, timeout exit, status emission. The first match
// wins and the rest are skipped for this tick.
func (m *Manager) tick(ctx context.Context, mint string) {
	m.mu.Lock()
	mp, ok := m.positions[mint]
	if !ok || mp.status == domain.ManagedStatusExited {
		m.mu.Unlock()
		return
	}
	pos := mp.pos
	status := mp.status
	tracker := mp.tracker
	m.mu.Unlock()

	// 1. Breakeven partial sell. Risk reduction goes first: a simultaneous
	// momentum or timeout signal must not skip it.
	if m.cfg.BreakevenEnabled && status == domain.ManagedStatusActive && !pos.BreakevenSold {
		value, err := m.estimator.EstimateValue(ctx, mint, pos.TokenAmount)
		if err != nil {
			// Estimates are best effort; skip only the breakeven check.
			m.logger.Warn("value estimate failed, skipping breakeven check",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		} else if float64(value) >= m.cfg.BreakevenTarget*float64(pos.CostLamports) {
			m.breakevenSell(ctx, mint, value)
			return
		}
	}

	// 2. Momentum exit.
	if st := tracker.State(); st.ShouldExit {
		reason := "momentum exit: buy lull"
		if !st.HasLull {
			reason = fmt.Sprintf("momentum exit: buy/sell ratio %.2f", st.BuySellRatio)
		}
		m.fullExit(ctx, mint, reason)
		return
	}

	// 3. Timeout exit.
	if held := time.Since(pos.EntryTime); held >= m.cfg.MaxHold {
		m.fullExit(ctx, mint, fmt.Sprintf("max hold exceeded after %s", held.Round(time.Second)))
		return
	}

	// 4. No side effect this tick; emit status only.
	m.logger.Debug("position holding",
		slog.String("mint", mint),
		slog.String("status", string(status)),
		slog.Duration("held", time.Since(pos.EntryTime)),
	)
}

// breakevenSell issues the partial sell. The breakeven flag and the
// partial_exit status are set before the sell action runs and reverted if it
// fails, so the next tick retries.
func (m *Manager) breakevenSell(ctx context.Context, mint string, value uint64) {
	m.mu.Lock()
	mp, ok := m.positions[mint]
	if !ok || mp.status != domain.ManagedStatusActive || mp.pos.BreakevenSold {
		m.mu.Unlock()
		return
	}
	mp.pos.BreakevenSold = true
	mp.status = domain.ManagedStatusPartialExit
	pos := mp.pos
	m.mu.Unlock()

	m.logger.Info("breakeven target reached, selling partial",
		slog.String("mint", mint),
		slog.Uint64("estimated_value", value),
		slog.Float64("percent", m.cfg.BreakevenPercent),
	)

	err := m.sell(ctx, pos, m.cfg.BreakevenPercent, "breakeven partial sell")
	if err == nil {
		return
	}

	if errors.Is(err, domain.ErrPositionNotFound) {
		m.logger.Error("breakeven sell hit missing position, stopping",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
		m.StopPosition(mint)
		return
	}

	m.logger.Warn("breakeven sell failed, will retry next tick",
		slog.String("mint", mint),
		slog.String("error", err.Error()),
	)
	m.mu.Lock()
	if mp, ok := m.positions[mint]; ok && mp.status == domain.ManagedStatusPartialExit {
		mp.pos.BreakevenSold = false
		mp.status = domain.ManagedStatusActive
	}
	m.mu.Unlock()
}

// fullExit issues the full-remainder sell. The exited status is taken
// synchronously at decision time; while the sell is in flight no other tick
// can decide again. Success drops the position; failure reverts the status
// for a retry, except a missing position which is terminal.
func (m *Manager) fullExit(ctx context.Context, mint, reason string) {
	m.mu.Lock()
	mp, ok := m.positions[mint]
	if !ok || mp.status == domain.ManagedStatusExited {
		m.mu.Unlock()
		return
	}
	prev := mp.status
	mp.status = domain.ManagedStatusExited
	pos := mp.pos
	m.mu.Unlock()

	m.logger.Info("exiting position",
		slog.String("mint", mint),
		slog.String("reason", reason),
	)

	err := m.sell(ctx, pos, 1.0, reason)
	if err == nil {
		m.StopPosition(mint)
		return
	}

	if errors.Is(err, domain.ErrPositionNotFound) {
		m.logger.Error("exit hit missing position, stopping",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
		m.StopPosition(mint)
		return
	}

	m.logger.Warn("exit failed, will retry next tick",
		slog.String("mint", mint),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	m.mu.Lock()
	if mp, ok := m.positions[mint]; ok && mp.status == domain.ManagedStatusExited {
		mp.status = prev
	}
	m.mu.Unlock()
}

// StopPosition cancels the tick task and drops the position and its tracker.
// It is idempotent; stopping an unknown mint is a no-op. An in-flight
// submission is not cancelled — its late result is discarded by the trade
// store once the position is terminal.
func (m *Manager) StopPosition(mint string) {
	m.mu.Lock()
	mp, ok := m.positions[mint]
	if !ok {
		m.mu.Unlock()
		return
	}
	mp.cancel()
	delete(m.positions, mint)
	onStop := m.onStop
	m.mu.Unlock()

	m.logger.Info("position stopped", slog.String("mint", mint))
	if onStop != nil {
		onStop(mint)
	}
}

// OnStop registers an observer called with the mint of every stopped
// position. Register before starting positions; at most one observer is
// supported.
func (m *Manager) OnStop(fn func(mint string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStop = fn
}

// Shutdown cancels every running tick loop. Positions keep their last
// recorded state; no exits are submitted.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for mint, mp := range m.positions {
		mp.cancel()
		delete(m.positions, mint)
	}
}

// RecordBuy forwards an observed buy on the token to its momentum tracker.
func (m *Manager) RecordBuy(mint string, lamports uint64, sig string) {
	if tr := m.trackerFor(mint); tr != nil {
		tr.RecordBuy(lamports, sig)
	}
}

// RecordSell forwards an observed sell on the token to its momentum tracker.
func (m *Manager) RecordSell(mint string, lamports uint64, sig string) {
	if tr := m.trackerFor(mint); tr != nil {
		tr.RecordSell(lamports, sig)
	}
}

func (m *Manager) trackerFor(mint string) *momentum.Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mp, ok := m.positions[mint]; ok {
		return mp.tracker
	}
	return nil
}

// GetPosition returns a snapshot of the managed position and its
// manager-level status.
func (m *Manager) GetPosition(mint string) (domain.Position, domain.ManagedStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.positions[mint]
	if !ok {
		return domain.Position{}, "", false
	}
	return mp.pos, mp.status, true
}

// HasPosition reports whether the manager currently owns a position for the
// mint.
func (m *Manager) HasPosition(mint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[mint]
	return ok
}
