// Package memory implements the authoritative in-memory trade store. The
// engine's state lives for the life of the process; durable history is a
// separate mirror concern.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// TradeStore implements domain.TradeStore with a mutex-guarded map keyed by
// mint. Closed and failed records move to the history list; at most one
// non-terminal record exists per mint.
type TradeStore struct {
	mu      sync.Mutex
	open    map[string]*domain.TradeRecord
	history []domain.TradeRecord

	now func() time.Time
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		open: make(map[string]*domain.TradeRecord),
		now:  time.Now,
	}
}

// CreatePendingEntry opens a new pending_entry record for the mint. A second
// pending entry while a non-terminal record exists is rejected with
// domain.ErrPositionExists.
func (s *TradeStore) CreatePendingEntry(ctx context.Context, mint string, costLamports uint64, entrySig string) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.open[mint]; exists {
		return domain.TradeRecord{}, fmt.Errorf("store: create pending entry for %s: %w", mint, domain.ErrPositionExists)
	}

	now := s.now().UTC()
	rec := &domain.TradeRecord{
		ID:             uuid.New().String(),
		Mint:           mint,
		Status:         domain.PositionStatusPendingEntry,
		EntrySignature: entrySig,
		CostLamports:   costLamports,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.open[mint] = rec
	return *rec, nil
}

// ConfirmEntry promotes a pending entry to open with the observed fill.
func (s *TradeStore) ConfirmEntry(ctx context.Context, mint string, tokenAmount uint64) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.inStatus(mint, domain.PositionStatusPendingEntry)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("store: confirm entry for %s: %w", mint, err)
	}
	rec.Status = domain.PositionStatusOpen
	rec.TokenAmount = tokenAmount
	rec.UpdatedAt = s.now().UTC()
	return *rec, nil
}

// FailEntry marks a pending entry failed and moves it to history.
func (s *TradeStore) FailEntry(ctx context.Context, mint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.inStatus(mint, domain.PositionStatusPendingEntry)
	if err != nil {
		return fmt.Errorf("store: fail entry for %s: %w", mint, err)
	}
	s.finalize(rec, domain.PositionStatusFailed, reason)
	return nil
}

// RecordBreakeven books partial-sell proceeds against the open record.
func (s *TradeStore) RecordBreakeven(ctx context.Context, mint string, proceedsLamports uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.inStatus(mint, domain.PositionStatusOpen)
	if err != nil {
		return fmt.Errorf("store: record breakeven for %s: %w", mint, err)
	}
	rec.BreakevenLamports += proceedsLamports
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// CreatePendingExit moves an open record to pending_exit.
func (s *TradeStore) CreatePendingExit(ctx context.Context, mint, exitSig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.inStatus(mint, domain.PositionStatusOpen)
	if err != nil {
		return fmt.Errorf("store: create pending exit for %s: %w", mint, err)
	}
	rec.Status = domain.PositionStatusPendingExit
	rec.ExitSignature = exitSig
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// ConfirmExit closes a pending exit with realized proceeds. Without a prior
// matching pending exit it fails with domain.ErrPositionNotFound — which is
// also how results arriving after the position went terminal get discarded.
func (s *TradeStore) ConfirmExit(ctx context.Context, mint string, proceedsLamports uint64, reason string) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.inStatus(mint, domain.PositionStatusPendingExit)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("store: confirm exit for %s: %w", mint, err)
	}
	rec.ExitLamports = proceedsLamports
	recovered := rec.BreakevenLamports + proceedsLamports
	rec.RealizedPnLSol = (float64(recovered) - float64(rec.CostLamports)) / 1e9
	s.finalize(rec, domain.PositionStatusClosed, reason)
	return *rec, nil
}

// FailExit returns a pending exit to open so a later tick can try again.
func (s *TradeStore) FailExit(ctx context.Context, mint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.inStatus(mint, domain.PositionStatusPendingExit)
	if err != nil {
		return fmt.Errorf("store: fail exit for %s: %w", mint, err)
	}
	rec.Status = domain.PositionStatusOpen
	rec.ExitSignature = ""
	rec.Reason = reason
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// GetPosition returns the non-terminal record for the mint.
func (s *TradeStore) GetPosition(ctx context.Context, mint string) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.open[mint]
	if !ok {
		return domain.TradeRecord{}, fmt.Errorf("store: get position %s: %w", mint, domain.ErrPositionNotFound)
	}
	return *rec, nil
}

// GetOpenPositions returns all non-terminal records.
func (s *TradeStore) GetOpenPositions(ctx context.Context) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.TradeRecord, 0, len(s.open))
	for _, rec := range s.open {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetHistory returns up to limit terminal records, newest first.
func (s *TradeStore) GetHistory(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.TradeRecord, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

// OpenPositionCount returns the number of non-terminal records.
func (s *TradeStore) OpenPositionCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open), nil
}

// Clear drops all records, open and historical.
func (s *TradeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = make(map[string]*domain.TradeRecord)
	s.history = nil
	return nil
}

// inStatus fetches the open record for mint and checks its status. The
// caller must hold s.mu. A missing record or a status mismatch both come
// back as ErrPositionNotFound: either way there is no matching pending
// transition to act on.
func (s *TradeStore) inStatus(mint string, want domain.PositionStatus) (*domain.TradeRecord, error) {
	rec, ok := s.open[mint]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	if rec.Status != want {
		return nil, fmt.Errorf("record is %s, want %s: %w", rec.Status, want, domain.ErrPositionNotFound)
	}
	return rec, nil
}

// finalize moves a record to a terminal status and into history. The caller
// must hold s.mu.
func (s *TradeStore) finalize(rec *domain.TradeRecord, status domain.PositionStatus, reason string) {
	now := s.now().UTC()
	rec.Status = status
	rec.Reason = reason
	rec.UpdatedAt = now
	rec.ClosedAt = &now
	s.history = append(s.history, *rec)
	delete(s.open, rec.Mint)
}

var _ domain.TradeStore = (*TradeStore)(nil)
