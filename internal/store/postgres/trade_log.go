package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// TradeLog implements domain.TradeLog using PostgreSQL. It is an append-only
// mirror of terminal trade records; re-appending an already mirrored record
// is a no-op.
type TradeLog struct {
	pool *pgxpool.Pool
}

var _ domain.TradeLog = (*TradeLog)(nil)

// NewTradeLog creates a TradeLog backed by the given connection pool.
func NewTradeLog(pool *pgxpool.Pool) *TradeLog {
	return &TradeLog{pool: pool}
}

const tradeLogCols = `id, mint, status, entry_signature, exit_signature,
	cost_lamports, token_amount, breakeven_lamports, exit_lamports,
	realized_pnl_sol, reason, created_at, updated_at, closed_at`

// Append mirrors a terminal trade record. Duplicate IDs are silently skipped
// via ON CONFLICT DO NOTHING.
func (l *TradeLog) Append(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_log (` + tradeLogCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	_, err := l.pool.Exec(ctx, query,
		rec.ID, rec.Mint, string(rec.Status),
		rec.EntrySignature, rec.ExitSignature,
		int64(rec.CostLamports), int64(rec.TokenAmount),
		int64(rec.BreakevenLamports), int64(rec.ExitLamports),
		rec.RealizedPnLSol, rec.Reason,
		rec.CreatedAt, rec.UpdatedAt, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", rec.Mint, err)
	}
	return nil
}

// ListRecent returns the most recently updated records, newest first.
func (l *TradeLog) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT ` + tradeLogCols + `
		FROM trade_log
		ORDER BY updated_at DESC
		LIMIT $1`

	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return recs, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var (
			rec       domain.TradeRecord
			status    string
			cost      int64
			tokens    int64
			breakeven int64
			exit      int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Mint, &status,
			&rec.EntrySignature, &rec.ExitSignature,
			&cost, &tokens, &breakeven, &exit,
			&rec.RealizedPnLSol, &rec.Reason,
			&rec.CreatedAt, &rec.UpdatedAt, &rec.ClosedAt,
		); err != nil {
			return nil, err
		}
		rec.Status = domain.PositionStatus(status)
		rec.CostLamports = uint64(cost)
		rec.TokenAmount = uint64(tokens)
		rec.BreakevenLamports = uint64(breakeven)
		rec.ExitLamports = uint64(exit)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
