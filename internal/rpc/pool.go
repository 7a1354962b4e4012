package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Pool presents one logical connection backed by an ordered list of
// equivalent endpoints. On failure it rotates to the next endpoint; the
// rotation is persistent across calls, so repeated failures from any caller
// progressively cycle through all endpoints rather than hammering the first.
// The current index is deliberately shared across positions: it is a global
// endpoint health signal.
type Pool struct {
	mu    sync.Mutex
	conns []Conn
	idx   int

	logger *slog.Logger
}

// NewPool creates a Pool over the given connections, in order. It rejects an
// empty list with domain.ErrNoEndpoints.
func NewPool(conns []Conn, logger *slog.Logger) (*Pool, error) {
	if len(conns) == 0 {
		return nil, fmt.Errorf("rpc: new pool: %w", domain.ErrNoEndpoints)
	}
	return &Pool{
		conns:  conns,
		logger: logger.With(slog.String("component", "rpc_pool")),
	}, nil
}

// Size returns the number of endpoints in the pool.
func (p *Pool) Size() int { return len(p.conns) }

// Current returns the connection at the current index.
func (p *Pool) Current() Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[p.idx]
}

// Next advances the index modulo the pool size and returns the new current
// connection.
func (p *Pool) Next() Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idx = (p.idx + 1) % len(p.conns)
	return p.conns[p.idx]
}

// Index returns the current endpoint index.
func (p *Pool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx
}

// ExecuteWithFallback runs op against the current endpoint and, on failure,
// rotates to the next endpoint and retries, up to maxRetries attempts. A
// non-positive maxRetries defaults to the pool size. On exhaustion the last
// observed error is returned wrapped.
func (p *Pool) ExecuteWithFallback(ctx context.Context, op func(Conn) error, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = len(p.conns)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		conn := p.Current()
		err := op(conn)
		if err == nil {
			return nil
		}
		lastErr = err

		next := p.Next()
		p.logger.Warn("endpoint call failed, rotating",
			slog.String("endpoint", conn.URL()),
			slog.String("next", next.URL()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return fmt.Errorf("rpc: all endpoints failed after %d attempts: %w", maxRetries, lastErr)
}

// GetBalance reads a wallet balance through the pool with endpoint fallback.
func (p *Pool) GetBalance(ctx context.Context, address string) (uint64, error) {
	var balance uint64
	err := p.ExecuteWithFallback(ctx, func(c Conn) error {
		got, readErr := c.GetBalance(ctx, address)
		if readErr != nil {
			return readErr
		}
		balance = got
		return nil
	}, 0)
	return balance, err
}
