package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// defaultPollInterval is the fixed spacing between confirmation polls.
const defaultPollInterval = time.Second

// Submitter is the submission channel: it pushes a pre-built signed payload
// through the connection pool under a retry policy and polls for its
// confirmation. It never lets a raw submission error escape; terminal
// failures surface as *domain.SubmitError carrying the attempt count and the
// last cause.
type Submitter struct {
	pool           *Pool
	commitment     Commitment
	confirmTimeout time.Duration
	simulate       bool
	pollInterval   time.Duration
	logger         *slog.Logger
}

// NewSubmitter creates a Submitter that waits for the given commitment level
// for up to confirmTimeout per attempt.
func NewSubmitter(pool *Pool, commitment Commitment, confirmTimeout time.Duration, logger *slog.Logger) *Submitter {
	return &Submitter{
		pool:           pool,
		commitment:     commitment,
		confirmTimeout: confirmTimeout,
		pollInterval:   defaultPollInterval,
		logger:         logger.With(slog.String("component", "submitter")),
	}
}

// SetSimulate toggles the pre-flight simulation step. Must be called before
// SendWithRetry.
func (s *Submitter) SetSimulate(enabled bool) {
	s.simulate = enabled
}

// SetPollInterval changes the confirmation polling interval. Must be called
// before use.
func (s *Submitter) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// SendWithRetry submits the payload and waits for confirmation, retrying the
// whole submission+confirmation cycle up to policy.MaxAttempts with the
// policy's backoff between attempts. When simulation is enabled, a
// simulation rejection short-circuits before any submission and is returned
// as-is, distinct from submission failures.
func (s *Submitter) SendWithRetry(ctx context.Context, payload []byte, policy RetryPolicy) (string, error) {
	if s.simulate {
		err := s.pool.ExecuteWithFallback(ctx, func(c Conn) error {
			return c.Simulate(ctx, payload)
		}, 0)
		var simErr *domain.SimulationError
		if errors.As(err, &simErr) {
			return "", simErr
		}
		if err != nil {
			// The simulation itself could not be run; treat as a transport
			// failure and fall through to submission, which will exercise
			// the same endpoints anyway.
			s.logger.Warn("pre-flight simulation unavailable, submitting anyway",
				slog.String("error", err.Error()),
			)
		}
	}

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sig, err := s.sendOnce(ctx, payload)
		if err == nil {
			confirmed, confErr := s.WaitForConfirmation(ctx, sig, s.commitment, s.confirmTimeout)
			if confErr != nil {
				lastErr = confErr
			} else if confirmed {
				return sig, nil
			} else {
				lastErr = fmt.Errorf("transaction %s not confirmed within %s", sig, s.confirmTimeout)
			}
		} else {
			lastErr = err
		}

		s.logger.Warn("submission attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", lastErr.Error()),
		)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", &domain.SubmitError{Attempts: attempt, Last: ctx.Err()}
		case <-time.After(policy.Delay(attempt)):
		}
	}

	return "", &domain.SubmitError{Attempts: attempts, Last: lastErr}
}

// sendOnce pushes the payload through the pool once, with endpoint fallback.
func (s *Submitter) sendOnce(ctx context.Context, payload []byte) (string, error) {
	var sig string
	err := s.pool.ExecuteWithFallback(ctx, func(c Conn) error {
		got, sendErr := c.SendTransaction(ctx, payload)
		if sendErr != nil {
			return sendErr
		}
		sig = got
		return nil
	}, 0)
	return sig, err
}

// WaitForConfirmation polls the signature status at a fixed interval until
// the target commitment is observed, an on-chain error status is observed
// (immediate failure), or the timeout elapses. A timeout is an ambiguous
// outcome, not an error: it returns (false, nil) and the caller decides how
// to treat the unknown result.
func (s *Submitter) WaitForConfirmation(ctx context.Context, sig string, commitment Commitment, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		var status SignatureStatus
		err := s.pool.ExecuteWithFallback(ctx, func(c Conn) error {
			got, readErr := c.GetSignatureStatus(ctx, sig)
			if readErr != nil {
				return readErr
			}
			status = got
			return nil
		}, 0)
		if err != nil {
			// A failed poll is not a failed transaction; keep polling until
			// the deadline.
			s.logger.Debug("status poll failed",
				slog.String("signature", sig),
				slog.String("error", err.Error()),
			)
		} else if status.Err != "" {
			return false, fmt.Errorf("rpc: transaction %s failed on chain: %s", sig, status.Err)
		} else if status.Found && status.Confirmation.AtLeast(commitment) {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}
