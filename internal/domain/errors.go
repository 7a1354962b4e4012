package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPositionNotFound    = errors.New("position not found")
	ErrPositionExists      = errors.New("position already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoEndpoints         = errors.New("no endpoints configured")
	ErrBuildFailed         = errors.New("payload build failed")
	ErrWSDisconnect        = errors.New("websocket disconnected")
)

// SimulationError is a pre-flight rejection: the endpoint refused the payload
// before submission. It is reported distinctly from submission and
// confirmation errors so callers can tell a doomed payload from a flaky
// network.
type SimulationError struct {
	Reason string
	Logs   []string
}

func (e *SimulationError) Error() string {
	if len(e.Logs) == 0 {
		return fmt.Sprintf("simulation failed: %s", e.Reason)
	}
	return fmt.Sprintf("simulation failed: %s (%s)", e.Reason, strings.Join(e.Logs, "; "))
}

// SubmitError is the terminal failure of a retried submission. It carries the
// attempt count and the last underlying cause; it never escapes the
// submission channel boundary un-wrapped.
type SubmitError struct {
	Attempts int
	Last     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submission failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *SubmitError) Unwrap() error { return e.Last }
