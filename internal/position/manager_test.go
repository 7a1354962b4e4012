package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/momentum"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubEstimator struct {
	mu    sync.Mutex
	value uint64
	err   error
}

func (s *stubEstimator) EstimateValue(ctx context.Context, mint string, tokenAmount uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.err
}

// sellRecorder captures every sell invocation and can be scripted to fail.
// failFor < 0 fails every call; failFor > 0 fails only the first n calls.
type sellRecorder struct {
	mu      sync.Mutex
	calls   []sellCall
	err     error
	failFor int
}

type sellCall struct {
	mint    string
	percent float64
	reason  string
}

func (r *sellRecorder) Sell(ctx context.Context, pos domain.Position, percent float64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sellCall{mint: pos.Mint, percent: percent, reason: reason})
	if r.err != nil && r.failFor != 0 {
		if r.failFor > 0 {
			r.failFor--
		}
		return r.err
	}
	return nil
}

func (r *sellRecorder) fullExits() []sellCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sellCall
	for _, c := range r.calls {
		if c.percent == 1.0 {
			out = append(out, c)
		}
	}
	return out
}

func (r *sellRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testCfg() Config {
	return Config{
		TickInterval:     time.Hour, // ticks are driven manually in tests
		MaxHold:          time.Hour,
		BreakevenEnabled: true,
		BreakevenTarget:  2.0,
		BreakevenPercent: 0.5,
		Momentum: momentum.Config{
			Window:            time.Minute,
			LullThreshold:     time.Hour,
			BuySellRatioFloor: 0.4,
		},
	}
}

func openPosition(mint string) domain.Position {
	return domain.Position{
		Mint:         mint,
		EntryTime:    time.Now(),
		CostLamports: 100_000_000,
		TokenAmount:  5_000_000,
		Status:       domain.PositionStatusOpen,
	}
}

func TestAtMostOneFullExitUnderConcurrentTicks(t *testing.T) {
	est := &stubEstimator{value: 0}
	sells := &sellRecorder{}
	cfg := testCfg()
	cfg.BreakevenEnabled = false
	cfg.MaxHold = time.Nanosecond // every tick sees the timeout condition
	m := NewManager(cfg, est, sells.Sell, discardLogger())

	require.NoError(t, m.StartPosition(context.Background(), openPosition("mintA")))

	// Hammer the decision path from many goroutines; the synchronous status
	// transition must let exactly one full exit through.
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.tick(context.Background(), "mintA")
		}()
	}
	wg.Wait()

	assert.Len(t, sells.fullExits(), 1)
	assert.False(t, m.HasPosition("mintA"), "a successful exit drops the position")
}

func TestBreakevenPrecedesMomentumExit(t *testing.T) {
	est := &stubEstimator{value: 250_000_000} // 2.5x cost: breakeven condition true
	sells := &sellRecorder{}
	cfg := testCfg()
	cfg.Momentum.LullThreshold = time.Nanosecond // momentum exit condition also true
	m := NewManager(cfg, est, sells.Sell, discardLogger())

	require.NoError(t, m.StartPosition(context.Background(), openPosition("mintA")))
	time.Sleep(2 * time.Millisecond) // let the lull threshold pass

	// Both conditions hold; only the breakeven partial sell may fire.
	m.tick(context.Background(), "mintA")
	require.Equal(t, 1, sells.count())
	sells.mu.Lock()
	first := sells.calls[0]
	sells.mu.Unlock()
	assert.Equal(t, 0.5, first.percent)
	assert.Contains(t, first.reason, "breakeven")

	_, status, ok := m.GetPosition("mintA")
	require.True(t, ok)
	assert.Equal(t, domain.ManagedStatusPartialExit, status)

	// The momentum exit fires on the next tick, still true.
	m.tick(context.Background(), "mintA")
	require.Len(t, sells.fullExits(), 1)
	assert.Contains(t, sells.fullExits()[0].reason, "momentum")
	assert.False(t, m.HasPosition("mintA"))
}

func TestTimeoutExit(t *testing.T) {
	est := &stubEstimator{value: 0}
	sells := &sellRecorder{}
	cfg := testCfg()
	cfg.BreakevenEnabled = false
	cfg.MaxHold = 10 * time.Millisecond
	m := NewManager(cfg, est, sells.Sell, discardLogger())

	pos := openPosition("mintA")
	pos.EntryTime = time.Now().Add(-time.Second)
	require.NoError(t, m.StartPosition(context.Background(), pos))

	m.tick(context.Background(), "mintA")

	exits := sells.fullExits()
	require.Len(t, exits, 1)
	assert.Contains(t, exits[0].reason, "max hold")
}

func TestStopNotifiesObserver(t *testing.T) {
	est := &stubEstimator{value: 0}
	sells := &sellRecorder{}
	cfg := testCfg()
	cfg.BreakevenEnabled = false
	cfg.MaxHold = 10 * time.Millisecond
	m := NewManager(cfg, est, sells.Sell, discardLogger())

	var mu sync.Mutex
	var stopped []string
	m.OnStop(func(mint string) {
		mu.Lock()
		stopped = append(stopped, mint)
		mu.Unlock()
	})

	pos := openPosition("mintA")
	pos.EntryTime = time.Now().Add(-time.Second)
	require.NoError(t, m.StartPosition(context.Background(), pos))

	m.tick(context.Background(), "mintA")

	mu.Lock()
	require.Equal(t, []string{"mintA"}, stopped)
	mu.Unlock()
	assert.False(t, m.HasPosition("mintA"))

	// Stopping an already-dropped position must not notify again.
	m.StopPosition("mintA")
	mu.Lock()
	assert.Equal(t, []string{"mintA"}, stopped)
	mu.Unlock()
}

func TestEstimatorFailureSkipsBreakevenOnly(t *testing.T) {
	est := &stubEstimator{err: errors.New("curve account unavailable")}
	sells := &sellRecorder{}
	m := NewManager(testCfg(), est, sells.Sell, discardLogger())

	require.NoError(t, m.StartPosition(context.Background(), openPosition("mintA")))
	m.tick(context.Background(), "mintA")

	// No sell of any kind; the position stays active for the next tick.
	assert.Equal(t, 0, sells.count())
	_, status, ok := m.GetPosition("mintA")
	require.True(t, ok)
	assert.Equal(t, domain.ManagedStatusActive, status)
}

func TestFailedExitRevertsForRetry(t *testing.T) {
	est := &stubEstimator{value: 0}
	sells := &sellRecorder{err: errors.New("all endpoints failed"), failFor: 1}
	cfg := testCfg()
	cfg.BreakevenEnabled = false
	cfg.MaxHold = time.Nanosecond
	m := NewManager(cfg, est, sells.Sell, discardLogger())

	require.NoError(t, m.StartPosition(context.Background(), openPosition("mintA")))

	// First tick: the sell fails and the decision is reverted.
	m.tick(context.Background(), "mintA")
	_, status, ok := m.GetPosition("mintA")
	require.True(t, ok, "a failed exit must not drop the position")
	assert.Equal(t, domain.ManagedStatusActive, status)

	// Second tick retries and succeeds.
	m.tick(context.Background(), "mintA")
	assert.Len(t, sells.fullExits(), 2)
	assert.False(t, m.HasPosition("mintA"))
}

func TestPositionNotFoundIsFatal(t *testing.T) {
	est := &stubEstimator{value: 0}
	sells := &sellRecorder{err: domain.ErrPositionNotFound, failFor: -1}
	cfg := testCfg()
	cfg.BreakevenEnabled = false
	cfg.MaxHold = time.Nanosecond
	m := NewManager(cfg, est, sells.Sell, discardLogger())

	require.NoError(t, m.StartPosition(context.Background(), openPosition("mintA")))
	m.tick(context.Background(), "mintA")

	assert.Equal(t, 1, sells.count())
	assert.False(t, m.HasPosition("mintA"), "position not found stops the position for good")

	// Later ticks are no-ops.
	m.tick(context.Background(), "mintA")
	assert.Equal(t, 1, sells.count())
}

func TestStartPositionRejectsDuplicate(t *testing.T) {
	m := NewManager(testCfg(), &stubEstimator{}, (&sellRecorder{}).Sell, discardLogger())

	require.NoError(t, m.StartPosition(context.Background(), openPosition("mintA")))
	err := m.StartPosition(context.Background(), openPosition("mintA"))
	assert.ErrorIs(t, err, domain.ErrPositionExists)
}

func TestStopPositionIdempotent(t *testing.T) {
	m := NewManager(testCfg(), &stubEstimator{}, (&sellRecorder{}).Sell, discardLogger())

	require.NoError(t, m.StartPosition(context.Background(), openPosition("mintA")))
	m.StopPosition("mintA")
	assert.False(t, m.HasPosition("mintA"))

	// Stopping again, or stopping an unknown mint, is a no-op.
	m.StopPosition("mintA")
	m.StopPosition("never-started")
}

func TestRecordEventsFeedTheTracker(t *testing.T) {
	est := &stubEstimator{value: 0}
	sells := &sellRecorder{}
	cfg := testCfg()
	cfg.BreakevenEnabled = false
	cfg.Momentum.BuySellRatioFloor = 0.5
	m := NewManager(cfg, est, sells.Sell, discardLogger())

	require.NoError(t, m.StartPosition(context.Background(), openPosition("mintA")))

	// Heavy sell pressure across enough samples triggers the ratio exit.
	m.RecordBuy("mintA", 1, "b1")
	for i := 0; i < 6; i++ {
		m.RecordSell("mintA", 1, "s")
	}
	m.tick(context.Background(), "mintA")

	exits := sells.fullExits()
	require.Len(t, exits, 1)
	assert.Contains(t, exits[0].reason, "ratio")

	// Events for unmanaged mints are ignored rather than panicking.
	m.RecordBuy("unknown", 1, "x")
	m.RecordSell("unknown", 1, "x")
}
