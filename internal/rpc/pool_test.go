package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a scriptable Conn for pool and submitter tests.
type fakeConn struct {
	url string

	mu        sync.Mutex
	sendSig   string
	sendErr   error
	sendCalls int

	status     SignatureStatus
	statusErr  error
	statusCalls int

	balance    uint64
	balanceErr error

	simErr error
}

func (f *fakeConn) URL() string { return f.url }

func (f *fakeConn) SendTransaction(ctx context.Context, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	return f.sendSig, f.sendErr
}

func (f *fakeConn) GetSignatureStatus(ctx context.Context, sig string) (SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.status, f.statusErr
}

func (f *fakeConn) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeConn) Simulate(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.simErr
}

func TestNewPoolRejectsEmpty(t *testing.T) {
	_, err := NewPool(nil, discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoEndpoints)
}

func TestPoolNextWrapsAround(t *testing.T) {
	conns := []Conn{
		&fakeConn{url: "a"},
		&fakeConn{url: "b"},
		&fakeConn{url: "c"},
	}
	p, err := NewPool(conns, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 0, p.Index())
	assert.Equal(t, "b", p.Next().URL())
	assert.Equal(t, "c", p.Next().URL())
	assert.Equal(t, "a", p.Next().URL())
	assert.Equal(t, 0, p.Index())
}

func TestExecuteWithFallbackUsesNextEndpointOnFailure(t *testing.T) {
	bad := &fakeConn{url: "bad", sendErr: errors.New("connection refused")}
	good := &fakeConn{url: "good", sendSig: "sig123"}
	p, err := NewPool([]Conn{bad, good}, discardLogger())
	require.NoError(t, err)

	var sig string
	err = p.ExecuteWithFallback(context.Background(), func(c Conn) error {
		got, sendErr := c.SendTransaction(context.Background(), nil)
		if sendErr != nil {
			return sendErr
		}
		sig = got
		return nil
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, "sig123", sig)
	assert.Equal(t, 1, bad.sendCalls)
	assert.Equal(t, 1, good.sendCalls)
}

func TestExecuteWithFallbackExhaustsAndWrapsLastError(t *testing.T) {
	lastErr := errors.New("endpoint c down")
	a := &fakeConn{url: "a", sendErr: errors.New("endpoint a down")}
	b := &fakeConn{url: "b", sendErr: errors.New("endpoint b down")}
	c := &fakeConn{url: "c", sendErr: lastErr}
	p, err := NewPool([]Conn{a, b, c}, discardLogger())
	require.NoError(t, err)

	calls := 0
	err = p.ExecuteWithFallback(context.Background(), func(conn Conn) error {
		calls++
		_, sendErr := conn.SendTransaction(context.Background(), nil)
		return sendErr
	}, 0)

	require.Error(t, err)
	assert.Equal(t, 3, calls, "default maxRetries equals the pool size")
	assert.ErrorIs(t, err, lastErr)
	assert.Contains(t, err.Error(), "all endpoints failed")
}

func TestExecuteWithFallbackRotationPersistsAcrossCalls(t *testing.T) {
	a := &fakeConn{url: "a", sendErr: errors.New("down")}
	b := &fakeConn{url: "b", sendErr: errors.New("down")}
	c := &fakeConn{url: "c", sendErr: errors.New("down")}
	p, err := NewPool([]Conn{a, b, c}, discardLogger())
	require.NoError(t, err)

	op := func(conn Conn) error {
		_, sendErr := conn.SendTransaction(context.Background(), nil)
		return sendErr
	}

	// One failing attempt rotates the shared index; the next call starts
	// from the rotated position rather than resetting to the first endpoint.
	_ = p.ExecuteWithFallback(context.Background(), op, 1)
	assert.Equal(t, 1, p.Index())
	_ = p.ExecuteWithFallback(context.Background(), op, 1)
	assert.Equal(t, 2, p.Index())
	assert.Equal(t, 1, a.sendCalls)
	assert.Equal(t, 1, b.sendCalls)
}

func TestWithSenderOverridesOnlySubmit(t *testing.T) {
	base := &fakeConn{url: "base", sendSig: "base-sig", balance: 42}
	relay := &fakeConn{url: "relay", sendSig: "relay-sig"}

	conn := WithSender(base, relay)

	sig, err := conn.SendTransaction(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "relay-sig", sig)
	assert.Equal(t, 0, base.sendCalls)

	bal, err := conn.GetBalance(context.Background(), "wallet")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), bal, "reads must still hit the base connection")
	assert.Equal(t, "base", conn.URL())
}
