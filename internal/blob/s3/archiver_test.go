package s3blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

type fakeWriter struct {
	keys   []string
	bodies []string
	err    error
}

func (f *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	body, _ := io.ReadAll(data)
	f.keys = append(f.keys, path)
	f.bodies = append(f.bodies, string(body))
	return nil
}

type fakeTradeLog struct {
	recs []domain.TradeRecord
	err  error
}

func (f *fakeTradeLog) Append(ctx context.Context, rec domain.TradeRecord) error { return nil }

func (f *fakeTradeLog) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	return f.recs, f.err
}

func TestSnapshotUploadsJSONL(t *testing.T) {
	writer := &fakeWriter{}
	log := &fakeTradeLog{recs: []domain.TradeRecord{
		{ID: "1", Mint: "mintA", Status: domain.PositionStatusClosed, RealizedPnLSol: 0.3},
		{ID: "2", Mint: "mintB", Status: domain.PositionStatusFailed},
	}}
	a := NewArchiver(writer, log, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Date(2026, 8, 29, 12, 30, 45, 0, time.UTC) }

	require.NoError(t, a.Snapshot(context.Background()))

	require.Len(t, writer.keys, 1)
	assert.Equal(t, "trades/2026/08/29/snapshot-123045.jsonl", writer.keys[0])

	lines := strings.Split(strings.TrimSpace(writer.bodies[0]), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "mintA")
	assert.Contains(t, lines[1], "mintB")
}

func TestSnapshotSkipsEmptyHistory(t *testing.T) {
	writer := &fakeWriter{}
	a := NewArchiver(writer, &fakeTradeLog{}, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, a.Snapshot(context.Background()))
	assert.Empty(t, writer.keys)
}

func TestSnapshotPropagatesListError(t *testing.T) {
	a := NewArchiver(&fakeWriter{}, &fakeTradeLog{err: errors.New("connection refused")},
		time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Error(t, a.Snapshot(context.Background()))
}
