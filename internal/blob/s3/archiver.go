package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// archiveBatchLimit caps how many records one snapshot carries.
const archiveBatchLimit = 1000

// BlobWriter is the upload capability the archiver needs. Implemented by
// *Writer.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver periodically serializes the recent terminal trade records to
// JSONL and uploads the snapshot. Archives are additive; nothing is deleted
// from the trade log here.
type Archiver struct {
	writer   BlobWriter
	log      domain.TradeLog
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates an Archiver that snapshots at the given interval.
func NewArchiver(writer BlobWriter, log domain.TradeLog, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		writer:   writer,
		log:      log,
		interval: interval,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// Run snapshots on a fixed interval until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("archiver started", slog.Duration("interval", a.interval))
	defer a.logger.Info("archiver stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Snapshot(ctx); err != nil {
				a.logger.Warn("archive snapshot failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Snapshot serializes the recent trade history to JSONL and uploads it under
// a date-partitioned key.
func (a *Archiver) Snapshot(ctx context.Context) error {
	recs, err := a.log.ListRecent(ctx, archiveBatchLimit)
	if err != nil {
		return fmt.Errorf("s3blob: list trades: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode trade %s: %w", rec.Mint, err)
		}
	}

	ts := a.now().UTC()
	key := fmt.Sprintf("trades/%s/snapshot-%s.jsonl",
		ts.Format("2006/01/02"), ts.Format("150405"))

	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return err
	}

	a.logger.Info("trade history archived",
		slog.String("key", key),
		slog.Int("records", len(recs)),
	)
	return nil
}
