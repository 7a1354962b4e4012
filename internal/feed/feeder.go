// Package feed connects the launchpad trade event stream to the rest of the
// engine: the WSClient owns the socket, the Feeder routes decoded events
// into the position manager's momentum trackers.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// MomentumRecorder receives observed trades for held tokens. Implemented by
// *position.Manager.
type MomentumRecorder interface {
	RecordBuy(mint string, lamports uint64, sig string)
	RecordSell(mint string, lamports uint64, sig string)
	HasPosition(mint string) bool
}

// Feeder subscribes a stream client's trade events and forwards them to the
// momentum recorder. When a signal bus is attached, every event for a held
// token is also republished for external monitors.
type Feeder struct {
	client   *WSClient
	recorder MomentumRecorder
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewFeeder creates a Feeder and registers it on the client.
func NewFeeder(client *WSClient, recorder MomentumRecorder, logger *slog.Logger) *Feeder {
	f := &Feeder{
		client:   client,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "feeder")),
	}
	client.OnTrade(f.handleTrade)
	return f
}

// SetSignalBus attaches the event bus for republishing.
func (f *Feeder) SetSignalBus(bus domain.SignalBus) { f.bus = bus }

// Watch subscribes the stream for a mint.
func (f *Feeder) Watch(ctx context.Context, mint string) error {
	return f.client.SubscribeTrades(ctx, mint)
}

// Unwatch drops the stream subscription for a mint.
func (f *Feeder) Unwatch(ctx context.Context, mint string) error {
	return f.client.UnsubscribeTrades(ctx, mint)
}

func (f *Feeder) handleTrade(ev domain.TradeEvent) {
	if !f.recorder.HasPosition(ev.Mint) {
		return
	}

	switch ev.Side {
	case domain.TradeSideBuy:
		f.recorder.RecordBuy(ev.Mint, ev.Lamports, ev.Signature)
	case domain.TradeSideSell:
		f.recorder.RecordSell(ev.Mint, ev.Lamports, ev.Signature)
	default:
		return
	}

	if f.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := f.bus.Publish(context.Background(), "snipebot:events", payload); err != nil {
			f.logger.Debug("event republish failed",
				slog.String("mint", ev.Mint),
				slog.String("error", err.Error()),
			)
		}
	}
}
