package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// wsTestServer upgrades incoming connections, records received commands, and
// lets tests push raw messages to the client.
type wsTestServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	accepted int
	commands []wsCommand
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	s := &wsTestServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.accepted++
		s.mu.Unlock()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd wsCommand
			if json.Unmarshal(raw, &cmd) == nil {
				s.mu.Lock()
				s.commands = append(s.commands, cmd)
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsTestServer) push(t *testing.T, v any) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			require.NoError(t, conn.WriteJSON(v))
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no client connected")
}

func (s *wsTestServer) recorded() []wsCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wsCommand(nil), s.commands...)
}

func (s *wsTestServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// dropConn severs the current connection server-side, as an upstream outage
// would.
func (s *wsTestServer) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	waitUpTo(t, time.Second, cond)
}

func waitUpTo(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestWSClientDispatchesTrades(t *testing.T) {
	srv := newWSTestServer(t)
	client := NewWSClient(srv.url())
	t.Cleanup(func() { client.Close() })

	var mu sync.Mutex
	var events []domain.TradeEvent
	client.OnTrade(func(ev domain.TradeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.SubscribeTrades(context.Background(), "mintA"))

	srv.push(t, wsTradeMessage{TxType: "buy", Mint: "mintA", SolAmount: 0.25, Signature: "sig1"})
	srv.push(t, wsTradeMessage{TxType: "sell", Mint: "mintA", SolAmount: 0.1, Signature: "sig2"})
	srv.push(t, map[string]any{"txType": "unknown", "mint": "mintA"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.TradeSideBuy, events[0].Side)
	assert.Equal(t, uint64(250_000_000), events[0].Lamports)
	assert.Equal(t, "sig1", events[0].Signature)
	assert.Equal(t, domain.TradeSideSell, events[1].Side)
}

func TestWSClientSendsSubscriptionCommands(t *testing.T) {
	srv := newWSTestServer(t)
	client := NewWSClient(srv.url())
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.SubscribeLaunches(context.Background()))
	require.NoError(t, client.SubscribeTrades(context.Background(), "mintA", "mintB"))
	require.NoError(t, client.UnsubscribeTrades(context.Background(), "mintB"))

	waitFor(t, func() bool { return len(srv.recorded()) == 3 })

	cmds := srv.recorded()
	assert.Equal(t, "subscribeNewToken", cmds[0].Method)
	assert.Equal(t, "subscribeTokenTrade", cmds[1].Method)
	assert.ElementsMatch(t, []string{"mintA", "mintB"}, cmds[1].Keys)
	assert.Equal(t, "unsubscribeTokenTrade", cmds[2].Method)
	assert.Equal(t, []string{"mintB"}, cmds[2].Keys)
}

func TestWSClientDispatchesLaunches(t *testing.T) {
	srv := newWSTestServer(t)
	client := NewWSClient(srv.url())
	t.Cleanup(func() { client.Close() })

	var mu sync.Mutex
	var launches []string
	client.OnLaunch(func(mint string) {
		mu.Lock()
		launches = append(launches, mint)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background()))
	srv.push(t, wsTradeMessage{TxType: "create", Mint: "freshMint"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(launches) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"freshMint"}, launches)
}

func TestWSClientReconnectRestoresSubscriptions(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the reconnect backoff")
	}

	srv := newWSTestServer(t)
	client := NewWSClient(srv.url())
	t.Cleanup(func() { client.Close() })

	var mu sync.Mutex
	var events []domain.TradeEvent
	client.OnTrade(func(ev domain.TradeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.SubscribeLaunches(context.Background()))
	require.NoError(t, client.SubscribeTrades(context.Background(), "mintA"))
	waitFor(t, func() bool { return len(srv.recorded()) == 2 })

	srv.dropConn()

	// The client backs off before redialing, then restores both the launch
	// and the per-mint subscriptions on the replacement connection.
	waitUpTo(t, 10*time.Second, func() bool { return srv.connections() == 2 })
	waitFor(t, func() bool {
		launches, trades := 0, 0
		for _, cmd := range srv.recorded() {
			switch cmd.Method {
			case "subscribeNewToken":
				launches++
			case "subscribeTokenTrade":
				trades++
			}
		}
		return launches == 2 && trades == 2
	})

	// The replacement connection serves events like the first one did.
	srv.push(t, wsTradeMessage{TxType: "buy", Mint: "mintA", SolAmount: 0.2, Signature: "sig9"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "sig9", events[0].Signature)
}

func TestWSClientSubscribeRequiresConnection(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:1")
	err := client.SubscribeTrades(context.Background(), "mintA")
	assert.Error(t, err)
}

// fakeRecorder implements MomentumRecorder for feeder tests.
type fakeRecorder struct {
	mu    sync.Mutex
	held  map[string]bool
	buys  int
	sells int
}

func (f *fakeRecorder) RecordBuy(mint string, lamports uint64, sig string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys++
}

func (f *fakeRecorder) RecordSell(mint string, lamports uint64, sig string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells++
}

func (f *fakeRecorder) HasPosition(mint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[mint]
}

func (f *fakeRecorder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buys, f.sells
}

func TestFeederWatchLifecycle(t *testing.T) {
	srv := newWSTestServer(t)
	client := NewWSClient(srv.url())
	t.Cleanup(func() { client.Close() })

	rec := &fakeRecorder{held: map[string]bool{"mintA": true}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewFeeder(client, rec, logger)

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, f.Watch(context.Background(), "mintA"))
	require.NoError(t, f.Unwatch(context.Background(), "mintA"))

	waitFor(t, func() bool { return len(srv.recorded()) == 2 })

	cmds := srv.recorded()
	assert.Equal(t, "subscribeTokenTrade", cmds[0].Method)
	assert.Equal(t, []string{"mintA"}, cmds[0].Keys)
	assert.Equal(t, "unsubscribeTokenTrade", cmds[1].Method)
	assert.Equal(t, []string{"mintA"}, cmds[1].Keys)
}

func TestFeederForwardsHeldMintsOnly(t *testing.T) {
	srv := newWSTestServer(t)
	client := NewWSClient(srv.url())
	t.Cleanup(func() { client.Close() })

	rec := &fakeRecorder{held: map[string]bool{"mintA": true}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	NewFeeder(client, rec, logger)

	require.NoError(t, client.Connect(context.Background()))

	srv.push(t, wsTradeMessage{TxType: "buy", Mint: "mintA", SolAmount: 0.1, Signature: "s1"})
	srv.push(t, wsTradeMessage{TxType: "sell", Mint: "mintA", SolAmount: 0.1, Signature: "s2"})
	srv.push(t, wsTradeMessage{TxType: "buy", Mint: "unheld", SolAmount: 0.1, Signature: "s3"})

	waitFor(t, func() bool {
		buys, sells := rec.counts()
		return buys == 1 && sells == 1
	})
}
