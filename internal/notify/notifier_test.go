package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/snipebot/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{s}, []string{EventPositionClosed}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventPositionOpened, "Opened", "x"))
	require.NoError(t, n.Notify(context.Background(), EventPositionClosed, "Closed", "x"))

	assert.Equal(t, []string{"Closed"}, s.titles)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventBreakeven, "Breakeven", "x"))
	assert.Len(t, s.titles, 1)
}

func TestNotifyOneFailingSenderDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventEntryFailed, "Failed", "x")
	assert.Error(t, err)
	assert.Len(t, good.titles, 1, "the healthy sender still delivers")
}

func TestFromConfigBuildsSenders(t *testing.T) {
	n := FromConfig(config.NotifyConfig{
		TelegramToken:     "tok",
		TelegramChatID:    "42",
		DiscordWebhookURL: "https://discord.example/webhook",
	}, testLogger())
	assert.Len(t, n.senders, 2)

	inert := FromConfig(config.NotifyConfig{}, testLogger())
	assert.Empty(t, inert.senders)
	assert.NoError(t, inert.Notify(context.Background(), EventPositionOpened, "t", "m"))
}

func TestTelegramSenderPostsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL

	require.NoError(t, s.Send(context.Background(), "Position closed", "mintA: PnL 0.3 SOL"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Contains(t, got["text"], "Position closed")
	assert.Contains(t, got["text"], "mintA")
}

func TestDiscordSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "status 401")
}
