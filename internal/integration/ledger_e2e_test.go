package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger-service/internal/bootstrap"
	"ledger-service/internal/config"
	"ledger-service/internal/domain"
)

type envelope[T any] struct {
	StatusCode *int   `json:"status_code"`
	Message    string `json:"message"`
	Data       T      `json:"data"`
}

type hookSink struct {
	mu    sync.Mutex
	types []string
}

func (s *hookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.types = append(s.types, r.Header.Get("X-Event-Type"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *hookSink) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.types...)
}

func call[T any](t *testing.T, base, method, path string, body any) (int, envelope[T]) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, base+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// TestLedgerOverSQLite drives the HTTP API against a SQLite file and relays
// the resulting outbox events to a webhook.
func TestLedgerOverSQLite(t *testing.T) {
	sink := &hookSink{}
	hook := httptest.NewServer(sink)
	defer hook.Close()

	cfg := config.Config{
		Storage:            "sqlite",
		SQLitePath:         filepath.Join(t.TempDir(), "ledger.db"),
		Nesting:            "join",
		RollbackTimeout:    time.Second,
		RequestTimeout:     5 * time.Second,
		IdempotencyBackend: "none",
		OutboxRelay:        "inline",
		Publisher:          "webhook",
		WebhookURL:         hook.URL,
		OutboxPoll:         10 * time.Millisecond,
		OutboxBatch:        10,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, cleanup, err := bootstrap.InitAPI(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	api := httptest.NewServer(app.Handler)
	defer api.Close()

	code, alice := call[domain.Account](t, api.URL, http.MethodPost, "/accounts", map[string]string{"owner": "alice", "currency": "EUR"})
	require.Equal(t, http.StatusCreated, code)
	code, bob := call[domain.Account](t, api.URL, http.MethodPost, "/accounts", map[string]string{"owner": "bob", "currency": "EUR"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = call[domain.Account](t, api.URL, http.MethodPost, "/accounts/"+alice.Data.ID+"/deposits", map[string]int64{"amount": 100})
	require.Equal(t, http.StatusOK, code)

	transfer := map[string]any{"from_account_id": alice.Data.ID, "to_account_id": bob.Data.ID, "amount": 70}
	code, tr := call[domain.Transfer](t, api.URL, http.MethodPost, "/transfers", transfer)
	require.Equal(t, http.StatusCreated, code)
	require.EqualValues(t, 70, tr.Data.Amount)

	// Second transfer overdraws; nothing of it may persist.
	code, _ = call[json.RawMessage](t, api.URL, http.MethodPost, "/transfers", transfer)
	require.Equal(t, http.StatusUnprocessableEntity, code)

	_, got := call[domain.Account](t, api.URL, http.MethodGet, "/accounts/"+alice.Data.ID, nil)
	require.EqualValues(t, 30, got.Data.Balance)
	_, got = call[domain.Account](t, api.URL, http.MethodGet, "/accounts/"+bob.Data.ID, nil)
	require.EqualValues(t, 70, got.Data.Balance)

	_, list := call[[]domain.Transfer](t, api.URL, http.MethodGet, "/accounts/"+bob.Data.ID+"/transfers", nil)
	require.Len(t, list.Data, 1)

	go app.Relay.Start(ctx)
	require.Eventually(t, func() bool { return len(sink.seen()) == 4 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, []string{
		domain.EventAccountOpened,
		domain.EventAccountOpened,
		domain.EventAccountDeposited,
		domain.EventTransferCompleted,
	}, sink.seen())
}
