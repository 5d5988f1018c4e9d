package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/risk"
)

type stubLoop struct {
	mu      sync.Mutex
	snap    engine.Snapshot
	pending bool
}

func (l *stubLoop) Snapshot() engine.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

func (l *stubLoop) Acknowledge() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.pending
	l.pending = false
	l.snap.Paused = false
	return was
}

func newTestServer(t *testing.T, trades *ledger.Ledger, hub *Hub) (*stubLoop, *httptest.Server) {
	t.Helper()
	loop := &stubLoop{
		snap:    engine.Snapshot{State: engine.Running, Symbol: "BTCUSDT", Paused: true, RiskLevel: risk.Medium},
		pending: true,
	}
	srv := httptest.NewServer(NewServer(":0", zerolog.Nop(), loop, trades, hub).Handler())
	t.Cleanup(srv.Close)
	return loop, srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func seeded(n int) *ledger.Ledger {
	l := ledger.New("")
	for i := 0; i < n; i++ {
		profit := 1.0
		if i%2 == 1 {
			profit = -0.5
		}
		l.Append(execution.TradeRecord{
			Timestamp: time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
			Type:      "Buy-Sell", Symbol: "BTCUSDT", Amount: 0.01,
			SpotPrice: 100, DerivativePrice: 100.5, SpreadPercent: 0.5, Profit: profit,
		})
	}
	return l
}

func TestHealthAndSnapshot(t *testing.T) {
	_, srv := newTestServer(t, seeded(0), nil)

	var health map[string]any
	resp := getJSON(t, srv.URL+"/health", &health)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "running", health["state"])
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var snap engine.Snapshot
	getJSON(t, srv.URL+"/api/snapshot", &snap)
	require.Equal(t, "BTCUSDT", snap.Symbol)
	require.Equal(t, risk.Medium, snap.RiskLevel)
	require.True(t, snap.Paused)
}

func TestTradesLimit(t *testing.T) {
	_, srv := newTestServer(t, seeded(30), nil)

	var trades []execution.TradeRecord
	getJSON(t, srv.URL+"/api/trades", &trades)
	require.Len(t, trades, ledger.DefaultRecentWindow)

	getJSON(t, srv.URL+"/api/trades?limit=3", &trades)
	require.Len(t, trades, 3)
	require.Equal(t, 29, trades[2].Timestamp.Minute())

	resp := getJSON(t, srv.URL+"/api/trades?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = getJSON(t, srv.URL+"/api/trades?limit=1000", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummary(t *testing.T) {
	_, empty := newTestServer(t, seeded(0), nil)
	resp := getJSON(t, empty.URL+"/api/summary", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, srv := newTestServer(t, seeded(10), nil)
	var summary ledger.Summary
	resp = getJSON(t, srv.URL+"/api/summary?window=4", &summary)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 4, summary.Trades)
	require.InDelta(t, 1.0, summary.TotalProfit, 1e-9)
	require.InDelta(t, 0.5, summary.WinRate, 1e-9)
}

func TestAckRequiresPost(t *testing.T) {
	loop, srv := newTestServer(t, seeded(0), nil)

	resp := getJSON(t, srv.URL+"/api/ack", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	post := func() bool {
		resp, err := http.Post(srv.URL+"/api/ack", "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body["acknowledged"]
	}
	require.True(t, post())
	require.False(t, post())
	require.False(t, loop.Snapshot().Paused)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, seeded(0), nil)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHubBroadcastsSnapshots(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, srv := newTestServer(t, seeded(0), hub)

	require.NoError(t, hub.Publish(context.Background(), engine.Snapshot{Symbol: "BTCUSDT", Iterations: 1}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() engine.Snapshot {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var snap engine.Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		return snap
	}
	require.EqualValues(t, 1, read().Iterations, "new subscribers get the latest snapshot")

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), engine.Snapshot{Symbol: "BTCUSDT", Iterations: 2}))
	require.EqualValues(t, 2, read().Iterations)

	hub.Close()
	require.Zero(t, hub.Clients())
}
