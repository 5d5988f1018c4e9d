package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{APIKey: "test-key", APISecret: "test-secret"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", testCreds, WithHTTPClient(server.Client()), WithRateLimit(1000, 100))
}

func TestDoGetSendsSignedQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v5/market/tickers", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "BTCUSDT", q.Get("symbol"))
		require.Equal(t, "test-key", q.Get("apiKey"))
		require.Equal(t, RecvWindow, q.Get("recvWindow"))
		require.NotEmpty(t, q.Get("timestamp"))
		require.Len(t, q.Get("sign"), 64)
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	})

	resp, err := client.Do(context.Background(), http.MethodGet, "/v5/market/tickers", map[string]string{"symbol": "BTCUSDT"})
	require.NoError(t, err)
	require.Equal(t, 0, resp.RetCode)
	require.JSONEq(t, `{"list":[]}`, string(resp.Result))
}

func TestDoPostSendsJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Buy", body["side"])
		require.NotEmpty(t, body["sign"])
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"1"}}`))
	})

	_, err := client.Do(context.Background(), http.MethodPost, "/v5/order/create", map[string]string{"side": "Buy"})
	require.NoError(t, err)
}

func TestDoClassifiesFailures(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		})
		_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		require.Equal(t, http.StatusBadGateway, httpErr.Status)
		require.Contains(t, httpErr.Body, "upstream down")
		require.True(t, Retryable(err))
	})

	t.Run("api error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
		})
		_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, 10001, apiErr.Code)
		require.Equal(t, "params error", apiErr.Message)
		require.False(t, Retryable(err))
	})

	t.Run("bad body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		})
		_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
		var transportErr *TransportError
		require.True(t, errors.As(err, &transportErr))
	})

	t.Run("network", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := server.URL
		server.Close()
		client := NewClient(url, testCreds)
		_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
		var transportErr *TransportError
		require.True(t, errors.As(err, &transportErr))
		require.True(t, Retryable(err))
	})
}

func TestDoSigningErrorSkipsNetwork(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	client := NewClient(server.URL, Credentials{}, WithHTTPClient(server.Client()))
	_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
	var signErr *SigningError
	require.True(t, errors.As(err, &signErr))
	require.Zero(t, atomic.LoadInt32(&hits))
}

func TestBreakerTripsOnTransportFailuresOnly(t *testing.T) {
	var hits int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"retCode":10006,"retMsg":"rate limited","result":{}}`))
	})
	for i := 0; i < breakerFailures*2; i++ {
		_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "api errors must not open the breaker")
	}
	require.EqualValues(t, breakerFailures*2, atomic.LoadInt32(&hits))

	var failing int32
	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&failing, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	for i := 0; i < breakerFailures; i++ {
		_, _ = down.Do(context.Background(), http.MethodGet, "/x", nil)
	}
	_, err := down.Do(context.Background(), http.MethodGet, "/x", nil)
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, "circuit breaker", transportErr.Op)
	require.EqualValues(t, breakerFailures, atomic.LoadInt32(&failing))
}
