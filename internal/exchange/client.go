// Package exchange hosts the signed REST connector for the spot and derivative venue.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"spreadbot-go/internal/metrics"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultRateLimit    = 10
	defaultRateBurst    = 5
	breakerFailures     = 5
	breakerOpenDuration = 30 * time.Second
	maxErrorBody        = 512
)

// Response is the venue's standard envelope.
type Response struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// Client signs and sends REST calls. It is safe for concurrent use and never retries.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *Signer
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// Option configures Client construction parameters.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client (tests use httptest clients).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log.With().Str("component", "transport").Logger() }
}

// NewClient constructs a client against baseURL authenticated with creds.
func NewClient(baseURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		signer:  NewSigner(creds),
		limiter: rate.NewLimiter(defaultRateLimit, defaultRateBurst),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "exchange",
		Timeout: breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return c
}

// BaseURL returns the endpoint root every path is appended to.
func (c *Client) BaseURL() string { return c.baseURL }

// Do signs params and dispatches GET (query string) or POST (JSON body) to path.
func (c *Client) Do(ctx context.Context, method, path string, params map[string]string) (*Response, error) {
	req, err := c.signer.Sign(method, path, params)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.RequestsTotal.WithLabelValues(path, "transport_error").Inc()
		return nil, &TransportError{Op: "rate limit", Err: err}
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(ctx, req)
	})
	metrics.RequestLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &TransportError{Op: "circuit breaker", Err: err}
		}
		metrics.RequestsTotal.WithLabelValues(path, outcome(err)).Inc()
		c.log.Debug().Str("method", req.Method).Str("path", path).Dur("latency", time.Since(start)).Err(err).Msg("request failed")
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(path, "ok").Inc()
	c.log.Debug().Str("method", req.Method).Str("path", path).Dur("latency", time.Since(start)).Msg("request ok")
	return out.(*Response), nil
}

func (c *Client) send(ctx context.Context, req SignedRequest) (*Response, error) {
	var (
		httpReq *http.Request
		err     error
	)
	endpoint := c.baseURL + req.Path
	switch req.Method {
	case http.MethodGet:
		values := url.Values{}
		for k, v := range req.Params {
			values.Set(k, v)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+values.Encode(), nil)
	case http.MethodPost:
		body, marshalErr := json.Marshal(req.Params)
		if marshalErr != nil {
			return nil, &TransportError{Op: "encode body", Err: marshalErr}
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	default:
		return nil, &TransportError{Op: "build request", Err: fmt.Errorf("unsupported method %q", req.Method)}
	}
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "spreadbot-go/1.0")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "http do", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}
	if envelope.RetCode != 0 {
		return nil, &APIError{Code: envelope.RetCode, Message: envelope.RetMsg}
	}
	return &envelope, nil
}

func outcome(err error) string {
	var (
		httpErr *HTTPError
		apiErr  *APIError
	)
	switch {
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "transport_error"
	}
}
