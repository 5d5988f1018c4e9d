// Package engine drives the poll, assess, size, execute and record cycle.
package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/exchange"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/risk"
	"spreadbot-go/internal/signal"
	"spreadbot-go/internal/strategy"
)

// State is the loop lifecycle position.
type State string

const (
	Stopped  State = "stopped"
	Running  State = "running"
	Stopping State = "stopping"
)

// DefaultErrorBackoff is the pause after a failed iteration.
const DefaultErrorBackoff = time.Second

// MarketData is the read side of the venue.
type MarketData interface {
	GetPrice(ctx context.Context, symbol string, segment signal.Segment) (signal.Quote, error)
	GetWalletBalance(ctx context.Context) (exchange.Balance, error)
	GetFeeRate(ctx context.Context, symbol string, segment signal.Segment) (exchange.FeeRate, error)
}

// Executor places a hedge pair.
type Executor interface {
	Execute(ctx context.Context, symbol string, spotPrice, derivPrice, amount float64) (execution.TradeRecord, error)
}

// Publisher receives a snapshot after every iteration.
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Settings are the trading knobs the loop reads once at construction.
type Settings struct {
	Symbol       string
	TradeAmount  float64
	MinSpread    float64
	MaxSpread    float64
	Interval     time.Duration
	MaxPosition  float64
	Fee          float64
	RecentWindow int
	ErrorBackoff time.Duration
}

// SettingsFrom maps the trading config section.
func SettingsFrom(t config.Trading) Settings {
	return Settings{
		Symbol:       t.Symbol,
		TradeAmount:  t.TradeAmount,
		MinSpread:    t.MinSpread,
		MaxSpread:    t.MaxSpread,
		Interval:     t.Interval(),
		MaxPosition:  t.MaxPosition,
		Fee:          t.Fee,
		RecentWindow: t.RecentWindow,
	}
}

func (s Settings) validate() error {
	switch {
	case strings.TrimSpace(s.Symbol) == "":
		return &config.InvalidConfigError{Field: "trading.symbol", Reason: "must be set"}
	case s.TradeAmount <= 0:
		return &config.InvalidConfigError{Field: "trading.trade_amount", Reason: "must be positive"}
	case s.MinSpread <= 0:
		return &config.InvalidConfigError{Field: "trading.min_spread", Reason: "must be positive"}
	case s.Interval <= 0:
		return &config.InvalidConfigError{Field: "trading.interval_ms", Reason: "must be positive"}
	}
	return nil
}

// PendingPartialFill describes an unhedged spot leg awaiting operator acknowledgement.
type PendingPartialFill struct {
	Symbol      string    `json:"symbol"`
	SpotOrderID string    `json:"spot_order_id"`
	SpotLinkID  string    `json:"spot_link_id,omitempty"`
	SpotSide    string    `json:"spot_side"`
	Qty         string    `json:"qty"`
	Error       string    `json:"error"`
	At          time.Time `json:"at"`
}

// Snapshot is a copy of everything an observer may read.
type Snapshot struct {
	State       State                   `json:"state"`
	Symbol      string                  `json:"symbol"`
	Paused      bool                    `json:"paused"`
	PartialFill *PendingPartialFill     `json:"partial_fill,omitempty"`
	LastSample  *signal.Sample          `json:"last_sample,omitempty"`
	Assessment  *strategy.Assessment    `json:"assessment,omitempty"`
	RiskLevel   risk.Level              `json:"risk_level"`
	TakerFee    float64                 `json:"taker_fee"`
	Stats       ledger.Statistics       `json:"stats"`
	Recent      []execution.TradeRecord `json:"recent"`
	Iterations  uint64                  `json:"iterations"`
	LastError   string                  `json:"last_error,omitempty"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Option customizes a Loop.
type Option func(*Loop)

// WithPublishers adds snapshot sinks.
func WithPublishers(pubs ...Publisher) Option {
	return func(l *Loop) { l.publishers = append(l.publishers, pubs...) }
}

// WithRetryPolicy replaces the read retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(l *Loop) { l.retry = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// Loop is the single worker that polls quotes and executes hedges.
type Loop struct {
	log        zerolog.Logger
	settings   Settings
	market     MarketData
	executor   Executor
	spreads    *strategy.SpreadEngine
	ledger     *ledger.Ledger
	limits     risk.Limits
	retry      RetryPolicy
	publishers []Publisher
	now        func() time.Time

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	mu         sync.Mutex
	state      State
	paused     bool
	pending    *PendingPartialFill
	lastSample *signal.Sample
	takerFee   float64
	iterations uint64
	lastErr    string
	updatedAt  time.Time
}

// New wires the loop. It fails with *config.InvalidConfigError on unusable settings.
func New(log zerolog.Logger, settings Settings, market MarketData, executor Executor,
	spreads *strategy.SpreadEngine, trades *ledger.Ledger, opts ...Option) (*Loop, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	if settings.ErrorBackoff <= 0 {
		settings.ErrorBackoff = DefaultErrorBackoff
	}
	if settings.RecentWindow <= 0 {
		settings.RecentWindow = ledger.DefaultRecentWindow
	}
	l := &Loop{
		log:      log.With().Str("component", "loop").Logger(),
		settings: settings,
		market:   market,
		executor: executor,
		spreads:  spreads,
		ledger:   trades,
		limits:   risk.Limits{MaxPosition: settings.MaxPosition},
		retry:    DefaultRetryPolicy(),
		now:      time.Now,
		state:    Stopped,
		takerFee: settings.Fee,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Start launches the worker. Starting a loop that is not stopped is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if err := l.settings.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	if l.state != Stopped {
		l.mu.Unlock()
		return nil
	}
	l.state = Running
	l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(runCtx, l.done)
	l.log.Info().Str("sym", l.settings.Symbol).Float64("min_spread", l.settings.MinSpread).
		Dur("interval", l.settings.Interval).Msg("trading loop started")
	return nil
}

// Stop signals the worker and waits for the current iteration, including any in-flight hedge pair.
func (l *Loop) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	l.mu.Lock()
	if l.state == Running {
		l.state = Stopping
	}
	l.mu.Unlock()

	if l.done == nil {
		return
	}
	l.cancel()
	<-l.done
}

// Done is closed when the current worker exits, whether stopped or failed. Nil before the first Start.
func (l *Loop) Done() <-chan struct{} {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	return l.done
}

// State returns the lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Acknowledge clears a pending partial fill and resumes execution. It reports whether one was pending.
func (l *Loop) Acknowledge() bool {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.paused = false
	l.mu.Unlock()
	if pending == nil {
		return false
	}
	l.log.Warn().Str("sym", pending.Symbol).Str("spot_order", pending.SpotOrderID).Msg("partial fill acknowledged, execution resumed")
	return true
}

// Snapshot copies the observable state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	snap := Snapshot{
		State:      l.state,
		Symbol:     l.settings.Symbol,
		Paused:     l.paused,
		TakerFee:   l.takerFee,
		Iterations: l.iterations,
		LastError:  l.lastErr,
		UpdatedAt:  l.updatedAt,
		RiskLevel:  risk.Low,
	}
	if l.pending != nil {
		pending := *l.pending
		snap.PartialFill = &pending
	}
	if l.lastSample != nil {
		sample := *l.lastSample
		snap.LastSample = &sample
	}
	l.mu.Unlock()

	snap.Assessment = l.spreads.Latest()
	if snap.Assessment != nil {
		snap.RiskLevel = snap.Assessment.RiskLevel
	}
	snap.Stats = l.ledger.Stats()
	snap.Recent = l.ledger.Recent(l.settings.RecentWindow)
	return snap
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		l.state = Stopped
		l.mu.Unlock()
		stats := l.ledger.Stats()
		l.log.Info().Int("trades", stats.TotalTrades).Int("successful", stats.SuccessfulTrades).
			Float64("total_profit", stats.TotalProfit).Float64("best", stats.BestTrade).
			Float64("worst", stats.WorstTrade).Msg("trading loop stopped")
		l.publish(context.Background())
		close(done)
	}()

	l.loadFee(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		err := l.iterate(ctx)
		wait := l.settings.Interval
		if err != nil {
			// A pair finishes even after cancellation, so an unhedged leg must still be recorded.
			if ctx.Err() != nil && classify(err) != kindPartialFill {
				return
			}
			if fatal := l.handle(err); fatal {
				return
			}
			wait = l.settings.ErrorBackoff
		}
		l.publish(ctx)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) loadFee(ctx context.Context) {
	fee, err := withRetry(ctx, l.retry, l.log, "fee rate", func(ctx context.Context) (exchange.FeeRate, error) {
		return l.market.GetFeeRate(ctx, l.settings.Symbol, signal.Derivative)
	})
	if err != nil || fee.Taker <= 0 {
		l.log.Warn().Err(err).Float64("fallback", l.settings.Fee).Msg("using configured taker fee")
		return
	}
	l.mu.Lock()
	l.takerFee = fee.Taker
	l.mu.Unlock()
	l.log.Info().Float64("taker", fee.Taker).Float64("maker", fee.Maker).Msg("fee rate loaded")
}

// iterate runs one poll cycle. Returned errors are classified by handle.
func (l *Loop) iterate(ctx context.Context) error {
	l.mu.Lock()
	l.iterations++
	l.mu.Unlock()

	balance, err := withRetry(ctx, l.retry, l.log, "wallet balance", l.market.GetWalletBalance)
	if err != nil {
		l.log.Warn().Err(err).Msg("balance unavailable")
	} else {
		l.log.Debug().Float64("total", balance.Total).Float64("available", balance.Available).Msg("balance")
	}

	spot, err := l.quote(ctx, signal.Spot)
	if err != nil {
		return err
	}
	deriv, err := l.quote(ctx, signal.Derivative)
	if err != nil {
		return err
	}
	sample, err := l.spreads.Record(spot, deriv)
	if err != nil {
		return err
	}
	metrics.SpreadPercent.WithLabelValues(l.settings.Symbol).Set(sample.SpreadPercent)

	l.mu.Lock()
	l.lastSample = &sample
	l.lastErr = ""
	l.updatedAt = l.now().UTC()
	paused := l.paused
	fee := l.takerFee
	l.mu.Unlock()

	level := risk.Low
	if assessment, refreshed := l.spreads.Refresh(l.now().UTC()); assessment != nil {
		level = assessment.RiskLevel
		if refreshed {
			metrics.Volatility.WithLabelValues(l.settings.Symbol).Set(assessment.Volatility)
			l.log.Info().Float64("volatility", assessment.Volatility).Str("trend", string(assessment.Trend)).
				Float64("avg_spread", assessment.AvgSpread).Str("risk", string(level)).Msg("market assessed")
		}
	}

	l.log.Debug().Float64("spot", sample.SpotPrice).Float64("deriv", sample.DerivativePrice).
		Float64("spread", sample.SpreadPercent).Msg("spread sampled")

	if !l.exploitable(sample.SpreadPercent) {
		return nil
	}
	if paused {
		l.log.Warn().Float64("spread", sample.SpreadPercent).Msg("execution paused on unacknowledged partial fill")
		return nil
	}

	amount, err := risk.SizeOf(l.settings.TradeAmount, sample.SpreadPercent, level, l.settings.MinSpread)
	if err != nil {
		return err
	}
	amount = l.limits.Clamp(amount)

	// The pair must never be abandoned halfway, so its legs ignore cancellation.
	record, err := l.executor.Execute(context.WithoutCancel(ctx), l.settings.Symbol, sample.SpotPrice, sample.DerivativePrice, amount)
	if err != nil {
		return err
	}
	record = record.WithProfit(Profit(record, fee)).WithRiskLevel(string(level))
	l.ledger.Append(record)
	metrics.TradesTotal.WithLabelValues(record.Symbol, record.Type).Inc()
	l.log.Info().Str("type", record.Type).Float64("amount", record.Amount).Float64("spread", record.SpreadPercent).
		Float64("profit", record.Profit).Str("risk", record.RiskLevel).Msg("trade recorded")
	if err := l.ledger.Persist(); err != nil {
		l.log.Error().Err(err).Str("path", l.ledger.Path()).Msg("persist trade log")
	}
	return nil
}

func (l *Loop) quote(ctx context.Context, segment signal.Segment) (signal.Quote, error) {
	return withRetry(ctx, l.retry, l.log, string(segment)+" quote", func(ctx context.Context) (signal.Quote, error) {
		return l.market.GetPrice(ctx, l.settings.Symbol, segment)
	})
}

func (l *Loop) exploitable(spread float64) bool {
	abs := math.Abs(spread)
	if abs <= l.settings.MinSpread {
		return false
	}
	return l.settings.MaxSpread <= 0 || abs <= l.settings.MaxSpread
}

// Profit estimates the captured spread net of taker fees on both legs.
func Profit(rec execution.TradeRecord, takerFee float64) float64 {
	gross := rec.Amount * math.Abs(rec.DerivativePrice-rec.SpotPrice)
	fees := rec.Amount * (rec.SpotPrice + rec.DerivativePrice) * takerFee
	return gross - fees
}

// handle logs err at the severity its kind deserves and reports whether the loop must stop.
func (l *Loop) handle(err error) bool {
	kind := classify(err)
	metrics.IterationErrors.WithLabelValues(kind).Inc()

	l.mu.Lock()
	l.lastErr = err.Error()
	l.updatedAt = l.now().UTC()
	l.mu.Unlock()

	switch kind {
	case kindPartialFill:
		var partial *execution.PartialFillError
		errors.As(err, &partial)
		pending := &PendingPartialFill{
			Symbol:      partial.Symbol,
			SpotOrderID: partial.SpotOrderID,
			SpotLinkID:  partial.SpotLinkID,
			SpotSide:    string(partial.SpotSide),
			Qty:         partial.Qty.String(),
			Error:       err.Error(),
			At:          l.now().UTC(),
		}
		l.mu.Lock()
		l.pending = pending
		l.paused = true
		l.mu.Unlock()
		metrics.PartialFillsTotal.WithLabelValues(partial.Symbol).Inc()
		l.log.Error().Err(err).Str("severity", "critical").Str("sym", partial.Symbol).
			Str("spot_order", partial.SpotOrderID).Str("spot_link", partial.SpotLinkID).Str("qty", pending.Qty).
			Msg("unhedged position, execution paused until acknowledged")
	case kindInvalidConfig:
		l.log.Error().Err(err).Msg("invalid configuration, stopping")
		return true
	case kindNoSignal:
		l.log.Debug().Err(err).Msg("no signal this tick")
	case kindSigning:
		l.log.Error().Err(err).Msg("request signing failed")
	case kindTransport, kindHTTP, kindAPI:
		l.log.Warn().Err(err).Str("kind", kind).Msg("iteration failed")
	default:
		l.log.Error().Err(err).Msg("iteration failed")
	}
	return false
}

const (
	kindPartialFill   = "partial_fill"
	kindInvalidConfig = "invalid_config"
	kindNoSignal      = "no_signal"
	kindSigning       = "signing"
	kindTransport     = "transport"
	kindHTTP          = "http"
	kindAPI           = "api"
	kindOther         = "other"
)

func classify(err error) string {
	var (
		partial   *execution.PartialFillError
		invalid   *config.InvalidConfigError
		empty     *exchange.EmptyResultError
		signing   *exchange.SigningError
		transport *exchange.TransportError
		httpErr   *exchange.HTTPError
		apiErr    *exchange.APIError
	)
	switch {
	case errors.As(err, &partial):
		return kindPartialFill
	case errors.As(err, &invalid):
		return kindInvalidConfig
	case errors.As(err, &empty), errors.Is(err, ledger.ErrInsufficientData):
		return kindNoSignal
	case errors.As(err, &signing):
		return kindSigning
	case errors.As(err, &transport):
		return kindTransport
	case errors.As(err, &httpErr):
		return kindHTTP
	case errors.As(err, &apiErr):
		return kindAPI
	}
	return kindOther
}

func (l *Loop) publish(ctx context.Context) {
	if len(l.publishers) == 0 {
		return
	}
	snap := l.Snapshot()
	for _, pub := range l.publishers {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := pub.Publish(pubCtx, snap); err != nil {
			l.log.Warn().Err(err).Msg("publish snapshot")
		}
		cancel()
	}
}
