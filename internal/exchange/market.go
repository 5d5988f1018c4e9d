package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"spreadbot-go/internal/signal"
)

const (
	pathTickers       = "/v5/market/tickers"
	pathWalletBalance = "/v5/account/wallet-balance"
	pathFeeRate       = "/v5/account/fee-rate"

	// tradableShare is the fraction of wallet equity reported as available for a single trade.
	tradableShare = 0.01
)

// Requester is the transport surface the market data source and order placer need.
type Requester interface {
	Do(ctx context.Context, method, path string, params map[string]string) (*Response, error)
}

// Balance summarizes the unified account.
type Balance struct {
	Total     float64
	Available float64
	Leverage  float64
}

// FeeRate holds maker/taker rates as fractions (0.001 = 0.1%).
type FeeRate struct {
	Maker float64
	Taker float64
}

// Market fetches quotes, balances and fee rates.
type Market struct {
	req Requester
	now func() time.Time
}

// NewMarket wraps a requester, usually a *Client.
func NewMarket(req Requester) *Market {
	return &Market{req: req, now: time.Now}
}

type tickerResult struct {
	Category string        `json:"category"`
	List     []tickerEntry `json:"list"`
}

type tickerEntry struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume24h string `json:"volume24h"`
}

// GetPrice returns the latest traded price and 24h volume for symbol in segment.
func (m *Market) GetPrice(ctx context.Context, symbol string, segment signal.Segment) (signal.Quote, error) {
	params := map[string]string{"category": segment.Category(), "symbol": symbol}
	resp, err := m.req.Do(ctx, http.MethodGet, pathTickers, params)
	if err != nil {
		return signal.Quote{}, err
	}
	var result tickerResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return signal.Quote{}, fmt.Errorf("decode tickers: %w", err)
	}
	for _, entry := range result.List {
		if !strings.EqualFold(entry.Symbol, symbol) {
			continue
		}
		price, err := strconv.ParseFloat(entry.LastPrice, 64)
		if err != nil || price <= 0 {
			return signal.Quote{}, fmt.Errorf("invalid lastPrice %q for %s", entry.LastPrice, symbol)
		}
		var volume float64
		if entry.Volume24h != "" {
			volume, err = strconv.ParseFloat(entry.Volume24h, 64)
			if err != nil || volume < 0 {
				return signal.Quote{}, fmt.Errorf("invalid volume24h %q for %s", entry.Volume24h, symbol)
			}
		}
		return signal.Quote{
			Symbol:     symbol,
			Segment:    segment,
			LastPrice:  price,
			Volume24h:  volume,
			ObservedAt: m.now().UTC(),
		}, nil
	}
	return signal.Quote{}, &EmptyResultError{Symbol: symbol, Segment: segment}
}

type walletResult struct {
	List []struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
		TotalEquity        string `json:"totalEquity"`
	} `json:"list"`
}

// GetWalletBalance reads the unified account balance.
func (m *Market) GetWalletBalance(ctx context.Context) (Balance, error) {
	resp, err := m.req.Do(ctx, http.MethodGet, pathWalletBalance, map[string]string{"accountType": "UNIFIED"})
	if err != nil {
		return Balance{}, err
	}
	var result walletResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return Balance{}, fmt.Errorf("decode wallet balance: %w", err)
	}
	if len(result.List) == 0 {
		return Balance{}, fmt.Errorf("wallet balance: empty account list")
	}
	total, err := strconv.ParseFloat(result.List[0].TotalWalletBalance, 64)
	if err != nil {
		return Balance{}, fmt.Errorf("parse wallet balance: %w", err)
	}
	return Balance{Total: total, Available: total * tradableShare, Leverage: 1}, nil
}

type feeResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		MakerFeeRate string `json:"makerFeeRate"`
		TakerFeeRate string `json:"takerFeeRate"`
	} `json:"list"`
}

// GetFeeRate reads the account's maker and taker rates for symbol in segment.
func (m *Market) GetFeeRate(ctx context.Context, symbol string, segment signal.Segment) (FeeRate, error) {
	params := map[string]string{"category": segment.Category(), "symbol": symbol}
	resp, err := m.req.Do(ctx, http.MethodGet, pathFeeRate, params)
	if err != nil {
		return FeeRate{}, err
	}
	var result feeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return FeeRate{}, fmt.Errorf("decode fee rate: %w", err)
	}
	if len(result.List) == 0 {
		return FeeRate{}, &EmptyResultError{Symbol: symbol, Segment: segment}
	}
	maker, err := strconv.ParseFloat(result.List[0].MakerFeeRate, 64)
	if err != nil {
		return FeeRate{}, fmt.Errorf("parse maker fee: %w", err)
	}
	taker, err := strconv.ParseFloat(result.List[0].TakerFeeRate, 64)
	if err != nil {
		return FeeRate{}, fmt.Errorf("parse taker fee: %w", err)
	}
	return FeeRate{Maker: maker, Taker: taker}, nil
}

// Ping verifies connectivity and credentials with an authenticated read.
func (m *Market) Ping(ctx context.Context) error {
	_, err := m.GetWalletBalance(ctx)
	return err
}

// PriceSource is anything that can quote a symbol in a segment.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string, segment signal.Segment) (signal.Quote, error)
}

// QuoteRequest identifies one read-only lookup.
type QuoteRequest struct {
	Symbol  string
	Segment signal.Segment
}

// QuoteResult pairs a request with its outcome.
type QuoteResult struct {
	Request QuoteRequest
	Quote   signal.Quote
	Err     error
}

// FetchQuotes resolves unrelated lookups on a fixed pool of workers and returns results in request order.
func FetchQuotes(ctx context.Context, src PriceSource, requests []QuoteRequest, workers int) []QuoteResult {
	results := make([]QuoteResult, len(requests))
	if len(requests) == 0 {
		return results
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(requests) {
		workers = len(requests)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				req := requests[idx]
				quote, err := src.GetPrice(ctx, req.Symbol, req.Segment)
				results[idx] = QuoteResult{Request: req, Quote: quote, Err: err}
			}
		}()
	}

	for idx := range requests {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			for rest := idx; rest < len(requests); rest++ {
				results[rest] = QuoteResult{Request: requests[rest], Err: ctx.Err()}
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
