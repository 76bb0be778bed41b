package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// BinanceFeed gathers historical klines from the public Binance REST API.
// Requests are rate limited well under the exchange's weight budget so a
// long backfill never trips a ban.
type BinanceFeed struct {
	symbol   string
	interval string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewBinanceFeed creates a feed for one symbol and kline interval
// (e.g. "1h", "1d").
func NewBinanceFeed(symbol, interval string) *BinanceFeed {
	return &BinanceFeed{
		symbol:   symbol,
		interval: interval,
		baseURL:  "https://api.binance.com",
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

// WithBaseURL overrides the API host, used for mirrors and tests.
func (f *BinanceFeed) WithBaseURL(u string) *BinanceFeed {
	if u != "" {
		f.baseURL = u
	}
	return f
}

func (f *BinanceFeed) Symbol() string { return f.symbol }

// Bars pages through /api/v3/klines until the range is covered. Binance
// caps each response at 1000 klines.
func (f *BinanceFeed) Bars(ctx context.Context, start, end time.Time) ([]Bar, error) {
	const pageLimit = 1000

	var bars []Bar
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor <= endMs {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := f.fetchPage(ctx, cursor, endMs, pageLimit)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		bars = append(bars, page...)

		last := page[len(page)-1].Timestamp.UnixMilli()
		if last <= cursor {
			break
		}
		cursor = last + 1
		if len(page) < pageLimit {
			break
		}
	}
	return bars, nil
}

func (f *BinanceFeed) fetchPage(ctx context.Context, startMs, endMs int64, limit int) ([]Bar, error) {
	params := url.Values{}
	params.Set("symbol", f.symbol)
	params.Set("interval", f.interval)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("startTime", strconv.FormatInt(startMs, 10))
	params.Set("endTime", strconv.FormatInt(endMs, 10))

	u := fmt.Sprintf("%s/api/v3/klines?%s", f.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance klines status %d", res.StatusCode)
	}

	var raw [][]any
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	bars := make([]Bar, 0, len(raw))
	for _, item := range raw {
		// Binance returns 12 fields per kline.
		if len(item) < 6 {
			continue
		}
		bars = append(bars, Bar{
			Symbol:    f.symbol,
			Timestamp: time.UnixMilli(toInt64(item[0])).UTC(),
			Open:      toFloat(item[1]),
			High:      toFloat(item[2]),
			Low:       toFloat(item[3]),
			Close:     toFloat(item[4]),
			Volume:    toFloat(item[5]),
		})
	}
	return bars, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
