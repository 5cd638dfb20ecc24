package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const coinbaseBaseURL = "https://api.exchange.coinbase.com"

// CoinbaseSource fetches ticker, 24h stats, and hourly candles from the
// Coinbase Exchange public API.
type CoinbaseSource struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewCoinbaseSource builds a Coinbase price source with a 5s per-call
// timeout and a conservative request-rate ceiling so the resolver's concurrent
// fan-out never bursts past the public API's documented limits.
func NewCoinbaseSource() *CoinbaseSource {
	return &CoinbaseSource{
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(3), 3),
		baseURL: coinbaseBaseURL,
	}
}

func (s *CoinbaseSource) Name() string { return "coinbase" }

type coinbaseTicker struct {
	Price  string `json:"price"`
	Volume string `json:"volume"`
}

type coinbaseStats struct {
	High string `json:"high"`
	Low  string `json:"low"`
	Open string `json:"open"`
	Last string `json:"last"`
}

func (s *CoinbaseSource) Fetch(symbol string) (Quote, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}

	product := toCoinbaseProduct(symbol)

	var ticker coinbaseTicker
	if err := s.getJSON(ctx, fmt.Sprintf("%s/products/%s/ticker", s.baseURL, product), &ticker); err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}

	var stats coinbaseStats
	if err := s.getJSON(ctx, fmt.Sprintf("%s/products/%s/stats", s.baseURL, product), &stats); err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}

	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}
	volume, err := strconv.ParseFloat(ticker.Volume, 64)
	if err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}
	high, _ := strconv.ParseFloat(stats.High, 64)
	low, _ := strconv.ParseFloat(stats.Low, 64)
	open, _ := strconv.ParseFloat(stats.Open, 64)

	var changePct float64
	if open > 0 {
		changePct = (price - open) / open * 100
	}

	closes, volumes, err := s.candles(ctx, product)
	if err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}

	return Quote{
		Symbol:            symbol,
		Price:             price,
		Volume24h:         volume,
		PriceChange24hPct: changePct,
		High24h:           high,
		Low24h:            low,
		Closes:            closes,
		Volumes:           volumes,
		Timestamp:         time.Now(),
		Source:            s.Name(),
	}, nil
}

// coinbaseCandle is [ time, low, high, open, close, volume ].
type coinbaseCandle [6]float64

func (s *CoinbaseSource) candles(ctx context.Context, product string) ([]float64, []float64, error) {
	url := fmt.Sprintf("%s/products/%s/candles?granularity=3600", s.baseURL, product)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("coinbase candles: status %d", resp.StatusCode)
	}

	var raw [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, nil, err
	}

	// Coinbase returns newest-first; reverse to oldest-first ordering.
	closes := make([]float64, 0, len(raw))
	volumes := make([]float64, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		row := raw[i]
		if len(row) < 6 {
			continue
		}
		closes = append(closes, row[4])
		volumes = append(volumes, row[5])
	}
	closes, volumes = clampSeries(closes, volumes)
	return closes, volumes, nil
}

func (s *CoinbaseSource) getJSON(ctx context.Context, url string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
