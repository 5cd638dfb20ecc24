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

const krakenBaseURL = "https://api.kraken.com"

// KrakenSource fetches the public Ticker endpoint. Kraken's
// ticker payload already carries last price, 24h volume, high, and low
// in a single call, so no separate candles request is needed; the
// history arrays are seeded from the single last price the ticker
// exposes.
type KrakenSource struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

func NewKrakenSource() *KrakenSource {
	return &KrakenSource{
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		baseURL: krakenBaseURL,
	}
}

func (s *KrakenSource) Name() string { return "kraken" }

type krakenTickerResponse struct {
	Error  []string                        `json:"error"`
	Result map[string]krakenTickerPairInfo `json:"result"`
}

type krakenTickerPairInfo struct {
	C []string `json:"c"` // last trade closed [price, lot volume]
	V []string `json:"v"` // volume [today, last 24h]
	H []string `json:"h"` // high [today, last 24h]
	L []string `json:"l"` // low [today, last 24h]
	O string   `json:"o"` // today's opening price
}

func (s *KrakenSource) Fetch(symbol string) (Quote, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}

	pair, err := toKrakenPair(symbol)
	if err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}

	url := fmt.Sprintf("%s/0/public/Ticker?pair=%s", s.baseURL, pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, unavailable(s.Name(), fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed krakenTickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}
	if len(parsed.Error) > 0 {
		return Quote{}, unavailable(s.Name(), fmt.Errorf("kraken error: %v", parsed.Error))
	}

	info, ok := firstValue(parsed.Result)
	if !ok {
		return Quote{}, unavailable(s.Name(), fmt.Errorf("empty result for pair %s", pair))
	}

	price, err := parseFirst(info.C)
	if err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}
	volume, _ := parseAt(info.V, 1)
	high, _ := parseAt(info.H, 1)
	low, _ := parseAt(info.L, 1)
	open, _ := strconv.ParseFloat(info.O, 64)

	var changePct float64
	if open > 0 {
		changePct = (price - open) / open * 100
	}

	return Quote{
		Symbol:            symbol,
		Price:             price,
		Volume24h:         volume,
		PriceChange24hPct: changePct,
		High24h:           high,
		Low24h:            low,
		Closes:            []float64{price},
		Volumes:           []float64{volume},
		Timestamp:         time.Now(),
		Source:            s.Name(),
	}, nil
}

// firstValue returns an arbitrary entry from a single-pair Kraken
// result map; Kraken keys the map by its own (sometimes decorated)
// pair name, so callers can't predict the exact key.
func firstValue(m map[string]krakenTickerPairInfo) (krakenTickerPairInfo, bool) {
	for _, v := range m {
		return v, true
	}
	return krakenTickerPairInfo{}, false
}

func parseFirst(values []string) (float64, error) {
	return parseAt(values, 0)
}

func parseAt(values []string, idx int) (float64, error) {
	if idx >= len(values) {
		return 0, fmt.Errorf("missing index %d", idx)
	}
	return strconv.ParseFloat(values[idx], 64)
}
