package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoingeckoSource fetches simple/price plus hourly market_chart data
// from CoinGecko's public API.
type CoingeckoSource struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

func NewCoingeckoSource() *CoingeckoSource {
	return &CoingeckoSource{
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(0.5), 1),
		baseURL: coingeckoBaseURL,
	}
}

func (s *CoingeckoSource) Name() string { return "coingecko" }

type coingeckoSimplePriceEntry struct {
	USD         float64 `json:"usd"`
	USD24hVol   float64 `json:"usd_24h_vol"`
	USD24hChange float64 `json:"usd_24h_change"`
}

type coingeckoMarketChart struct {
	Prices  [][2]float64 `json:"prices"`
	Volumes [][2]float64 `json:"total_volumes"`
}

func (s *CoingeckoSource) Fetch(symbol string) (Quote, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}

	id, err := toCoingeckoID(symbol)
	if err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}

	priceURL := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_vol=true&include_24hr_change=true", s.baseURL, id)
	var priceResp map[string]coingeckoSimplePriceEntry
	if err := s.getJSON(ctx, priceURL, &priceResp); err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}
	entry, ok := priceResp[id]
	if !ok || entry.USD <= 0 {
		return Quote{}, unavailable(s.Name(), fmt.Errorf("no price entry for %s", id))
	}

	chartURL := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=1&interval=hourly", s.baseURL, id)
	var chart coingeckoMarketChart
	if err := s.getJSON(ctx, chartURL, &chart); err != nil {
		return Quote{}, unavailable(s.Name(), err)
	}

	closes := make([]float64, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		closes = append(closes, p[1])
	}
	volumes := make([]float64, 0, len(chart.Volumes))
	for _, v := range chart.Volumes {
		volumes = append(volumes, v[1])
	}
	closes, volumes = clampSeries(closes, volumes)

	high, low := entry.USD, entry.USD
	for _, c := range closes {
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
	}

	return Quote{
		Symbol:            symbol,
		Price:             entry.USD,
		Volume24h:         entry.USD24hVol,
		PriceChange24hPct: entry.USD24hChange,
		High24h:           high,
		Low24h:            low,
		Closes:            closes,
		Volumes:           volumes,
		Timestamp:         time.Now(),
		Source:            s.Name(),
	}, nil
}

func (s *CoingeckoSource) getJSON(ctx context.Context, url string, dst interface{}) error {
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
