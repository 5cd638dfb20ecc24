// Package quote implements per-exchange price sources and the
// redundant quote resolver that reduces them to a consensus price.
package quote

import (
	"errors"
	"fmt"
	"time"
)

// ErrSourceUnavailable is returned by a Source when a transport,
// decode, or schema error makes a quote unobtainable. It never
// propagates past the resolver as a panic or an unwrapped error.
var ErrSourceUnavailable = errors.New("quote: source unavailable")

// Quote is a single source's (or the resolver's) view of a symbol.
type Quote struct {
	Symbol            string
	Price             float64
	Volume24h         float64
	PriceChange24hPct float64
	High24h           float64
	Low24h            float64
	Closes            []float64
	Volumes           []float64
	Timestamp         time.Time
	Source            string
}

// MaxSeriesLen bounds Closes/Volumes
const MaxSeriesLen = 200

// Source is the price-source contract: one implementation per exchange.
type Source interface {
	// Name identifies the source for logging and the Quote.Source tag.
	Name() string
	// Fetch returns a current quote for symbol, or wraps
	// ErrSourceUnavailable on any transport/decode/schema failure.
	Fetch(symbol string) (Quote, error)
}

func unavailable(source string, cause error) error {
	return fmt.Errorf("%s: %w: %v", source, ErrSourceUnavailable, cause)
}

func clampSeries(closes, volumes []float64) ([]float64, []float64) {
	if len(closes) > MaxSeriesLen {
		closes = closes[len(closes)-MaxSeriesLen:]
	}
	if len(volumes) > MaxSeriesLen {
		volumes = volumes[len(volumes)-MaxSeriesLen:]
	}
	return closes, volumes
}
