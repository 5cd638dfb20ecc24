package quote

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Resolver fans out to every configured Source concurrently
// and reduces the results to a single consensus Quote.
type Resolver struct {
	sources []Source
	// budget bounds the total time spent waiting on all sources
	// combined for a single FetchConsensus call.
	budget time.Duration
	// rng drives the deterministic-shaped simulated fallback; it is
	// swappable so tests can make the walk repeatable.
	rng *rand.Rand
	mu  sync.Mutex
}

// NewResolver builds a Resolver over the given sources with the
// default 10-second combined fetch budget.
func NewResolver(sources ...Source) *Resolver {
	return &Resolver{
		sources: sources,
		budget:  10 * time.Second,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type sourceResult struct {
	quote Quote
	err   error
}

// FetchConsensus issues every source's Fetch concurrently and returns
// the consensus Quote It never returns an error:
// with zero usable responses it falls back to a simulated quote tagged
// "simulated".
func (r *Resolver) FetchConsensus(symbol string, lastKnownPrice float64) Quote {
	ctx, cancel := context.WithTimeout(context.Background(), r.budget)
	defer cancel()

	resultCh := make(chan sourceResult, len(r.sources))
	for _, src := range r.sources {
		go func(src Source) {
			q, err := src.Fetch(symbol)
			resultCh <- sourceResult{quote: q, err: err}
		}(src)
	}

	var usable []Quote
collect:
	for i := 0; i < len(r.sources); i++ {
		select {
		case res := <-resultCh:
			if res.err == nil && res.quote.Price > 0 {
				usable = append(usable, res.quote)
			}
		case <-ctx.Done():
			// Budget expired: proceed with whatever has already
			// arrived. Stragglers still deliver to resultCh (it's
			// buffered) but nothing reads them afterward.
			break collect
		}
	}

	switch len(usable) {
	case 0:
		return r.simulate(symbol, lastKnownPrice)
	case 1:
		return usable[0]
	default:
		return merge(usable)
	}
}

// merge implements step 5: medians of price, volume, and
// 24h change are computed independently; the response whose price is
// closest to the median price supplies the merged quote's remaining
// fields (and its unchanged Closes/Volumes). Ties break by first-arrived.
func merge(quotes []Quote) Quote {
	prices := make([]float64, len(quotes))
	volumes := make([]float64, len(quotes))
	changes := make([]float64, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
		volumes[i] = q.Volume24h
		changes[i] = q.PriceChange24hPct
	}

	medPrice := median(prices)
	medVolume := median(volumes)
	medChange := median(changes)

	best := 0
	bestDist := -1.0
	for i, q := range quotes {
		dist := abs(q.Price - medPrice)
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = i
		}
	}

	out := quotes[best]
	out.Price = medPrice
	out.Volume24h = medVolume
	out.PriceChange24hPct = medChange
	out.Source = "consensus"
	out.Timestamp = time.Now()
	return out
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// simulate produces a deterministic-shaped random walk fallback when
// every source failed: a +/-2% step off the last observed price, with
// volume drawn from a fixed distribution.
func (r *Resolver) simulate(symbol string, lastKnownPrice float64) Quote {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := lastKnownPrice
	if base <= 0 {
		base = 100 // arbitrary positive seed when nothing has ever been observed
	}
	step := (r.rng.Float64()*2 - 1) * 0.02 // uniform in [-2%, +2%]
	price := base * (1 + step)
	if price <= 0 {
		price = base
	}
	volume := 1000 + r.rng.Float64()*9000

	return Quote{
		Symbol:            symbol,
		Price:             price,
		Volume24h:         volume,
		PriceChange24hPct: step * 100,
		High24h:           price * 1.01,
		Low24h:            price * 0.99,
		Closes:            []float64{price},
		Volumes:           []float64{volume},
		Timestamp:         time.Now(),
		Source:            "simulated",
	}
}
