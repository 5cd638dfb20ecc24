package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name  string
	quote Quote
	err   error
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Fetch(symbol string) (Quote, error) {
	return f.quote, f.err
}

// Sources report BTC prices {90000, 91000, 100000}, volumes
// {100, 120, 500}. Consensus price is the median (91000), consensus
// volume is the median (120) — the 100000 outlier is discarded, and
// the mean is not used.
func TestFetchConsensus_MedianOfThree(t *testing.T) {
	r := NewResolver(
		&fakeSource{name: "a", quote: Quote{Symbol: "BTC-USD", Price: 90000, Volume24h: 100}},
		&fakeSource{name: "b", quote: Quote{Symbol: "BTC-USD", Price: 91000, Volume24h: 120}},
		&fakeSource{name: "c", quote: Quote{Symbol: "BTC-USD", Price: 100000, Volume24h: 500}},
	)

	got := r.FetchConsensus("BTC-USD", 0)

	assert.Equal(t, 91000.0, got.Price)
	assert.Equal(t, 120.0, got.Volume24h)
	assert.Equal(t, "consensus", got.Source)
}

func TestFetchConsensus_SingleResponsePassesThrough(t *testing.T) {
	r := NewResolver(
		&fakeSource{name: "a", quote: Quote{Symbol: "BTC-USD", Price: 91000, Volume24h: 120, Source: "a"}},
		&fakeSource{name: "b", err: ErrSourceUnavailable},
		&fakeSource{name: "c", err: ErrSourceUnavailable},
	)

	got := r.FetchConsensus("BTC-USD", 0)

	assert.Equal(t, 91000.0, got.Price)
	assert.Equal(t, "a", got.Source)
}

// With all three sources unavailable, the resolver returns a quote
// tagged "simulated" with price > 0.
func TestFetchConsensus_AllUnavailableFallsBackToSimulated(t *testing.T) {
	r := NewResolver(
		&fakeSource{name: "a", err: ErrSourceUnavailable},
		&fakeSource{name: "b", err: ErrSourceUnavailable},
		&fakeSource{name: "c", err: ErrSourceUnavailable},
	)

	got := r.FetchConsensus("BTC-USD", 91000)

	require.Equal(t, "simulated", got.Source)
	assert.Greater(t, got.Price, 0.0)
	// +/-2% of the last known price.
	assert.InDelta(t, 91000, got.Price, 91000*0.02+1e-6)
}

func TestFetchConsensus_TwoResponsesClosestToMedianWins(t *testing.T) {
	// With two responses the median is their midpoint (90400 here), so
	// both are equidistant from it; the tie goes to the first response
	// for the other fields, and the returned price is the median.
	r := NewResolver(
		&fakeSource{name: "a", quote: Quote{Symbol: "BTC-USD", Price: 90000, Volume24h: 100}},
		&fakeSource{name: "b", quote: Quote{Symbol: "BTC-USD", Price: 90800, Volume24h: 140}},
	)

	got := r.FetchConsensus("BTC-USD", 0)

	// median price of the pair is 90400; 90800 is 400 away, 90000 is
	// 400 away too -> tie breaks to first-arrived (index 0, price
	// 90000), but the *returned* scalar is still the median.
	assert.Equal(t, 90400.0, got.Price)
}

func TestHistory_RingBufferEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	h.Append(1)
	h.Append(2)
	h.Append(3)
	h.Append(4)

	assert.Equal(t, []float64{2, 3, 4}, h.Values())
	assert.Equal(t, 3, h.Len())

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 4.0, last)

	at1, ok := h.At(1)
	require.True(t, ok)
	assert.Equal(t, 3.0, at1)
}
