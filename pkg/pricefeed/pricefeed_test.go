package pricefeed

import (
	"context"
	"testing"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name    string
	sample  gaslessbridge.PriceSample
	err     error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchPrice(ctx context.Context, asset string) (gaslessbridge.PriceSample, error) {
	if f.err != nil {
		return gaslessbridge.PriceSample{}, f.err
	}
	return f.sample, nil
}

func TestGetPricePicksHighestConfidence(t *testing.T) {
	now := time.Now()
	low := &fakeSource{name: "low", sample: gaslessbridge.PriceSample{Asset: "ETH", PriceUSD: 100, Confidence: 0.5, FetchedAt: now}}
	high := &fakeSource{name: "high", sample: gaslessbridge.PriceSample{Asset: "ETH", PriceUSD: 101, Confidence: 0.9, FetchedAt: now}}

	feed := New([]Source{low, high}, nil)
	sample, stale, err := feed.GetPrice(context.Background(), "ETH")
	require.NoError(t, err)
	require.False(t, stale)
	require.Equal(t, "high", sample.Source)
}

func TestGetPriceFallsBackToStaleCachedSample(t *testing.T) {
	feed := New([]Source{&fakeSource{name: "a", err: gaslessbridge.PriceUnavailableError("down")}}, nil)

	// Prime lastGood manually to simulate a prior successful fetch.
	feed.lastGood["ETH"] = gaslessbridge.PriceSample{Asset: "ETH", PriceUSD: 99, Source: "a", FetchedAt: time.Now().Add(-time.Hour)}

	sample, stale, err := feed.GetPrice(context.Background(), "ETH")
	require.NoError(t, err)
	require.True(t, stale)
	require.Equal(t, 99.0, sample.PriceUSD)
}

func TestGetPriceErrorsWhenNothingEverSucceeded(t *testing.T) {
	feed := New([]Source{&fakeSource{name: "a", err: gaslessbridge.PriceUnavailableError("down")}}, nil)
	_, _, err := feed.GetPrice(context.Background(), "ETH")
	require.Error(t, err)
}

func TestBestFreshIgnoresStaleSamples(t *testing.T) {
	samples := []gaslessbridge.PriceSample{
		{Asset: "ETH", Confidence: 0.99, FetchedAt: time.Now().Add(-time.Hour)},
	}
	_, found := bestFresh(samples, time.Now())
	require.False(t, found)
}
