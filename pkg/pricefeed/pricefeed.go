// Package pricefeed aggregates USD price samples for the assets the bridge
// quotes against, fanning out to every configured Source concurrently and
// picking the freshest, highest-confidence sample per asset.
package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/cache"
)

const (
	maxSampleAge = 60 * time.Second
	cacheTTL     = 30 * time.Second
	sourceTimeout = 3 * time.Second
)

// Source is one upstream price API.
type Source interface {
	Name() string
	FetchPrice(ctx context.Context, asset string) (gaslessbridge.PriceSample, error)
}

// Feed aggregates one or more Sources behind a shared cache, following the
// same WaitGroup+buffered-error-channel fan-out shape used elsewhere in the
// corpus for concurrent multi-source gathers.
type Feed struct {
	sources []Source
	cache   *cache.Cache

	mu        sync.Mutex
	lastGood  map[string]gaslessbridge.PriceSample
}

// New builds a Feed over the given sources.
func New(sources []Source, c *cache.Cache) *Feed {
	return &Feed{sources: sources, cache: c, lastGood: make(map[string]gaslessbridge.PriceSample)}
}

// GetPrice returns the best available sample for asset: the highest
// confidence sample younger than maxSampleAge across all sources, or the
// last known-good sample marked stale if none qualify.
func (f *Feed) GetPrice(ctx context.Context, asset string) (gaslessbridge.PriceSample, bool, error) {
	cacheKey := "price:" + asset
	var cached gaslessbridge.PriceSample
	if f.cache != nil && f.cache.Get(ctx, cacheKey, &cached) {
		return cached, false, nil
	}

	samples := f.gather(ctx, asset)

	best, found := bestFresh(samples, time.Now())
	if found {
		f.mu.Lock()
		f.lastGood[asset] = best
		f.mu.Unlock()
		if f.cache != nil {
			f.cache.Set(ctx, cacheKey, best, cacheTTL)
		}
		return best, false, nil
	}

	f.mu.Lock()
	last, ok := f.lastGood[asset]
	f.mu.Unlock()
	if !ok {
		return gaslessbridge.PriceSample{}, true, gaslessbridge.PriceUnavailableError("no price sample available for %s", asset)
	}
	return last, true, nil
}

func bestFresh(samples []gaslessbridge.PriceSample, now time.Time) (gaslessbridge.PriceSample, bool) {
	var best gaslessbridge.PriceSample
	found := false
	for _, s := range samples {
		if now.Sub(s.FetchedAt) > maxSampleAge {
			continue
		}
		if !found || s.Confidence > best.Confidence {
			best = s
			found = true
		}
	}
	return best, found
}

func (f *Feed) gather(ctx context.Context, asset string) []gaslessbridge.PriceSample {
	var wg sync.WaitGroup
	results := make(chan gaslessbridge.PriceSample, len(f.sources))
	errs := make(chan error, len(f.sources))

	for _, src := range f.sources {
		wg.Add(1)
		go func(s Source) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, sourceTimeout)
			defer cancel()
			sample, err := s.FetchPrice(callCtx, asset)
			if err != nil {
				errs <- err
				return
			}
			results <- sample
		}(src)
	}

	wg.Wait()
	close(results)
	close(errs)

	samples := make([]gaslessbridge.PriceSample, 0, len(f.sources))
	for s := range results {
		samples = append(samples, s)
	}
	return samples
}

// Status is a point-in-time snapshot returned by get_price_feed_status.
type Status struct {
	Sources    []string
	LastPrices map[string]gaslessbridge.PriceSample
}

// Status reports the configured sources and the last known-good sample per
// asset, for observability.
func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.sources))
	for _, s := range f.sources {
		names = append(names, s.Name())
	}
	snapshot := make(map[string]gaslessbridge.PriceSample, len(f.lastGood))
	for k, v := range f.lastGood {
		snapshot[k] = v
	}
	return Status{Sources: names, LastPrices: snapshot}
}
