package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/hashicorp/go-retryablehttp"
)

// HTTPSource fetches a USD price from a REST endpoint of the shape
// {"<coinID>":{"usd":1234.5}}, the CoinGecko simple-price convention. It
// uses retryablehttp so a single flaky upstream response doesn't sink an
// entire gather() round the way a bare http.Client would.
type HTTPSource struct {
	name     string
	baseURL  string
	coinIDs  map[string]string // asset symbol -> upstream coin id
	client   *retryablehttp.Client
}

// NewHTTPSource builds an HTTPSource. baseURL is expected to accept
// "?ids=<coinId>&vs_currencies=usd" query parameters.
func NewHTTPSource(name, baseURL string, coinIDs map[string]string) *HTTPSource {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = sourceTimeout
	return &HTTPSource{name: name, baseURL: baseURL, coinIDs: coinIDs, client: client}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) FetchPrice(ctx context.Context, asset string) (gaslessbridge.PriceSample, error) {
	coinID, ok := s.coinIDs[strings.ToUpper(asset)]
	if !ok {
		return gaslessbridge.PriceSample{}, gaslessbridge.PriceUnavailableError("%s does not quote asset %s", s.name, asset)
	}

	url := fmt.Sprintf("%s?ids=%s&vs_currencies=usd", s.baseURL, coinID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gaslessbridge.PriceSample{}, gaslessbridge.PriceUnavailableError("%s: building request: %v", s.name, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return gaslessbridge.PriceSample{}, gaslessbridge.PriceUnavailableError("%s: request failed: %v", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gaslessbridge.PriceSample{}, gaslessbridge.PriceUnavailableError("%s: unexpected status %d", s.name, resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return gaslessbridge.PriceSample{}, gaslessbridge.PriceUnavailableError("%s: decoding response: %v", s.name, err)
	}

	price, ok := body[coinID]["usd"]
	if !ok {
		return gaslessbridge.PriceSample{}, gaslessbridge.PriceUnavailableError("%s: no usd price for %s", s.name, asset)
	}

	return gaslessbridge.PriceSample{
		Asset:      asset,
		PriceUSD:   price,
		Source:     s.name,
		FetchedAt:  time.Now(),
		Confidence: 1,
	}, nil
}
