package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/proxy"
	"github.com/entrhq/veil/pkg/types"
)

const (
	// DefaultIPAPIURL is the free ip-api.com endpoint (45 req/min, no key).
	DefaultIPAPIURL = "http://ip-api.com/json/?fields=status,message,country,countryCode,region,city,lat,lon,timezone,query"
	DefaultTimeout  = 10 * time.Second
)

// ipAPIResponse mirrors the fields requested from ip-api.com.
type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	Query       string  `json:"query"`
}

// HTTPResolver queries an ip-api.com compatible JSON endpoint through the
// profile's proxy. Concurrent lookups through the same proxy share one
// request.
type HTTPResolver struct {
	URL     string
	Timeout time.Duration
	Logger  *logging.Logger

	group singleflight.Group
}

// NewHTTPResolver returns a resolver for the default endpoint.
func NewHTTPResolver(logger *logging.Logger) *HTTPResolver {
	return &HTTPResolver{
		URL:     DefaultIPAPIURL,
		Timeout: DefaultTimeout,
		Logger:  logger,
	}
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, p *types.ProxyConfig) (*types.GeoIPInfo, error) {
	v, err, _ := r.group.Do(egressKey(p), func() (any, error) {
		return r.lookup(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	// Each caller gets its own copy.
	info := *v.(*types.GeoIPInfo)
	return &info, nil
}

func (r *HTTPResolver) lookup(ctx context.Context, p *types.ProxyConfig) (*types.GeoIPInfo, error) {
	client, err := proxy.Client(p, r.Timeout)
	if err != nil {
		return nil, fmt.Errorf("geoip: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("geoip: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		r.Logger.Warnf("GeoIP request failed: %v", err)
		return nil, fmt.Errorf("geoip: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip: unexpected status %d", resp.StatusCode)
	}

	var data ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("geoip: decode response: %w", err)
	}
	if data.Status != "success" {
		r.Logger.Warnf("GeoIP API error: %s", data.Message)
		return nil, fmt.Errorf("geoip: api status %q: %s", data.Status, data.Message)
	}

	info := types.NewGeoIPInfo(data.Query, data.CountryCode, data.Timezone, data.Lat, data.Lon)
	info.Country = data.Country
	info.City = data.City
	info.Region = data.Region
	r.Logger.Infof("Detected IP: %s (%s, %s)", info.IP, info.CountryCode, info.Timezone)
	return info, nil
}

// egressKey identifies the network path a lookup takes.
func egressKey(p *types.ProxyConfig) string {
	if !p.Active() {
		return "direct"
	}
	return p.Server() + "|" + p.Username
}
