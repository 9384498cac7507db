package geoip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang/v2"
	"github.com/tidwall/gjson"

	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/proxy"
	"github.com/entrhq/veil/pkg/types"
)

// DefaultEchoURL returns the caller's IP as {"origin": "..."}.
const DefaultEchoURL = "http://httpbin.org/ip"

// MaxMindResolver discovers the egress IP through the proxy and looks it up
// in a local GeoLite2/GeoIP2 City database.
type MaxMindResolver struct {
	EchoURL string
	Timeout time.Duration
	Logger  *logging.Logger

	reader *geoip2.Reader
	city   func(netip.Addr) (*types.GeoIPInfo, error)
}

// OpenMaxMind opens the City database at path.
func OpenMaxMind(path string, logger *logging.Logger) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	r := &MaxMindResolver{
		EchoURL: DefaultEchoURL,
		Timeout: DefaultTimeout,
		Logger:  logger,
		reader:  reader,
	}
	r.city = r.lookupCity
	return r, nil
}

// Close releases the database.
func (r *MaxMindResolver) Close() error {
	if r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

// Resolve implements Resolver.
func (r *MaxMindResolver) Resolve(ctx context.Context, p *types.ProxyConfig) (*types.GeoIPInfo, error) {
	addr, err := r.egressIP(ctx, p)
	if err != nil {
		return nil, err
	}
	info, err := r.city(addr)
	if err != nil {
		return nil, err
	}
	r.Logger.Infof("Detected IP: %s (%s, %s) via local database", info.IP, info.CountryCode, info.Timezone)
	return info, nil
}

func (r *MaxMindResolver) lookupCity(addr netip.Addr) (*types.GeoIPInfo, error) {
	record, err := r.reader.City(addr)
	if err != nil {
		return nil, fmt.Errorf("geoip: lookup %s: %w", addr, err)
	}
	if !record.HasData() {
		return nil, fmt.Errorf("%w: %s not in database", ErrUnavailable, addr)
	}

	var lat, lon float64
	if record.Location.HasCoordinates() {
		lat, lon = *record.Location.Latitude, *record.Location.Longitude
	}
	info := types.NewGeoIPInfo(addr.String(), record.Country.ISOCode, record.Location.TimeZone, lat, lon)
	info.Country = record.Country.Names.English
	info.City = record.City.Names.English
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[0].Names.English
	}
	return info, nil
}

func (r *MaxMindResolver) egressIP(ctx context.Context, p *types.ProxyConfig) (netip.Addr, error) {
	client, err := proxy.Client(p, r.Timeout)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("geoip: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.EchoURL, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("geoip: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("geoip: echo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("geoip: echo status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("geoip: read echo: %w", err)
	}

	// httpbin may report a forwarding chain: "client, proxy".
	origin := gjson.GetBytes(body, "origin").String()
	if i := strings.IndexByte(origin, ','); i >= 0 {
		origin = origin[:i]
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(origin))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("geoip: echo returned %q: %w", origin, err)
	}
	return addr, nil
}
