// Package geoip resolves a profile's egress IP to country, timezone and
// coordinates. Every lookup is best effort: callers treat a nil result as
// routine and launch without a geo refresh.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/types"
)

// ErrUnavailable is returned when no source could resolve the egress IP.
var ErrUnavailable = errors.New("geoip: lookup unavailable")

// Resolver resolves the public egress IP seen through proxy (nil for a
// direct connection). The returned timezone and coordinates always come
// from one lookup.
type Resolver interface {
	Resolve(ctx context.Context, proxy *types.ProxyConfig) (*types.GeoIPInfo, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, proxy *types.ProxyConfig) (*types.GeoIPInfo, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, proxy *types.ProxyConfig) (*types.GeoIPInfo, error) {
	return f(ctx, proxy)
}

// Chain tries each resolver in order and returns the first success.
type Chain struct {
	Resolvers []Resolver
	Logger    *logging.Logger
}

// Resolve implements Resolver.
func (c *Chain) Resolve(ctx context.Context, proxy *types.ProxyConfig) (*types.GeoIPInfo, error) {
	var errs []error
	for _, r := range c.Resolvers {
		info, err := r.Resolve(ctx, proxy)
		if err == nil && info != nil {
			return info, nil
		}
		if err == nil {
			err = ErrUnavailable
		}
		c.Logger.Debugf("GeoIP source %T failed: %v", r, err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrUnavailable
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

// countryLanguages maps ISO country codes to the primary browser language.
var countryLanguages = map[string]string{
	"RU": "ru", "US": "en", "GB": "en", "DE": "de", "FR": "fr",
	"ES": "es", "IT": "it", "PT": "pt", "NL": "nl", "PL": "pl",
	"UA": "uk", "BY": "be", "KZ": "kk", "CN": "zh", "JP": "ja",
	"KR": "ko", "BR": "pt", "AR": "es", "MX": "es", "IN": "hi",
	"TR": "tr", "SA": "ar", "IL": "he", "TH": "th", "VN": "vi",
}

// LanguageFor returns the browser language for a country, "en" if unknown.
func LanguageFor(countryCode string) string {
	if lang, ok := countryLanguages[strings.ToUpper(countryCode)]; ok {
		return lang
	}
	return "en"
}
