package geoip

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/types"
)

func newIPAPIServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPResolver_Success(t *testing.T) {
	srv := newIPAPIServer(t, `{"status":"success","country":"Germany","countryCode":"de","region":"BE","city":"Berlin","lat":52.52,"lon":13.405,"timezone":"Europe/Berlin","query":"203.0.113.9"}`, nil)

	r := NewHTTPResolver(logging.Discard())
	r.URL = srv.URL

	info, err := r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", info.IP)
	assert.Equal(t, "DE", info.CountryCode)
	assert.Equal(t, "Europe/Berlin", info.Timezone)
	assert.Equal(t, "Berlin", info.City)
	assert.InDelta(t, 52.52, info.Lat, 1e-9)
	assert.InDelta(t, 13.405, info.Lon, 1e-9)
}

func TestHTTPResolver_APIFailure(t *testing.T) {
	srv := newIPAPIServer(t, `{"status":"fail","message":"reserved range"}`, nil)

	r := NewHTTPResolver(logging.Discard())
	r.URL = srv.URL

	info, err := r.Resolve(context.Background(), nil)
	assert.Nil(t, info)
	assert.ErrorContains(t, err, "reserved range")
}

func TestHTTPResolver_BadJSON(t *testing.T) {
	srv := newIPAPIServer(t, `not json`, nil)

	r := NewHTTPResolver(logging.Discard())
	r.URL = srv.URL

	_, err := r.Resolve(context.Background(), nil)
	assert.Error(t, err)
}

func TestHTTPResolver_SharesConcurrentLookups(t *testing.T) {
	var hits atomic.Int32
	srv := newIPAPIServer(t, `{"status":"success","countryCode":"PL","timezone":"Europe/Warsaw","lat":52.2,"lon":21.0,"query":"198.51.100.1"}`, &hits)

	r := NewHTTPResolver(logging.Discard())
	r.URL = srv.URL

	var wg sync.WaitGroup
	results := make([]*types.GeoIPInfo, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := r.Resolve(context.Background(), nil)
			if err == nil {
				results[i] = info
			}
		}()
	}
	wg.Wait()

	for _, info := range results {
		require.NotNil(t, info)
		assert.Equal(t, "PL", info.CountryCode)
	}
	assert.Less(t, int(hits.Load()), 5)

	// Copies are independent.
	results[0].City = "changed"
	assert.NotEqual(t, "changed", results[1].City)
}

func TestChain(t *testing.T) {
	failing := ResolverFunc(func(context.Context, *types.ProxyConfig) (*types.GeoIPInfo, error) {
		return nil, errors.New("boom")
	})
	empty := ResolverFunc(func(context.Context, *types.ProxyConfig) (*types.GeoIPInfo, error) {
		return nil, nil
	})
	good := ResolverFunc(func(context.Context, *types.ProxyConfig) (*types.GeoIPInfo, error) {
		return types.NewGeoIPInfo("192.0.2.1", "fr", "Europe/Paris", 48.85, 2.35), nil
	})

	c := &Chain{Resolvers: []Resolver{failing, empty, good}, Logger: logging.Discard()}
	info, err := c.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "FR", info.CountryCode)

	c = &Chain{Resolvers: []Resolver{failing, empty}}
	info, err = c.Resolve(context.Background(), nil)
	assert.Nil(t, info)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = (&Chain{}).Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLanguageFor(t *testing.T) {
	assert.Equal(t, "de", LanguageFor("DE"))
	assert.Equal(t, "uk", LanguageFor("ua"))
	assert.Equal(t, "pt", LanguageFor("BR"))
	assert.Equal(t, "en", LanguageFor("ZZ"))
	assert.Equal(t, "en", LanguageFor(""))
}

func TestMaxMindResolver(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"origin": "198.51.100.23, 10.0.0.1"}`))
	}))
	t.Cleanup(echo.Close)

	var looked netip.Addr
	r := &MaxMindResolver{
		EchoURL: echo.URL,
		Timeout: time.Second,
		Logger:  logging.Discard(),
		city: func(addr netip.Addr) (*types.GeoIPInfo, error) {
			looked = addr
			return types.NewGeoIPInfo(addr.String(), "jp", "Asia/Tokyo", 35.68, 139.69), nil
		},
	}

	info, err := r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.23", looked.String())
	assert.Equal(t, "JP", info.CountryCode)
	assert.Equal(t, "Asia/Tokyo", info.Timezone)
	assert.NoError(t, r.Close())
}

func TestMaxMindResolver_BadEcho(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"origin": "nowhere"}`))
	}))
	t.Cleanup(echo.Close)

	r := &MaxMindResolver{
		EchoURL: echo.URL,
		Timeout: time.Second,
		city: func(netip.Addr) (*types.GeoIPInfo, error) {
			t.Fatal("lookup should not run")
			return nil, nil
		},
	}
	_, err := r.Resolve(context.Background(), nil)
	assert.Error(t, err)
}
