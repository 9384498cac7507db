package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/entrhq/veil/pkg/types"
)

// Transport returns an http.Transport whose traffic leaves through p.
// A nil or inactive proxy yields a direct transport.
func Transport(p *types.ProxyConfig) (*http.Transport, error) {
	base := &http.Transport{
		Proxy:               nil,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        1,
		DisableKeepAlives:   true,
	}
	if !p.Active() {
		return base, nil
	}
	if err := Validate(p); err != nil {
		return nil, err
	}

	switch p.Type {
	case types.ProxyHTTP, types.ProxyHTTPS:
		base.Proxy = http.ProxyURL(p.URL())
		return base, nil

	case types.ProxySOCKS5:
		var auth *xproxy.Auth
		if p.Username != "" {
			auth = &xproxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", p.Addr(), auth, &net.Dialer{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		base.DialContext = dialContext(dialer)
		return base, nil

	case types.ProxySOCKS4:
		// Registered in socks4.go.
		dialer, err := xproxy.FromURL(p.URL(), &net.Dialer{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("socks4 dialer: %w", err)
		}
		base.DialContext = dialContext(dialer)
		return base, nil
	}

	return nil, fmt.Errorf("%w: %s proxies cannot be dialed for lookups", ErrInvalid, p.Type)
}

func dialContext(dialer xproxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := dialer.(xproxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
}

// Client returns an http.Client tunneled through p with the given timeout.
func Client(p *types.ProxyConfig, timeout time.Duration) (*http.Client, error) {
	tr, err := Transport(p)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}
