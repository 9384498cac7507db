package types

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// ProxyType is the protocol spoken by a profile's upstream proxy.
type ProxyType string

const (
	ProxyNone   ProxyType = "none"
	ProxyHTTP   ProxyType = "http"
	ProxyHTTPS  ProxyType = "https"
	ProxySOCKS4 ProxyType = "socks4"
	ProxySOCKS5 ProxyType = "socks5"
)

// ProxyConfig describes the proxy a profile's traffic is tunneled through.
// CountryCode, CountryName, City, Timezone and PingMS are detected values
// kept for display; they never feed the fingerprint.
type ProxyConfig struct {
	Enabled  bool      `json:"enabled"`
	Type     ProxyType `json:"proxy_type"`
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	Username string    `json:"username,omitempty"`
	Password string    `json:"password,omitempty"`

	CountryCode string     `json:"country_code,omitempty"`
	CountryName string     `json:"country_name,omitempty"`
	City        string     `json:"city,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	PingMS      int        `json:"ping_ms"`
	LastPing    *time.Time `json:"last_ping,omitempty"`
}

// Active reports whether the proxy should be used at all.
func (p *ProxyConfig) Active() bool {
	return p != nil && p.Enabled && p.Type != ProxyNone && p.Type != "" && p.Host != ""
}

// Addr returns host:port.
func (p *ProxyConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Server returns the scheme://host:port form the browser engine expects,
// without credentials.
func (p *ProxyConfig) Server() string {
	if !p.Active() {
		return ""
	}
	return fmt.Sprintf("%s://%s", p.Type, p.Addr())
}

// URL returns the proxy as a URL including credentials, or nil when the
// proxy is inactive.
func (p *ProxyConfig) URL() *url.URL {
	if !p.Active() {
		return nil
	}
	u := &url.URL{Scheme: string(p.Type), Host: p.Addr()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// String is safe for logs: credentials are never included.
func (p *ProxyConfig) String() string {
	if !p.Active() {
		return "No proxy"
	}
	return p.Addr()
}
