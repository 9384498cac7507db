package browser

import (
	"context"
	"time"

	"github.com/entrhq/veil/pkg/fingerprint"
	"github.com/entrhq/veil/pkg/types"
)

// Engine starts browser instances. The production engine drives Firefox
// through Playwright; tests substitute a fake.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Instance, error)
}

// Instance is one running browser with a persistent profile.
type Instance interface {
	// ActivePage returns the last open page, opening one if none exist.
	ActivePage(ctx context.Context) (Page, error)
	// Closed is closed once the browser has gone away for any reason.
	Closed() <-chan struct{}
	// Close shuts the browser down.
	Close(ctx context.Context) error
}

// Page is the part of a browser tab the manager uses.
type Page interface {
	URL() string
	Goto(ctx context.Context, url string, timeout time.Duration) error
}

// Fingerprinter supplies the per-profile launch fingerprint and data
// directory. *fingerprint.Store implements it.
type Fingerprinter interface {
	Resolve(ctx context.Context, p *types.Profile) (*fingerprint.LaunchConfig, error)
	ProfileDir(id string) string
}

// LaunchOptions is everything an Engine needs to start one profile.
type LaunchOptions struct {
	// UserDataDir persists cookies, storage and session history.
	UserDataDir string
	// Env carries the CAMOU_CONFIG_N transport. Engines merge it over the
	// process environment.
	Env            map[string]string
	ExecutablePath string
	Headless       bool
	Proxy          *types.ProxyConfig
	FirefoxPrefs   map[string]any
	// NoViewport lets page content follow the real window size.
	NoViewport bool
}

// Settings are the user-facing browser options applied to every launch.
type Settings struct {
	Headless       bool
	ExecutablePath string
	BlockImages    bool
	EnableCache    bool
	// SaveTabs restores the previous session's tabs on start.
	SaveTabs  bool
	StartPage string
	// Humanize is the maximum cursor movement time in seconds; 0 disables it.
	Humanize      float64
	ExcludeUBlock bool
	ExcludeBPC    bool
	// AddonsDir holds the bundled default addons, one directory each.
	AddonsDir    string
	CustomAddons []string
	DebugMode    bool
	// NavigationTimeout bounds the start page load.
	NavigationTimeout time.Duration
}

// DefaultSettings mirrors a fresh install.
func DefaultSettings() Settings {
	return Settings{
		EnableCache:       true,
		SaveTabs:          true,
		StartPage:         "about:blank",
		Humanize:          1.5,
		NavigationTimeout: 10 * time.Second,
	}
}

// Listener receives session events. Calls are made from the goroutine
// that caused the transition, never while the manager holds its lock.
type Listener interface {
	StatusChanged(id string, status types.Status)
	// BrowserClosed is called once when a browser goes away without an
	// explicit Stop.
	BrowserClosed(id string)
}

// GeoListener is an optional Listener extension. GeoResolved is called
// with the location a launch was fingerprinted for, before the running
// status. Launches whose lookup failed produce no call.
type GeoListener interface {
	GeoResolved(id string, geo *types.GeoIPInfo)
}

// ListenerFuncs adapts plain functions to Listener and GeoListener. Nil
// fields are skipped.
type ListenerFuncs struct {
	OnStatus func(id string, status types.Status)
	OnClosed func(id string)
	OnGeo    func(id string, geo *types.GeoIPInfo)
}

func (l ListenerFuncs) StatusChanged(id string, status types.Status) {
	if l.OnStatus != nil {
		l.OnStatus(id, status)
	}
}

func (l ListenerFuncs) BrowserClosed(id string) {
	if l.OnClosed != nil {
		l.OnClosed(id)
	}
}

func (l ListenerFuncs) GeoResolved(id string, geo *types.GeoIPInfo) {
	if l.OnGeo != nil {
		l.OnGeo(id, geo)
	}
}

// Listeners fans events out to every non-nil listener in order.
func Listeners(ls ...Listener) Listener {
	var out multiListener
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

type multiListener []Listener

func (m multiListener) StatusChanged(id string, status types.Status) {
	for _, l := range m {
		l.StatusChanged(id, status)
	}
}

func (m multiListener) BrowserClosed(id string) {
	for _, l := range m {
		l.BrowserClosed(id)
	}
}

func (m multiListener) GeoResolved(id string, geo *types.GeoIPInfo) {
	for _, l := range m {
		if gl, ok := l.(GeoListener); ok {
			gl.GeoResolved(id, geo)
		}
	}
}
