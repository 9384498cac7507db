package proxy

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/types"
)

const (
	// DefaultPingURL answers with the caller's IP; any 200 counts as reachable.
	DefaultPingURL     = "http://httpbin.org/ip"
	DefaultPingTimeout = 10 * time.Second
	defaultPingWorkers = 8
)

// Pinger measures proxy round-trip latency.
type Pinger struct {
	URL     string
	Timeout time.Duration
	Workers int
	Logger  *logging.Logger
}

// NewPinger returns a Pinger with default target and timeout.
func NewPinger(logger *logging.Logger) *Pinger {
	return &Pinger{
		URL:     DefaultPingURL,
		Timeout: DefaultPingTimeout,
		Workers: defaultPingWorkers,
		Logger:  logger,
	}
}

// Ping returns the latency through p in milliseconds, or -1 when the
// proxy is invalid, inactive, or unreachable.
func (pg *Pinger) Ping(ctx context.Context, p *types.ProxyConfig) int {
	if err := Validate(p); err != nil {
		pg.Logger.Errorf("Invalid proxy configuration: %v", err)
		return -1
	}
	if !p.Active() {
		return -1
	}

	client, err := Client(p, pg.Timeout)
	if err != nil {
		pg.Logger.Debugf("Ping setup failed for %s: %v", p, err)
		return -1
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pg.URL, nil)
	if err != nil {
		return -1
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		pg.Logger.Debugf("Ping failed for %s: %v", p, err)
		return -1
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		pg.Logger.Warnf("Proxy %s returned status %d", p, resp.StatusCode)
		return -1
	}

	latency := int(time.Since(start).Milliseconds())
	pg.Logger.Debugf("Proxy %s ping: %dms", p, latency)
	return latency
}

// PingMany pings every proxy with at most Workers in flight and records
// the result on each config. Proxies are updated in place.
func (pg *Pinger) PingMany(ctx context.Context, proxies []*types.ProxyConfig) {
	workers := pg.Workers
	if workers <= 0 {
		workers = defaultPingWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	for _, p := range proxies {
		g.Go(func() error {
			ms := pg.Ping(gctx, p)
			now := time.Now()
			mu.Lock()
			p.PingMS = ms
			p.LastPing = &now
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}
