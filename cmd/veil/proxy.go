package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/entrhq/veil/pkg/proxy"
	"github.com/entrhq/veil/pkg/types"
)

// ProxyCmd groups the proxy subcommands.
type ProxyCmd struct {
	Ping ProxyPingCmd `cmd:"" help:"Measure latency through proxies"`
}

// ProxyPingCmd implements 'proxy ping'. Proxies come from arguments, a
// file with one per line, or stored profiles; profile results are saved.
type ProxyPingCmd struct {
	Proxies  []string      `arg:"" optional:"" name:"proxy" help:"Proxies to ping"`
	File     string        `short:"f" type:"existingfile" help:"File with one proxy per line ('#' comments allowed)"`
	Profiles []string      `help:"Ping the proxies of these profile ids or name globs and store the result"`
	URL      string        `help:"Target URL" default:"${ping_url}"`
	Timeout  time.Duration `help:"Per-proxy timeout" default:"10s"`
}

func (c *ProxyPingCmd) Run(app *App) error {
	ctx := context.Background()

	var proxies []*types.ProxyConfig
	labels := make(map[*types.ProxyConfig]string)
	for _, arg := range c.Proxies {
		p, err := proxy.Parse(arg)
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		if p != nil {
			proxies = append(proxies, p)
			labels[p] = p.String()
		}
	}
	if c.File != "" {
		raw, err := os.ReadFile(c.File)
		if err != nil {
			return err
		}
		parsed, errs := proxy.ParseList(string(raw))
		for _, err := range errs {
			fmt.Fprintf(app.Out, "%s %v\n", errorStyle.Render("skipped"), err)
		}
		for _, p := range parsed {
			proxies = append(proxies, p)
			labels[p] = p.String()
		}
	}

	var profiles []*types.Profile
	if len(c.Profiles) > 0 {
		store, err := app.Profiles()
		if err != nil {
			return err
		}
		profiles, err = store.Select(ctx, c.Profiles...)
		if err != nil {
			return err
		}
		for _, p := range profiles {
			if p.Proxy.Active() {
				proxies = append(proxies, &p.Proxy)
				labels[&p.Proxy] = p.Name + " (" + p.Proxy.String() + ")"
			}
		}
	}

	if len(proxies) == 0 {
		return fmt.Errorf("nothing to ping: pass proxies, --file or --profiles")
	}

	pinger := proxy.NewPinger(app.Log.With("proxy"))
	pinger.URL = c.URL
	pinger.Timeout = c.Timeout
	pinger.PingMany(ctx, proxies)

	renderPings(app.Out, proxies, labels)

	if len(profiles) > 0 {
		store, err := app.Profiles()
		if err != nil {
			return err
		}
		for _, p := range profiles {
			if !p.Proxy.Active() {
				continue
			}
			if err := store.Update(ctx, p); err != nil {
				app.Log.Warnf("Failed to save ping for profile %s: %v", p.ID, err)
			}
		}
	}
	return nil
}

func renderPings(w io.Writer, proxies []*types.ProxyConfig, labels map[*types.ProxyConfig]string) {
	width := 0
	for _, p := range proxies {
		width = max(width, len(labels[p]))
	}
	for _, p := range proxies {
		label := labels[p] + strings.Repeat(" ", width-len(labels[p]))
		if p.PingMS < 0 {
			fmt.Fprintf(w, "%s  %s\n", label, errorStyle.Render("unreachable"))
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", label, okStyle.Render(fmt.Sprintf("%dms", p.PingMS)))
	}
}
