package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/entrhq/veil/pkg/geoip"
	"github.com/entrhq/veil/pkg/proxy"
	"github.com/entrhq/veil/pkg/types"
)

// GeoCmd implements 'geo'.
type GeoCmd struct {
	Proxy   string `short:"p" help:"Resolve through this proxy instead of the direct connection"`
	Profile string `help:"Resolve through this profile's proxy"`
}

func (c *GeoCmd) Run(app *App) error {
	if c.Proxy != "" && c.Profile != "" {
		return errors.New("--proxy and --profile are mutually exclusive")
	}
	resolver, err := app.Resolver()
	if err != nil {
		return err
	}
	if resolver == nil {
		return errors.New("geolocation is disabled (geoip.source is none)")
	}

	ctx := context.Background()
	var px *types.ProxyConfig
	var profileID string
	switch {
	case c.Proxy != "":
		px, err = proxy.Parse(c.Proxy)
		if err != nil {
			return err
		}
	case c.Profile != "":
		store, err := app.Profiles()
		if err != nil {
			return err
		}
		p, err := store.Get(ctx, c.Profile)
		if err != nil {
			return err
		}
		if p.Proxy.Active() {
			px = &p.Proxy
		}
		profileID = p.ID
	}

	info, err := resolver.Resolve(ctx, px)
	if err != nil {
		return err
	}
	renderGeo(app.Out, info)

	if profileID != "" {
		store, err := app.Profiles()
		if err != nil {
			return err
		}
		if err := store.SetDetectedGeo(ctx, profileID, info); err != nil {
			return fmt.Errorf("save detected location: %w", err)
		}
	}
	return nil
}

func renderGeo(w io.Writer, info *types.GeoIPInfo) {
	row := func(k, v string) {
		if v == "" {
			return
		}
		fmt.Fprintf(w, "%s %s\n", mutedStyle.Render(fmt.Sprintf("%-10s", k)), valueStyle.Render(v))
	}
	row("IP", info.IP)
	country := info.CountryCode
	if info.Country != "" {
		country += " (" + info.Country + ")"
	}
	row("Country", country)
	row("Language", geoip.LanguageFor(info.CountryCode))
	row("Timezone", info.Timezone)
	row("City", info.City)
	row("Region", info.Region)
	if info.HasCoordinates() {
		row("Location", fmt.Sprintf("%.4f, %.4f", info.Lat, info.Lon))
	}
}
