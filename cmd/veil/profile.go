package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/veil/pkg/proxy"
	"github.com/entrhq/veil/pkg/types"
)

// ProfileCmd groups the profile subcommands.
type ProfileCmd struct {
	Add  ProfileAddCmd  `cmd:"" help:"Create a profile"`
	List ProfileListCmd `cmd:"" aliases:"ls" help:"List profiles"`
	Set  ProfileSetCmd  `cmd:"" help:"Change a profile's name, OS, proxy or notes"`
	Rm   ProfileRmCmd   `cmd:"" aliases:"remove" help:"Delete profiles and their browser data"`
}

// ProfileAddCmd implements 'profile add'.
type ProfileAddCmd struct {
	Name  string   `short:"n" required:"" help:"Display name"`
	OS    string   `name:"os" default:"windows" help:"Fingerprint OS: windows, macos or linux"`
	Proxy string   `short:"p" help:"Proxy as host:port, host:port:user:pass or scheme://[user:pass@]host:port"`
	Notes string   `help:"Free-form notes"`
	Tags  []string `short:"t" help:"Tags (repeatable or comma separated)"`
}

func (c *ProfileAddCmd) Run(app *App) error {
	osType, ok := types.ParseOS(c.OS)
	if !ok {
		return fmt.Errorf("unknown OS %q", c.OS)
	}
	px, err := parseProxyFlag(c.Proxy)
	if err != nil {
		return err
	}

	store, err := app.Profiles()
	if err != nil {
		return err
	}
	p := &types.Profile{Name: c.Name, OSType: osType, Proxy: px, Notes: c.Notes, Tags: c.Tags}
	if err := store.Add(context.Background(), p); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Created profile %s (%s)\n", valueStyle.Render(p.Name), mutedStyle.Render(p.ID))
	return nil
}

// ProfileListCmd implements 'profile list'.
type ProfileListCmd struct{}

func (c *ProfileListCmd) Run(app *App) error {
	store, err := app.Profiles()
	if err != nil {
		return err
	}
	profiles, err := store.List(context.Background())
	if err != nil {
		return err
	}
	renderProfiles(app.Out, profiles)
	return nil
}

// ProfileSetCmd implements 'profile set'. Only flags that are given change.
type ProfileSetCmd struct {
	ID    string  `arg:"" help:"Profile id"`
	Name  *string `short:"n" help:"New display name"`
	OS    *string `name:"os" help:"New fingerprint OS"`
	Proxy *string `short:"p" help:"New proxy; an empty value removes it"`
	Notes *string `help:"New notes"`
}

func (c *ProfileSetCmd) Run(app *App) error {
	store, err := app.Profiles()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := store.Get(ctx, c.ID)
	if err != nil {
		return err
	}

	if c.Name != nil {
		p.Name = *c.Name
	}
	if c.OS != nil {
		osType, ok := types.ParseOS(*c.OS)
		if !ok {
			return fmt.Errorf("unknown OS %q", *c.OS)
		}
		if osType != p.OSType {
			fmt.Fprintln(app.Out, warnStyle.Render("OS changed: the stored fingerprint is replaced on next launch unless fingerprint.regenerate_on_os_change is false"))
		}
		p.OSType = osType
	}
	if c.Proxy != nil {
		px, err := parseProxyFlag(*c.Proxy)
		if err != nil {
			return err
		}
		p.Proxy = px
	}
	if c.Notes != nil {
		p.Notes = *c.Notes
	}

	if err := store.Update(ctx, p); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Updated profile %s\n", valueStyle.Render(p.Name))
	return nil
}

// ProfileRmCmd implements 'profile rm'.
type ProfileRmCmd struct {
	IDs      []string `arg:"" name:"id" help:"Profile ids"`
	KeepData bool     `help:"Keep the browser data directory and fingerprint"`
}

func (c *ProfileRmCmd) Run(app *App) error {
	store, err := app.Profiles()
	if err != nil {
		return err
	}
	fps, err := app.Fingerprints()
	if err != nil {
		return err
	}
	guard, err := app.Guard()
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, id := range c.IDs {
		if err := store.Delete(ctx, id); err != nil {
			return err
		}
		if !c.KeepData {
			if err := guard.RemoveAll(fps.ProfileDir(id)); err != nil {
				app.Log.Warnf("Failed to remove data for profile %s: %v", id, err)
			}
		}
		fmt.Fprintf(app.Out, "Removed profile %s\n", mutedStyle.Render(id))
	}
	return nil
}

// parseProxyFlag turns a --proxy value into a profile proxy. Empty means
// no proxy.
func parseProxyFlag(s string) (types.ProxyConfig, error) {
	px, err := proxy.Parse(s)
	if err != nil {
		return types.ProxyConfig{}, err
	}
	if px == nil {
		return types.ProxyConfig{Type: types.ProxyNone}, nil
	}
	return *px, nil
}

var columnStyle = lipgloss.NewStyle().PaddingRight(2)

// location summarizes the last detected egress location, "-" if none.
func location(p *types.ProxyConfig) string {
	if p.CountryCode == "" {
		return "-"
	}
	if p.Timezone == "" {
		return p.CountryCode
	}
	return p.CountryCode + " " + p.Timezone
}

// renderProfiles writes one aligned row per profile.
func renderProfiles(w io.Writer, profiles []*types.Profile) {
	if len(profiles) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No profiles. Create one with: veil profile add --name <name>"))
		return
	}

	header := []string{"ID", "NAME", "OS", "STATUS", "PROXY", "LOCATION", "LAST USED"}
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		proxyText := "-"
		if p.Proxy.Active() {
			proxyText = p.Proxy.Server()
		}
		lastUsed := "never"
		if p.LastUsed != nil {
			lastUsed = p.LastUsed.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{p.ID, p.Name, string(p.OSType), string(p.Status), proxyText, location(&p.Proxy), lastUsed})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style func(col int, cell string) lipgloss.Style) string {
		var b strings.Builder
		for i, cell := range cells {
			s := columnStyle.Inherit(style(i, cell))
			if i < len(cells)-1 {
				s = s.Width(widths[i] + 2)
			}
			b.WriteString(s.Render(cell))
		}
		return b.String()
	}

	fmt.Fprintln(w, line(header, func(int, string) lipgloss.Style { return headerStyle }))
	for i, r := range rows {
		status := profiles[i].Status
		fmt.Fprintln(w, line(r, func(col int, _ string) lipgloss.Style {
			switch col {
			case 0:
				return mutedStyle
			case 3:
				return statusStyle(status)
			}
			return valueStyle
		}))
	}
}
