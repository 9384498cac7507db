package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/veil/pkg/config"
	"github.com/entrhq/veil/pkg/types"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	return newTestAppWithConfig(t, "sections:\n  geoip:\n    source: none\n")
}

func newTestAppWithConfig(t *testing.T, cfg string) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	var out bytes.Buffer
	app, err := newApp(&CLI{ConfigPath: cfgPath, DataDir: filepath.Join(dir, "data")}, &out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, &out
}

func TestProfileLifecycle(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	add := &ProfileAddCmd{Name: "shop", OS: "mac", Proxy: "socks5://u:p@10.0.0.2:1080", Tags: []string{"eu"}}
	require.NoError(t, add.Run(app))
	assert.Contains(t, out.String(), "Created profile shop")

	store, err := app.Profiles()
	require.NoError(t, err)
	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	p := all[0]
	assert.Equal(t, types.OSMacOS, p.OSType)
	assert.Equal(t, types.ProxySOCKS5, p.Proxy.Type)
	assert.Equal(t, "u", p.Proxy.Username)

	out.Reset()
	require.NoError(t, (&ProfileListCmd{}).Run(app))
	assert.Contains(t, out.String(), "shop")
	assert.Contains(t, out.String(), "stopped")
	assert.NotContains(t, out.String(), ":p@", "credentials are never listed")

	name, osName, noProxy := "shop-2", "linux", ""
	require.NoError(t, (&ProfileSetCmd{ID: p.ID, Name: &name, OS: &osName, Proxy: &noProxy}).Run(app))
	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "shop-2", got.Name)
	assert.Equal(t, types.OSLinux, got.OSType)
	assert.False(t, got.Proxy.Active())

	fps, err := app.Fingerprints()
	require.NoError(t, err)
	dir := fps.ProfileDir(p.ID)
	require.NoError(t, os.MkdirAll(dir, 0o700))

	require.NoError(t, (&ProfileRmCmd{IDs: []string{p.ID}}).Run(app))
	assert.NoDirExists(t, dir)
	_, err = store.Get(ctx, p.ID)
	assert.Error(t, err)
}

func TestProfileAdd_Rejects(t *testing.T) {
	app, _ := newTestApp(t)
	assert.Error(t, (&ProfileAddCmd{Name: "x", OS: "beos"}).Run(app))
	assert.Error(t, (&ProfileAddCmd{Name: "x", OS: "windows", Proxy: "nonsense"}).Run(app))
}

func TestFingerprintCommands(t *testing.T) {
	app, out := newTestApp(t)
	require.NoError(t, (&ProfileAddCmd{Name: "a", OS: "windows"}).Run(app))
	store, err := app.Profiles()
	require.NoError(t, err)
	all, err := store.List(context.Background())
	require.NoError(t, err)
	id := all[0].ID

	out.Reset()
	require.NoError(t, (&FingerprintShowCmd{ID: id}).Run(app))
	assert.Contains(t, out.String(), "No fingerprint yet")

	fps, err := app.Fingerprints()
	require.NoError(t, err)
	_, err = fps.Resolve(context.Background(), all[0])
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, (&FingerprintShowCmd{ID: id}).Run(app))
	assert.Contains(t, out.String(), `"fingerprint"`)
	assert.Contains(t, out.String(), "Firefox/135.0")

	require.NoError(t, (&FingerprintRegenerateCmd{IDs: []string{id}}).Run(app))
	assert.NoFileExists(t, filepath.Join(fps.ProfileDir(id), "fingerprint.json"))

	assert.Error(t, (&FingerprintShowCmd{ID: "unknown"}).Run(app))
}

func TestGeoDisabled(t *testing.T) {
	app, _ := newTestApp(t)
	assert.ErrorContains(t, (&GeoCmd{}).Run(app), "disabled")
	assert.Error(t, (&GeoCmd{Proxy: "a:1", Profile: "b"}).Run(app))
}

func TestGeoProfile_SavesLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"success","country":"Japan","countryCode":"JP","city":"Tokyo",`+
			`"lat":35.68,"lon":139.69,"timezone":"Asia/Tokyo","query":"203.0.113.9"}`)
	}))
	defer srv.Close()

	app, out := newTestAppWithConfig(t, "sections:\n  geoip:\n    source: ipapi\n    url: "+srv.URL+"\n")
	require.NoError(t, (&ProfileAddCmd{Name: "tokyo", OS: "windows"}).Run(app))
	store, err := app.Profiles()
	require.NoError(t, err)
	all, err := store.List(context.Background())
	require.NoError(t, err)
	id := all[0].ID

	out.Reset()
	require.NoError(t, (&GeoCmd{Profile: id}).Run(app))
	assert.Contains(t, out.String(), "JP (Japan)")

	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "JP", got.Proxy.CountryCode)
	assert.Equal(t, "Japan", got.Proxy.CountryName)
	assert.Equal(t, "Tokyo", got.Proxy.City)
	assert.Equal(t, "Asia/Tokyo", got.Proxy.Timezone)

	out.Reset()
	require.NoError(t, (&ProfileListCmd{}).Run(app))
	assert.Contains(t, out.String(), "JP Asia/Tokyo")
}

func TestConfigCommands(t *testing.T) {
	app, out := newTestApp(t)

	require.NoError(t, (&ConfigShowCmd{}).Run(app))
	assert.Contains(t, out.String(), "batch_limit: 3")
	assert.Contains(t, out.String(), "source: none")

	assert.ErrorContains(t, (&ConfigInitCmd{}).Run(app), "already exists")
	require.NoError(t, (&ConfigInitCmd{Force: true}).Run(app))

	path := config.Global().Store().(*config.FileStore).Path()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "regenerate_on_os_change: true")
}

func TestParseProxyFlag(t *testing.T) {
	p, err := parseProxyFlag("")
	require.NoError(t, err)
	assert.Equal(t, types.ProxyNone, p.Type)
	assert.False(t, p.Active())

	p, err = parseProxyFlag("1.2.3.4:8080")
	require.NoError(t, err)
	assert.True(t, p.Active())
	assert.Equal(t, types.ProxyHTTP, p.Type)

	_, err = parseProxyFlag("1.2.3.4")
	assert.Error(t, err)
}

func TestProfileRm_StaysInDataDir(t *testing.T) {
	app, _ := newTestApp(t)
	guard, err := app.Guard()
	require.NoError(t, err)

	assert.Error(t, guard.RemoveAll(app.DataDir))
	assert.Error(t, (&ProfileRmCmd{IDs: []string{"missing"}}).Run(app))
	assert.DirExists(t, app.DataDir)
}

func TestBrowserSettings(t *testing.T) {
	cfg := config.NewBrowserSection()
	require.NoError(t, cfg.SetData(map[string]any{
		"headless":           true,
		"block_images":       true,
		"enable_cache":       false,
		"start_page":         "example.com",
		"humanize":           0.0,
		"custom_addons":      []string{"/x"},
		"navigation_timeout": "3s",
	}))

	s := browserSettings(cfg)
	assert.True(t, s.Headless)
	assert.True(t, s.BlockImages)
	assert.False(t, s.EnableCache)
	assert.True(t, s.SaveTabs)
	assert.Equal(t, "https://example.com", s.StartURL())
	assert.Zero(t, s.Humanize)
	assert.Equal(t, []string{"/x"}, s.CustomAddons)
	assert.Equal(t, 3*time.Second, s.NavigationTimeout)
}

func TestRenderProfiles(t *testing.T) {
	var buf bytes.Buffer
	renderProfiles(&buf, nil)
	assert.Contains(t, buf.String(), "No profiles")

	used := time.Date(2025, 1, 2, 3, 4, 0, 0, time.Local)
	buf.Reset()
	renderProfiles(&buf, []*types.Profile{
		{ID: "id-1", Name: "alpha", OSType: types.OSWindows, Status: types.StatusRunning, LastUsed: &used},
		{ID: "id-22", Name: "b", OSType: types.OSLinux, Status: types.StatusError,
			Proxy: types.ProxyConfig{Enabled: true, Type: types.ProxyHTTP, Host: "h", Port: 1,
				CountryCode: "DE", Timezone: "Europe/Berlin"}},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "2025-01-02 03:04")
	assert.Contains(t, lines[1], "running")
	assert.Contains(t, lines[2], "never")
	assert.Contains(t, lines[2], "http://h:1")
	assert.Contains(t, lines[2], "DE Europe/Berlin")
	assert.True(t, strings.HasPrefix(lines[1][strings.Index(lines[0], "LOCATION"):], "- "))

	// Columns line up: NAME starts at the same offset on every row.
	col := strings.Index(lines[0], "NAME")
	assert.Equal(t, col, strings.Index(lines[1], "alpha"))
	assert.Equal(t, col, strings.Index(lines[2], "b "))
}

func TestRenderGeo(t *testing.T) {
	var buf bytes.Buffer
	info := types.NewGeoIPInfo("1.2.3.4", "de", "Europe/Berlin", 52.52, 13.405)
	info.City = "Berlin"
	info.Country = "Germany"
	renderGeo(&buf, info)

	s := buf.String()
	assert.Contains(t, s, "1.2.3.4")
	assert.Contains(t, s, "DE (Germany)")
	assert.Contains(t, s, "Language   de")
	assert.Contains(t, s, "Europe/Berlin")
	assert.Contains(t, s, "52.5200, 13.4050")
	assert.NotContains(t, s, "Region")
}

func TestRenderPings(t *testing.T) {
	ok := &types.ProxyConfig{PingMS: 42}
	bad := &types.ProxyConfig{PingMS: -1}
	var buf bytes.Buffer
	renderPings(&buf, []*types.ProxyConfig{ok, bad}, map[*types.ProxyConfig]string{ok: "fast", bad: "slow-proxy"})
	assert.Contains(t, buf.String(), "fast        42ms")
	assert.Contains(t, buf.String(), "slow-proxy  unreachable")
}

type fakeSessions struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeSessions) Running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func (f *fakeSessions) drop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.ids {
		if v == id {
			f.ids = append(f.ids[:i], f.ids[i+1:]...)
			return
		}
	}
}

func TestSupervise_ReturnsWhenAllClosed(t *testing.T) {
	sessions := &fakeSessions{ids: []string{"a", "b"}}
	closed := make(chan string, 2)

	var seen []string
	done := make(chan struct{})
	go func() {
		supervise(context.Background(), sessions, closed, func(id string) { seen = append(seen, id) })
		close(done)
	}()

	for _, id := range []string{"a", "b"} {
		sessions.drop(id)
		closed <- id
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise did not return")
	}
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
}

func TestSupervise_StopsOnCancel(t *testing.T) {
	sessions := &fakeSessions{ids: []string{"a"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	supervise(ctx, sessions, make(chan string), func(string) { t.Fatal("unexpected close") })
}
