package fingerprint

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/veil/pkg/geoip"
	"github.com/entrhq/veil/pkg/launchcfg"
	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/types"
)

// fakeResolver returns whatever geo is currently set.
type fakeResolver struct {
	mu    sync.Mutex
	geo   *types.GeoIPInfo
	err   error
	calls int
}

func (f *fakeResolver) set(geo *types.GeoIPInfo, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geo, f.err = geo, err
}

func (f *fakeResolver) Resolve(context.Context, *types.ProxyConfig) (*types.GeoIPInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.geo == nil {
		return nil, nil
	}
	g := *f.geo
	return &g, nil
}

var (
	warsaw = types.NewGeoIPInfo("198.51.100.10", "PL", "Europe/Warsaw", 52.2297, 21.0122)
	berlin = types.NewGeoIPInfo("198.51.100.11", "DE", "Europe/Berlin", 52.52, 13.405)
)

func newTestStore(t *testing.T, res geoip.Resolver, mutate ...func(*Options)) *Store {
	t.Helper()
	opts := Options{
		DataDir:   t.TempDir(),
		Resolver:  res,
		Generator: NewTableGenerator(rand.New(rand.NewPCG(1, 2))),
		Rand:      rand.New(rand.NewPCG(3, 4)),
		Logger:    logging.Discard(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewStore(opts)
}

func newProfile(os types.OSType) *types.Profile {
	return &types.Profile{ID: "6f1c2a4e-0000-4000-8000-000000000001", Name: "p", OSType: os}
}

func identity(lc *LaunchConfig) []any {
	return []any{
		lc.WebGL,
		lc.Config[KeyCanvasAAOffset],
		lc.Config[KeyFontSeed],
		lc.Config[KeyHistoryLength],
	}
}

func assertNoGeometry(t *testing.T, cfg map[string]any) {
	t.Helper()
	for _, k := range launchcfg.ExcludedKeys() {
		assert.NotContains(t, cfg, k)
	}
}

func TestResolve_WarsawThenBerlin(t *testing.T) {
	res := &fakeResolver{}
	res.set(warsaw, nil)
	store := newTestStore(t, res)
	p := newProfile(types.OSWindows)

	first, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, first.Generated)
	assert.Contains(t, VendorsFor(types.OSWindows), first.WebGL)
	assert.Equal(t, "Europe/Warsaw", first.Config[KeyTimezone])
	assert.Equal(t, "pl", first.Config[KeyLocaleLanguage])

	rec, err := store.Load(p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OSWindows, rec.OS)

	res.set(berlin, nil)
	second, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, second.Generated)
	assert.Equal(t, identity(first), identity(second))
	assert.Equal(t, "Europe/Berlin", second.Config[KeyTimezone])
	assert.Equal(t, "DE", second.Config[KeyLocaleRegion])
	assert.Equal(t, "de", second.Config[KeyLocaleLanguage])
	assert.Equal(t, 52.52, second.Config[KeyLatitude])
	assert.Equal(t, 13.405, second.Config[KeyLongitude])
}

func TestResolve_IdentityIsIdempotent(t *testing.T) {
	res := &fakeResolver{}
	res.set(warsaw, nil)
	store := newTestStore(t, res)
	p := newProfile(types.OSMacOS)

	_, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)

	a, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	b, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, identity(a), identity(b))
	assert.Equal(t, a.Config[KeyUserAgent], b.Config[KeyUserAgent])
}

func TestResolve_LoadDoesNotRewriteRecord(t *testing.T) {
	res := &fakeResolver{}
	res.set(warsaw, nil)
	store := newTestStore(t, res)
	p := newProfile(types.OSWindows)

	_, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	path := filepath.Join(store.ProfileDir(p.ID), RecordFile)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	res.set(berlin, nil)
	_, err = store.Resolve(context.Background(), p)
	require.NoError(t, err)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestResolve_GeometryNeverLeaves(t *testing.T) {
	res := &fakeResolver{}
	res.set(warsaw, nil)
	store := newTestStore(t, res)
	p := newProfile(types.OSLinux)

	generated, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	assertNoGeometry(t, generated.Config)
	assertNoGeometry(t, generated.EngineConfig())

	rec, err := store.Load(p.ID)
	require.NoError(t, err)
	assertNoGeometry(t, rec.Fingerprint)

	// A record written by an older build may still carry geometry.
	rec.Fingerprint["screen.width"] = 1920
	rec.Fingerprint["window.innerHeight"] = 900
	require.NoError(t, writeRecord(filepath.Join(store.ProfileDir(p.ID), RecordFile), rec))

	loaded, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, loaded.Generated)
	assertNoGeometry(t, loaded.Config)
}

func TestResolve_OSChangeRegenerates(t *testing.T) {
	res := &fakeResolver{}
	res.set(warsaw, nil)
	store := newTestStore(t, res)
	p := newProfile(types.OSWindows)

	_, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)

	p.OSType = types.OSLinux
	lc, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, lc.Generated)
	assert.Equal(t, types.OSLinux, lc.OS)
	assert.Contains(t, VendorsFor(types.OSLinux), lc.WebGL)
	assert.Contains(t, lc.Config[KeyUserAgent], "Linux")

	rec, err := store.Load(p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OSLinux, rec.OS)
	assert.Equal(t, lc.WebGL, rec.WebGL)
}

func TestResolve_KeepOnOSChange(t *testing.T) {
	res := &fakeResolver{}
	res.set(warsaw, nil)
	store := newTestStore(t, res, func(o *Options) { o.KeepOnOSChange = true })
	p := newProfile(types.OSWindows)

	first, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)

	p.OSType = types.OSMacOS
	second, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, second.Generated)
	assert.Equal(t, types.OSWindows, second.OS)
	assert.Equal(t, identity(first), identity(second))
}

func TestResolve_EmptyOSDefaultsToWindows(t *testing.T) {
	store := newTestStore(t, nil)
	lc, err := store.Resolve(context.Background(), newProfile(""))
	require.NoError(t, err)
	assert.Equal(t, types.OSWindows, lc.OS)
	assert.Contains(t, VendorsFor(types.OSWindows), lc.WebGL)
}

func TestResolve_CorruptRecordRegenerates(t *testing.T) {
	store := newTestStore(t, nil)
	p := newProfile(types.OSWindows)

	path := filepath.Join(store.ProfileDir(p.ID), RecordFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{"fingerprint": {"navigator.userAgent": `), 0o600))

	_, err := store.Load(p.ID)
	assert.ErrorIs(t, err, ErrCorrupt)

	lc, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, lc.Generated)

	_, err = store.Load(p.ID)
	assert.NoError(t, err)
}

func TestResolve_MissingWebGLRegenerates(t *testing.T) {
	tests := []struct {
		name  string
		webgl string
	}{
		{"no webgl", ``},
		{"empty vendor", `, "webgl": {"vendor": "", "renderer": "ANGLE (Intel)"}`},
		{"empty renderer", `, "webgl": {"vendor": "Google Inc. (Intel)", "renderer": ""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, nil)
			p := newProfile(types.OSWindows)

			path := filepath.Join(store.ProfileDir(p.ID), RecordFile)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
			raw := `{"fingerprint": {"navigator.userAgent": "Mozilla/5.0"}` + tt.webgl + `, "os": "windows"}`
			require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

			_, err := store.Load(p.ID)
			assert.ErrorIs(t, err, ErrCorrupt)

			lc, err := store.Resolve(context.Background(), p)
			require.NoError(t, err)
			assert.True(t, lc.Generated)
			assert.Contains(t, VendorsFor(types.OSWindows), lc.WebGL)
			assert.NotEmpty(t, lc.EngineConfig()[KeyWebGLVendor])

			rec, err := store.Load(p.ID)
			require.NoError(t, err)
			assert.Equal(t, lc.WebGL, rec.WebGL)
		})
	}
}

func TestResolve_GeoFailureIsNotFatal(t *testing.T) {
	res := &fakeResolver{}
	res.set(warsaw, nil)
	store := newTestStore(t, res)
	p := newProfile(types.OSWindows)

	_, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)

	res.set(nil, errors.New("timeout"))
	lc, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, lc.Geo)
	for _, k := range refreshable {
		assert.NotContains(t, lc.Config, k, "stale %s must not be replayed", k)
	}

	fresh := newProfile(types.OSLinux)
	fresh.ID = "6f1c2a4e-0000-4000-8000-000000000002"
	lc, err = store.Resolve(context.Background(), fresh)
	require.NoError(t, err)
	assert.True(t, lc.Generated)
	assert.NotContains(t, lc.Config, KeyTimezone)
}

func TestResolve_CoordinatesFromSameLookup(t *testing.T) {
	res := &fakeResolver{}
	noCoords := types.NewGeoIPInfo("192.0.2.5", "US", "America/New_York", 0, 0)
	res.set(noCoords, nil)
	store := newTestStore(t, res)

	lc, err := store.Resolve(context.Background(), newProfile(types.OSWindows))
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", lc.Config[KeyTimezone])
	assert.NotContains(t, lc.Config, KeyLatitude)
	assert.NotContains(t, lc.Config, KeyLongitude)
	assert.Equal(t, "en", lc.Config[KeyLocaleLanguage])
}

func TestResolve_PinsVersionAndNoise(t *testing.T) {
	for i := range 20 {
		store := newTestStore(t, nil, func(o *Options) {
			o.Rand = rand.New(rand.NewPCG(uint64(i), 99))
			o.Generator = NewTableGenerator(rand.New(rand.NewPCG(99, uint64(i))))
		})
		lc, err := store.Resolve(context.Background(), newProfile(types.OSWindows))
		require.NoError(t, err)

		ua := lc.Config[KeyUserAgent].(string)
		assert.Contains(t, ua, "Firefox/135.0")
		assert.Contains(t, ua, "rv:135.0")
		assert.Equal(t, ua, lc.Config[KeyHeaderUA])

		aa := lc.Config[KeyCanvasAAOffset].(int)
		seed := lc.Config[KeyFontSeed].(int)
		hist := lc.Config[KeyHistoryLength].(int)
		assert.GreaterOrEqual(t, aa, -50)
		assert.LessOrEqual(t, aa, 50)
		assert.GreaterOrEqual(t, seed, 0)
		assert.LessOrEqual(t, seed, 1_073_741_823)
		assert.GreaterOrEqual(t, hist, 1)
		assert.LessOrEqual(t, hist, 5)
	}
}

func TestPinVersion(t *testing.T) {
	store := newTestStore(t, nil, func(o *Options) { o.FirefoxVersion = "128.0" })
	got := store.pinVersion("Mozilla/5.0 (X11; Linux x86_64; rv:136.0) Gecko/20100101 Firefox/136.0")
	assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0", got)
}

func TestRegenerate(t *testing.T) {
	store := newTestStore(t, nil)
	p := newProfile(types.OSWindows)

	assert.NoError(t, store.Regenerate(p.ID), "missing record is fine")

	_, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, store.Regenerate(p.ID))

	_, err = store.Load(p.ID)
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestEngineConfig(t *testing.T) {
	lc := &LaunchConfig{
		Config: map[string]any{KeyTimezone: "UTC"},
		WebGL:  WebGL{Vendor: "Apple", Renderer: "Apple M1, or similar"},
	}
	cfg := lc.EngineConfig()
	assert.Equal(t, "Apple", cfg[KeyWebGLVendor])
	assert.Equal(t, "Apple M1, or similar", cfg[KeyWebGLRenderer])
	assert.NotContains(t, lc.Config, KeyWebGLVendor)
}

func TestRecordFileShape(t *testing.T) {
	store := newTestStore(t, nil)
	p := newProfile(types.OSMacOS)
	_, err := store.Resolve(context.Background(), p)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(store.ProfileDir(p.ID), RecordFile))
	require.NoError(t, err)
	for _, field := range []string{`"fingerprint"`, `"webgl"`, `"vendor"`, `"renderer"`, `"aaOffset"`, `"spacing_seed"`, `"history_length"`, `"os": "macos"`} {
		assert.True(t, strings.Contains(string(data), field), "record missing %s", field)
	}
}
