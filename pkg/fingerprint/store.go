// Package fingerprint keeps each profile's device fingerprint stable
// across launches while refreshing its geo attributes from the current
// egress IP.
//
// A profile's record is created on first launch and reused afterwards.
// Identity attributes (user agent, GPU signature, canvas offset, font
// seed, history length) survive every launch. Timezone, locale and
// geolocation are dropped and re-derived from a fresh lookup each time,
// so the timezone always matches the IP the browser will use.
package fingerprint

import (
	"context"
	"errors"
	"maps"
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/entrhq/veil/pkg/geoip"
	"github.com/entrhq/veil/pkg/launchcfg"
	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/metrics"
	"github.com/entrhq/veil/pkg/types"
)

// DefaultFirefoxVersion is the engine's real Firefox version. Generated
// user agents are rewritten to it.
const DefaultFirefoxVersion = "135.0"

// Attribute keys the store writes itself.
const (
	KeyTimezone       = "timezone"
	KeyLocaleTimezone = "locale:timezone"
	KeyLocaleRegion   = "locale:region"
	KeyLocaleLanguage = "locale:language"
	KeyLatitude       = "geolocation:latitude"
	KeyLongitude      = "geolocation:longitude"
	KeyCanvasAAOffset = "canvas:aaOffset"
	KeyFontSeed       = "fonts:spacing_seed"
	KeyHistoryLength  = "window.history.length"
	KeyUserAgent      = "navigator.userAgent"
	KeyHeaderUA       = "headers.User-Agent"
	KeyWebGLVendor    = "webGl:vendor"
	KeyWebGLRenderer  = "webGl:renderer"
)

// refreshable keys are re-derived from geo on every launch.
var refreshable = []string{
	KeyTimezone, KeyLocaleTimezone, KeyLocaleRegion,
	KeyLocaleLanguage, KeyLatitude, KeyLongitude,
}

// Noise ranges, inclusive.
const (
	aaOffsetMin   = -50
	aaOffsetMax   = 50
	fontSeedMax   = 1_073_741_823
	historyLenMin = 1
	historyLenMax = 5
)

var (
	firefoxVersionRe = regexp.MustCompile(`Firefox/\d+\.\d+`)
	rvVersionRe      = regexp.MustCompile(`rv:\d+\.\d+`)
)

// LaunchConfig is what a launch needs from the store.
type LaunchConfig struct {
	// Config is the final attribute map: geometry stripped, noise pinned,
	// geo overlay applied.
	Config map[string]any
	WebGL  WebGL
	OS     types.OSType
	// Geo is the lookup the overlay came from, nil when it failed.
	Geo *types.GeoIPInfo
	// Generated is true when the record was created by this call.
	Generated bool
}

// EngineConfig returns Config plus the GPU signature keys, ready to be
// encoded into the launch transport.
func (lc *LaunchConfig) EngineConfig() map[string]any {
	cfg := maps.Clone(lc.Config)
	if cfg == nil {
		cfg = make(map[string]any)
	}
	if lc.WebGL.Vendor != "" {
		cfg[KeyWebGLVendor] = lc.WebGL.Vendor
		cfg[KeyWebGLRenderer] = lc.WebGL.Renderer
	}
	return cfg
}

// Options configures a Store.
type Options struct {
	// DataDir holds one directory per profile id.
	DataDir   string
	Resolver  geoip.Resolver
	Generator Generator
	// Rand draws the noise values. A random source is used when nil.
	Rand *rand.Rand
	// FirefoxVersion defaults to DefaultFirefoxVersion.
	FirefoxVersion string
	// KeepOnOSChange keeps an existing record when the profile's OS no
	// longer matches it. By default the record is regenerated.
	KeepOnOSChange bool
	Logger         *logging.Logger
	Metrics        metrics.Recorder
}

// Store loads, generates and persists fingerprint records.
type Store struct {
	opts    Options
	metrics metrics.Recorder

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewStore returns a Store. Resolver may be nil, in which case launches
// never get a geo overlay.
func NewStore(opts Options) *Store {
	if opts.FirefoxVersion == "" {
		opts.FirefoxVersion = DefaultFirefoxVersion
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Generator == nil {
		opts.Generator = NewTableGenerator(nil)
	}
	return &Store{opts: opts, metrics: metrics.OrNoop(opts.Metrics), rng: rng}
}

// ProfileDir returns the profile's data directory, which doubles as the
// browser's user data dir.
func (s *Store) ProfileDir(id string) string {
	return filepath.Join(s.opts.DataDir, id)
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.ProfileDir(id), RecordFile)
}

// Load reads the profile's record. It returns ErrNoRecord when there is
// none and an error wrapping ErrCorrupt when it cannot be parsed.
func (s *Store) Load(id string) (*Record, error) {
	return readRecord(s.recordPath(id))
}

// Regenerate deletes the profile's record so the next Resolve builds a
// new identity. A missing record is not an error.
func (s *Store) Regenerate(id string) error {
	s.opts.Logger.Infof("Deleting fingerprint record for profile %s", id)
	return removeRecord(s.recordPath(id))
}

// Resolve returns the launch configuration for p. Geo lookup failures are
// absorbed; only a failure to persist a new record is returned.
func (s *Store) Resolve(ctx context.Context, p *types.Profile) (*LaunchConfig, error) {
	geo := s.lookupGeo(ctx, p)
	osType := p.OSType.OrDefault()

	rec, err := s.Load(p.ID)
	switch {
	case err == nil && rec.OS == osType:
		s.metrics.IncFingerprint("loaded")
		return s.fromRecord(rec, geo), nil

	case err == nil && s.opts.KeepOnOSChange:
		s.opts.Logger.Warnf("Profile %s OS is %q but its fingerprint was generated for %q; keeping the existing fingerprint",
			p.ID, osType, rec.OS)
		s.metrics.IncFingerprint("loaded")
		return s.fromRecord(rec, geo), nil

	case err == nil:
		s.opts.Logger.Infof("OS changed from %q to %q for profile %s - regenerating fingerprint", rec.OS, osType, p.ID)
		if err := removeRecord(s.recordPath(p.ID)); err != nil {
			return nil, err
		}
		s.metrics.IncFingerprint("regenerated")

	case errors.Is(err, ErrNoRecord):
		s.metrics.IncFingerprint("generated")

	default:
		s.opts.Logger.Warnf("Discarding unusable fingerprint record for profile %s: %v", p.ID, err)
		if err := removeRecord(s.recordPath(p.ID)); err != nil {
			return nil, err
		}
		s.metrics.IncFingerprint("regenerated")
	}

	return s.generate(p.ID, osType, geo)
}

func (s *Store) lookupGeo(ctx context.Context, p *types.Profile) *types.GeoIPInfo {
	if s.opts.Resolver == nil {
		s.metrics.IncGeoLookup(metrics.ResultSkipped)
		return nil
	}
	var px *types.ProxyConfig
	if p.Proxy.Active() {
		px = &p.Proxy
	}
	geo, err := s.opts.Resolver.Resolve(ctx, px)
	if err != nil || geo == nil {
		s.opts.Logger.Warnf("Failed to get GeoIP info for profile %s: %v", p.ID, err)
		s.metrics.IncGeoLookup(metrics.ResultFailure)
		return nil
	}
	s.metrics.IncGeoLookup(metrics.ResultSuccess)
	return geo
}

func (s *Store) fromRecord(rec *Record, geo *types.GeoIPInfo) *LaunchConfig {
	cfg := maps.Clone(rec.Fingerprint)
	for _, k := range refreshable {
		delete(cfg, k)
	}
	applyGeo(cfg, geo)
	launchcfg.StripKeys(cfg)

	if rec.Canvas != nil {
		cfg[KeyCanvasAAOffset] = rec.Canvas.AAOffset
	}
	if rec.Fonts != nil {
		cfg[KeyFontSeed] = rec.Fonts.SpacingSeed
	}
	if rec.HistoryLength != nil {
		cfg[KeyHistoryLength] = *rec.HistoryLength
	}

	s.opts.Logger.Debugf("Loaded fingerprint record (%s, %s)", rec.OS, rec.WebGL.Renderer)
	return &LaunchConfig{Config: cfg, WebGL: rec.WebGL, OS: rec.OS, Geo: geo}
}

func (s *Store) generate(id string, osType types.OSType, geo *types.GeoIPInfo) (*LaunchConfig, error) {
	cfg := s.opts.Generator.Generate(osType)
	if cfg == nil {
		cfg = make(map[string]any)
	}

	s.mu.Lock()
	aaOffset := aaOffsetMin + s.rng.IntN(aaOffsetMax-aaOffsetMin+1)
	fontSeed := s.rng.IntN(fontSeedMax + 1)
	historyLen := historyLenMin + s.rng.IntN(historyLenMax-historyLenMin+1)
	s.mu.Unlock()

	cfg[KeyCanvasAAOffset] = aaOffset
	cfg[KeyFontSeed] = fontSeed
	cfg[KeyHistoryLength] = historyLen

	for _, k := range []string{KeyUserAgent, KeyHeaderUA} {
		if ua, ok := cfg[k].(string); ok {
			cfg[k] = s.pinVersion(ua)
		}
	}

	applyGeo(cfg, geo)
	launchcfg.StripKeys(cfg)

	webgl := s.opts.Generator.SampleWebGL(osType)

	rec := &Record{
		Fingerprint:   cfg,
		WebGL:         webgl,
		Canvas:        &CanvasNoise{AAOffset: aaOffset},
		Fonts:         &FontNoise{SpacingSeed: fontSeed},
		HistoryLength: &historyLen,
		OS:            osType,
	}
	if err := writeRecord(s.recordPath(id), rec); err != nil {
		return nil, err
	}
	s.opts.Logger.Infof("Generated and saved new fingerprint for profile %s (%s, %s)", id, osType, webgl.Renderer)

	return &LaunchConfig{
		Config:    maps.Clone(cfg),
		WebGL:     webgl,
		OS:        osType,
		Geo:       geo,
		Generated: true,
	}, nil
}

func (s *Store) pinVersion(ua string) string {
	v := s.opts.FirefoxVersion
	ua = firefoxVersionRe.ReplaceAllLiteralString(ua, "Firefox/"+v)
	return rvVersionRe.ReplaceAllLiteralString(ua, "rv:"+v)
}

// applyGeo overlays geo onto cfg. The overlay always wins. Everything it
// writes comes from the one lookup.
func applyGeo(cfg map[string]any, geo *types.GeoIPInfo) {
	if geo == nil {
		return
	}
	cfg[KeyTimezone] = geo.Timezone
	if geo.HasCoordinates() {
		cfg[KeyLatitude] = geo.Lat
		cfg[KeyLongitude] = geo.Lon
	}
	cfg[KeyLocaleRegion] = geo.CountryCode
	cfg[KeyLocaleLanguage] = geoip.LanguageFor(geo.CountryCode)
}
