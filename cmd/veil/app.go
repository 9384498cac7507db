package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/entrhq/veil/pkg/browser"
	"github.com/entrhq/veil/pkg/config"
	"github.com/entrhq/veil/pkg/fingerprint"
	"github.com/entrhq/veil/pkg/geoip"
	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/metrics"
	"github.com/entrhq/veil/pkg/profilestore"
	"github.com/entrhq/veil/pkg/security/datadir"
)

const (
	profilesDB  = "profiles.db"
	profilesDir = "profiles"
)

// App carries the state shared by every command. Stores are opened on
// first use so commands that do not need them never touch the disk.
type App struct {
	DataDir string
	Out     io.Writer
	Log     *logging.Logger
	Metrics *metrics.PrometheusRecorder

	profiles *profilestore.Store
	guard    *datadir.Guard
	geo      geoip.Resolver
	geoReady bool
	closers  []func() error
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".veil"), nil
}

// newApp loads configuration and sets up logging for one invocation.
func newApp(cli *CLI, out io.Writer) (*App, error) {
	if err := config.Initialize(cli.ConfigPath); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dataDir := cli.DataDir
	if dataDir == "" {
		d, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		dataDir = d
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	logCfg := config.GetLogging()
	level := logging.ParseLevel(logCfg.Level)
	if cli.Verbose {
		level = logging.LevelDebug
	}
	logging.SetLevel(level)
	logDir := logCfg.Directory
	if logDir == "" {
		logDir = filepath.Join(dataDir, "logs")
	}
	logging.SetDirectory(logDir)

	log, err := logging.NewLogger("veil")
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging to stderr: %v\n", err)
	}

	app := &App{
		DataDir: dataDir,
		Out:     out,
		Log:     log,
		Metrics: metrics.NewPrometheusRecorder(nil),
	}
	app.closers = append(app.closers, log.Close)
	return app, nil
}

// Close releases everything opened during the command, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Profiles opens the profile database.
func (a *App) Profiles() (*profilestore.Store, error) {
	if a.profiles != nil {
		return a.profiles, nil
	}
	store, err := profilestore.Open(filepath.Join(a.DataDir, profilesDB), nil, a.Log.With("profiles"))
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	a.profiles = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// Guard confines file removal to the data directory.
func (a *App) Guard() (*datadir.Guard, error) {
	if a.guard != nil {
		return a.guard, nil
	}
	g, err := datadir.NewGuard(a.DataDir)
	if err != nil {
		return nil, err
	}
	a.guard = g
	return g, nil
}

// Resolver builds the configured geolocation source. It returns nil when
// lookups are disabled.
func (a *App) Resolver() (geoip.Resolver, error) {
	if a.geoReady {
		return a.geo, nil
	}
	cfg := config.GetGeoIP()
	log := a.Log.With("geoip")

	httpResolver := func() *geoip.HTTPResolver {
		r := geoip.NewHTTPResolver(log)
		if cfg.URL != "" {
			r.URL = cfg.URL
		}
		r.Timeout = cfg.Timeout
		return r
	}
	maxmind := func() (*geoip.MaxMindResolver, error) {
		r, err := geoip.OpenMaxMind(cfg.MMDBPath, log)
		if err != nil {
			return nil, err
		}
		if cfg.EchoURL != "" {
			r.EchoURL = cfg.EchoURL
		}
		r.Timeout = cfg.Timeout
		a.closers = append(a.closers, r.Close)
		return r, nil
	}

	switch cfg.Source {
	case config.GeoSourceNone:
		a.geo = nil
	case config.GeoSourceMaxMind:
		r, err := maxmind()
		if err != nil {
			return nil, err
		}
		a.geo = r
	case config.GeoSourceChain:
		r, err := maxmind()
		if err != nil {
			return nil, err
		}
		a.geo = &geoip.Chain{Resolvers: []geoip.Resolver{r, httpResolver()}, Logger: log}
	default:
		a.geo = httpResolver()
	}
	a.geoReady = true
	return a.geo, nil
}

// Fingerprints returns the fingerprint store for the data directory.
func (a *App) Fingerprints() (*fingerprint.Store, error) {
	resolver, err := a.Resolver()
	if err != nil {
		return nil, err
	}
	cfg := config.GetFingerprint()
	return fingerprint.NewStore(fingerprint.Options{
		DataDir:        filepath.Join(a.DataDir, profilesDir),
		Resolver:       resolver,
		FirefoxVersion: cfg.FirefoxVersion,
		KeepOnOSChange: !cfg.RegenerateOnOSChange,
		Logger:         a.Log.With("fingerprint"),
		Metrics:        a.Metrics,
	}), nil
}

// browserSettings maps the browser section onto launch settings.
func browserSettings(cfg *config.BrowserSection) browser.Settings {
	s := browser.DefaultSettings()
	s.Headless = cfg.Headless
	s.ExecutablePath = cfg.ExecutablePath
	s.BlockImages = cfg.BlockImages
	s.EnableCache = cfg.EnableCache
	s.SaveTabs = cfg.SaveTabs
	s.StartPage = cfg.StartPage
	s.Humanize = cfg.Humanize
	s.ExcludeUBlock = cfg.ExcludeUBlock
	s.ExcludeBPC = cfg.ExcludeBPC
	s.AddonsDir = cfg.AddonsDir
	s.CustomAddons = append([]string(nil), cfg.CustomAddons...)
	s.DebugMode = cfg.DebugMode
	if cfg.NavigationTimeout > 0 {
		s.NavigationTimeout = cfg.NavigationTimeout
	}
	return s
}
