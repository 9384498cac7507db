package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/veil/pkg/fingerprint"
	"github.com/entrhq/veil/pkg/launchcfg"
	"github.com/entrhq/veil/pkg/types"
)

// Bundled addon directory names under Settings.AddonsDir.
const (
	AddonUBlockOrigin = "ublock_origin"
	AddonBPC          = "bypass_paywalls_clean"
)

// FirefoxPrefs returns the user prefs implied by s.
func (s Settings) FirefoxPrefs() map[string]any {
	prefs := map[string]any{
		"media.peerconnection.enabled":                   false,
		"browser.tabs.remote.useCrossOriginOpenerPolicy": false,
	}
	if s.SaveTabs {
		prefs["browser.startup.page"] = 3
		prefs["browser.sessionstore.resume_from_crash"] = true
		prefs["browser.sessionstore.max_resumed_crashes"] = 3
	} else {
		prefs["browser.startup.page"] = 0
		prefs["browser.sessionstore.max_resumed_crashes"] = 0
	}
	if s.BlockImages {
		prefs["permissions.default.image"] = 2
	}
	prefs["browser.cache.disk.enable"] = s.EnableCache
	prefs["browser.cache.memory.enable"] = s.EnableCache
	return prefs
}

// StartURL returns the page to open in a blank window, or "" for none.
// Bare hosts get an https:// prefix.
func (s Settings) StartURL() string {
	page := strings.TrimSpace(s.StartPage)
	if page == "" || page == "about:blank" {
		return ""
	}
	for _, prefix := range []string{"http://", "https://", "about:", "file://"} {
		if strings.HasPrefix(page, prefix) {
			return page
		}
	}
	return "https://" + page
}

// addonPaths lists the addon directories to load: bundled defaults that
// exist and are not excluded, then custom addons.
func (m *SessionManager) addonPaths() []string {
	s := m.opts.Settings
	var paths []string
	if s.AddonsDir != "" {
		defaults := map[string]bool{AddonUBlockOrigin: s.ExcludeUBlock, AddonBPC: s.ExcludeBPC}
		for _, name := range []string{AddonUBlockOrigin, AddonBPC} {
			if defaults[name] {
				continue
			}
			dir := filepath.Join(s.AddonsDir, name)
			if _, err := os.Stat(dir); err != nil {
				m.log.Debugf("Default addon %s not installed at %s", name, dir)
				continue
			}
			paths = append(paths, dir)
		}
	}
	for _, p := range s.CustomAddons {
		if _, err := os.Stat(p); err != nil {
			m.log.Warnf("Custom addon not found: %s", p)
			continue
		}
		paths = append(paths, p)
	}
	return paths
}

// launchOptions turns a resolved fingerprint into engine options. The
// config goes through the chunked transport and has geometry stripped
// once more after encoding.
func (m *SessionManager) launchOptions(p *types.Profile, lc *fingerprint.LaunchConfig) (LaunchOptions, error) {
	s := m.opts.Settings

	cfg := lc.EngineConfig()
	if s.Humanize > 0 {
		cfg["humanize"] = true
		cfg["humanize:maxTime"] = s.Humanize
	}
	if addons := m.addonPaths(); len(addons) > 0 {
		cfg["addons"] = addons
	}
	if s.DebugMode {
		m.log.Debugf("Launch config for %s: %v", p.ID, cfg)
	}

	env, err := launchcfg.Encode(cfg, m.chunkSize)
	if err != nil {
		return LaunchOptions{}, err
	}
	env, removed, err := launchcfg.StripVolatileGeometry(env, m.chunkSize)
	if err != nil {
		return LaunchOptions{}, fmt.Errorf("sanitize launch config: %w", err)
	}
	if len(removed) > 0 {
		m.log.Debugf("Removed screen/window keys from config: %v", removed)
	}

	opts := LaunchOptions{
		UserDataDir:  m.opts.Fingerprints.ProfileDir(p.ID),
		Env:          env,
		Headless:     s.Headless,
		FirefoxPrefs: s.FirefoxPrefs(),
		NoViewport:   true,
	}
	if p.Proxy.Active() {
		px := p.Proxy
		opts.Proxy = &px
	}
	exe, err := m.executablePath()
	if err != nil {
		return LaunchOptions{}, err
	}
	opts.ExecutablePath = exe
	return opts, nil
}

// executablePath picks the configured browser, falling back to the
// installed Camoufox. It never returns "" without an error.
func (m *SessionManager) executablePath() (string, error) {
	if custom := m.opts.Settings.ExecutablePath; custom != "" {
		if _, err := os.Stat(custom); err == nil {
			m.log.Infof("Using custom browser: %s", custom)
			return custom, nil
		}
		m.log.Warnf("Custom browser not found: %s", custom)
	}
	exe, err := m.opts.FindExecutable()
	if err != nil {
		return "", err
	}
	if exe == "" {
		return "", ErrNoCamoufox
	}
	return exe, nil
}
