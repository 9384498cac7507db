// Package config loads veil's sectioned settings from a JSON or YAML file,
// then applies .env files and APP_<SECTION>_<KEY> environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// NewDefaultManager creates a manager with every veil section registered.
func NewDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)
	for _, section := range []Section{
		NewBrowserSection(),
		NewFingerprintSection(),
		NewLauncherSection(),
		NewGeoIPSection(),
		NewLoggingSection(),
	} {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// Load builds a manager from the file at configPath (DefaultPath when
// empty). A .env next to the config file and one in the working directory
// are loaded first; variables already set win over both.
func Load(configPath string) (*Manager, error) {
	store, err := NewFileStore(configPath)
	if err != nil {
		return nil, err
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(store.Path()), ".env"), ".env"); err != nil {
		return nil, err
	}

	manager, err := NewDefaultManager(store)
	if err != nil {
		return nil, err
	}
	if err := manager.LoadAll(); err != nil {
		return nil, err
	}
	if err := manager.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return manager, nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", abs, err)
		}
	}
	return nil
}

// Initialize loads the configuration and installs it as the global manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	manager, err := Load(configPath)
	if err != nil {
		return err
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = manager
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}

	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

// section returns the global section id as T, or fallback() when config
// is not initialized or the section is missing.
func section[T Section](id string, fallback func() T) T {
	if !IsInitialized() {
		return fallback()
	}
	s, ok := Global().GetSection(id)
	if !ok {
		return fallback()
	}
	typed, ok := s.(T)
	if !ok {
		return fallback()
	}
	return typed
}

// GetBrowser returns the browser section, or defaults before Initialize.
func GetBrowser() *BrowserSection {
	return section(SectionIDBrowser, NewBrowserSection)
}

// GetFingerprint returns the fingerprint section, or defaults before Initialize.
func GetFingerprint() *FingerprintSection {
	return section(SectionIDFingerprint, NewFingerprintSection)
}

// GetLauncher returns the launcher section, or defaults before Initialize.
func GetLauncher() *LauncherSection {
	return section(SectionIDLauncher, NewLauncherSection)
}

// GetGeoIP returns the geoip section, or defaults before Initialize.
func GetGeoIP() *GeoIPSection {
	return section(SectionIDGeoIP, NewGeoIPSection)
}

// GetLogging returns the logging section, or defaults before Initialize.
func GetLogging() *LoggingSection {
	return section(SectionIDLogging, NewLoggingSection)
}
