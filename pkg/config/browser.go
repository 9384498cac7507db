package config

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDBrowser is the identifier for the browser launch section
	SectionIDBrowser = "browser"

	defaultStartPage         = "about:blank"
	defaultHumanize          = 1.5
	defaultNavigationTimeout = 10 * time.Second
)

// BrowserSection holds the settings applied to every browser launch.
type BrowserSection struct {
	Headless          bool
	ExecutablePath    string
	BlockImages       bool
	EnableCache       bool
	SaveTabs          bool
	StartPage         string
	Humanize          float64
	ExcludeUBlock     bool
	ExcludeBPC        bool
	AddonsDir         string
	CustomAddons      []string
	DebugMode         bool
	NavigationTimeout time.Duration
	mu                sync.RWMutex
}

// NewBrowserSection creates a browser section with default settings.
func NewBrowserSection() *BrowserSection {
	s := &BrowserSection{}
	s.Reset()
	return s
}

func (s *BrowserSection) ID() string    { return SectionIDBrowser }
func (s *BrowserSection) Title() string { return "Browser" }
func (s *BrowserSection) Description() string {
	return "Launch options shared by all profiles: headless mode, caching, tab restore, start page, cursor humanization and add-ons."
}

// Data returns the current configuration data.
func (s *BrowserSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"headless":           s.Headless,
		"executable_path":    s.ExecutablePath,
		"block_images":       s.BlockImages,
		"enable_cache":       s.EnableCache,
		"save_tabs":          s.SaveTabs,
		"start_page":         s.StartPage,
		"humanize":           s.Humanize,
		"exclude_ublock":     s.ExcludeUBlock,
		"exclude_bpc":        s.ExcludeBPC,
		"addons_dir":         s.AddonsDir,
		"custom_addons":      append([]string{}, s.CustomAddons...),
		"debug_mode":         s.DebugMode,
		"navigation_timeout": s.NavigationTimeout.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *BrowserSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "headless":
			s.Headless, err = toBool(key, value)
		case "executable_path":
			s.ExecutablePath, err = toString(key, value)
		case "block_images":
			s.BlockImages, err = toBool(key, value)
		case "enable_cache":
			s.EnableCache, err = toBool(key, value)
		case "save_tabs":
			s.SaveTabs, err = toBool(key, value)
		case "start_page":
			s.StartPage, err = toString(key, value)
		case "humanize":
			s.Humanize, err = toFloat(key, value)
		case "exclude_ublock":
			s.ExcludeUBlock, err = toBool(key, value)
		case "exclude_bpc":
			s.ExcludeBPC, err = toBool(key, value)
		case "addons_dir":
			s.AddonsDir, err = toString(key, value)
		case "custom_addons":
			s.CustomAddons, err = toStrings(key, value)
		case "debug_mode":
			s.DebugMode, err = toBool(key, value)
		case "navigation_timeout":
			s.NavigationTimeout, err = toDuration(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Humanize < 0 {
		return fmt.Errorf("humanize must not be negative, got %v", s.Humanize)
	}
	if s.NavigationTimeout <= 0 {
		return errors.New("navigation_timeout must be positive")
	}
	return nil
}

// Reset restores defaults.
func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Headless = false
	s.ExecutablePath = ""
	s.BlockImages = false
	s.EnableCache = true
	s.SaveTabs = true
	s.StartPage = defaultStartPage
	s.Humanize = defaultHumanize
	s.ExcludeUBlock = false
	s.ExcludeBPC = false
	s.AddonsDir = ""
	s.CustomAddons = nil
	s.DebugMode = false
	s.NavigationTimeout = defaultNavigationTimeout
}
