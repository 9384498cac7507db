package config

import (
	"fmt"
	"regexp"
	"sync"
)

// SectionIDFingerprint is the identifier for the fingerprint section
const SectionIDFingerprint = "fingerprint"

var versionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// FingerprintSection controls how persisted fingerprints are produced.
type FingerprintSection struct {
	// FirefoxVersion is pinned into every generated user agent.
	FirefoxVersion string
	// RegenerateOnOSChange discards a stored fingerprint whose OS no
	// longer matches the profile.
	RegenerateOnOSChange bool
	mu                   sync.RWMutex
}

// NewFingerprintSection creates a fingerprint section with default settings.
func NewFingerprintSection() *FingerprintSection {
	s := &FingerprintSection{}
	s.Reset()
	return s
}

func (s *FingerprintSection) ID() string    { return SectionIDFingerprint }
func (s *FingerprintSection) Title() string { return "Fingerprint" }
func (s *FingerprintSection) Description() string {
	return "Pinned Firefox version and whether an OS change regenerates the stored fingerprint."
}

func (s *FingerprintSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"firefox_version":         s.FirefoxVersion,
		"regenerate_on_os_change": s.RegenerateOnOSChange,
	}
}

func (s *FingerprintSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "firefox_version":
			s.FirefoxVersion, err = toString(key, value)
		case "regenerate_on_os_change":
			s.RegenerateOnOSChange, err = toBool(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *FingerprintSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !versionPattern.MatchString(s.FirefoxVersion) {
		return fmt.Errorf("firefox_version must look like 135.0, got %q", s.FirefoxVersion)
	}
	return nil
}

func (s *FingerprintSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FirefoxVersion = "135.0"
	s.RegenerateOnOSChange = true
}
