package config

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SectionIDGeoIP is the identifier for the geolocation section
const SectionIDGeoIP = "geoip"

// Geo lookup sources.
const (
	GeoSourceIPAPI   = "ipapi"   // GeoSourceIPAPI queries an ip-api.com style HTTP endpoint.
	GeoSourceMaxMind = "maxmind" // GeoSourceMaxMind reads a local GeoLite2/GeoIP2 City database.
	GeoSourceChain   = "chain"   // GeoSourceChain tries MaxMind first, then the HTTP endpoint.
	GeoSourceNone    = "none"    // GeoSourceNone disables lookups.
)

// GeoIPSection selects and configures the egress geolocation source.
type GeoIPSection struct {
	Source   string
	URL      string
	EchoURL  string
	MMDBPath string
	Timeout  time.Duration
	mu       sync.RWMutex
}

// NewGeoIPSection creates a geoip section with default settings.
func NewGeoIPSection() *GeoIPSection {
	s := &GeoIPSection{}
	s.Reset()
	return s
}

func (s *GeoIPSection) ID() string    { return SectionIDGeoIP }
func (s *GeoIPSection) Title() string { return "Geolocation" }
func (s *GeoIPSection) Description() string {
	return "Where timezone, locale and coordinates for a profile's egress IP come from."
}

func (s *GeoIPSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"source":    s.Source,
		"url":       s.URL,
		"echo_url":  s.EchoURL,
		"mmdb_path": s.MMDBPath,
		"timeout":   s.Timeout.String(),
	}
}

func (s *GeoIPSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "source":
			s.Source, err = toString(key, value)
		case "url":
			s.URL, err = toString(key, value)
		case "echo_url":
			s.EchoURL, err = toString(key, value)
		case "mmdb_path":
			s.MMDBPath, err = toString(key, value)
		case "timeout":
			s.Timeout, err = toDuration(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *GeoIPSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.Source {
	case GeoSourceIPAPI, GeoSourceNone:
	case GeoSourceMaxMind, GeoSourceChain:
		if s.MMDBPath == "" {
			return fmt.Errorf("source %s requires mmdb_path", s.Source)
		}
	default:
		return fmt.Errorf("unknown geoip source %q", s.Source)
	}
	if s.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

func (s *GeoIPSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Source = GeoSourceIPAPI
	s.URL = ""
	s.EchoURL = ""
	s.MMDBPath = ""
	s.Timeout = 10 * time.Second
}
