package types

import (
	"strings"
	"time"
)

// OSType is the operating system a profile's fingerprint imitates.
type OSType string

const (
	OSWindows OSType = "windows" // OSWindows generates Windows navigator and GPU attributes.
	OSMacOS   OSType = "macos"   // OSMacOS generates macOS navigator and GPU attributes.
	OSLinux   OSType = "linux"   // OSLinux generates Linux navigator and GPU attributes.
)

// DefaultOS is used when a profile does not name an OS.
const DefaultOS = OSWindows

// Valid reports whether o is one of the supported OS values.
func (o OSType) Valid() bool {
	switch o {
	case OSWindows, OSMacOS, OSLinux:
		return true
	}
	return false
}

// OrDefault returns o, or DefaultOS when o is empty.
func (o OSType) OrDefault() OSType {
	if o == "" {
		return DefaultOS
	}
	return o
}

// ParseOS parses a user supplied OS name. Common aliases are accepted.
func ParseOS(s string) (OSType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "windows", "win":
		return OSWindows, true
	case "macos", "mac", "darwin", "osx":
		return OSMacOS, true
	case "linux", "lin":
		return OSLinux, true
	}
	return "", false
}

// Profile is a browser profile as seen by the session supervisor.
// The metadata store owns it; the supervisor only reads ID, OSType and Proxy.
type Profile struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	OSType    OSType      `json:"os_type"`
	Proxy     ProxyConfig `json:"proxy"`
	Status    Status      `json:"status"`
	Notes     string      `json:"notes,omitempty"`
	Tags      []string    `json:"tags,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	LastUsed  *time.Time  `json:"last_used,omitempty"`
}

// GeoIPInfo is the result of one egress IP resolution. Timezone and
// coordinates always come from the same lookup.
type GeoIPInfo struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country,omitempty"`
	Timezone    string  `json:"timezone"`
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// NewGeoIPInfo builds a GeoIPInfo, filling unknown country and timezone
// with "XX" and "UTC".
func NewGeoIPInfo(ip, countryCode, timezone string, lat, lon float64) *GeoIPInfo {
	cc := strings.ToUpper(strings.TrimSpace(countryCode))
	if cc == "" {
		cc = "XX"
	}
	if timezone == "" {
		timezone = "UTC"
	}
	return &GeoIPInfo{
		IP:          ip,
		CountryCode: cc,
		Timezone:    timezone,
		Lat:         lat,
		Lon:         lon,
	}
}

// HasCoordinates reports whether the lookup produced a usable position.
func (g *GeoIPInfo) HasCoordinates() bool {
	return g != nil && (g.Lat != 0 || g.Lon != 0)
}
