package launchcfg

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrMalformed is returned when the reassembled slots are not a JSON
// object. It means the transport was truncated or split incorrectly.
var ErrMalformed = errors.New("launchcfg: malformed config transport")

// volatileGeometry lists attributes the engine must resolve from the real
// window at runtime. Replaying stored values pins the window size.
var volatileGeometry = map[string]struct{}{
	"window.outerWidth":          {},
	"window.outerHeight":         {},
	"window.innerWidth":          {},
	"window.innerHeight":         {},
	"window.screenX":             {},
	"window.screenY":             {},
	"screen.width":               {},
	"screen.height":              {},
	"screen.availWidth":          {},
	"screen.availHeight":         {},
	"screen.availTop":            {},
	"screen.availLeft":           {},
	"screen.colorDepth":          {},
	"screen.pixelDepth":          {},
	"document.body.clientWidth":  {},
	"document.body.clientHeight": {},
}

// ExcludedKeys returns the geometry exclusion set, sorted.
func ExcludedKeys() []string {
	return slices.Sorted(maps.Keys(volatileGeometry))
}

// IsExcluded reports whether key belongs to the geometry exclusion set.
func IsExcluded(key string) bool {
	_, ok := volatileGeometry[key]
	return ok
}

// StripKeys deletes geometry keys from cfg and returns the removed keys,
// sorted.
func StripKeys(cfg map[string]any) []string {
	var removed []string
	for k := range cfg {
		if IsExcluded(k) {
			removed = append(removed, k)
		}
	}
	for _, k := range removed {
		delete(cfg, k)
	}
	slices.Sort(removed)
	return removed
}

// StripVolatileGeometry reassembles the config transport in env, removes
// every geometry key and re-splits the result into fresh slots. The
// payload is edited in place, so content without excluded keys comes
// back byte-identical. Non-slot variables are preserved. The input map is
// not modified. An env without slots is returned unchanged.
func StripVolatileGeometry(env map[string]string, chunkSize int) (map[string]string, []string, error) {
	payload, n := Join(env)
	if n == 0 {
		return env, nil, nil
	}
	if !gjson.Valid(payload) || !gjson.Parse(payload).IsObject() {
		return nil, nil, fmt.Errorf("%w: %d slots, %d bytes", ErrMalformed, n, len(payload))
	}

	var removed []string
	for _, key := range ExcludedKeys() {
		path := escapePath(key)
		found := false
		// Duplicate keys are legal JSON; remove every occurrence.
		for gjson.Get(payload, path).Exists() {
			next, err := sjson.Delete(payload, path)
			if err != nil {
				return nil, nil, fmt.Errorf("launchcfg: delete %s: %w", key, err)
			}
			if next == payload {
				break
			}
			payload = next
			found = true
		}
		if found {
			removed = append(removed, key)
		}
	}

	out := maps.Clone(env)
	clearSlots(out)
	for i, chunk := range Split(payload, chunkSize) {
		out[SlotName(i+1)] = chunk
	}
	return out, removed, nil
}

// escapePath turns a literal key into a gjson/sjson path that matches it
// as one top-level member.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
