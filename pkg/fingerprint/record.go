package fingerprint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/entrhq/veil/pkg/types"
)

// RecordFile is the record's file name inside a profile directory.
const RecordFile = "fingerprint.json"

var (
	// ErrNoRecord is returned by Load when the profile has no record.
	ErrNoRecord = errors.New("fingerprint: no record")
	// ErrCorrupt is returned by Load when the record exists but cannot be
	// used. Resolve treats it like ErrNoRecord.
	ErrCorrupt = errors.New("fingerprint: corrupt record")
)

// WebGL is the GPU signature reported through WebGL.
type WebGL struct {
	Vendor   string `json:"vendor"`
	Renderer string `json:"renderer"`
}

// CanvasNoise is the pinned canvas anti-aliasing offset.
type CanvasNoise struct {
	AAOffset int `json:"aaOffset"`
}

// FontNoise is the pinned font spacing seed.
type FontNoise struct {
	SpacingSeed int `json:"spacing_seed"`
}

// Record is the persisted fingerprint of one profile. Everything except
// the refreshable geo keys inside Fingerprint is identity and never
// changes once written.
type Record struct {
	Fingerprint   map[string]any `json:"fingerprint"`
	WebGL         WebGL          `json:"webgl"`
	Canvas        *CanvasNoise   `json:"canvas,omitempty"`
	Fonts         *FontNoise     `json:"fonts,omitempty"`
	HistoryLength *int           `json:"history_length,omitempty"`
	OS            types.OSType   `json:"os"`
}

// readRecord loads and validates path. Numbers inside the attribute map
// are kept as json.Number so they are written back as they were read.
func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("read fingerprint record: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	if rec.Fingerprint == nil {
		return nil, fmt.Errorf("%w: %s: missing fingerprint map", ErrCorrupt, path)
	}
	// Without a pinned GPU pair the engine would draw a new one per launch.
	if rec.WebGL.Vendor == "" || rec.WebGL.Renderer == "" {
		return nil, fmt.Errorf("%w: %s: missing webgl vendor or renderer", ErrCorrupt, path)
	}
	return &rec, nil
}

// writeRecord saves rec atomically.
func writeRecord(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fingerprint record: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, RecordFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp record: %w", err)
	}
	return nil
}

func removeRecord(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove fingerprint record: %w", err)
	}
	return nil
}
