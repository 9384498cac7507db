package config

import (
	"fmt"
	"strings"
	"sync"
)

// SectionIDLogging is the identifier for the logging section
const SectionIDLogging = "logging"

// LoggingSection configures the file logger.
type LoggingSection struct {
	Level string
	// Directory overrides <data-dir>/logs.
	Directory string
	mu        sync.RWMutex
}

// NewLoggingSection creates a logging section with default settings.
func NewLoggingSection() *LoggingSection {
	s := &LoggingSection{}
	s.Reset()
	return s
}

func (s *LoggingSection) ID() string          { return SectionIDLogging }
func (s *LoggingSection) Title() string       { return "Logging" }
func (s *LoggingSection) Description() string { return "Minimum log level and log directory." }

func (s *LoggingSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"level":     s.Level,
		"directory": s.Directory,
	}
}

func (s *LoggingSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "level":
			s.Level, err = toString(key, value)
			s.Level = strings.ToLower(s.Level)
		case "directory":
			s.Directory, err = toString(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *LoggingSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %q", s.Level)
}

func (s *LoggingSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Level = "info"
	s.Directory = ""
}
