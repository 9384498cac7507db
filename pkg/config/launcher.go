package config

import (
	"errors"
	"sync"
	"time"
)

const (
	// SectionIDLauncher is the identifier for the launcher section
	SectionIDLauncher = "launcher"

	defaultBatchLimit      = 3
	defaultShutdownTimeout = 15 * time.Second
)

// LauncherSection configures batch launches and process shutdown.
type LauncherSection struct {
	// BatchLimit caps concurrent launches in `veil run`.
	BatchLimit int
	// ShutdownTimeout bounds Cleanup at exit.
	ShutdownTimeout time.Duration
	// InstallDriver downloads the Playwright driver and Firefox on start.
	InstallDriver bool
	mu            sync.RWMutex
}

// NewLauncherSection creates a launcher section with default settings.
func NewLauncherSection() *LauncherSection {
	s := &LauncherSection{}
	s.Reset()
	return s
}

func (s *LauncherSection) ID() string    { return SectionIDLauncher }
func (s *LauncherSection) Title() string { return "Launcher" }
func (s *LauncherSection) Description() string {
	return "Batch launch concurrency and shutdown deadline."
}

func (s *LauncherSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"batch_limit":      s.BatchLimit,
		"shutdown_timeout": s.ShutdownTimeout.String(),
		"install_driver":   s.InstallDriver,
	}
}

func (s *LauncherSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "batch_limit":
			s.BatchLimit, err = toInt(key, value)
		case "shutdown_timeout":
			s.ShutdownTimeout, err = toDuration(key, value)
		case "install_driver":
			s.InstallDriver, err = toBool(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *LauncherSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.BatchLimit < 1 {
		return errors.New("batch_limit must be at least 1")
	}
	if s.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}

func (s *LauncherSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BatchLimit = defaultBatchLimit
	s.ShutdownTimeout = defaultShutdownTimeout
	s.InstallDriver = false
}
