package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// EnvPrefix starts every environment override: APP_<SECTION>_<KEY>.
const EnvPrefix = "APP_"

// Section is one named group of settings.
type Section interface {
	ID() string
	Title() string
	Description() string
	// Data returns the section's settings as plain values.
	Data() map[string]any
	// SetData applies the given keys. Unknown keys are ignored.
	SetData(data map[string]any) error
	Validate() error
	// Reset restores defaults.
	Reset()
}

// Manager owns the registered sections and moves their data to and from
// a Store.
type Manager struct {
	store    Store
	sections map[string]Section
	order    []string
	mu       sync.RWMutex
}

// NewManager creates a manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		sections: make(map[string]Section),
	}
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}

// RegisterSection adds a section. Ids must be unique.
func (m *Manager) RegisterSection(section Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := section.ID()
	if _, exists := m.sections[id]; exists {
		return fmt.Errorf("section %q already registered", id)
	}
	m.sections[id] = section
	m.order = append(m.order, id)
	return nil
}

// GetSection returns the section registered under id.
func (m *Manager) GetSection(id string) (Section, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sections[id]
	return s, ok
}

// GetSections returns all sections in registration order.
func (m *Manager) GetSections() []Section {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Section, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sections[id])
	}
	return out
}

// LoadAll reloads the store and pushes each section's stored data into it.
func (m *Manager) LoadAll() error {
	if err := m.store.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, section := range m.GetSections() {
		data, err := m.store.GetSection(section.ID())
		if err != nil {
			return fmt.Errorf("failed to read section %s: %w", section.ID(), err)
		}
		if err := section.SetData(data); err != nil {
			return fmt.Errorf("invalid config in section %s: %w", section.ID(), err)
		}
		if err := section.Validate(); err != nil {
			return fmt.Errorf("invalid config in section %s: %w", section.ID(), err)
		}
	}
	return nil
}

// SaveAll validates every section and writes it to the store.
func (m *Manager) SaveAll() error {
	sections := m.GetSections()

	var errs []error
	for _, section := range sections {
		if err := section.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("section %s: %w", section.ID(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, section := range sections {
		if err := m.store.SetSection(section.ID(), section.Data()); err != nil {
			return fmt.Errorf("failed to store section %s: %w", section.ID(), err)
		}
	}
	if err := m.store.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// ResetAll restores every section to its defaults.
func (m *Manager) ResetAll() {
	for _, section := range m.GetSections() {
		section.Reset()
	}
}

// ApplyEnv overrides section keys from APP_<SECTION>_<KEY> variables. The
// raw string is converted to the type the section currently reports for
// the key; list values are comma separated.
func (m *Manager) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, section := range m.GetSections() {
		overrides := make(map[string]any)
		for key, current := range section.Data() {
			name := EnvName(section.ID(), key)
			raw, ok := lookup(name)
			if !ok {
				continue
			}
			v, err := convertEnv(raw, current)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			overrides[key] = v
		}
		if len(overrides) == 0 {
			continue
		}
		if err := section.SetData(overrides); err != nil {
			return fmt.Errorf("invalid environment override for section %s: %w", section.ID(), err)
		}
		if err := section.Validate(); err != nil {
			return fmt.Errorf("invalid environment override for section %s: %w", section.ID(), err)
		}
	}
	return nil
}

// EnvName returns the override variable for a section key.
func EnvName(sectionID, key string) string {
	return EnvPrefix + strings.ToUpper(sectionID) + "_" + strings.ToUpper(key)
}

func convertEnv(raw string, current any) (any, error) {
	raw = strings.TrimSpace(raw)
	switch current.(type) {
	case bool:
		return strconv.ParseBool(raw)
	case int:
		return strconv.Atoi(raw)
	case float64:
		return strconv.ParseFloat(raw, 64)
	case []string:
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return raw, nil
	}
}
