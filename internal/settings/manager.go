// Package settings reconciles an extension's persisted settings with its
// current defaults, either by deep backfill or by an ordered migration chain.
package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/kayz/tavernkit/internal/logger"
)

// VersionDelta describes how one version field moved during initialization.
type VersionDelta struct {
	Changed bool
	Old     *string
	New     string
}

// InitResult reports what InitializeSettings changed. OldSettings is nil when
// the blob was created from defaults.
type InitResult struct {
	Version       VersionDelta
	FormatVersion VersionDelta
	OldSettings   Blob
	NewSettings   Blob
}

// InitOptions configures InitializeSettings. A nil Strategy means Recursive.
type InitOptions struct {
	Strategy Strategy
}

// Manager owns the settings blob stored under one key.
type Manager struct {
	key      string
	defaults Blob
	store    Store
	mu       sync.Mutex
}

// NewManager creates a Manager. defaults is copied and never mutated.
func NewManager(key string, defaults Blob, store Store) *Manager {
	return &Manager{
		key:      key,
		defaults: Clone(defaults),
		store:    store,
	}
}

func (m *Manager) Key() string {
	return m.key
}

// Defaults returns a copy of the default settings.
func (m *Manager) Defaults() Blob {
	return Clone(m.defaults)
}

// InitializeSettings reconciles the stored blob with the defaults and persists
// at most once.
func (m *Manager) InitializeSettings(ctx context.Context, opts InitOptions) (InitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defaultVersion, _ := stringField(m.defaults, versionField)
	defaultFormat, _ := stringField(m.defaults, formatVersionField)

	current, ok := m.store.Get(m.key)
	if !ok || current == nil {
		created := Clone(m.defaults)
		m.store.Set(m.key, created)
		if err := m.store.Persist(); err != nil {
			return InitResult{}, fmt.Errorf("persist settings %s: %w", m.key, err)
		}
		logger.Info("Created settings for %s from defaults", m.key)
		return InitResult{
			Version:       VersionDelta{New: deref(defaultVersion)},
			FormatVersion: VersionDelta{New: deref(defaultFormat)},
			NewSettings:   created,
		}, nil
	}

	oldSettings := Clone(current)
	oldVersion, _ := stringField(current, versionField)
	oldFormat, _ := stringField(current, formatVersionField)

	switch s := opts.Strategy.(type) {
	case nil, Recursive:
		changed := m.reconcile(current, defaultVersion, defaultFormat)
		if changed {
			m.store.Set(m.key, current)
			if err := m.store.Persist(); err != nil {
				return InitResult{}, fmt.Errorf("persist settings %s: %w", m.key, err)
			}
			logger.Debug("Backfilled settings for %s", m.key)
		}
		newVersion, _ := stringField(current, versionField)
		newFormat, _ := stringField(current, formatVersionField)
		return InitResult{
			Version:       delta(oldVersion, newVersion),
			FormatVersion: delta(oldFormat, newFormat),
			OldSettings:   oldSettings,
			NewSettings:   current,
		}, nil

	case Chain:
		initial := chainState{settings: Clone(current)}
		workingVersion := oldVersion
		if workingVersion == nil {
			workingVersion = defaultVersion
		}
		if oldFormat != nil {
			initial.formatVersion = *oldFormat
		} else if defaultFormat != nil {
			initial.formatVersion = *defaultFormat
		}
		if workingVersion != nil {
			initial.settings[versionField] = *workingVersion
		}
		if initial.formatVersion != "" {
			initial.settings[formatVersionField] = initial.formatVersion
		}

		final, err := s.fold(ctx, m.key, initial, defaultVersion)
		if err != nil {
			logger.Error("Settings migration for %s failed: %v", m.key, err)
			return InitResult{}, err
		}

		if final.fired {
			replaceKeys(current, final.settings)
			m.store.Set(m.key, current)
			if err := m.store.Persist(); err != nil {
				return InitResult{}, fmt.Errorf("persist settings %s: %w", m.key, err)
			}
			logger.Info("Migrated settings for %s to format %s", m.key, final.formatVersion)
		}

		// seeds that were never written are not reported
		newVersion, _ := stringField(current, versionField)
		newFormat, _ := stringField(current, formatVersionField)
		return InitResult{
			Version:       delta(oldVersion, newVersion),
			FormatVersion: delta(oldFormat, newFormat),
			OldSettings:   oldSettings,
			NewSettings:   current,
		}, nil

	default:
		return InitResult{}, fmt.Errorf("unknown settings strategy %T", opts.Strategy)
	}
}

// reconcile applies the recursive strategy in place and reports whether
// anything changed.
func (m *Manager) reconcile(target Blob, defaultVersion, defaultFormat *string) bool {
	changed := false
	if defaultVersion != nil {
		if cur, ok := stringField(target, versionField); !ok || *cur != *defaultVersion {
			target[versionField] = *defaultVersion
			changed = true
		}
	}
	if defaultFormat != nil && *defaultFormat != AnyVersion {
		if cur, ok := stringField(target, formatVersionField); !ok || *cur != *defaultFormat {
			target[formatVersionField] = *defaultFormat
			changed = true
		}
	}
	if backfill(target, m.defaults) {
		changed = true
	}
	return changed
}

// backfill copies every key of defaults missing from target. Defined keys are
// never overwritten and extra keys are never removed.
func backfill(target, defaults Blob) bool {
	changed := false
	for key, def := range defaults {
		cur, ok := target[key]
		if !ok {
			target[key] = cloneValue(def)
			changed = true
			continue
		}
		defMap, isMap := def.(map[string]any)
		if !isMap {
			continue
		}
		curMap, curIsMap := cur.(map[string]any)
		if !curIsMap {
			if cur != nil {
				continue
			}
			curMap = map[string]any{}
			target[key] = curMap
			changed = true
		}
		if backfill(curMap, defMap) {
			changed = true
		}
	}
	return changed
}

// GetSettings returns the live stored blob, or nil before initialization.
func (m *Manager) GetSettings() Blob {
	b, _ := m.store.Get(m.key)
	return b
}

// UpdateSetting writes one top-level field and persists.
func (m *Manager) UpdateSetting(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.store.Get(m.key)
	if !ok || b == nil {
		return ErrNotInitialized
	}
	b[key] = value
	m.store.Set(m.key, b)
	return m.persist()
}

// SaveSettings persists the current blob as is.
func (m *Manager) SaveSettings() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.store.Get(m.key); ok {
		m.store.Set(m.key, b)
	}
	return m.persist()
}

// ResetSettings replaces the blob with a copy of the defaults and persists.
func (m *Manager) ResetSettings() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.Set(m.key, Clone(m.defaults))
	return m.persist()
}

func (m *Manager) persist() error {
	if err := m.store.Persist(); err != nil {
		return fmt.Errorf("persist settings %s: %w", m.key, err)
	}
	return nil
}

// replaceKeys makes dst hold exactly the keys of src.
func replaceKeys(dst, src Blob) {
	for k := range dst {
		if _, ok := src[k]; !ok {
			delete(dst, k)
		}
	}
	for k, v := range src {
		dst[k] = v
	}
}

func stringField(b Blob, key string) (*string, bool) {
	v, ok := b[key]
	if !ok || v == nil {
		return nil, false
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return &s, true
}

func delta(old, new *string) VersionDelta {
	d := VersionDelta{Old: old}
	if new != nil {
		d.New = *new
	}
	switch {
	case old == nil:
		d.Changed = new != nil
	case new == nil:
		d.Changed = true
	default:
		d.Changed = *old != *new
	}
	return d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
