package proc

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

const (
	SettingEnableDjs     = "enableDjs"
	SettingEnableAdverts = "enableAdverts"
)

// SettingInfo describes a toggle for the settings panel.
type SettingInfo struct {
	Key         string
	Name        string
	Description string
	Default     bool
}

var SettingsCatalog = []SettingInfo{
	{Key: SettingEnableDjs, Name: "DJs", Description: "Play DJ intros and outros around songs.", Default: true},
	{Key: SettingEnableAdverts, Name: "Adverts", Description: "Control station advertisements.", Default: true},
}

// Settings holds the per-session toggles. Unknown keys are rejected.
type Settings struct {
	mu       sync.RWMutex
	values   map[string]bool
	onChange []func(map[string]bool)
}

func NewSettings() *Settings {
	s := &Settings{values: make(map[string]bool, len(SettingsCatalog))}
	for _, info := range SettingsCatalog {
		s.values[info.Key] = info.Default
	}
	return s
}

func IsSettingKey(key string) bool {
	return slices.ContainsFunc(SettingsCatalog, func(i SettingInfo) bool { return i.Key == key })
}

func (s *Settings) Get(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *Settings) Set(key string, value bool) error {
	if !IsSettingKey(key) {
		return fmt.Errorf("%w: unknown setting %q", ErrInvalidRequest, key)
	}
	s.mu.Lock()
	if s.values[key] == value {
		s.mu.Unlock()
		return nil
	}
	s.values[key] = value
	snapshot := maps.Clone(s.values)
	callbacks := slices.Clone(s.onChange)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
	return nil
}

// SetAll applies every known key of values and ignores the rest.
func (s *Settings) SetAll(values map[string]bool) {
	s.mu.Lock()
	changed := false
	for k, v := range values {
		if IsSettingKey(k) && s.values[k] != v {
			s.values[k] = v
			changed = true
		}
	}
	snapshot := maps.Clone(s.values)
	callbacks := slices.Clone(s.onChange)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range callbacks {
		fn(snapshot)
	}
}

// load applies values without notifying listeners.
func (s *Settings) load(values map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		if IsSettingKey(k) {
			s.values[k] = v
		}
	}
}

func (s *Settings) All() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

func (s *Settings) OnChange(fn func(map[string]bool)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}
