// Package store is the versioned, atomic persistence layer for alarm
// configuration, runtime snapshots and global settings (spec.md §4.6).
// Writes are atomic replace-and-rename via google/renameio so a crash
// never leaves a partially-written envelope on disk (invariant I5).
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"alarmhost/internal/model"
)

// CurrentVersion is the envelope's current schema version.
const CurrentVersion = 2

// Envelope is the single versioned root object persisted per integration
// instance (spec.md §4.6, §6). Unknown keys round-trip unchanged via
// Extra, satisfying the forward-compatibility requirement.
type Envelope struct {
	Version       int                           `json:"version"`
	Alarms        map[string]model.Alarm        `json:"alarms"`
	RuntimeStates map[string]model.RuntimeState `json:"runtime_states"`
	Settings      model.GlobalSettings          `json:"settings"`
	Extra         map[string]json.RawMessage    `json:"-"`
}

// emptyEnvelope returns a fresh envelope at CurrentVersion.
func emptyEnvelope() Envelope {
	return Envelope{
		Version:       CurrentVersion,
		Alarms:        make(map[string]model.Alarm),
		RuntimeStates: make(map[string]model.RuntimeState),
		Settings:      model.DefaultGlobalSettings(),
	}
}

// Store is a file-backed, mutex-serialized Envelope with atomic writes.
type Store struct {
	path string
	mu   sync.Mutex
	env  Envelope
}

// Open loads path if it exists, migrating forward as needed, or starts
// from an empty envelope if it does not exist or is corrupt. A corrupt
// file is never treated as fatal (spec.md §4.4 step 1, §7 "Store-load
// failure at startup is not fatal"); the caller should log the returned
// error and continue with the (empty) in-memory Store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, env: emptyEnvelope()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}

	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return s, err
	}

	env, err := decodeAndMigrate(raw)
	if err != nil {
		return s, err
	}
	s.env = env
	return s, nil
}

// decodeAndMigrate unmarshals the envelope proper, preserves any key not
// in the known schema into Extra, and walks the migration chain from the
// stored version up to CurrentVersion.
func decodeAndMigrate(raw map[string]json.RawMessage) (Envelope, error) {
	env := emptyEnvelope()

	version := 1
	if v, ok := raw["version"]; ok {
		_ = json.Unmarshal(v, &version)
	}

	if v, ok := raw["alarms"]; ok {
		if err := json.Unmarshal(v, &env.Alarms); err != nil {
			return env, err
		}
	}
	if v, ok := raw["runtime_states"]; ok {
		if err := json.Unmarshal(v, &env.RuntimeStates); err != nil {
			return env, err
		}
	}
	if v, ok := raw["settings"]; ok {
		if err := json.Unmarshal(v, &env.Settings); err != nil {
			return env, err
		}
	}

	env.Extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		switch k {
		case "version", "alarms", "runtime_states", "settings":
		default:
			env.Extra[k] = v
		}
	}

	for from := version; from < CurrentVersion; from++ {
		migrate(&env, from)
	}
	env.Version = CurrentVersion
	return env, nil
}

// migrate applies the single-step migration from schema version `from` to
// `from+1`. Add a case per released version bump; never skip a step.
func migrate(env *Envelope, from int) {
	switch from {
	case 1:
		// v1 -> v2: settings.missed_alarm_action was introduced; default
		// unset values to TriggerAnyway (SPEC_FULL.md D.4).
		if env.Settings.MissedAlarmAction == "" {
			env.Settings.MissedAlarmAction = model.MissedTriggerAnyway
		}
	}
}

// marshal renders the envelope back to JSON, re-merging Extra so unknown
// keys from a newer schema survive a round trip untouched.
func (s *Store) marshal() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.env.Extra)+4)
	for k, v := range s.env.Extra {
		out[k] = v
	}

	version, err := json.Marshal(s.env.Version)
	if err != nil {
		return nil, err
	}
	alarms, err := json.Marshal(s.env.Alarms)
	if err != nil {
		return nil, err
	}
	runtimeStates, err := json.Marshal(s.env.RuntimeStates)
	if err != nil {
		return nil, err
	}
	settings, err := json.Marshal(s.env.Settings)
	if err != nil {
		return nil, err
	}
	out["version"] = version
	out["alarms"] = alarms
	out["runtime_states"] = runtimeStates
	out["settings"] = settings

	return json.MarshalIndent(out, "", "  ")
}

// save performs the atomic replace-and-rename write (invariant I5). Must
// be called with mu held.
func (s *Store) save() error {
	data, err := s.marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(s.path, data, 0o644)
}

// AddAlarm persists a new alarm and saves.
func (s *Store) AddAlarm(a model.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Alarms[a.ID] = a
	return s.save()
}

// UpdateAlarm persists changes to an existing alarm and saves.
func (s *Store) UpdateAlarm(a model.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Alarms[a.ID] = a
	return s.save()
}

// RemoveAlarm deletes an alarm and its runtime state, then saves.
// Satisfies P3: no trace of id survives in the store afterward.
func (s *Store) RemoveAlarm(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.env.Alarms, id)
	delete(s.env.RuntimeStates, id)
	return s.save()
}

// SaveRuntimeState persists rt for id and saves. Called on every
// transition into Snoozed, Ringing, Dismissed/AutoDismissed/Missed, and
// on shutdown — never on every tick (spec.md §4.6).
func (s *Store) SaveRuntimeState(id string, rt model.RuntimeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.RuntimeStates[id] = rt
	return s.save()
}

// UpdateSettings persists new GlobalSettings and saves.
func (s *Store) UpdateSettings(settings model.GlobalSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Settings = settings
	return s.save()
}

// AllAlarms returns a copy of every persisted alarm.
func (s *Store) AllAlarms() map[string]model.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.Alarm, len(s.env.Alarms))
	for k, v := range s.env.Alarms {
		out[k] = v
	}
	return out
}

// RuntimeState returns the persisted runtime state for id, if any.
func (s *Store) RuntimeState(id string) (model.RuntimeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.env.RuntimeStates[id]
	return rt, ok
}

// Settings returns the current GlobalSettings.
func (s *Store) Settings() model.GlobalSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.Settings
}
