// Package config holds the recognized configuration keys of spec.md §6,
// loaded either from a semicolon-separated startup string or a TOML
// properties file (github.com/BurntSushi/toml), matching
// original_source/system.cpp's two option-loading entry points. The same
// TOML encoder round-trips the live set back out for the `lsp -s<file>`
// command verb.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ProfilerMode is the ProfilerMode key's closed value set.
type ProfilerMode string

const (
	ModeProfile ProfilerMode = "Profile"
	ModeTrigger ProfilerMode = "Trigger"
	ModeJarm    ProfilerMode = "Jarm"
	ModeAts     ProfilerMode = "Ats"
)

// ExecutionTimer is the ExecutionTimer key's closed value set.
type ExecutionTimer string

const (
	TimerMethod ExecutionTimer = "Method"
	TimerHPC    ExecutionTimer = "HPC"
)

// Values is the recognized key set of spec.md §6, in TOML-tagged struct
// form so it loads and round-trips through github.com/BurntSushi/toml
// without a hand-written key table.
type Values struct {
	Port               int            `toml:"Port"`
	Password           string         `toml:"Password"`
	ProfilerMode       ProfilerMode   `toml:"ProfilerMode"`
	MonitorOn          bool           `toml:"MonitorOn"`
	MonitorMemoryOn    bool           `toml:"MonitorMemoryOn"`
	MonitorScope       string         `toml:"MonitorScope"`
	MonitorPackage     []string       `toml:"MonitorPackage"`
	DontMonitorPackage []string       `toml:"DontMonitorPackage"`
	MonitorVisible     bool           `toml:"MonitorVisible"`
	ExecutionTimer     ExecutionTimer `toml:"ExecutionTimer"`
	MonitorTimer       bool           `toml:"MonitorTimer"`
	MonitorMethodEntry bool           `toml:"MonitorMethodEntry"`
	MonitorDebugEntry  bool           `toml:"MonitorDebugEntry"`
	TriggerMethod      string         `toml:"TriggerMethod"`
	Tracer             []string       `toml:"Tracer"`
	LogFile            string         `toml:"LogFile"`
	DumpOnExit         bool           `toml:"DumpOnExit"`
	Limit              Limit          `toml:"Limit"`
	MinMemorySize      int64          `toml:"MinMemorySize"`
	HistoryAlert       int            `toml:"HistoryAlert"`
}

// Limit groups the dotted "Limit.IO" key (spec.md §6) as a nested TOML
// table, since BurntSushi/toml resolves a dotted key as table nesting
// rather than a literal struct-tag name.
type Limit struct {
	IO int `toml:"IO"`
}

// Default returns the zero-value-safe defaults used when no startup
// string or file supplies a key.
func Default() Values {
	return Values{
		Port:           9000,
		ProfilerMode:   ModeProfile,
		ExecutionTimer: TimerMethod,
		Limit:          Limit{IO: 4096},
	}
}

// Store owns the live configuration set, guarded for concurrent reads
// from the shell/command threads against writes from `set key=value`.
type Store struct {
	mu     sync.RWMutex
	values Values
}

// New constructs a Store seeded with Default().
func New() *Store {
	return &Store{values: Default()}
}

// Snapshot returns a copy of the current values.
func (s *Store) Snapshot() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values
}

// Replace overwrites the entire set, used by file loads and `reset -s`.
func (s *Store) Replace(v Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = v
}

// LoadFile reads and applies a TOML properties file, matching
// original_source/system.cpp's file-based option loader.
func (s *Store) LoadFile(path string) error {
	var v Values
	if _, err := toml.DecodeFile(path, &v); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	s.Replace(v)
	return nil
}

// LoadStartupString parses a semicolon-separated "Key=Value;Key=Value"
// agent startup string (spec.md §6), applying each recognized key onto
// a copy of the store's current values and replacing them with the
// result, so keys the string does not name keep their current values.
func (s *Store) LoadStartupString(startup string) error {
	v := s.Snapshot()
	for _, field := range strings.Split(startup, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return fmt.Errorf("config: malformed startup field %q", field)
		}
		if err := setField(&v, strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	s.Replace(v)
	return nil
}

// Set updates a single recognized key, used by the `set key=value`
// command verb. Unrecognized keys return an error and leave the store
// unchanged (spec.md §4.9: "Unknown verbs return an error event and
// leave state unchanged" applies equally to unknown keys).
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setField(&s.values, key, value)
}

// WriteFile encodes the current values as a TOML properties file at
// path, the `lsp -s<file>` command verb's round-trip write.
func (s *Store) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s.Snapshot()); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func setField(v *Values, key, value string) error {
	switch key {
	case "Port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: Port: %w", err)
		}
		v.Port = n
	case "Password":
		v.Password = value
	case "ProfilerMode":
		switch ProfilerMode(value) {
		case ModeProfile, ModeTrigger, ModeJarm, ModeAts:
			v.ProfilerMode = ProfilerMode(value)
		default:
			return fmt.Errorf("config: ProfilerMode: unrecognized value %q", value)
		}
	case "MonitorOn":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: MonitorOn: %w", err)
		}
		v.MonitorOn = b
	case "MonitorMemoryOn":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: MonitorMemoryOn: %w", err)
		}
		v.MonitorMemoryOn = b
	case "MonitorScope":
		v.MonitorScope = value
	case "MonitorPackage":
		v.MonitorPackage = splitList(value)
	case "DontMonitorPackage":
		v.DontMonitorPackage = splitList(value)
	case "MonitorVisible":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: MonitorVisible: %w", err)
		}
		v.MonitorVisible = b
	case "ExecutionTimer":
		switch ExecutionTimer(value) {
		case TimerMethod, TimerHPC:
			v.ExecutionTimer = ExecutionTimer(value)
		default:
			return fmt.Errorf("config: ExecutionTimer: unrecognized value %q", value)
		}
	case "MonitorTimer":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: MonitorTimer: %w", err)
		}
		v.MonitorTimer = b
	case "MonitorMethodEntry":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: MonitorMethodEntry: %w", err)
		}
		v.MonitorMethodEntry = b
	case "MonitorDebugEntry":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: MonitorDebugEntry: %w", err)
		}
		v.MonitorDebugEntry = b
	case "TriggerMethod":
		v.TriggerMethod = value
	case "Tracer":
		v.Tracer = splitList(value)
	case "LogFile":
		v.LogFile = value
	case "DumpOnExit":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: DumpOnExit: %w", err)
		}
		v.DumpOnExit = b
	case "Limit.IO":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: Limit.IO: %w", err)
		}
		v.Limit.IO = n
	case "MinMemorySize":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MinMemorySize: %w", err)
		}
		v.MinMemorySize = n
	case "HistoryAlert":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: HistoryAlert: %w", err)
		}
		v.HistoryAlert = n
	default:
		return fmt.Errorf("config: unrecognized key %q", key)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
