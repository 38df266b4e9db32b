package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath points at the tuning defaults shipped with the binary.
// The hardcoded Get* fallbacks mirror this file; TestLoadDefaultConfigFile
// keeps the two in agreement.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for consolidation tuning.
// The schema matches the /api/config endpoint so the same JSON can be used
// for both startup configuration and runtime inspection. All fields are
// optional; the Get* accessors supply defaults for anything omitted.
type TuningConfig struct {
	// Collection budgets. Durations are strings like "100ms".
	CameraWait      *string `json:"camera_wait,omitempty"`
	WeatherWait     *string `json:"weather_wait,omitempty"`
	OverallDeadline *string `json:"overall_deadline,omitempty"`
	PollInterval    *string `json:"poll_interval,omitempty"`

	// Temporal match tolerances per source.
	CameraTolerance  *string `json:"camera_tolerance,omitempty"`
	WeatherTolerance *string `json:"weather_tolerance,omitempty"`

	// Correlation window retention.
	WindowMaxEntries *int    `json:"window_max_entries,omitempty"`
	WindowMaxAge     *string `json:"window_max_age,omitempty"`

	// Fusion params
	WeatherDisagreementC *float64 `json:"weather_disagreement_c,omitempty"`

	// Trigger params
	TriggerMinSpeed *float64 `json:"trigger_min_speed,omitempty"` // m/s

	// Weather polling
	WeatherPollInterval *string `json:"weather_poll_interval,omitempty"`
}

// Pointer constructors, for building configs in code and in tests.
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a config with every field nil, meaning every
// accessor falls back to its hardcoded default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig reads and validates a tuning file. The path must end in
// .json and the file must be under 1MB. Omitted fields stay nil, so a
// partial file overrides only what it names.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return nil, fmt.Errorf("tuning file must be .json, got %q", ext)
	}

	// Stat before reading so a runaway file is rejected without
	// pulling it into memory.
	const sizeCap = 1 << 20
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat tuning file: %w", err)
	}
	if info.Size() > sizeCap {
		return nil, fmt.Errorf("tuning file is %d bytes, cap is %d", info.Size(), sizeCap)
	}

	raw, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse tuning file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the shipped tuning defaults, walking up a few
// directory levels so tests in nested packages find the repo-root copy.
// Panics when the file is missing; only test setup should call this.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("tuning defaults not found at " + DefaultConfigPath + "; run from the repository root")
}

// validDuration checks that a duration string parses and is positive.
func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := []struct {
		name string
		val  *string
	}{
		{"camera_wait", c.CameraWait},
		{"weather_wait", c.WeatherWait},
		{"overall_deadline", c.OverallDeadline},
		{"poll_interval", c.PollInterval},
		{"camera_tolerance", c.CameraTolerance},
		{"weather_tolerance", c.WeatherTolerance},
		{"window_max_age", c.WindowMaxAge},
		{"weather_poll_interval", c.WeatherPollInterval},
	}
	for _, d := range durations {
		if err := validDuration(d.name, d.val); err != nil {
			return err
		}
	}

	if c.WindowMaxEntries != nil && *c.WindowMaxEntries <= 0 {
		return fmt.Errorf("window_max_entries must be positive, got %d", *c.WindowMaxEntries)
	}

	if c.WeatherDisagreementC != nil && *c.WeatherDisagreementC < 0 {
		return fmt.Errorf("weather_disagreement_c must be non-negative, got %f", *c.WeatherDisagreementC)
	}

	if c.TriggerMinSpeed != nil && *c.TriggerMinSpeed < 0 {
		return fmt.Errorf("trigger_min_speed must be non-negative, got %f", *c.TriggerMinSpeed)
	}

	// The poll interval is only useful if at least one wait exceeds it.
	if c.PollInterval != nil && c.OverallDeadline != nil {
		poll, errP := time.ParseDuration(*c.PollInterval)
		overall, errO := time.ParseDuration(*c.OverallDeadline)
		if errP == nil && errO == nil && poll > overall {
			return fmt.Errorf("poll_interval %s exceeds overall_deadline %s", *c.PollInterval, *c.OverallDeadline)
		}
	}

	return nil
}

// getDuration parses v and falls back to def when unset or unparseable.
func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetCameraWait returns the camera sub-deadline or the default.
func (c *TuningConfig) GetCameraWait() time.Duration {
	return getDuration(c.CameraWait, 100*time.Millisecond)
}

// GetWeatherWait returns the weather sub-deadline or the default.
func (c *TuningConfig) GetWeatherWait() time.Duration {
	return getDuration(c.WeatherWait, 100*time.Millisecond)
}

// GetOverallDeadline returns the hard trigger-to-emission cap or the default.
func (c *TuningConfig) GetOverallDeadline() time.Duration {
	return getDuration(c.OverallDeadline, 300*time.Millisecond)
}

// GetPollInterval returns the unresolved-source retry interval or the default.
func (c *TuningConfig) GetPollInterval() time.Duration {
	return getDuration(c.PollInterval, 20*time.Millisecond)
}

// GetCameraTolerance returns the camera temporal match tolerance or the default.
func (c *TuningConfig) GetCameraTolerance() time.Duration {
	return getDuration(c.CameraTolerance, time.Second)
}

// GetWeatherTolerance returns the weather temporal match tolerance or the default.
// Weather updates on a polling cadence, so the tolerance is generous.
func (c *TuningConfig) GetWeatherTolerance() time.Duration {
	return getDuration(c.WeatherTolerance, 120*time.Second)
}

// GetWindowMaxEntries returns the per-source window entry cap or the default.
func (c *TuningConfig) GetWindowMaxEntries() int {
	if c.WindowMaxEntries == nil {
		return 1024
	}
	return *c.WindowMaxEntries
}

// GetWindowMaxAge returns the per-source window retention age or the default.
func (c *TuningConfig) GetWindowMaxAge() time.Duration {
	return getDuration(c.WindowMaxAge, 60*time.Second)
}

// GetWeatherDisagreementC returns the disagreement threshold in degrees
// Celsius above which the two weather sources are annotated instead of
// trusted silently.
func (c *TuningConfig) GetWeatherDisagreementC() float64 {
	if c.WeatherDisagreementC == nil {
		return 3.0
	}
	return *c.WeatherDisagreementC
}

// GetTriggerMinSpeed returns the radar speed floor (m/s) below which a
// reading is recorded but does not trigger consolidation.
func (c *TuningConfig) GetTriggerMinSpeed() float64 {
	if c.TriggerMinSpeed == nil {
		return 1.0
	}
	return *c.TriggerMinSpeed
}

// GetWeatherPollInterval returns the provider fetch cadence or the default.
func (c *TuningConfig) GetWeatherPollInterval() time.Duration {
	return getDuration(c.WeatherPollInterval, 60*time.Second)
}
