// Package config provides core runtime configuration - NO infrastructure URLs.
//
// This module contains ONLY configuration relevant to dispatch and
// analysis behavior:
//   - Input limits
//   - Analysis thresholds
//   - Timeouts
//
// Infrastructure configuration (database paths, model endpoints, API
// keys) belongs to the binaries that own those connections.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// CoreConfig holds core runtime configuration.
//
// This configuration is infrastructure-agnostic and applies regardless
// of which delegate or store backs a unit.
type CoreConfig struct {
	// Input Limits
	MaxTextLength int `json:"max_text_length" yaml:"max_text_length"`

	// Analysis Defaults
	DefaultLanguage string `json:"default_language" yaml:"default_language"`

	// Complexity Thresholds (Flesch-Kincaid grade)
	SimpleGradeMax   float64 `json:"simple_grade_max" yaml:"simple_grade_max"`     // at or below: simple text
	ModerateGradeMax float64 `json:"moderate_grade_max" yaml:"moderate_grade_max"` // at or below: moderate text

	// Timeouts (seconds)
	DelegateTimeout int `json:"delegate_timeout" yaml:"delegate_timeout"`

	// Dialog
	DialogHistoryLimit int `json:"dialog_history_limit" yaml:"dialog_history_limit"`

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultCoreConfig returns a CoreConfig with default values.
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		// Input Limits
		MaxTextLength: 100000,

		// Analysis Defaults
		DefaultLanguage: "en",

		// Complexity Thresholds
		SimpleGradeMax:   8.0,
		ModerateGradeMax: 12.0,

		// Timeouts (seconds)
		DelegateTimeout: 30,

		// Dialog
		DialogHistoryLimit: 1000,

		// Logging
		LogLevel: "INFO",
	}
}

// Validate checks cross-field constraints.
func (c *CoreConfig) Validate() error {
	if c.MaxTextLength <= 0 {
		return fmt.Errorf("max_text_length must be positive, got %d", c.MaxTextLength)
	}
	if c.SimpleGradeMax <= 0 || c.ModerateGradeMax <= 0 {
		return fmt.Errorf("complexity thresholds must be positive")
	}
	if c.SimpleGradeMax >= c.ModerateGradeMax {
		return fmt.Errorf("simple_grade_max (%.1f) must be below moderate_grade_max (%.1f)",
			c.SimpleGradeMax, c.ModerateGradeMax)
	}
	if c.DelegateTimeout <= 0 {
		return fmt.Errorf("delegate_timeout must be positive, got %d", c.DelegateTimeout)
	}
	if c.DialogHistoryLimit <= 0 {
		return fmt.Errorf("dialog_history_limit must be positive, got %d", c.DialogHistoryLimit)
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log_level '%s'. Must be one of: DEBUG, INFO, WARN, ERROR", c.LogLevel)
	}
	return nil
}

// CoreConfigFromMap creates CoreConfig from a map.
// Unknown keys are ignored.
func CoreConfigFromMap(config map[string]any) *CoreConfig {
	c := DefaultCoreConfig()

	if v, ok := config["max_text_length"].(int); ok {
		c.MaxTextLength = v
	} else if v, ok := config["max_text_length"].(float64); ok {
		c.MaxTextLength = int(v)
	}
	if v, ok := config["default_language"].(string); ok {
		c.DefaultLanguage = v
	}
	if v, ok := config["simple_grade_max"].(float64); ok {
		c.SimpleGradeMax = v
	} else if v, ok := config["simple_grade_max"].(int); ok {
		c.SimpleGradeMax = float64(v)
	}
	if v, ok := config["moderate_grade_max"].(float64); ok {
		c.ModerateGradeMax = v
	} else if v, ok := config["moderate_grade_max"].(int); ok {
		c.ModerateGradeMax = float64(v)
	}
	if v, ok := config["delegate_timeout"].(int); ok {
		c.DelegateTimeout = v
	} else if v, ok := config["delegate_timeout"].(float64); ok {
		c.DelegateTimeout = int(v)
	}
	if v, ok := config["dialog_history_limit"].(int); ok {
		c.DialogHistoryLimit = v
	} else if v, ok := config["dialog_history_limit"].(float64); ok {
		c.DialogHistoryLimit = int(v)
	}
	if v, ok := config["log_level"].(string); ok {
		c.LogLevel = v
	}

	return c
}

// ToMap converts config to a map.
func (c *CoreConfig) ToMap() map[string]any {
	return map[string]any{
		"max_text_length":      c.MaxTextLength,
		"default_language":     c.DefaultLanguage,
		"simple_grade_max":     c.SimpleGradeMax,
		"moderate_grade_max":   c.ModerateGradeMax,
		"delegate_timeout":     c.DelegateTimeout,
		"dialog_history_limit": c.DialogHistoryLimit,
		"log_level":            c.LogLevel,
	}
}

// LoadFile reads a YAML config file over the defaults and validates
// the result. Keys absent from the file keep their default values.
func LoadFile(path string) (*CoreConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	c := DefaultCoreConfig()
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return c, nil
}

// =============================================================================
// GLOBAL CONFIG (set by binary bootstrap)
// =============================================================================

var (
	globalCoreConfig *CoreConfig
	configMu         sync.RWMutex
)

// GetCoreConfig gets the core configuration instance.
// Returns the injected config or defaults.
func GetCoreConfig() *CoreConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalCoreConfig == nil {
		return DefaultCoreConfig()
	}
	return globalCoreConfig
}

// SetCoreConfig sets the core configuration instance.
// Called by binary bootstrap after parsing flags and files.
func SetCoreConfig(config *CoreConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalCoreConfig = config
}

// ResetCoreConfig resets core config to nil (useful for testing).
// After reset, GetCoreConfig() will return defaults.
func ResetCoreConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalCoreConfig = nil
}
