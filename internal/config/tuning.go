package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Tuning represents the root configuration for engine tuning parameters.
// All fields are optional pointers so that a partial JSON file only
// overrides the values it names; the Get* methods supply defaults for
// everything else.
type Tuning struct {
	// Binarization params (square/barcode/multimarker detection)
	ThresholdMode  *string `json:"threshold_mode,omitempty"`  // manual, median, otsu, adaptive, bracketing
	ThresholdValue *int    `json:"threshold_value,omitempty"` // manual threshold and adaptive/bracketing seed (0-255)
	BracketingStep *int    `json:"bracketing_step,omitempty"` // candidate spacing for the bracketing sweep

	// Pose filter defaults, applied to trackables that enable filtering
	// without overriding rates themselves.
	FilterSampleRate *float64 `json:"filter_sample_rate,omitempty"` // Hz
	FilterCutoffFreq *float64 `json:"filter_cutoff_freq,omitempty"` // Hz

	// Planar image tracking params
	TwoDMaxTracked          *int  `json:"twod_max_tracked,omitempty"`
	TwoDBackgroundDetection *bool `json:"twod_background_detection,omitempty"`

	// Template matching allocation params
	PatternSize     *int `json:"pattern_size,omitempty"`      // template edge length in samples
	PatternCountMax *int `json:"pattern_count_max,omitempty"` // template buffer slots allocated at init
}

// Defaults for all tuning parameters.
const (
	DefaultThresholdMode    = "manual"
	DefaultThresholdValue   = 100
	DefaultBracketingStep   = 8
	DefaultFilterSampleRate = 30.0
	DefaultFilterCutoffFreq = 15.0
	DefaultTwoDMaxTracked   = 2
	DefaultPatternSize      = 16
	DefaultPatternCountMax  = 25
)

// validThresholdModes enumerates the accepted threshold_mode values.
var validThresholdModes = map[string]bool{
	"manual":     true,
	"median":     true,
	"otsu":       true,
	"adaptive":   true,
	"bracketing": true,
}

// Empty returns a Tuning with all fields unset.
func Empty() *Tuning {
	return &Tuning{}
}

// Load reads a Tuning from a JSON file. Fields omitted from the file retain
// their defaults, so partial configs are safe.
func Load(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all set fields carry usable values.
func (c *Tuning) Validate() error {
	if c.ThresholdMode != nil && !validThresholdModes[*c.ThresholdMode] {
		return fmt.Errorf("unknown threshold_mode %q", *c.ThresholdMode)
	}
	if c.ThresholdValue != nil && (*c.ThresholdValue < 0 || *c.ThresholdValue > 255) {
		return fmt.Errorf("threshold_value %d out of range [0,255]", *c.ThresholdValue)
	}
	if c.BracketingStep != nil && *c.BracketingStep <= 0 {
		return fmt.Errorf("bracketing_step must be positive, got %d", *c.BracketingStep)
	}
	if c.FilterSampleRate != nil && *c.FilterSampleRate <= 0 {
		return fmt.Errorf("filter_sample_rate must be positive, got %v", *c.FilterSampleRate)
	}
	if c.FilterCutoffFreq != nil && *c.FilterCutoffFreq <= 0 {
		return fmt.Errorf("filter_cutoff_freq must be positive, got %v", *c.FilterCutoffFreq)
	}
	if c.TwoDMaxTracked != nil && *c.TwoDMaxTracked < 0 {
		return fmt.Errorf("twod_max_tracked must be non-negative, got %d", *c.TwoDMaxTracked)
	}
	if c.PatternSize != nil && *c.PatternSize <= 0 {
		return fmt.Errorf("pattern_size must be positive, got %d", *c.PatternSize)
	}
	if c.PatternCountMax != nil && *c.PatternCountMax <= 0 {
		return fmt.Errorf("pattern_count_max must be positive, got %d", *c.PatternCountMax)
	}
	return nil
}

// GetThresholdMode returns the configured threshold mode or the default.
func (c *Tuning) GetThresholdMode() string {
	if c != nil && c.ThresholdMode != nil {
		return *c.ThresholdMode
	}
	return DefaultThresholdMode
}

// GetThresholdValue returns the configured manual threshold or the default.
func (c *Tuning) GetThresholdValue() int {
	if c != nil && c.ThresholdValue != nil {
		return *c.ThresholdValue
	}
	return DefaultThresholdValue
}

// GetBracketingStep returns the configured bracketing step or the default.
func (c *Tuning) GetBracketingStep() int {
	if c != nil && c.BracketingStep != nil {
		return *c.BracketingStep
	}
	return DefaultBracketingStep
}

// GetFilterSampleRate returns the configured filter sample rate or the default.
func (c *Tuning) GetFilterSampleRate() float64 {
	if c != nil && c.FilterSampleRate != nil {
		return *c.FilterSampleRate
	}
	return DefaultFilterSampleRate
}

// GetFilterCutoffFreq returns the configured filter cutoff frequency or the default.
func (c *Tuning) GetFilterCutoffFreq() float64 {
	if c != nil && c.FilterCutoffFreq != nil {
		return *c.FilterCutoffFreq
	}
	return DefaultFilterCutoffFreq
}

// GetTwoDMaxTracked returns the configured planar tracking budget or the default.
func (c *Tuning) GetTwoDMaxTracked() int {
	if c != nil && c.TwoDMaxTracked != nil {
		return *c.TwoDMaxTracked
	}
	return DefaultTwoDMaxTracked
}

// GetTwoDBackgroundDetection reports whether planar detection should run on
// the capture worker instead of the resolve path.
func (c *Tuning) GetTwoDBackgroundDetection() bool {
	if c != nil && c.TwoDBackgroundDetection != nil {
		return *c.TwoDBackgroundDetection
	}
	return false
}

// GetPatternSize returns the configured template edge length or the default.
func (c *Tuning) GetPatternSize() int {
	if c != nil && c.PatternSize != nil {
		return *c.PatternSize
	}
	return DefaultPatternSize
}

// GetPatternCountMax returns the configured template slot count or the default.
func (c *Tuning) GetPatternCountMax() int {
	if c != nil && c.PatternCountMax != nil {
		return *c.PatternCountMax
	}
	return DefaultPatternCountMax
}
