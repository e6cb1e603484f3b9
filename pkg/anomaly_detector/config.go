package anomaly_detector

import (
	"math"

	"github.com/jtomasevic/synapse-cad/pkg/value_encoding"
)

// Config holds the construction parameters of a Detector. Every field except
// OutOfRangePolicy is required; the core has no defaults.
type Config struct {
	MinValue float64 `yaml:"min_value"`
	MaxValue float64 `yaml:"max_value"`

	// BaseThreshold is the raw score at which an anomaly opens a refractory window.
	BaseThreshold float64 `yaml:"base_threshold"`

	// RestPeriod is the refractory window length in samples.
	RestPeriod int `yaml:"rest_period"`

	MaxLeftSemiContextLength int `yaml:"max_left_semi_context_length"`
	MaxActiveNeurons         int `yaml:"max_active_neurons"`
	NumNormValueBits         int `yaml:"num_norm_value_bits"`

	// OutOfRangePolicy defaults to clamping.
	OutOfRangePolicy value_encoding.OutOfRangePolicy `yaml:"out_of_range_policy"`
}

// Validate fails fast with a *ConfigurationError on the first bad field.
func (c Config) Validate() error {
	if math.IsNaN(c.MinValue) || math.IsInf(c.MinValue, 0) {
		return configError("min_value", "must be finite, got %v", c.MinValue)
	}
	if math.IsNaN(c.MaxValue) || math.IsInf(c.MaxValue, 0) {
		return configError("max_value", "must be finite, got %v", c.MaxValue)
	}
	if c.MaxValue < c.MinValue {
		return configError("max_value", "must be >= min_value (%v < %v)", c.MaxValue, c.MinValue)
	}
	if math.IsNaN(c.BaseThreshold) || c.BaseThreshold < 0 {
		return configError("base_threshold", "must be >= 0, got %v", c.BaseThreshold)
	}
	if c.RestPeriod <= 0 {
		return configError("rest_period", "must be positive, got %d", c.RestPeriod)
	}
	if c.MaxLeftSemiContextLength < 0 {
		return configError("max_left_semi_context_length", "must be >= 0, got %d", c.MaxLeftSemiContextLength)
	}
	if c.MaxActiveNeurons < 0 {
		return configError("max_active_neurons", "must be >= 0, got %d", c.MaxActiveNeurons)
	}
	if c.NumNormValueBits < value_encoding.MinBits || c.NumNormValueBits > value_encoding.MaxBits {
		return configError("num_norm_value_bits", "must be in [%d, %d], got %d",
			value_encoding.MinBits, value_encoding.MaxBits, c.NumNormValueBits)
	}
	if c.OutOfRangePolicy != "" && !c.OutOfRangePolicy.Valid() {
		return configError("out_of_range_policy", "unknown policy %q", c.OutOfRangePolicy)
	}
	return nil
}
