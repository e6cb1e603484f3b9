// Package config loads the cad command configuration: defaults, then an optional
// YAML file, then CAD_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/jtomasevic/synapse-cad/internal/logging"
	ad "github.com/jtomasevic/synapse-cad/pkg/anomaly_detector"
	"github.com/jtomasevic/synapse-cad/pkg/value_encoding"
)

type Config struct {
	Detector DetectorConfig `yaml:"detector"`
	Logging  logging.Config `yaml:"logging"`
	Sink     SinkConfig     `yaml:"sink"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Batch    BatchConfig    `yaml:"batch"`
}

// DetectorConfig carries everything a detector needs except the value range,
// which comes from flags or from scanning the input.
type DetectorConfig struct {
	BaseThreshold            float64 `yaml:"base_threshold"`
	MaxLeftSemiContextLength int     `yaml:"max_left_semi_context_length"`
	MaxActiveNeurons         int     `yaml:"max_active_neurons"`
	NumNormValueBits         int     `yaml:"num_norm_value_bits"`
	OutOfRangePolicy         string  `yaml:"out_of_range_policy"`

	// RestPeriod 0 means derive it from the number of rows.
	RestPeriod int `yaml:"rest_period"`
}

type SinkConfig struct {
	// Path of the SQLite database; empty disables the sink.
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	// Addr to serve /metrics on, e.g. ":9108"; empty disables the endpoint.
	Addr string `yaml:"addr"`
}

type BatchConfig struct {
	Workers int    `yaml:"workers"`
	Pattern string `yaml:"pattern"`
	OutDir  string `yaml:"out_dir"`
}

func Default() Config {
	return Config{
		Detector: DetectorConfig{
			BaseThreshold:            0.75,
			MaxLeftSemiContextLength: 7,
			MaxActiveNeurons:         15,
			NumNormValueBits:         3,
			OutOfRangePolicy:         string(value_encoding.PolicyClamp),
		},
		Logging: logging.Config{Level: "info", Service: "cad"},
		Batch: BatchConfig{
			Workers: 4,
			Pattern: "*.csv",
			OutDir:  "results",
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	floats := []struct {
		key string
		dst *float64
	}{
		{"CAD_BASE_THRESHOLD", &cfg.Detector.BaseThreshold},
	}
	for _, f := range floats {
		if v, ok := os.LookupEnv(f.key); ok && v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = parsed
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CAD_REST_PERIOD", &cfg.Detector.RestPeriod},
		{"CAD_MAX_LEFT_SEMI_CONTEXT_LENGTH", &cfg.Detector.MaxLeftSemiContextLength},
		{"CAD_MAX_ACTIVE_NEURONS", &cfg.Detector.MaxActiveNeurons},
		{"CAD_NUM_NORM_VALUE_BITS", &cfg.Detector.NumNormValueBits},
		{"CAD_BATCH_WORKERS", &cfg.Batch.Workers},
	}
	for _, i := range ints {
		if v, ok := os.LookupEnv(i.key); ok && v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", i.key, err)
			}
			*i.dst = parsed
		}
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"CAD_OUT_OF_RANGE_POLICY", &cfg.Detector.OutOfRangePolicy},
		{"CAD_LOG_LEVEL", &cfg.Logging.Level},
		{"CAD_SINK_PATH", &cfg.Sink.Path},
		{"CAD_METRICS_ADDR", &cfg.Metrics.Addr},
		{"CAD_BATCH_OUT_DIR", &cfg.Batch.OutDir},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	if v, ok := os.LookupEnv("CAD_LOG_JSON"); ok && v != "" {
		cfg.Logging.JSON = v == "true" || v == "1"
	}
	return nil
}

// Validate checks what can be checked before the value range is known.
// The detector validates the rest when it is built.
func (c Config) Validate() error {
	if c.Detector.RestPeriod < 0 {
		return fmt.Errorf("rest_period must be >= 0, got %d", c.Detector.RestPeriod)
	}
	if !value_encoding.OutOfRangePolicy(c.Detector.OutOfRangePolicy).Valid() {
		return fmt.Errorf("out_of_range_policy must be clamp or reject, got %q", c.Detector.OutOfRangePolicy)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch workers must be >= 1, got %d", c.Batch.Workers)
	}
	// range-independent detector checks
	probe := c.Detector.ForRange(0, 1, 1)
	if err := probe.Validate(); err != nil {
		return err
	}
	return nil
}

// ForRange completes the detector configuration for one series. rest is used
// when RestPeriod is not set explicitly.
func (d DetectorConfig) ForRange(minValue, maxValue float64, rest int) ad.Config {
	if d.RestPeriod > 0 {
		rest = d.RestPeriod
	}
	return ad.Config{
		MinValue:                 minValue,
		MaxValue:                 maxValue,
		BaseThreshold:            d.BaseThreshold,
		RestPeriod:               rest,
		MaxLeftSemiContextLength: d.MaxLeftSemiContextLength,
		MaxActiveNeurons:         d.MaxActiveNeurons,
		NumNormValueBits:         d.NumNormValueBits,
		OutOfRangePolicy:         value_encoding.OutOfRangePolicy(d.OutOfRangePolicy),
	}
}
