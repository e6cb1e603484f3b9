package anomaly_detector

import (
	"errors"
	"fmt"

	"github.com/jtomasevic/synapse-cad/pkg/value_encoding"
)

var (
	// ErrConfiguration is wrapped by every *ConfigurationError.
	ErrConfiguration = errors.New("invalid detector configuration")

	ErrOutOfRange = value_encoding.ErrOutOfRange
	ErrNonFinite  = value_encoding.ErrNonFinite
)

// ConfigurationError names the construction parameter that was rejected.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func configError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
