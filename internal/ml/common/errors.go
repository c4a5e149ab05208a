package common

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFitted is returned by any prediction path invoked before Fit.
	ErrNotFitted = errors.New("ensemble is not fitted")
	// ErrNotReady is returned by a service built without its dependencies.
	ErrNotReady = errors.New("service is not fully initialized")
	// ErrVersionNotFound is returned for an unknown registry version.
	ErrVersionNotFound = errors.New("model version not found")
)

// ConfigurationError reports an invalid split or weighting parameter.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

func NewConfigurationError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// BaseModelTrainingError wraps a base model failure. FoldIndex is -1 for
// the full-dataset production fit.
type BaseModelTrainingError struct {
	ModelID   string
	FoldIndex int
	Err       error
}

func (e *BaseModelTrainingError) Error() string {
	if e.FoldIndex < 0 {
		return fmt.Sprintf("base model %q: full fit: %v", e.ModelID, e.Err)
	}
	return fmt.Sprintf("base model %q: fold %d: %v", e.ModelID, e.FoldIndex, e.Err)
}

func (e *BaseModelTrainingError) Unwrap() error { return e.Err }

// InsufficientDataError reports too few folds or too much lost OOF coverage.
type InsufficientDataError struct {
	Reason string
	Ratio  float64
	Limit  float64
}

func (e *InsufficientDataError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("insufficient data: %s (%.3f > %.3f)", e.Reason, e.Ratio, e.Limit)
	}
	return "insufficient data: " + e.Reason
}

// DimensionMismatchError reports a model output whose length disagrees with
// the input batch.
type DimensionMismatchError struct {
	ModelID string
	Want    int
	Got     int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: model %q returned %d values for %d rows", e.ModelID, e.Got, e.Want)
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}
