package models

import (
	"errors"
	"fmt"
)

// ErrModelNotTrained is returned when scoring is attempted before training.
var ErrModelNotTrained = errors.New("model not trained")

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// InsufficientDataError reports that an operation received fewer samples than it needs.
type InsufficientDataError struct {
	Op   string
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need at least %d samples, got %d", e.Op, e.Need, e.Have)
}

// ModelLoadError reports a missing or corrupt persisted model.
type ModelLoadError struct {
	SensorType SensorType
	Err        error
}

func (e *ModelLoadError) Error() string {
	if e.SensorType == "" {
		return fmt.Sprintf("load model: %v", e.Err)
	}
	return fmt.Sprintf("load model %s: %v", e.SensorType, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// RuleEvaluationError wraps a failure inside a single rule. It never leaves the rule engine.
type RuleEvaluationError struct {
	Rule string
	Err  error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}

// ValidationError reports an out-of-range input at the ingestion boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// IsInsufficientData reports whether err is or wraps an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ide *InsufficientDataError
	return errors.As(err, &ide)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
