// Package errs defines the error taxonomy shared by the scoring pipeline.
//
// Every failure that reaches a caller is one of these types so HTTP handlers
// and the CLI can tell user mistakes apart from broken deployments.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports a missing or corrupt startup artifact.
// It is fatal at startup and never produced per request.
type ConfigurationError struct {
	Artifact string // "schema", "model" or "config"
	Path     string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s configuration: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("%s configuration %s: %v", e.Artifact, e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf builds a ConfigurationError from a format string.
func Configf(artifact, path, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Artifact: artifact, Path: path, Err: fmt.Errorf(format, args...)}
}

// TypeMismatchError reports a value that cannot be coerced to its field's kind.
// Row is the zero-based record index, or -1 for single-record input.
type TypeMismatchError struct {
	Row   int
	Field string
	Kind  string
	Value interface{}
}

func (e *TypeMismatchError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("field %q: cannot use %#v as %s", e.Field, e.Value, e.Kind)
	}
	return fmt.Sprintf("row %d field %q: cannot use %#v as %s", e.Row, e.Field, e.Value, e.Kind)
}

// ScoringUnavailableError wraps any failure of the scoring capability.
type ScoringUnavailableError struct {
	Err error
}

func (e *ScoringUnavailableError) Error() string {
	return fmt.Sprintf("scoring unavailable: %v", e.Err)
}

func (e *ScoringUnavailableError) Unwrap() error { return e.Err }

// InvalidProbabilityError is raised when a probability outside [0,1] is classified.
type InvalidProbabilityError struct {
	Value float64
}

func (e *InvalidProbabilityError) Error() string {
	return fmt.Sprintf("invalid probability %v: must be within [0, 1]", e.Value)
}

// ArityMismatchError is raised when records and probabilities differ in length.
type ArityMismatchError struct {
	Records       int
	Probabilities int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("arity mismatch: %d records, %d probabilities", e.Records, e.Probabilities)
}

// BatchTooLargeError rejects a batch before scoring.
type BatchTooLargeError struct {
	Rows  int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch of %d rows exceeds the limit of %d", e.Rows, e.Limit)
}

// TableError reports an upload that cannot be read as a table.
// Line is one-based and counts the header; 0 means the whole input.
type TableError struct {
	Line int
	Err  error
}

func (e *TableError) Error() string {
	if e.Line <= 0 {
		return fmt.Sprintf("malformed table: %v", e.Err)
	}
	return fmt.Sprintf("malformed table at line %d: %v", e.Line, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// IsUserError reports whether err was caused by the request's input rather
// than by the deployment.
func IsUserError(err error) bool {
	var (
		mismatch *TypeMismatchError
		tooLarge *BatchTooLargeError
		table    *TableError
	)
	return errors.As(err, &mismatch) || errors.As(err, &tooLarge) || errors.As(err, &table)
}

// Kind returns a short stable name for err, used in metrics and the run log.
func Kind(err error) string {
	var (
		cfg      *ConfigurationError
		mismatch *TypeMismatchError
		scoring  *ScoringUnavailableError
		prob     *InvalidProbabilityError
		arity    *ArityMismatchError
		tooLarge *BatchTooLargeError
		table    *TableError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfg):
		return "configuration"
	case errors.As(err, &mismatch):
		return "type_mismatch"
	case errors.As(err, &scoring):
		return "scoring_unavailable"
	case errors.As(err, &prob):
		return "invalid_probability"
	case errors.As(err, &arity):
		return "arity_mismatch"
	case errors.As(err, &tooLarge):
		return "batch_too_large"
	case errors.As(err, &table):
		return "malformed_table"
	default:
		return "internal"
	}
}

// Summary describes err without any input value, for records that outlive
// the request such as the run log.
func Summary(err error) string {
	var (
		mismatch *TypeMismatchError
		tooLarge *BatchTooLargeError
		table    *TableError
		cfg      *ConfigurationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &mismatch):
		if mismatch.Row < 0 {
			return fmt.Sprintf("field %q: not a valid %s value", mismatch.Field, mismatch.Kind)
		}
		return fmt.Sprintf("row %d field %q: not a valid %s value", mismatch.Row, mismatch.Field, mismatch.Kind)
	case errors.As(err, &tooLarge):
		return tooLarge.Error()
	case errors.As(err, &table):
		if table.Line <= 0 {
			return "malformed table"
		}
		return fmt.Sprintf("malformed table at line %d", table.Line)
	case errors.As(err, &cfg):
		return fmt.Sprintf("%s configuration error", cfg.Artifact)
	default:
		return strings.ReplaceAll(Kind(err), "_", " ")
	}
}
