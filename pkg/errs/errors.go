package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrQueryConsumed   = errors.New("query request already executed")
	ErrUnsafeStatement = errors.New("unsafe statement")
	ErrNotFound        = errors.New("row not found")
)

// ConfigurationError reports a bad model or relation setup.
type ConfigurationError struct {
	Model    string
	Relation string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	sb.WriteString("idorm: configuration error")
	if e.Model != "" {
		sb.WriteString(": model '" + e.Model + "'")
	}
	if e.Relation != "" {
		sb.WriteString(": relation '" + e.Relation + "'")
	}
	sb.WriteString(": " + e.Reason)
	return sb.String()
}

func NewConfigurationError(model, relation, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Model: model, Relation: relation, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError returns a boolean indicating whether the error is a configuration error.
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// RelationNotFoundError is returned when a relation name is not declared on a model.
type RelationNotFoundError struct {
	Model    string
	Relation string
}

func (e *RelationNotFoundError) Error() string {
	return fmt.Sprintf("idorm: model '%s' has no relation '%s'", e.Model, e.Relation)
}

func IsRelationNotFound(err error) bool {
	var e *RelationNotFoundError
	return errors.As(err, &e)
}

// RelationKeyMissingError is returned when an instance lacks the key properties a
// relation (or an instance-scoped query, Relation == "") depends on.
type RelationKeyMissingError struct {
	Model    string
	Relation string
	Columns  []string
}

func (e *RelationKeyMissingError) Error() string {
	if e.Relation == "" {
		return fmt.Sprintf("idorm: instance of '%s' is missing key columns %v", e.Model, e.Columns)
	}
	return fmt.Sprintf("idorm: owner '%s' is missing key columns %v for relation '%s'", e.Model, e.Columns, e.Relation)
}

func IsRelationKeyMissing(err error) bool {
	var e *RelationKeyMissingError
	return errors.As(err, &e)
}

// Violation is a single schema violation.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError carries every violation found for a payload.
type ValidationError struct {
	Model      string
	Violations []Violation
	cause      error
}

func NewValidationError(model string, cause error, violations ...Violation) *ValidationError {
	return &ValidationError{Model: model, Violations: violations, cause: cause}
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Path == "" {
			msgs = append(msgs, v.Message)
			continue
		}
		msgs = append(msgs, v.Path+": "+v.Message)
	}
	return fmt.Sprintf("idorm: validation failed for '%s': %s", e.Model, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}

func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// DatabaseError wraps a failure of the storage collaborator.
type DatabaseError struct {
	Op    string
	SQL   string
	Cause error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("idorm: database error on %s: %v", e.Op, e.Cause)
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

func IsDatabaseError(err error) bool {
	var e *DatabaseError
	return errors.As(err, &e)
}

// WrapDatabase wraps err into a DatabaseError unless it already is one.
func WrapDatabase(op, sql string, err error) error {
	if err == nil {
		return nil
	}
	if IsDatabaseError(err) {
		return err
	}
	return &DatabaseError{Op: op, SQL: sql, Cause: err}
}
