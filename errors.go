package xtable

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	// ErrConnectionClosed is returned by any operation on a closed Session.
	ErrConnectionClosed = errors.New("xtable: connection closed")

	// ErrQueryFailed is matched by every *QueryError.
	ErrQueryFailed = errors.New("xtable: query failed")

	// ErrUnknownAttribute is matched by every *UnknownAttributeError.
	ErrUnknownAttribute = errors.New("xtable: unknown attribute")

	// ErrMapping is matched by every *MappingError.
	ErrMapping = errors.New("xtable: mapping failed")

	// ErrInvalidSchema is matched by every *SchemaError.
	ErrInvalidSchema = errors.New("xtable: invalid schema")
)

// QueryError reports a statement rejected by the store.
type QueryError struct {
	Query string
	Args  []any
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("xtable: query failed: %v (q=%q, p=%v)", e.Err, e.Query, e.Args)
}

// Is reports whether the target error is ErrQueryFailed.
func (e *QueryError) Is(err error) bool { return err == ErrQueryFailed }

// Unwrap returns the driver error.
func (e *QueryError) Unwrap() error { return e.Err }

// UnknownAttributeError reports a table or field name that is not registered.
type UnknownAttributeError struct {
	Name string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("xtable: attribute %q does not exist", e.Name)
}

// Is reports whether the target error is ErrUnknownAttribute.
func (e *UnknownAttributeError) Is(err error) bool { return err == ErrUnknownAttribute }

// MappingError reports a failed conversion between a row and an object.
type MappingError struct {
	Type  string // Go type involved, if known
	Field string // column or attribute name, if known
	Err   error
}

func (e *MappingError) Error() string {
	switch {
	case e.Field != "" && e.Type != "":
		return fmt.Sprintf("xtable: mapping %s.%s: %v", e.Type, e.Field, e.Err)
	case e.Type != "":
		return fmt.Sprintf("xtable: mapping %s: %v", e.Type, e.Err)
	case e.Field != "":
		return fmt.Sprintf("xtable: mapping field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("xtable: mapping: %v", e.Err)
}

// Is reports whether the target error is ErrMapping.
func (e *MappingError) Is(err error) bool { return err == ErrMapping }

// Unwrap returns the underlying error.
func (e *MappingError) Unwrap() error { return e.Err }

// SchemaError reports a bad table declaration or an unbuildable statement.
type SchemaError struct {
	Table  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("xtable: invalid schema for table %q: %s", e.Table, e.Reason)
	}
	return "xtable: invalid schema: " + e.Reason
}

// Is reports whether the target error is ErrInvalidSchema.
func (e *SchemaError) Is(err error) bool { return err == ErrInvalidSchema }

func schemaErr(table, format string, args ...any) error {
	return &SchemaError{Table: table, Reason: fmt.Sprintf(format, args...)}
}

// IsQueryFailed reports whether err is, or wraps, a *QueryError.
func IsQueryFailed(err error) bool {
	var e *QueryError
	return errors.As(err, &e)
}

// IsUnknownAttribute reports whether err is, or wraps, an *UnknownAttributeError.
func IsUnknownAttribute(err error) bool {
	var e *UnknownAttributeError
	return errors.As(err, &e)
}

// IsMappingError reports whether err is, or wraps, a *MappingError.
func IsMappingError(err error) bool {
	var e *MappingError
	return errors.As(err, &e)
}

// IsInvalidSchema reports whether err is, or wraps, a *SchemaError.
func IsInvalidSchema(err error) bool {
	var e *SchemaError
	return errors.As(err, &e)
}
