package fetchgraph

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for the fetch engine.
var (
	// ErrMapping is returned when association metadata cannot be planned,
	// e.g. mismatched join columns or several eagerly fetched collections.
	ErrMapping = errors.New("fetchgraph: invalid mapping")

	// ErrStaleState is returned when a versioned entity changed in the
	// database while a session held an older copy.
	ErrStaleState = errors.New("fetchgraph: stale entity state")

	// ErrWrongClass is returned when a row or a cached instance belongs to
	// a different class than the one requested.
	ErrWrongClass = errors.New("fetchgraph: wrong class")

	// ErrNotFound is returned when a lazy reference points at a missing row.
	ErrNotFound = errors.New("fetchgraph: entity not found")
)

// MappingError reports a configuration problem found while building a plan.
// It is never retried.
type MappingError struct {
	Path string // Association path, if known.
	Msg  string
}

// Error returns the error string.
func (e *MappingError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("fetchgraph: mapping %s: %s", e.Path, e.Msg)
	}
	return "fetchgraph: mapping: " + e.Msg
}

// Is reports whether the target error matches MappingError.
func (e *MappingError) Is(err error) bool {
	return err == ErrMapping
}

// NewMappingError returns a new MappingError for the given path.
func NewMappingError(path, format string, args ...any) *MappingError {
	return &MappingError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// IsMappingError returns true if the error is a MappingError.
func IsMappingError(err error) bool {
	if err == nil {
		return false
	}
	var e *MappingError
	return errors.As(err, &e) || errors.Is(err, ErrMapping)
}

// StaleStateError is an optimistic concurrency failure: the version column
// read from the database differs from the version held by the session.
type StaleStateError struct {
	Entity string
	ID     any
}

// Error returns the error string.
func (e *StaleStateError) Error() string {
	return fmt.Sprintf("fetchgraph: row was updated or deleted by another transaction: %s#%v", e.Entity, e.ID)
}

// Is reports whether the target error matches StaleStateError.
func (e *StaleStateError) Is(err error) bool {
	return err == ErrStaleState
}

// NewStaleStateError returns a new StaleStateError.
func NewStaleStateError(entity string, id any) *StaleStateError {
	return &StaleStateError{Entity: entity, ID: id}
}

// IsStaleState returns true if the error is a StaleStateError.
func IsStaleState(err error) bool {
	if err == nil {
		return false
	}
	var e *StaleStateError
	return errors.As(err, &e) || errors.Is(err, ErrStaleState)
}

// WrongClassError is a data integrity failure: a discriminator value maps
// to no known subclass, or an instance found in the session is not of the
// requested class.
type WrongClassError struct {
	Entity string
	ID     any
	Detail string
}

// Error returns the error string.
func (e *WrongClassError) Error() string {
	return fmt.Sprintf("fetchgraph: object with id %v was not of the specified subclass %s (%s)", e.ID, e.Entity, e.Detail)
}

// Is reports whether the target error matches WrongClassError.
func (e *WrongClassError) Is(err error) bool {
	return err == ErrWrongClass
}

// NewWrongClassError returns a new WrongClassError.
func NewWrongClassError(entity string, id any, detail string) *WrongClassError {
	return &WrongClassError{Entity: entity, ID: id, Detail: detail}
}

// IsWrongClass returns true if the error is a WrongClassError.
func IsWrongClass(err error) bool {
	if err == nil {
		return false
	}
	var e *WrongClassError
	return errors.As(err, &e) || errors.Is(err, ErrWrongClass)
}

// NotFoundError is returned when a referenced entity row does not exist.
type NotFoundError struct {
	Entity string
	ID     any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fetchgraph: %s not found (id=%v)", e.Entity, e.ID)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// NewNotFoundError returns a new NotFoundError.
func NewNotFoundError(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// SQLError wraps a failure of the relational layer with the statement that
// was executing and a human readable context.
type SQLError struct {
	Context  string // e.g. "could not execute query"
	SQL      string
	SQLState string // Empty when the driver does not report one.
	Err      error
}

// Error returns the error string.
func (e *SQLError) Error() string {
	if e.SQLState != "" {
		return fmt.Sprintf("fetchgraph: %s [%s] (sqlstate %s): %v", e.Context, e.SQL, e.SQLState, e.Err)
	}
	return fmt.Sprintf("fetchgraph: %s [%s]: %v", e.Context, e.SQL, e.Err)
}

// Unwrap returns the underlying error.
func (e *SQLError) Unwrap() error {
	return e.Err
}

// NewSQLError returns a new SQLError.
func NewSQLError(context, sql, state string, err error) *SQLError {
	return &SQLError{Context: context, SQL: sql, SQLState: state, Err: err}
}

// IsSQLError returns true if the error is a SQLError.
func IsSQLError(err error) bool {
	if err == nil {
		return false
	}
	var e *SQLError
	return errors.As(err, &e)
}

// HydrationError reports a broken invariant of the two-phase load, such as
// promoting an entry that is not a registered stub.
type HydrationError struct {
	Entity string
	ID     any
	Msg    string
}

// Error returns the error string.
func (e *HydrationError) Error() string {
	return fmt.Sprintf("fetchgraph: hydrating %s#%v: %s", e.Entity, e.ID, e.Msg)
}

// NewHydrationError returns a new HydrationError.
func NewHydrationError(entity string, id any, msg string) *HydrationError {
	return &HydrationError{Entity: entity, ID: id, Msg: msg}
}

// ConfigError is returned by configuration options that receive invalid values.
type ConfigError struct {
	Option string
	Err    error
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("fetchgraph: config %s: %v", e.Option, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError returns a new ConfigError.
func NewConfigError(option string, err error) *ConfigError {
	return &ConfigError{Option: option, Err: err}
}
