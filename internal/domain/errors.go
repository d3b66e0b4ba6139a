package domain

import (
	"fmt"
	"strings"
)

// ValueError reports a field whose value is outside the registered enum.
type ValueError struct {
	Field string
	Value any
	Valid []string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: %v, not one of [%s]", e.Field, e.Value, strings.Join(e.Valid, ", "))
}

// UnknownKindError reports an event kind name with no registered code.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown event kind %q", e.Kind)
}

// UnknownCodeError reports an event kind code with no registered name.
type UnknownCodeError struct {
	Code int
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown event kind code %d", e.Code)
}

// CycleError reports a dependency walk that revisited a build. The stored
// forest should never contain one; hitting this means the store is corrupt.
type CycleError struct {
	BuildID int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected at build %d", e.BuildID)
}
