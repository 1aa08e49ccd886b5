package migration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrPayloadTooLarge = errors.New("file exceeds the upload size limit")
	ErrJobTerminal     = errors.New("migration job already finished")
)

// ValidationError rejects a submission before any job exists.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid migration request"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid migration request: " + strings.Join(parts, "; ")
}

// RowError fails a single row. The batch carries on with the next row.
type RowError struct {
	Field     string
	MatchedOn string
	Err       error
}

func (e *RowError) Error() string {
	if e.Err == nil {
		return "row rejected"
	}
	return e.Err.Error()
}

func (e *RowError) Unwrap() error {
	return e.Err
}

func rowErrorf(field, format string, args ...any) *RowError {
	return &RowError{Field: field, Err: fmt.Errorf(format, args...)}
}
