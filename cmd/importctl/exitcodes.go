package main

import (
	"errors"

	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitFailed     = 1
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// classify assigns an exit code to an error returned by the migration layer.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var verr *migration.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, migration.ErrPayloadTooLarge):
		return withCode(exitValidation, err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, migration.ErrJobTerminal):
		return withCode(exitFailed, err)
	default:
		return withCode(exitDB, err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitFailed
}
