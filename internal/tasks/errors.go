package tasks

import (
	"errors"
	"fmt"
)

// ErrorKind classifies task failures for the API error taxonomy.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"       // rejected input, never scheduled
	KindPoolExhausted   ErrorKind = "pool_exhausted"   // gave up waiting for a driver
	KindExternalTimeout ErrorKind = "external_timeout" // county site deadline with nothing scraped
	KindExternalFailure ErrorKind = "external_failure" // search flow broke on the county site
	KindInternal        ErrorKind = "internal"         // invariant breach, panic, shutdown
)

// TaskError is the terminal error recorded on a failed task.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a TaskError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *TaskError {
	return &TaskError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Registry lookup errors.
var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskNotTerminal = errors.New("task is not terminal")
)
