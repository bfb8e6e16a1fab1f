package domain

import (
	"context"
	"errors"
)

// Execution error sentinels. Adapter errors are wrapped with one of these so
// the retry policy can classify them with errors.Is.
var (
	ErrTransient = errors.New("transient execution error")
	ErrPermanent = errors.New("permanent execution error")
	ErrCancelled = errors.New("task cancelled")
)

// ErrDuplicateTask is returned when a Pending or Running task already exists
// for the same (kind, target) pair.
var ErrDuplicateTask = errors.New("task already in flight for target")

// ErrNotFound is returned by the store when a record does not exist.
var ErrNotFound = errors.New("record not found")

type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassPermanent
	ClassCancelled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassCancelled:
		return "cancelled"
	default:
		return "transient"
	}
}

// Classify maps an execution error to its retry class. Deadline expiry counts
// as transient, cancellation as cancelled. Unknown errors default to
// transient; the attempt bound keeps that safe.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrPermanent):
		return ClassPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	default:
		return ClassTransient
	}
}
