package climate

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when a date predicate selects no
	// observations.
	ErrInsufficientData = errors.New("insufficient data: no matching observations")
	// ErrGridMismatch is returned when two fields are not on the same grid.
	ErrGridMismatch = errors.New("grid mismatch")
	// ErrUnparseableTime is returned for time coordinate values that are
	// neither datetimes, numeric epoch timestamps nor ISO-8601 strings.
	ErrUnparseableTime = errors.New("unparseable timestamp")
	// ErrEmptyAxis is returned when looking up a coordinate on an empty axis.
	ErrEmptyAxis = errors.New("empty coordinate axis")
)

// Stage names the pipeline step an error originates from.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageParse     Stage = "parse"
	StageFilter    Stage = "filter"
	StageAggregate Stage = "aggregate"
	StageRender    Stage = "render"
	StageExport    Stage = "export"
)

// StageError ties an error to the stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Wrap attaches a stage to err. Errors that already carry a stage are
// returned unchanged.
func Wrap(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded in err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
