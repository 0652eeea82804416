package cds

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx answer from the CDS API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CDS API error %d: %s", e.StatusCode, e.Message)
}

// JobError reports a job that ended without a result.
type JobError struct {
	JobID  string
	Status string
	Detail string
}

func (e *JobError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("CDS job %s %s", e.JobID, e.Status)
	}
	return fmt.Sprintf("CDS job %s %s: %s", e.JobID, e.Status, e.Detail)
}

// NetworkError wraps transport failures.
type NetworkError struct {
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ErrNotCached is returned by an offline cache on a miss.
var ErrNotCached = errors.New("result not in cache")

func errorsAs(err error, target any) bool {
	return err != nil && errors.As(err, target)
}
