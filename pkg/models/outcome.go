package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies how a conversion job ended.
type ErrorKind string

const (
	KindNone                 ErrorKind = "NONE"
	KindArtifactNotProduced  ErrorKind = "ARTIFACT_NOT_PRODUCED"
	KindToolInvocationFailed ErrorKind = "TOOL_INVOCATION_FAILED"
	KindUnexpectedFailure    ErrorKind = "UNEXPECTED_FAILURE"
	KindWorkerAbandoned      ErrorKind = "WORKER_ABANDONED"
	KindTimeout              ErrorKind = "TIMEOUT"
)

// InternalErrorCode is the error code used for failures that did not come
// from the tool's own exit status.
const InternalErrorCode = -1

var (
	ErrArtifactNotProduced  = errors.New("tool exited cleanly but the output file was not created")
	ErrToolInvocationFailed = errors.New("tool exited with a non-zero status")
	ErrUnexpectedFailure    = errors.New("unexpected failure while running the tool")
	ErrWorkerAbandoned      = errors.New("worker terminated without producing an outcome")
	ErrCollectTimeout       = errors.New("timed out waiting for the worker")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindArtifactNotProduced:
		return ErrArtifactNotProduced
	case KindToolInvocationFailed:
		return ErrToolInvocationFailed
	case KindWorkerAbandoned:
		return ErrWorkerAbandoned
	case KindTimeout:
		return ErrCollectTimeout
	default:
		return ErrUnexpectedFailure
	}
}

// JobError is the error form of a failed Outcome.
type JobError struct {
	JobID  string
	Kind   ErrorKind
	Code   int
	Detail string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed (%s, code %d): %s", e.JobID, e.Kind, e.Code, e.Detail)
}

func (e *JobError) Unwrap() error {
	return e.Kind.sentinel()
}

// Outcome is the record of one completed job attempt. It is built once by the
// worker and never modified afterwards.
//
// A nil ErrorCode means success, in which case ArtifactPath names the file the
// tool produced. Zero StartTime/EndTime mean the job never reached measured
// execution.
type Outcome struct {
	JobID        string
	InputPaths   []string
	ErrorCode    *int
	Kind         ErrorKind
	ArtifactPath string
	Output       string
	ErrorDetail  string
	StartTime    time.Time
	EndTime      time.Time
}

// SucceededOutcome builds the outcome of a job whose artifact was produced.
func SucceededOutcome(jobID, artifact, output string, start, end time.Time) Outcome {
	return Outcome{
		JobID:        jobID,
		Kind:         KindNone,
		ArtifactPath: artifact,
		Output:       output,
		StartTime:    start,
		EndTime:      end,
	}
}

// FailedOutcome builds the outcome of a job that did not produce its artifact.
func FailedOutcome(jobID string, kind ErrorKind, code int, output, detail string, start, end time.Time) Outcome {
	return Outcome{
		JobID:       jobID,
		ErrorCode:   &code,
		Kind:        kind,
		Output:      output,
		ErrorDetail: detail,
		StartTime:   start,
		EndTime:     end,
	}
}

// IsSuccess reports whether the tool produced the declared artifact.
func (o Outcome) IsSuccess() bool {
	return o.ErrorCode == nil
}

// Elapsed returns the measured run time of a successful job, or -1.
func (o Outcome) Elapsed() time.Duration {
	if o.ErrorCode != nil {
		return -1
	}
	return o.EndTime.Sub(o.StartTime)
}

// Code returns the error code, or 0 for a successful outcome.
func (o Outcome) Code() int {
	if o.ErrorCode == nil {
		return 0
	}
	return *o.ErrorCode
}

// Timed reports whether the job reached measured execution.
func (o Outcome) Timed() bool {
	return !o.StartTime.IsZero() && !o.EndTime.IsZero()
}

// Err returns nil on success and a *JobError otherwise.
func (o Outcome) Err() error {
	if o.IsSuccess() {
		return nil
	}
	return &JobError{
		JobID:  o.JobID,
		Kind:   o.Kind,
		Code:   *o.ErrorCode,
		Detail: o.ErrorDetail,
	}
}
