package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_SuccessElapsed(t *testing.T) {
	start := time.Now()
	end := start.Add(1500 * time.Millisecond)

	o := SucceededOutcome("job-1", "/tmp/out.tiff", "done", start, end)

	assert.True(t, o.IsSuccess())
	assert.Nil(t, o.ErrorCode)
	assert.Equal(t, 1500*time.Millisecond, o.Elapsed())
	assert.Equal(t, 0, o.Code())
	assert.True(t, o.Timed())
	assert.NoError(t, o.Err())
}

func TestOutcome_FailureElapsedIsSentinel(t *testing.T) {
	start := time.Now()
	o := FailedOutcome("job-2", KindToolInvocationFailed, 3, "boom", "exit status 3", start, start.Add(time.Second))

	assert.False(t, o.IsSuccess())
	assert.Equal(t, time.Duration(-1), o.Elapsed())
	assert.Equal(t, 3, o.Code())
	assert.Empty(t, o.ArtifactPath)
}

func TestOutcome_UntimedFailure(t *testing.T) {
	o := FailedOutcome("job-3", KindUnexpectedFailure, InternalErrorCode, "", "no such file", time.Time{}, time.Time{})

	assert.False(t, o.Timed())
	assert.Equal(t, -1, o.Code())
}

func TestOutcome_ErrMatchesKind(t *testing.T) {
	cases := map[ErrorKind]error{
		KindArtifactNotProduced:  ErrArtifactNotProduced,
		KindToolInvocationFailed: ErrToolInvocationFailed,
		KindUnexpectedFailure:    ErrUnexpectedFailure,
		KindWorkerAbandoned:      ErrWorkerAbandoned,
		KindTimeout:              ErrCollectTimeout,
	}

	for kind, sentinel := range cases {
		o := FailedOutcome("job", kind, -1, "", "detail", time.Time{}, time.Time{})
		err := o.Err()
		require.Error(t, err)
		assert.True(t, errors.Is(err, sentinel), "kind %s should match %v", kind, sentinel)

		var jobErr *JobError
		require.True(t, errors.As(err, &jobErr))
		assert.Equal(t, kind, jobErr.Kind)
		assert.Contains(t, jobErr.Error(), "detail")
	}
}

func TestConversion_ApplyOutcome(t *testing.T) {
	start := time.Now()
	end := start.Add(2 * time.Second)

	var ok Conversion
	ok.ApplyOutcome(SucceededOutcome("j", "/out.tiff", "", start, end))
	assert.Equal(t, ConversionSucceeded, ok.Status)
	assert.Nil(t, ok.ExitCode)
	assert.Equal(t, int64(2000), ok.ElapsedMS)
	require.NotNil(t, ok.StartedAt)
	assert.True(t, ok.StartedAt.Equal(start))

	var failed Conversion
	failed.ApplyOutcome(FailedOutcome("j", KindUnexpectedFailure, -1, "", "spawn failed", time.Time{}, time.Time{}))
	assert.Equal(t, ConversionFailed, failed.Status)
	require.NotNil(t, failed.ExitCode)
	assert.Equal(t, -1, *failed.ExitCode)
	assert.Nil(t, failed.StartedAt)
	assert.NotNil(t, failed.FinishedAt)
	assert.Equal(t, "spawn failed", failed.ErrorDetail)
}
