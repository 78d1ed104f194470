package domain

import (
	"errors"
	"fmt"
)

// Domain errors.
var (
	// ErrPoolEmpty is returned when no live proxy and no default proxy exist.
	ErrPoolEmpty = errors.New("no usable proxy")

	// ErrProbeTimeout marks a health probe that did not answer in time.
	ErrProbeTimeout = errors.New("health probe timed out")

	// ErrProbeFailure marks a health probe that answered with something other than 200.
	ErrProbeFailure = errors.New("health probe failed")

	// ErrMetadataParse is returned when a relay answers with a body that is not JSON.
	ErrMetadataParse = errors.New("stream metadata is not well-formed")

	// ErrMetadataShape is returned when required manifest fields are missing.
	ErrMetadataShape = errors.New("stream metadata is missing required fields")

	// ErrNoStreamsAvailable is returned when content has no stream of the requested kind.
	ErrNoStreamsAvailable = errors.New("no streams available")

	// ErrFetchFailed is returned when downloading a stream fails.
	ErrFetchFailed = errors.New("stream fetch failed")

	// ErrMuxFailed is returned when the mux tool cannot combine streams.
	ErrMuxFailed = errors.New("mux failed")

	// ErrRetryExhausted is returned when a job used all of its attempts.
	ErrRetryExhausted = errors.New("retries exhausted")

	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobs is returned when there are no jobs to process.
	ErrNoJobs = errors.New("no jobs available")

	// ErrInvalidContentID is returned for an empty or malformed content id.
	ErrInvalidContentID = errors.New("invalid content id")

	// ErrInvalidKind is returned for an unknown job kind.
	ErrInvalidKind = errors.New("invalid job kind")

	// ErrJobCancelled is recorded on jobs that were cancelled.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrTerminalState is returned when a finished job is asked to move again.
	ErrTerminalState = errors.New("job already finished")

	// ErrInvalidTransition is returned for a transition the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrStorageFull is returned when there is insufficient storage space.
	ErrStorageFull = errors.New("insufficient storage space")
)

// FetchError describes a failed stream or metadata download.
type FetchError struct {
	URL        string
	StatusCode int
	// Connectivity is set when the failure looks like the remote end is
	// down or unreachable rather than refusing this particular request.
	Connectivity bool
	Err          error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return "fetch " + e.URL + ": failed"
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes every FetchError match ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// MuxError describes a failed mux invocation.
type MuxError struct {
	Output string
	Stderr string
	Err    error
}

func (e *MuxError) Error() string {
	msg := "mux " + e.Output
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *MuxError) Unwrap() error {
	return e.Err
}

// Is makes every MuxError match ErrMuxFailed.
func (e *MuxError) Is(target error) bool {
	return target == ErrMuxFailed
}

// JobError wraps an error with job context.
type JobError struct {
	JobID JobID
	Op    string
	Err   error
}

func (e *JobError) Error() string {
	if e.JobID != "" {
		return e.Op + " [" + e.JobID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError creates a new JobError.
func NewJobError(jobID JobID, op string, err error) *JobError {
	return &JobError{
		JobID: jobID,
		Op:    op,
		Err:   err,
	}
}
