package domain

import (
	"fmt"
	"time"
)

// JobID is a unique identifier for a job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobKind selects which streams a job downloads.
type JobKind string

const (
	JobKindVideo JobKind = "video"
	JobKindAudio JobKind = "audio"
	JobKindBoth  JobKind = "both"
)

// ParseJobKind validates a kind coming from an API request.
func ParseJobKind(s string) (JobKind, error) {
	switch k := JobKind(s); k {
	case JobKindVideo, JobKindAudio, JobKindBoth:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// NeedsAudio reports whether the job fetches an audio stream.
func (k JobKind) NeedsAudio() bool { return k == JobKindAudio || k == JobKindBoth }

// NeedsVideo reports whether the job fetches a video stream.
func (k JobKind) NeedsVideo() bool { return k == JobKindVideo || k == JobKindBoth }

// NeedsMux reports whether fetched streams must be combined.
func (k JobKind) NeedsMux() bool { return k == JobKindBoth }

// JobState is a state of the download state machine.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateResolving JobState = "resolving"
	JobStateFetching  JobState = "fetching"
	JobStateMuxing    JobState = "muxing"
	JobStateRetryWait JobState = "retry_wait"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed || s == JobStateCancelled
}

var transitions = map[JobState][]JobState{
	JobStatePending:   {JobStateResolving, JobStateFailed, JobStateCancelled},
	JobStateResolving: {JobStateFetching, JobStateRetryWait, JobStateFailed, JobStateCancelled},
	JobStateFetching:  {JobStateMuxing, JobStateSucceeded, JobStateRetryWait, JobStateFailed, JobStateCancelled},
	JobStateMuxing:    {JobStateSucceeded, JobStateRetryWait, JobStateFailed, JobStateCancelled},
	JobStateRetryWait: {JobStateResolving, JobStateFailed, JobStateCancelled},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to JobState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one content download tracked from submission to a terminal state.
type Job struct {
	ID         JobID     `json:"id"`
	ContentID  string    `json:"content_id"`
	Kind       JobKind   `json:"kind"`
	State      JobState  `json:"state"`
	Attempt    int       `json:"attempt"`
	MaxRetries int       `json:"max_retries"`
	LastError  string    `json:"last_error,omitempty"`
	Title      string    `json:"title,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewJob creates a pending job.
func NewJob(id JobID, contentID string, kind JobKind, maxRetries int) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		ContentID:  contentID,
		Kind:       kind,
		State:      JobStatePending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Transition moves the job to state to. Entering resolving starts a new
// attempt, so Attempt grows by exactly one per resolve.
func (j *Job) Transition(to JobState) error {
	if j.State.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrTerminalState, j.ID, j.State)
	}
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
	}
	if to == JobStateResolving {
		j.Attempt++
	}
	j.State = to
	j.UpdatedAt = time.Now()
	return nil
}

// CanRetry returns true if another attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.Attempt < j.MaxRetries
}

// RecordError stores the error of the current attempt.
func (j *Job) RecordError(err error) {
	if err == nil {
		return
	}
	j.LastError = err.Error()
	j.UpdatedAt = time.Now()
}

// MarkSucceeded finishes the job with its output file.
func (j *Job) MarkSucceeded(outputPath string) error {
	if err := j.Transition(JobStateSucceeded); err != nil {
		return err
	}
	j.OutputPath = outputPath
	return nil
}

// MarkFailed finishes the job with an error.
func (j *Job) MarkFailed(err error) error {
	if tErr := j.Transition(JobStateFailed); tErr != nil {
		return tErr
	}
	j.RecordError(err)
	return nil
}

// MarkCancelled finishes the job because its caller gave up on it.
func (j *Job) MarkCancelled() error {
	if err := j.Transition(JobStateCancelled); err != nil {
		return err
	}
	j.RecordError(ErrJobCancelled)
	return nil
}

// Clone returns an independent copy.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}

// Result status values.
const (
	ResultStatusOK    = "ok"
	ResultStatusError = "error"
)

// JobResult is what callers of the download API see.
type JobResult struct {
	Status string `json:"status"`
	Info   string `json:"info,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result summarises the job for API callers. Non-terminal jobs report
// their id so the caller can poll.
func (j *Job) Result() JobResult {
	switch j.State {
	case JobStateSucceeded:
		return JobResult{Status: ResultStatusOK, Info: j.OutputPath}
	case JobStateFailed, JobStateCancelled:
		return JobResult{Status: ResultStatusError, Error: j.LastError}
	default:
		return JobResult{Status: ResultStatusOK, Info: j.ID.String()}
	}
}
