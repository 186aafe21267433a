package domain

import "time"

// JobMode enumerates how a job's generation work is executed upstream.
type JobMode string

const (
	// JobModeDirect performs synchronous generation calls and completes
	// within the request lifetime.
	JobModeDirect JobMode = "direct"
	// JobModeBatch submits size-bounded request chunks to the provider's
	// asynchronous batch API and reconciles results later.
	JobModeBatch JobMode = "batch"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued         JobStatus = "queued"
	JobStatusProcessing     JobStatus = "processing"
	JobStatusBatchSubmitted JobStatus = "batch_submitted"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailed         JobStatus = "failed"
)

// MaxErrorLen bounds the persisted error message of a failed job.
const MaxErrorLen = 512

// Job is one logical generation request tracked through the state machine.
// It is mutated only by the dispatcher (batch refs, staged uploads) and the
// reconciler (artifacts, collected refs, status); the export pipeline never
// writes to it.
type Job struct {
	ID            string
	GroupID       string
	Mode          JobMode
	Status        JobStatus
	Params        JobParams
	BatchRefs     []string
	StagedUploads []string
	CollectedRefs []string
	Artifacts     ArtifactSet
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// legalTransitions encodes every allowed edge of the lifecycle. completed is
// terminal; failed can only leave via the explicit retry path.
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:         {JobStatusProcessing},
	JobStatusProcessing:     {JobStatusCompleted, JobStatusBatchSubmitted, JobStatusFailed},
	JobStatusBatchSubmitted: {JobStatusBatchSubmitted, JobStatusCompleted, JobStatusFailed},
	JobStatusFailed:         {JobStatusProcessing, JobStatusBatchSubmitted},
	JobStatusCompleted:      {},
}

// CanTransition reports whether moving from the job's current status to the
// target status is a legal lifecycle edge. A batch_submitted self-transition
// is allowed; callers treat it as a no-op.
func (j *Job) CanTransition(to JobStatus) bool {
	for _, s := range legalTransitions[j.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the job to the target status, stamping timestamps and
// truncating any error message. Illegal edges return ErrIllegalTransition.
func (j *Job) Transition(to JobStatus, errMsg string) error {
	if !j.CanTransition(to) {
		return ErrIllegalTransition
	}
	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	switch to {
	case JobStatusCompleted:
		j.CompletedAt = &now
		j.ErrorMessage = ""
	case JobStatusFailed:
		j.ErrorMessage = TruncateError(errMsg)
	default:
		// The error message belongs to the failed state only; leaving it
		// (retry, resubmission) discards the previous attempt's failure.
		j.ErrorMessage = ""
	}
	return nil
}

// RefCollected reports whether the chunk reference's results were already
// harvested in a previous reconciliation round.
func (j *Job) RefCollected(ref string) bool {
	for _, r := range j.CollectedRefs {
		if r == ref {
			return true
		}
	}
	return false
}

// MarkRefCollected records the chunk reference as harvested. Repeated marks
// are no-ops.
func (j *Job) MarkRefCollected(ref string) {
	if !j.RefCollected(ref) {
		j.CollectedRefs = append(j.CollectedRefs, ref)
	}
}

// Terminal reports whether no further work can apply to the job without an
// explicit retry.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted
}

// TruncateError bounds a human-readable failure message for persistence.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorLen {
		return msg[:MaxErrorLen]
	}
	return msg
}
