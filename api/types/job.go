package types

import "time"

type JobResponse struct {
	UID string `json:"uid"`
}

type JobError struct {
	Error string `json:"error"`
}

// JobResult is what the job server caches for a submitted job. Done is false
// while the job is queued or running.
type JobResult struct {
	Job    Job        `json:"job"`
	Done   bool       `json:"done"`
	Error  string     `json:"error,omitempty"`
	Result *RunResult `json:"result,omitempty"`
}

func (jr JobResult) Success() bool {
	return jr.Done && jr.Error == ""
}

// Job wraps an acquisition request with the bookkeeping the job server needs.
type Job struct {
	UUID        string         `json:"uuid"`
	Priority    bool           `json:"priority"`
	Acquisition AcquisitionJob `json:"acquisition"`
	Timeout     time.Duration  `json:"-"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// JobRequest is the body accepted by the job endpoints. It is the acquisition
// request plus the queueing hint.
type JobRequest struct {
	AcquisitionJob
	Priority bool `json:"priority"`
}
