package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/masa-finance/lead-worker/api/types"
)

// ErrJobPending is returned by Get when the job did not finish within the retry budget.
var ErrJobPending = errors.New("job still pending")

type JobResult struct {
	UUID       string
	maxRetries int
	delay      time.Duration
	client     *Client
}

func (jr *JobResult) SetMaxRetries(maxRetries int) {
	jr.maxRetries = maxRetries
}

func (jr *JobResult) SetDelay(delay time.Duration) {
	jr.delay = delay
}

// Get polls the server until the job is done or the retries run out.
func (jr *JobResult) Get() (*types.RunResult, error) {
	for retries := 0; retries < jr.maxRetries; retries++ {
		res, err := jr.client.GetResult(jr.UUID)
		if err != nil {
			return nil, err
		}
		if res.Done {
			if res.Error != "" {
				return res.Result, fmt.Errorf("job %s failed: %s", jr.UUID, res.Error)
			}
			return res.Result, nil
		}
		time.Sleep(jr.delay)
	}
	return nil, fmt.Errorf("max retries reached: %w", ErrJobPending)
}
