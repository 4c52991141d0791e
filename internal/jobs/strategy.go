package jobs

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
)

// FetchRequest is what the orchestrator asks a strategy for. Count is the
// number of candidates at or above MinFollowers still needed.
type FetchRequest struct {
	JobID        string
	Niche        string
	MinFollowers int64
	Count        int
}

// Strategy acquires candidate profiles for a niche. A strategy may return
// candidates together with an error when it failed part way; the
// candidates are still usable. It never returns more than Count candidates.
type Strategy interface {
	Name() string
	FetchCandidates(ctx context.Context, req FetchRequest) ([]types.Candidate, error)
}

// NewBackOff is the retry policy shared by the strategies. It is a variable
// so tests can shorten the intervals.
var NewBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// retry runs op up to attempts times, sleeping with exponential backoff
// between recoverable failures. It stops early on unrecoverable errors and
// when ctx ends.
func retry(ctx context.Context, name string, attempts int, op func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := NewBackOff()
	b.Reset()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return Wrap(ctxErr)
		}
		err = Wrap(op(attempt))
		if err == nil || Classify(err) == types.FailureUnrecoverable || attempt == attempts {
			return err
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return err
		}
		logrus.WithError(err).Warnf("%s attempt %d/%d failed, retrying in %s", name, attempt, attempts, next)

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Wrap(ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

func meetsThreshold(c types.Candidate, minFollowers int64) bool {
	return c.FollowerCount >= minFollowers
}
