package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/jobs/instagram"
	"github.com/masa-finance/lead-worker/internal/proxy"
	"github.com/masa-finance/lead-worker/internal/ratelimit"
	"github.com/masa-finance/lead-worker/internal/session"
	"github.com/masa-finance/lead-worker/pkg/client"
)

// Kinds of strategy failure. Strategy errors wrap exactly one of these.
var (
	ErrRateLimited      = errors.New("rate limited")
	ErrTransient        = errors.New("transient failure")
	ErrSoftBlocked      = errors.New("soft blocked")
	ErrEmptyResult      = errors.New("no candidates found")
	ErrNoProxy          = errors.New("no proxy available")
	ErrTimeout          = errors.New("deadline exceeded")
	ErrAuthRevoked      = errors.New("authentication revoked")
	ErrStrategyDisabled = errors.New("strategy disabled")
)

// RecoverableError is a failure worth retrying later or with another strategy.
type RecoverableError struct {
	Kind error
	Err  error
}

func (e *RecoverableError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *RecoverableError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// UnrecoverableError makes a strategy unavailable for the rest of the job.
type UnrecoverableError struct {
	Kind error
	Err  error
}

func (e *UnrecoverableError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *UnrecoverableError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func Recoverable(kind, err error) error {
	return &RecoverableError{Kind: kind, Err: err}
}

func Unrecoverable(kind, err error) error {
	return &UnrecoverableError{Kind: kind, Err: err}
}

// Classify tells the orchestrator what to do with a strategy error.
// Anything it does not recognise is treated as transient.
func Classify(err error) types.FailureClass {
	if err == nil {
		return types.FailureNone
	}
	var rec *RecoverableError
	if errors.As(err, &rec) {
		return types.FailureRecoverable
	}
	var unrec *UnrecoverableError
	if errors.As(err, &unrec) {
		return types.FailureUnrecoverable
	}
	if _, ok := Wrap(err).(*UnrecoverableError); ok {
		return types.FailureUnrecoverable
	}
	return types.FailureRecoverable
}

// Wrap maps an error from a platform client, a shared component or the
// browser into the strategy taxonomy. Already classified errors are returned
// unchanged.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var rec *RecoverableError
	var unrec *UnrecoverableError
	if errors.As(err, &rec) || errors.As(err, &unrec) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Recoverable(ErrTimeout, err)
	case errors.Is(err, ratelimit.ErrRateLimited):
		return Recoverable(ErrRateLimited, err)
	case errors.Is(err, proxy.ErrNoProxyAvailable):
		return Recoverable(ErrNoProxy, err)
	case errors.Is(err, instagram.ErrSoftBlocked), errors.Is(err, instagram.ErrLoginWall):
		return Recoverable(ErrSoftBlocked, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return Recoverable(ErrTransient, err)
	case errors.Is(err, instagram.ErrInvalidCredentials):
		return Unrecoverable(ErrAuthRevoked, err)
	case errors.Is(err, client.ErrMissingAPIKey), errors.Is(err, session.ErrNoRefresher):
		return Unrecoverable(ErrStrategyDisabled, err)
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return Recoverable(ErrRateLimited, err)
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
			return Unrecoverable(ErrAuthRevoked, err)
		case apiErr.StatusCode == http.StatusPaymentRequired, apiErr.StatusCode == http.StatusNotFound:
			return Unrecoverable(ErrStrategyDisabled, err)
		}
	}
	return Recoverable(ErrTransient, err)
}
