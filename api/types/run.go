package types

import (
	"fmt"
	"time"
)

// AcquisitionJob is a single lead acquisition request. It is never persisted.
type AcquisitionJob struct {
	Niche             string `json:"niche"`
	MinFollowers      int64  `json:"min_followers"`
	TargetCount       int    `json:"target_count"`
	MaxResults        int    `json:"max_results"`
	ForceFallbackOnly bool   `json:"force_fallback_only"`
	ExcludePrivate    bool   `json:"exclude_private"`
	RequireVerified   bool   `json:"require_verified"`
	// TimeoutSeconds bounds the whole run. Zero means the worker default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

func (j AcquisitionJob) String() string {
	return fmt.Sprintf("niche=%s min_followers=%d target=%d max=%d fallback_only=%t",
		j.Niche, j.MinFollowers, j.TargetCount, j.MaxResults, j.ForceFallbackOnly)
}

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

type FailureClass string

const (
	FailureNone          FailureClass = ""
	FailureRecoverable   FailureClass = "recoverable"
	FailureUnrecoverable FailureClass = "unrecoverable"
)

// StrategyYield is the outcome of one strategy invocation inside a run.
type StrategyYield struct {
	Strategy    string        `json:"strategy"`
	Requested   int           `json:"requested"`
	Raw         int           `json:"raw"`
	Accepted    int           `json:"accepted"`
	Inserted    int           `json:"inserted"`
	Duplicates  int           `json:"duplicates"`
	StoreErrors int           `json:"store_errors"`
	Failure     FailureClass  `json:"failure,omitempty"`
	Error       string        `json:"error,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// RunResult is returned to the caller of a run.
type RunResult struct {
	Niche            string                   `json:"niche"`
	Status           RunStatus                `json:"status"`
	TargetCount      int                      `json:"target_count"`
	InsertedCount    int                      `json:"inserted_count"`
	DuplicateCount   int                      `json:"duplicate_count"`
	StrategiesUsed   []string                 `json:"strategies_used"`
	PerStrategyYield map[string]StrategyYield `json:"per_strategy_yield"`
	Elapsed          time.Duration            `json:"elapsed"`
}

// RunMetrics is the record appended to the metrics sink after each run.
type RunMetrics struct {
	JobID       string          `json:"job_id"`
	Niche       string          `json:"niche"`
	StartedAt   time.Time       `json:"started_at"`
	Elapsed     time.Duration   `json:"elapsed"`
	Status      RunStatus       `json:"status"`
	TargetCount int             `json:"target_count"`
	Inserted    int             `json:"inserted"`
	Duplicates  int             `json:"duplicates"`
	Attempts    []StrategyYield `json:"attempts"`
}

// Yield is inserted over target for the run.
func (m RunMetrics) Yield() float64 {
	if m.TargetCount <= 0 {
		return 0
	}
	return float64(m.Inserted) / float64(m.TargetCount)
}

type AlertKind string

const (
	AlertLowYield      AlertKind = "low-yield"
	AlertHighErrorRate AlertKind = "high-error-rate"
)

type AlertEvent struct {
	Niche         string    `json:"niche"`
	Kind          AlertKind `json:"kind"`
	ObservedValue float64   `json:"observed_value"`
	Threshold     float64   `json:"threshold"`
	Timestamp     time.Time `json:"timestamp"`
}
