package health

import (
	"time"
)

type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
	StatusDisabled    Status = "disabled"
)

// Check is a point-in-time view of one component.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Usable reports whether the component can serve requests at all.
func (c Check) Usable() bool {
	return c.Status == StatusHealthy || c.Status == StatusDegraded
}

// Prober reports the static health of a component, e.g. whether it is
// configured or whether its circuit breaker is open.
type Prober interface {
	Name() string
	Health() Check
}

// StrategyStatus holds the health information for a single strategy, built
// from the outcomes of recent runs.
type StrategyStatus struct {
	Name        string    `json:"name"`
	IsHealthy   bool      `json:"is_healthy"`
	LastChecked time.Time `json:"last_checked"`
	LastError   string    `json:"last_error,omitempty"`
	ErrorCount  int       `json:"error_count"`
}

// StrategyHealthTracker defines the interface for managing the health status
// of the acquisition strategies.
type StrategyHealthTracker interface {
	// UpdateStatus records the outcome of a strategy invocation.
	UpdateStatus(name string, isHealthy bool, err error)
	// GetStatus retrieves the current health status of a specific strategy.
	GetStatus(name string) (StrategyStatus, bool)
	// GetAllStatuses returns a map of all tracked strategy statuses.
	GetAllStatuses() map[string]StrategyStatus
	// Checks combines registered probes with the recorded outcomes.
	Checks() []Check
}
