package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Consecutive failures after which a strategy is reported degraded.
const degradedAfter = 3

// Tracker is the concrete implementation of the StrategyHealthTracker interface.
type Tracker struct {
	statuses map[string]StrategyStatus
	probes   []Prober
	mu       sync.RWMutex
}

// NewTracker creates a new instance of a Tracker.
func NewTracker(probes ...Prober) *Tracker {
	return &Tracker{
		statuses: make(map[string]StrategyStatus),
		probes:   probes,
	}
}

// Register adds a probe consulted by Checks.
func (t *Tracker) Register(p Prober) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.probes = append(t.probes, p)
}

// UpdateStatus updates the health status of a specific strategy.
func (t *Tracker) UpdateStatus(name string, isHealthy bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, exists := t.statuses[name]
	if !exists {
		status = StrategyStatus{Name: name}
	}

	status.IsHealthy = isHealthy
	status.LastChecked = time.Now()

	if err != nil {
		status.LastError = err.Error()
		if !isHealthy {
			status.ErrorCount++
		}
	} else {
		// Reset error state on success
		status.LastError = ""
		status.ErrorCount = 0
	}
	t.statuses[name] = status
}

// GetStatus retrieves the current health status of a specific strategy.
func (t *Tracker) GetStatus(name string) (StrategyStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, exists := t.statuses[name]
	return status, exists
}

// GetAllStatuses returns a map of all tracked strategy statuses.
func (t *Tracker) GetAllStatuses() map[string]StrategyStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	statusesCopy := make(map[string]StrategyStatus, len(t.statuses))
	for k, v := range t.statuses {
		statusesCopy[k] = v
	}
	return statusesCopy
}

// Checks returns one check per probe, downgraded to degraded when the
// strategy has been failing repeatedly. Strategies without a probe are
// reported from their recorded outcomes only.
func (t *Tracker) Checks() []Check {
	t.mu.RLock()
	probes := append([]Prober(nil), t.probes...)
	t.mu.RUnlock()

	statuses := t.GetAllStatuses()
	var checks []Check
	for _, p := range probes {
		c := p.Health()
		if st, ok := statuses[p.Name()]; ok {
			c = merge(c, st)
			delete(statuses, p.Name())
		}
		checks = append(checks, c)
	}
	for name, st := range statuses {
		checks = append(checks, merge(Check{Name: name, Status: StatusHealthy}, st))
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return checks
}

// Ready reports whether at least one strategy can serve requests.
func (t *Tracker) Ready() bool {
	for _, c := range t.Checks() {
		if c.Usable() {
			return true
		}
	}
	return false
}

func merge(c Check, st StrategyStatus) Check {
	if c.Status != StatusHealthy || st.IsHealthy || st.ErrorCount < degradedAfter {
		return c
	}
	c.Status = StatusDegraded
	c.Detail = fmt.Sprintf("%d consecutive failures, last: %s", st.ErrorCount, st.LastError)
	return c
}

// StartReconciliationLoop periodically logs probe state changes until ctx
// is done.
func (t *Tracker) StartReconciliationLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := map[string]Status{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range t.Checks() {
				if prev, ok := last[c.Name]; ok && prev != c.Status {
					logrus.Warnf("Strategy %s is now %s (was %s) %s", c.Name, c.Status, prev, c.Detail)
				}
				last[c.Name] = c.Status
			}
		}
	}
}
