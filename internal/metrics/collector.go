package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/config"
)

// AlertSink delivers alert events raised by the Collector.
type AlertSink interface {
	Alert(ctx context.Context, event types.AlertEvent)
}

// StrategySnapshot aggregates every invocation of one strategy.
type StrategySnapshot struct {
	Attempts     int     `json:"attempts"`
	Failures     int     `json:"failures"`
	Inserted     int     `json:"inserted"`
	AverageYield float64 `json:"average_yield"`
}

// NicheSnapshot covers the runs of a niche still inside the alert window.
type NicheSnapshot struct {
	Runs      int     `json:"runs"`
	Yield     float64 `json:"yield"`
	ErrorRate float64 `json:"error_rate"`
}

type Snapshot struct {
	Runs        int                         `json:"runs"`
	SuccessRate float64                     `json:"success_rate"`
	ErrorRate   float64                     `json:"error_rate"`
	Strategies  map[string]StrategySnapshot `json:"strategies"`
	Niches      map[string]NicheSnapshot    `json:"niches"`
	LastRun     *types.RunMetrics           `json:"last_run,omitempty"`
}

type strategyTotals struct {
	attempts int
	failures int
	inserted int
	yieldSum float64
}

const alertQueueSize = 64

// Collector records every finished run, keeps the last WindowRuns runs of
// each niche and raises alerts when a full window breaches a threshold.
// Alerts reach the sink from a background goroutine; Close drains it.
type Collector struct {
	mu sync.Mutex

	window       int
	minYield     float64
	maxErrorRate float64
	sink         AlertSink
	nowFunc      func() time.Time

	alerts chan types.AlertEvent
	done   chan struct{}
	closed bool

	runs       int
	successes  int
	attempts   int
	failures   int
	strategies map[string]*strategyTotals
	niches     map[string][]types.RunMetrics
	last       *types.RunMetrics
}

func NewCollector(cfg config.AlertConfig, sink AlertSink) *Collector {
	window := cfg.WindowRuns
	if window < 1 {
		window = 1
	}
	c := &Collector{
		window:       window,
		minYield:     cfg.MinYield,
		maxErrorRate: cfg.MaxErrorRate,
		sink:         sink,
		nowFunc:      time.Now,
		strategies:   map[string]*strategyTotals{},
		niches:       map[string][]types.RunMetrics{},
		done:         make(chan struct{}),
	}
	if sink == nil {
		close(c.done)
		return c
	}
	c.alerts = make(chan types.AlertEvent, alertQueueSize)
	go c.deliver()
	return c
}

func (c *Collector) deliver() {
	defer close(c.done)
	for ev := range c.alerts {
		c.sink.Alert(context.Background(), ev)
	}
}

// Close stops alert delivery once the queued alerts are sent.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed && c.alerts != nil {
		close(c.alerts)
	}
	c.closed = true
	c.mu.Unlock()
	<-c.done
}

// SetClock replaces the time source used for alert timestamps.
func (c *Collector) SetClock(now func() time.Time) {
	c.nowFunc = now
}

// Record adds a run. It never waits for alert delivery; alerts that do not
// fit in the queue are dropped with a log line.
func (c *Collector) Record(m types.RunMetrics) {
	c.mu.Lock()
	c.runs++
	if m.Status == types.RunSuccess {
		c.successes++
	}
	for _, a := range m.Attempts {
		t, ok := c.strategies[a.Strategy]
		if !ok {
			t = &strategyTotals{}
			c.strategies[a.Strategy] = t
		}
		t.attempts++
		t.inserted += a.Inserted
		if a.Requested > 0 {
			t.yieldSum += float64(a.Inserted) / float64(a.Requested)
		}
		c.attempts++
		if a.Failure != types.FailureNone {
			t.failures++
			c.failures++
		}
	}
	last := m
	c.last = &last

	ring := append(c.niches[m.Niche], m)
	if len(ring) > c.window {
		ring = ring[len(ring)-c.window:]
	}
	c.niches[m.Niche] = ring

	var events []types.AlertEvent
	if len(ring) == c.window {
		now := c.nowFunc()
		ns := nicheSnapshot(ring)
		if ns.Yield < c.minYield {
			events = append(events, types.AlertEvent{
				Niche:         m.Niche,
				Kind:          types.AlertLowYield,
				ObservedValue: ns.Yield,
				Threshold:     c.minYield,
				Timestamp:     now,
			})
		}
		if ns.ErrorRate > c.maxErrorRate {
			events = append(events, types.AlertEvent{
				Niche:         m.Niche,
				Kind:          types.AlertHighErrorRate,
				ObservedValue: ns.ErrorRate,
				Threshold:     c.maxErrorRate,
				Timestamp:     now,
			})
		}
	}
	c.mu.Unlock()

	for _, ev := range events {
		logrus.WithField("niche", ev.Niche).Warnf("Alert %s: observed %.2f, threshold %.2f", ev.Kind, ev.ObservedValue, ev.Threshold)
		c.enqueue(ev)
	}
}

func (c *Collector) enqueue(ev types.AlertEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alerts == nil || c.closed {
		return
	}
	select {
	case c.alerts <- ev:
	default:
		logrus.WithField("niche", ev.Niche).Errorf("Alert queue full, dropping %s alert", ev.Kind)
	}
}

// Snapshot returns the rolling aggregates.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Runs:       c.runs,
		Strategies: make(map[string]StrategySnapshot, len(c.strategies)),
		Niches:     make(map[string]NicheSnapshot, len(c.niches)),
	}
	if c.runs > 0 {
		s.SuccessRate = float64(c.successes) / float64(c.runs)
	}
	if c.attempts > 0 {
		s.ErrorRate = float64(c.failures) / float64(c.attempts)
	}
	for name, t := range c.strategies {
		ss := StrategySnapshot{Attempts: t.attempts, Failures: t.failures, Inserted: t.inserted}
		if t.attempts > 0 {
			ss.AverageYield = t.yieldSum / float64(t.attempts)
		}
		s.Strategies[name] = ss
	}
	for niche, ring := range c.niches {
		s.Niches[niche] = nicheSnapshot(ring)
	}
	if c.last != nil {
		last := *c.last
		s.LastRun = &last
	}
	return s
}

// Niches lists the niches with recorded runs.
func (c *Collector) Niches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.niches))
	for n := range c.niches {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// nicheSnapshot computes yield as inserted over target across the runs and
// error rate as failed strategy invocations over all invocations.
func nicheSnapshot(ring []types.RunMetrics) NicheSnapshot {
	var inserted, target, attempts, failures int
	for _, r := range ring {
		inserted += r.Inserted
		target += r.TargetCount
		for _, a := range r.Attempts {
			attempts++
			if a.Failure != types.FailureNone {
				failures++
			}
		}
	}
	ns := NicheSnapshot{Runs: len(ring)}
	if target > 0 {
		ns.Yield = float64(inserted) / float64(target)
	}
	if attempts > 0 {
		ns.ErrorRate = float64(failures) / float64(attempts)
	}
	return ns
}
