// Package alert delivers alert events to the log and to an optional webhook.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/metrics"
)

// Channel sends an alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, event types.AlertEvent) error
}

type cooldownKey struct {
	niche string
	kind  types.AlertKind
}

// Dispatcher fans an alert out to every channel, at most once per cooldown
// for each niche and kind.
type Dispatcher struct {
	mu       sync.Mutex
	channels []Channel
	cooldown time.Duration
	lastSent map[cooldownKey]time.Time
	timeout  time.Duration
	nowFunc  func() time.Time
}

func NewDispatcher(cooldown time.Duration, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		cooldown: cooldown,
		lastSent: map[cooldownKey]time.Time{},
		timeout:  10 * time.Second,
		nowFunc:  time.Now,
	}
}

// FromConfig builds the dispatcher for the configured channels. The log
// channel is always present.
func FromConfig(cfg config.AlertConfig) *Dispatcher {
	channels := []Channel{LogChannel{}}
	if cfg.WebhookURL != "" {
		channels = append(channels, NewWebhookChannel(cfg.WebhookURL))
	}
	return NewDispatcher(cfg.Cooldown, channels...)
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.nowFunc = now
}

// Alert implements metrics.AlertSink.
func (d *Dispatcher) Alert(ctx context.Context, event types.AlertEvent) {
	key := cooldownKey{niche: event.Niche, kind: event.Kind}

	d.mu.Lock()
	now := d.nowFunc()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		metrics.AlertsCooldownSkipped.WithLabelValues(string(event.Kind)).Inc()
		logrus.Debugf("Alert %s for %s suppressed, last sent %s", event.Kind, event.Niche, last)
		return
	}
	d.lastSent[key] = now
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	for _, ch := range d.channels {
		if err := ch.Send(ctx, event); err != nil {
			logrus.WithError(err).Errorf("Failed to send %s alert via %s", event.Kind, ch.Name())
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(ch.Name(), string(event.Kind)).Inc()
	}
}

// LogChannel writes alerts to the process log.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Send(_ context.Context, event types.AlertEvent) error {
	logrus.WithFields(logrus.Fields{
		"niche":     event.Niche,
		"kind":      event.Kind,
		"observed":  event.ObservedValue,
		"threshold": event.Threshold,
	}).Error("Lead acquisition alert")
	return nil
}
