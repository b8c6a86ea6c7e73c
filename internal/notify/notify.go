// Package notify delivers write-back events to the operator. Delivery is
// best effort: a failing sink is logged and never blocks the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/metrics"
	"go.uber.org/zap"
)

// Kind names an event type. It is also the last token of the NATS subject.
type Kind string

const (
	KindWriteBackSkipped  Kind = "writeback_skipped"
	KindWriteBackStarted  Kind = "writeback_started"
	KindWriteBackFinished Kind = "writeback_finished"
	KindRateLimited       Kind = "rate_limited"
)

// Event is one notification.
type Event struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	Time    time.Time      `json:"time"`
}

// Sink sends events to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Notifier is what event producers depend on.
type Notifier interface {
	Notify(ev Event)
}

// Async fans each event out to every sink on its own goroutine.
type Async struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

var _ Notifier = (*Async)(nil)

func NewAsync(timeout time.Duration, logger *zap.Logger, sinks ...Sink) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{sinks: sinks, timeout: timeout, logger: logger}
}

// Sinks returns the names of the configured sinks.
func (a *Async) Sinks() []string {
	names := make([]string, len(a.sinks))
	for i, s := range a.sinks {
		names[i] = s.Name()
	}
	return names
}

// Notify logs ev and hands it to every sink without waiting.
func (a *Async) Notify(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	a.logger.Info("notification",
		zap.String("kind", string(ev.Kind)),
		zap.String("message", ev.Message),
	)

	for _, s := range a.sinks {
		a.wg.Add(1)
		go func(s Sink) {
			defer a.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			defer cancel()

			if err := s.Send(ctx, ev); err != nil {
				metrics.Notifications.WithLabelValues(s.Name(), "error").Inc()
				a.logger.Warn("notification failed",
					zap.String("sink", s.Name()),
					zap.String("kind", string(ev.Kind)),
					zap.Error(err),
				)
				return
			}
			metrics.Notifications.WithLabelValues(s.Name(), "ok").Inc()
		}(s)
	}
}

// Close waits for in-flight deliveries.
func (a *Async) Close() {
	a.wg.Wait()
}
