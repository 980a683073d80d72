package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ChainPulse/internal/model"
	pkgerrors "ChainPulse/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// eventQueueCap bounds the async write queue so a slow database can never
// stall a breaker or the orchestrator.
const eventQueueCap = 1000

// writeTimeout caps a single INSERT into the event table.
const writeTimeout = 5 * time.Second

// ResilienceEventWriter implements biz.AuditLogger. Events are queued on a
// bounded channel and persisted by one background goroutine; when the queue
// is full or the database is unavailable, events are dropped with a warning.
type ResilienceEventWriter struct {
	db        *gorm.DB
	events    chan *model.ResilienceEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    *log.Helper
}

// NewResilienceEventWriter creates the async event writer. A nil database
// turns every Log method into a no-op so the rest of the stack keeps working
// without an audit trail.
func NewResilienceEventWriter(db *gorm.DB, logger log.Logger) (*ResilienceEventWriter, func(), error) {
	w := &ResilienceEventWriter{
		db:     db,
		events: make(chan *model.ResilienceEvent, eventQueueCap),
		done:   make(chan struct{}),
		logger: log.NewHelper(logger),
	}

	if db != nil {
		if err := db.AutoMigrate(&model.ResilienceEvent{}); err != nil {
			w.logger.Warnf("failed to migrate resilience_events table: %v", err)
		}
		w.wg.Add(1)
		go w.start()
	}

	return w, w.Close, nil
}

// Close stops the background writer after draining queued events. Safe to
// call multiple times.
func (w *ResilienceEventWriter) Close() {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

// start processes events from the queue until Close.
func (w *ResilienceEventWriter) start() {
	defer w.wg.Done()
	for {
		select {
		case ev := <-w.events:
			w.persist(ev)
		case <-w.done:
			// Drain whatever is already queued before exiting
			for {
				select {
				case ev := <-w.events:
					w.persist(ev)
				default:
					return
				}
			}
		}
	}
}

// persist writes one event row, retrying once on deadlock.
func (w *ResilienceEventWriter) persist(ev *model.ResilienceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := w.db.WithContext(ctx).Create(ev).Error
	if err != nil && pkgerrors.IsDeadlockError(err) {
		err = w.db.WithContext(ctx).Create(ev).Error
	}
	if err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		w.logger.Errorw("msg", "failed to write resilience event",
			"service", ev.Service,
			"event_type", ev.EventType,
			"error", dbErr.Error())
		return
	}

	w.logger.Debugw("msg", "resilience event written",
		"service", ev.Service,
		"event_type", ev.EventType)
}

// enqueue queues one event without blocking the caller.
func (w *ResilienceEventWriter) enqueue(service, eventType string, details interface{}) {
	if w.db == nil {
		return
	}
	select {
	case <-w.done:
		return
	default:
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		w.logger.Errorw("msg", "failed to marshal resilience event details",
			"service", service,
			"event_type", eventType,
			"error", err)
		return
	}

	ev := &model.ResilienceEvent{
		Service:   service,
		EventType: eventType,
		Details:   string(detailsJSON),
	}

	select {
	case w.events <- ev:
		// Successfully queued
	default:
		w.logger.Warnw("msg", "resilience event queue full, dropping event",
			"service", service,
			"event_type", eventType)
	}
}

// stateEventType maps a breaker's target state to its audit event type.
func stateEventType(to string) string {
	switch to {
	case "open":
		return model.EventBreakerOpened
	case "half_open":
		return model.EventBreakerHalfOpen
	case "closed":
		return model.EventBreakerClosed
	}
	return model.EventStateForced
}

// loadEventType maps a load outcome status to its audit event type.
func loadEventType(status string) string {
	switch status {
	case "loaded":
		return model.EventServiceLoaded
	case "fallback":
		return model.EventServiceFallback
	}
	return model.EventServiceFailed
}

// LogStateChange records an automatic breaker state transition.
func (w *ResilienceEventWriter) LogStateChange(ctx context.Context, service, from, to, reason string) {
	w.enqueue(service, stateEventType(to), model.StateChangeDetails{
		From:   from,
		To:     to,
		Reason: reason,
	})
}

// LogStateForced records an operator-forced breaker state override.
func (w *ResilienceEventWriter) LogStateForced(ctx context.Context, service, from, to string) {
	w.enqueue(service, model.EventStateForced, model.StateChangeDetails{
		From:   from,
		To:     to,
		Forced: true,
	})
}

// LogBreakerReset records a manual breaker reset back to CLOSED.
func (w *ResilienceEventWriter) LogBreakerReset(ctx context.Context, service string) {
	w.enqueue(service, model.EventBreakerReset, model.StateChangeDetails{
		To:     "closed",
		Reason: "manual reset",
	})
}

// LogServiceLoad records the terminal outcome of one service load.
func (w *ResilienceEventWriter) LogServiceLoad(ctx context.Context, service, status, phase string, duration time.Duration, usedFallback bool) {
	w.enqueue(service, loadEventType(status), model.ServiceLoadDetails{
		Status:       status,
		Phase:        phase,
		DurationMs:   duration.Milliseconds(),
		UsedFallback: usedFallback,
	})
}

// LogColdStartComplete records the end of a bootstrap run.
func (w *ResilienceEventWriter) LogColdStartComplete(ctx context.Context, loaded, failed, fallbacks int, duration time.Duration) {
	w.enqueue("coldstart", model.EventColdStartComplete, model.ColdStartDetails{
		Loaded:     loaded,
		Failed:     failed,
		Fallbacks:  fallbacks,
		DurationMs: duration.Milliseconds(),
	})
}

// LogWarmCycle records a background cache warm cycle.
func (w *ResilienceEventWriter) LogWarmCycle(ctx context.Context, warmed, failed int, duration time.Duration) {
	w.enqueue("coldstart", model.EventWarmCycle, model.WarmCycleDetails{
		Warmed:     warmed,
		Failed:     failed,
		DurationMs: duration.Milliseconds(),
	})
}
