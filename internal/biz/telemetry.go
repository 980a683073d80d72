package biz

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"ChainPulse/internal/conf"
	pkglog "ChainPulse/pkg/log"
)

// LogLevel is the severity of a telemetry log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ErrorSeverity classifies recorded errors for triage.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// Buffer capacities for the telemetry ring buffers.
const (
	metricBufferCap = 1000
	errorBufferCap  = 100
)

// LogEntry is one structured log record destined for the remote log sink.
type LogEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Level         LogLevel               `json:"level"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlation_id"`
	SessionID     string                 `json:"session_id"`
	Environment   string                 `json:"environment"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// PerformanceMetric is one measured value, buffered and flushed in batches.
type PerformanceMetric struct {
	Name          string            `json:"name"`
	Value         float64           `json:"value"`
	Unit          string            `json:"unit,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	CorrelationID string            `json:"correlation_id"`
	Timestamp     time.Time         `json:"timestamp"`
}

// ErrorEvent is one recorded error with its inferred or supplied severity.
type ErrorEvent struct {
	Message       string                 `json:"message"`
	Severity      ErrorSeverity          `json:"severity"`
	Context       map[string]interface{} `json:"context,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
	SessionID     string                 `json:"session_id"`
	Timestamp     time.Time              `json:"timestamp"`
}

// TelemetrySink ships telemetry batches to the remote collection endpoints.
// Implemented in the data layer; transport failures must be returned, never
// retried internally, so the caller can decide to drop.
type TelemetrySink interface {
	SendLogs(ctx context.Context, entries []LogEntry) error
	SendMetrics(ctx context.Context, metrics []PerformanceMetric) error
	SendErrors(ctx context.Context, events []ErrorEvent) error
}

// Telemetry is the shared observability substrate. Breakers, the cold-start
// orchestrator, and the ops endpoints all report through one instance, so a
// single session id and correlation scheme covers the whole process.
//
// All record methods are safe for concurrent use and never block or fail:
// when the sink is slow or down, records are dropped rather than queued
// unboundedly.
type Telemetry struct {
	environment string
	sessionID   string
	forwarding  bool
	batchSize   int
	sendTimeout time.Duration
	flushEvery  time.Duration

	health  *HealthRegistry
	sink    TelemetrySink
	metrics *Ring[PerformanceMetric]
	errs    *Ring[ErrorEvent]

	logCh   chan LogEntry
	errCh   chan ErrorEvent
	done    chan struct{}
	wg      sync.WaitGroup
	started bool

	droppedLogs   atomic.Int64
	droppedErrors atomic.Int64

	logger *log.Helper
}

// NewTelemetry creates the telemetry substrate and, in production with an
// enabled sink, starts the background forwarder. The returned cleanup stops
// the forwarder and flushes buffered records.
func NewTelemetry(cfg *conf.Telemetry, health *HealthRegistry, sink TelemetrySink, logger log.Logger) (*Telemetry, func(), error) {
	t := &Telemetry{
		environment: "development",
		sessionID:   uuid.NewString(),
		batchSize:   64,
		sendTimeout: 5 * time.Second,
		flushEvery:  30 * time.Second,
		health:      health,
		sink:        sink,
		metrics:     NewRing[PerformanceMetric](metricBufferCap),
		errs:        NewRing[ErrorEvent](errorBufferCap),
		done:        make(chan struct{}),
		logger:      log.NewHelper(logger),
	}

	if cfg != nil {
		if cfg.Environment != "" {
			t.environment = cfg.Environment
		}
		if s := cfg.Sink; s != nil {
			if s.BatchSize > 0 {
				t.batchSize = int(s.BatchSize)
			}
			if d := s.Timeout.AsDuration(); d > 0 {
				t.sendTimeout = d
			}
			if d := s.FlushInterval.AsDuration(); d > 0 {
				t.flushEvery = d
			}
			t.forwarding = s.Enabled && sink != nil && t.environment == "production"
		}
	}

	t.logCh = make(chan LogEntry, 4*t.batchSize)
	t.errCh = make(chan ErrorEvent, errorBufferCap)

	if t.forwarding {
		t.started = true
		t.wg.Add(1)
		go t.run()
	}

	return t, t.Close, nil
}

// SessionID returns the process-wide telemetry session id.
func (t *Telemetry) SessionID() string {
	return t.sessionID
}

// Environment returns the environment tag attached to every record.
func (t *Telemetry) Environment() string {
	return t.environment
}

// Log records a structured log entry. The entry always goes through the local
// logging pipeline; in production it is additionally batched to the remote
// log sink.
func (t *Telemetry) Log(ctx context.Context, level LogLevel, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:     time.Now(),
		Level:         level,
		Message:       message,
		CorrelationID: pkglog.GetCorrelationID(ctx),
		SessionID:     t.sessionID,
		Environment:   t.environment,
		Fields:        fields,
	}

	kvs := make([]interface{}, 0, 2*(len(fields)+4))
	kvs = append(kvs,
		"msg", message,
		"correlation_id", entry.CorrelationID,
		"session_id", t.sessionID,
		"environment", t.environment,
	)
	for k, v := range fields {
		kvs = append(kvs, k, v)
	}

	switch level {
	case LevelDebug:
		t.logger.Debugw(kvs...)
	case LevelWarn:
		t.logger.Warnw(kvs...)
	case LevelError:
		t.logger.Errorw(kvs...)
	default:
		t.logger.Infow(kvs...)
	}

	if !t.forwarding {
		return
	}
	select {
	case t.logCh <- entry:
	default:
		t.droppedLogs.Add(1)
	}
}

// RecordMetric appends a metric to the bounded metric buffer. Buffered
// metrics are flushed to the remote sink on a fixed interval in production.
func (t *Telemetry) RecordMetric(ctx context.Context, name string, value float64, unit string, tags map[string]string) {
	t.metrics.Append(PerformanceMetric{
		Name:          name,
		Value:         value,
		Unit:          unit,
		Tags:          tags,
		CorrelationID: pkglog.GetCorrelationID(ctx),
		Timestamp:     time.Now(),
	})
}

// RecordError appends an error event to the bounded error buffer. Severity is
// inferred from the error message unless supplied explicitly. In production
// the event is forwarded to the remote sink immediately.
func (t *Telemetry) RecordError(ctx context.Context, err error, fields map[string]interface{}, severity ...ErrorSeverity) {
	if err == nil {
		return
	}

	sev := ClassifySeverity(err.Error())
	if len(severity) > 0 && severity[0] != "" {
		sev = severity[0]
	}

	ev := ErrorEvent{
		Message:       err.Error(),
		Severity:      sev,
		Context:       fields,
		CorrelationID: pkglog.GetCorrelationID(ctx),
		SessionID:     t.sessionID,
		Timestamp:     time.Now(),
	}
	t.errs.Append(ev)

	if !t.forwarding {
		return
	}
	select {
	case t.errCh <- ev:
	default:
		t.droppedErrors.Add(1)
	}
}

// UpdateServiceHealth records the health of one service in the registry.
func (t *Telemetry) UpdateServiceHealth(service string, status HealthStatus, latency time.Duration, details map[string]interface{}) {
	t.health.Update(service, status, latency, details)
}

// SystemHealth returns the aggregate health snapshot across all services.
func (t *Telemetry) SystemHealth() SystemHealth {
	return t.health.SystemHealth()
}

// StartTiming returns a stop function. Calling it records the elapsed time
// as a millisecond metric under name and returns the measured duration.
func (t *Telemetry) StartTiming(ctx context.Context, name string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		elapsed := time.Since(start)
		t.RecordMetric(ctx, name, float64(elapsed.Milliseconds()), "ms", nil)
		return elapsed
	}
}

// MetricsSnapshot returns a copy of the buffered metrics, oldest first.
func (t *Telemetry) MetricsSnapshot() []PerformanceMetric {
	return t.metrics.Snapshot()
}

// RecentErrors returns a copy of the buffered error events, oldest first.
func (t *Telemetry) RecentErrors() []ErrorEvent {
	return t.errs.Snapshot()
}

// Close stops the background forwarder after a final flush. Safe to call
// multiple times.
func (t *Telemetry) Close() {
	if !t.started {
		return
	}
	t.started = false
	close(t.done)
	t.wg.Wait()

	if n := t.droppedLogs.Load() + t.droppedErrors.Load(); n > 0 {
		t.logger.Warnf("telemetry forwarder dropped %d records during this session", n)
	}
}

// run is the single background forwarder goroutine. It batches log entries,
// forwards error events immediately, and flushes the metric buffer on a
// fixed interval.
func (t *Telemetry) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			t.finalFlush()
			return
		case <-ticker.C:
			t.flushMetrics()
		case entry := <-t.logCh:
			t.sendLogs(t.collectLogs(entry))
		case ev := <-t.errCh:
			t.sendErrors([]ErrorEvent{ev})
		}
	}
}

// collectLogs gathers pending log entries into one batch without blocking.
func (t *Telemetry) collectLogs(first LogEntry) []LogEntry {
	batch := append(make([]LogEntry, 0, t.batchSize), first)
collect:
	for len(batch) < t.batchSize {
		select {
		case e := <-t.logCh:
			batch = append(batch, e)
		default:
			break collect
		}
	}
	return batch
}

func (t *Telemetry) flushMetrics() {
	batch := t.metrics.Drain()
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.sendTimeout)
	defer cancel()
	if err := t.sink.SendMetrics(ctx, batch); err != nil {
		// Transport failures are swallowed, telemetry never propagates errors
		t.logger.Debugf("metric flush failed: %v (%d metrics dropped)", err, len(batch))
	}
}

func (t *Telemetry) sendLogs(entries []LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), t.sendTimeout)
	defer cancel()
	if err := t.sink.SendLogs(ctx, entries); err != nil {
		t.logger.Debugf("log forward failed: %v (%d entries dropped)", err, len(entries))
	}
}

func (t *Telemetry) sendErrors(events []ErrorEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), t.sendTimeout)
	defer cancel()
	if err := t.sink.SendErrors(ctx, events); err != nil {
		t.logger.Debugf("error forward failed: %v (%d events dropped)", err, len(events))
	}
}

// finalFlush drains whatever is still queued before shutdown.
func (t *Telemetry) finalFlush() {
	for {
		select {
		case entry := <-t.logCh:
			t.sendLogs(t.collectLogs(entry))
			continue
		default:
		}
		break
	}
	for {
		select {
		case ev := <-t.errCh:
			t.sendErrors([]ErrorEvent{ev})
			continue
		default:
		}
		break
	}
	t.flushMetrics()
}

// ClassifySeverity infers an error severity from message keywords. Explicit
// severities always win; this only covers errors recorded without one.
func ClassifySeverity(message string) ErrorSeverity {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "critical"):
		return SeverityCritical
	case strings.Contains(m, "unauthorized"):
		return SeverityHigh
	case strings.Contains(m, "network"), strings.Contains(m, "timeout"):
		return SeverityMedium
	default:
		return SeverityLow
	}
}
