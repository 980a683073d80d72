package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper extends Kratos log.Helper with domain-specific convenience methods.
// Each method attaches a "type" field that drives the EmojiConsoleEncoder mapping.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates an enhanced log helper
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

// API logs API handling events (emoji: 🔗)
func (h *LogHelper) API(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "api")
	h.Infow(allKvs...)
}

// Auth logs authentication events (emoji: 🔓)
func (h *LogHelper) Auth(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "auth")
	h.Infow(allKvs...)
}

// Request logs an HTTP request (emoji: 🌐 or status-based)
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// Breaker logs circuit breaker events (emoji: 🔌)
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "breaker")
	h.Infow(allKvs...)
}

// Bootstrap logs cold-start orchestration events (emoji: 🚀)
func (h *LogHelper) Bootstrap(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "bootstrap")
	h.Infow(allKvs...)
}

// Upstream logs upstream service probe events (emoji: 📡)
func (h *LogHelper) Upstream(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "upstream")
	h.Infow(allKvs...)
}

// Fallback logs fallback substitution events (emoji: 🛟)
func (h *LogHelper) Fallback(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "fallback")
	h.Warnw(allKvs...)
}

// Warmup logs cache warming events (emoji: 🔥)
func (h *LogHelper) Warmup(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "warmup")
	h.Infow(allKvs...)
}

// Telemetry logs telemetry pipeline events (emoji: 📊)
func (h *LogHelper) Telemetry(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "telemetry")
	h.Debugw(allKvs...)
}

// Health logs health registry events (emoji: 💓)
func (h *LogHelper) Health(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "health")
	h.Infow(allKvs...)
}

// Sink logs remote sink transport events (emoji: 📤)
func (h *LogHelper) Sink(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "sink")
	h.Debugw(allKvs...)
}

// Success logs successful operations (emoji: ✅)
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "success")
	h.Infow(allKvs...)
}

// Database logs database operations (emoji: 💾)
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "database")
	h.Debugw(allKvs...)
}

// Cache logs cache operations (emoji: 📦)
func (h *LogHelper) Cache(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "cache")
	h.Debugw(allKvs...)
}

// Scheduler logs cron scheduling events (emoji: 🎯)
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "scheduler")
	h.Infow(allKvs...)
}

// Startup logs process startup events (emoji: 🚀)
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "startup")
	h.Infow(allKvs...)
}

// Performance logs timing measurements (emoji: ⏱️)
func (h *LogHelper) Performance(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "performance")
	h.Infow(allKvs...)
}

// Audit logs audit trail events (emoji: 📋)
func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "audit")
	h.Infow(allKvs...)
}

// Security logs security events (emoji: 🔒)
func (h *LogHelper) Security(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "security")
	h.Warnw(allKvs...)
}

// Retry logs retry attempts (emoji: 🔁)
func (h *LogHelper) Retry(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "retry")
	h.Infow(allKvs...)
}

// StateChanged logs a breaker state transition (convenience method)
func (h *LogHelper) StateChanged(service, from, to string, kvs ...interface{}) {
	msg := fmt.Sprintf("Circuit breaker %s: %s -> %s", service, from, to)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "service_name", service, "from_state", from, "to_state", to, "type", "breaker")
	h.Infow(allKvs...)
}

// ========== Context-aware methods ==========
// These methods automatically extract tracing information (correlation id,
// target service) from the Context.

// LoadCompleted logs a finished service load with its outcome (convenience method)
func (h *LogHelper) LoadCompleted(ctx context.Context, service, status string, durationMs int64, kvs ...interface{}) {
	cc := GetCorrelationContext(ctx)

	msg := fmt.Sprintf("[%s] Service load completed - %s: %s in %s",
		cc.CorrelationID, service, status, formatDuration(durationMs))

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"correlation_id", cc.CorrelationID,
		"service_name", service,
		"status", status,
		"duration_ms", durationMs,
		"type", "bootstrap",
	)
	h.Infow(allKvs...)
}

// SlowLoad warns about a service load exceeding its threshold (emoji: 🐌)
func (h *LogHelper) SlowLoad(ctx context.Context, service string, duration, threshold int64, kvs ...interface{}) {
	cc := GetCorrelationContext(ctx)

	msg := fmt.Sprintf("[%s] Slow service load | %s | %dms (threshold: %dms)",
		cc.CorrelationID, service, duration, threshold)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"correlation_id", cc.CorrelationID,
		"service_name", service,
		"duration_ms", duration,
		"threshold_ms", threshold,
		"type", "slow_load",
	)
	h.Warnw(allKvs...)
}

// RequestWithContext logs an HTTP request with tracing information.
// Automatically extracts the correlation id and flags slow requests.
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	cc := GetCorrelationContext(ctx)

	msg := fmt.Sprintf("%s %s - %d (%dms) | CorrelationID: %s",
		method, url, status, durationMs, cc.CorrelationID)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"correlation_id", cc.CorrelationID,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// CacheStats logs fallback store statistics (emoji: 🧹)
func (h *LogHelper) CacheStats(ctx context.Context, cacheName string, size, maxSize, hits, misses, evictions int64, kvs ...interface{}) {
	var hitRate float64
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	msg := fmt.Sprintf("Cache stats - %s | Size: %d/%d, Hit Rate: %.2f%%, Evictions: %d",
		cacheName, size, maxSize, hitRate, evictions)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"cache_name", cacheName,
		"size", size,
		"max_size", maxSize,
		"hits", hits,
		"misses", misses,
		"evictions", evictions,
		"hit_rate", fmt.Sprintf("%.2f%%", hitRate),
		"total_requests", total,
		"type", "cache_stats",
	)
	h.Infow(allKvs...)
}

// BreakerWithContext logs a breaker event with tracing information
func (h *LogHelper) BreakerWithContext(ctx context.Context, msg string, kvs ...interface{}) {
	cc := GetCorrelationContext(ctx)

	fullMsg := fmt.Sprintf("[%s] %s", cc.CorrelationID, msg)

	allKvs := append([]interface{}{"msg", fullMsg}, kvs...)
	allKvs = append(allKvs,
		"correlation_id", cc.CorrelationID,
		"service_name", cc.Service,
		"type", "breaker",
	)
	h.Infow(allKvs...)
}
