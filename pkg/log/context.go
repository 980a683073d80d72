package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is a private key type for context values
type contextKey string

const correlationContextKey contextKey = "chainpulse_correlation_context"

// CorrelationContext carries tracing information for one logical operation.
// It travels through context.Context so every telemetry record produced by
// the operation (breaker call, service load, HTTP request) shares one id.
type CorrelationContext struct {
	CorrelationID string                 // short unique id (10 chars, e.g. mgrn0zfqda)
	Service       string                 // service the operation targets (e.g. market-data)
	Operation     string                 // logical operation (e.g. breaker.execute)
	StartTime     time.Time              // operation start time
	Metadata      map[string]interface{} // extension metadata
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 charset (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateCorrelationID generates a 10-character random correlation id.
// Format: lowercase letters + digits, e.g. mgrn0zfqda.
// base36 keeps it short and cheap compared to a full UUID.
func GenerateCorrelationID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithCorrelationContext injects a CorrelationContext into the Context.
// Called by middleware and by domain entry points so the whole operation
// lifecycle shares tracing information.
func WithCorrelationContext(ctx context.Context, correlationID, service, operation string) context.Context {
	cc := &CorrelationContext{
		CorrelationID: correlationID,
		Service:       service,
		Operation:     operation,
		StartTime:     time.Now(),
		Metadata:      make(map[string]interface{}),
	}
	return context.WithValue(ctx, correlationContextKey, cc)
}

// EnsureCorrelation returns a context guaranteed to carry a correlation id,
// minting one when absent, along with the id itself.
func EnsureCorrelation(ctx context.Context, service, operation string) (context.Context, string) {
	if cc, ok := ctx.Value(correlationContextKey).(*CorrelationContext); ok && cc.CorrelationID != "" {
		return ctx, cc.CorrelationID
	}
	id := GenerateCorrelationID()
	return WithCorrelationContext(ctx, id, service, operation), id
}

// GetCorrelationContext extracts the CorrelationContext from the Context.
// Returns a default empty CorrelationContext when none is present.
func GetCorrelationContext(ctx context.Context) *CorrelationContext {
	if ctx == nil {
		return &CorrelationContext{
			CorrelationID: "unknown",
			Metadata:      make(map[string]interface{}),
		}
	}

	if cc, ok := ctx.Value(correlationContextKey).(*CorrelationContext); ok {
		return cc
	}

	// Return a default value to spare callers the nil check
	return &CorrelationContext{
		CorrelationID: "unknown",
		Metadata:      make(map[string]interface{}),
	}
}

// GetCorrelationID extracts the correlation id from the Context.
// Convenience wrapper around GetCorrelationContext.
func GetCorrelationID(ctx context.Context) string {
	return GetCorrelationContext(ctx).CorrelationID
}

// GetService extracts the target service name from the Context
func GetService(ctx context.Context) string {
	return GetCorrelationContext(ctx).Service
}

// SetMetadata attaches extra tracing metadata to the CorrelationContext
func SetMetadata(ctx context.Context, key string, value interface{}) {
	cc := GetCorrelationContext(ctx)
	if cc.Metadata == nil {
		cc.Metadata = make(map[string]interface{})
	}
	cc.Metadata[key] = value
}

// GetMetadata reads tracing metadata from the CorrelationContext
func GetMetadata(ctx context.Context, key string) (interface{}, bool) {
	cc := GetCorrelationContext(ctx)
	if cc.Metadata == nil {
		return nil, false
	}
	value, ok := cc.Metadata[key]
	return value, ok
}

// GetElapsedTime returns how long the operation has been running (milliseconds)
func GetElapsedTime(ctx context.Context) int64 {
	cc := GetCorrelationContext(ctx)
	if cc.StartTime.IsZero() {
		return 0
	}
	return time.Since(cc.StartTime).Milliseconds()
}
