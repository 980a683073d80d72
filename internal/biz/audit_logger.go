package biz

import (
	"context"
	"time"
)

// AuditLogger defines the interface for recording resilience events.
// Implementations must be fire-and-forget: recording an event never blocks
// the breaker or the orchestrator and never surfaces an error to them.
type AuditLogger interface {
	// LogStateChange records an automatic breaker state transition
	LogStateChange(ctx context.Context, service, from, to, reason string)

	// LogStateForced records an operator-forced breaker state override
	LogStateForced(ctx context.Context, service, from, to string)

	// LogBreakerReset records a manual breaker reset back to CLOSED
	LogBreakerReset(ctx context.Context, service string)

	// LogServiceLoad records the terminal outcome of one service load
	LogServiceLoad(ctx context.Context, service, status, phase string, duration time.Duration, usedFallback bool)

	// LogColdStartComplete records the end of a bootstrap run
	LogColdStartComplete(ctx context.Context, loaded, failed, fallbacks int, duration time.Duration)

	// LogWarmCycle records a background cache warm cycle
	LogWarmCycle(ctx context.Context, warmed, failed int, duration time.Duration)
}
