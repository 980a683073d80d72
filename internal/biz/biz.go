// Package biz contains business logic layer implementations.
// This layer holds the resilience core: the circuit breakers, the cold-start
// orchestrator, and the telemetry substrate they report through.
package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewHealthRegistry,
	NewTelemetry,
	NewBreakerRegistry,
	NewColdStartOrchestrator,
)
