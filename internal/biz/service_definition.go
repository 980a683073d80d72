package biz

import (
	"context"
	"fmt"
	"time"

	"ChainPulse/pkg/metadata"
)

// ServicePriority is the coarse loading tier of a service.
type ServicePriority string

const (
	PriorityCritical ServicePriority = "critical"
	PriorityHigh     ServicePriority = "high"
	PriorityMedium   ServicePriority = "medium"
	PriorityLow      ServicePriority = "low"
)

// rank orders priorities for the progressive phase, critical first.
func (p ServicePriority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// valid reports whether p is one of the four known tiers.
func (p ServicePriority) valid() bool {
	return p.rank() < 4
}

// Initializer boots one external service: opening clients, priming caches,
// whatever the service needs before first use. The returned value is opaque
// to the orchestrator.
type Initializer func(ctx context.Context) (interface{}, error)

// HealthCheck probes a freshly initialized service. Returning false or an
// error marks the load as failed even though the initializer succeeded.
type HealthCheck func(ctx context.Context) (bool, error)

// ServiceDefinition describes one service to the cold-start orchestrator.
// Definitions are registered before orchestration starts and are immutable
// during a run.
type ServiceDefinition struct {
	Name         string
	Priority     ServicePriority
	Dependencies []string
	Initializer  Initializer
	HealthCheck  HealthCheck // optional
	FallbackData interface{} // optional, substitutes for a failed load
	Timeout      time.Duration
	Metadata     string // optional JSON: proxy, region, tags (pkg/metadata)
}

// HasFallback reports whether a failed load of this service degrades to
// fallback data instead of blocking its dependents.
func (d *ServiceDefinition) HasFallback() bool {
	return d.FallbackData != nil
}

// normalize validates the definition and fills defaults in place.
// defaultTimeout caps loads for definitions that specify none.
func (d *ServiceDefinition) normalize(defaultTimeout time.Duration) error {
	if d.Name == "" {
		return fmt.Errorf("service definition requires a name")
	}
	if d.Initializer == nil {
		return fmt.Errorf("service %s requires an initializer", d.Name)
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	if !d.Priority.valid() {
		return fmt.Errorf("service %s has unknown priority %q", d.Name, d.Priority)
	}
	if d.Timeout <= 0 {
		d.Timeout = defaultTimeout
	}
	if d.Metadata != "" {
		meta, err := metadata.Parse(d.Metadata)
		if err != nil {
			return fmt.Errorf("service %s has invalid metadata: %w", d.Name, err)
		}
		if err := meta.Validate(); err != nil {
			return fmt.Errorf("service %s metadata: %w", d.Name, err)
		}
	}

	// Copy and dedupe dependencies so later mutation by the caller cannot
	// change a registered definition
	if len(d.Dependencies) > 0 {
		seen := make(map[string]bool, len(d.Dependencies))
		deps := make([]string, 0, len(d.Dependencies))
		for _, dep := range d.Dependencies {
			if dep == "" || seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
		}
		d.Dependencies = deps
	}
	return nil
}
