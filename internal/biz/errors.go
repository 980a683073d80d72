package biz

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CircuitOpenError is returned by a breaker that is OPEN with no fallback
// configured. Callers can retry after RetryAfter.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is OPEN for service %s: retry after %s", e.Service, e.RetryAfter)
}

// TimeoutError is returned when a guarded call or a service load exceeds its
// configured deadline. Stage distinguishes where the deadline was hit.
type TimeoutError struct {
	Service string
	Stage   string // "call", "load", or "health_check"
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s for service %s", e.Stage, e.Timeout, e.Service)
}

// HealthCheckError is returned when a service initializer succeeds but the
// post-load health check reports the service unusable.
type HealthCheckError struct {
	Service string
}

// Error implements the error interface.
func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("health check failed for service %s", e.Service)
}

// DependencyError is returned when a service cannot load because one of its
// dependencies terminated in failed state without a fallback.
type DependencyError struct {
	Service    string
	Dependency string
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("service %s blocked: dependency %s failed without fallback", e.Service, e.Dependency)
}

// CycleError is returned at registration time when the dependency graph
// contains a cycle. Cycle lists the service names along the detected loop.
type CycleError struct {
	Cycle []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownServiceError is returned when an operation references a service name
// that was never registered.
type UnknownServiceError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service: %s", e.Name)
}

// IsCircuitOpen reports whether err is a circuit-open fast fail.
func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is a deadline error from a guarded call or a
// service load.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsHealthCheckFailure reports whether err is a failed post-load health check.
func IsHealthCheckFailure(err error) bool {
	var target *HealthCheckError
	return errors.As(err, &target)
}

// IsDependencyFailure reports whether err is a cascading dependency failure.
func IsDependencyFailure(err error) bool {
	var target *DependencyError
	return errors.As(err, &target)
}

// IsCycle reports whether err is a dependency cycle detected at registration.
func IsCycle(err error) bool {
	var target *CycleError
	return errors.As(err, &target)
}

// IsUnknownService reports whether err references an unregistered service.
func IsUnknownService(err error) bool {
	var target *UnknownServiceError
	return errors.As(err, &target)
}
