// Package model holds shared record types used across the data and biz layers.
package model

import "time"

// Resilience event type constants
const (
	EventBreakerOpened     = "BREAKER_OPENED"
	EventBreakerHalfOpen   = "BREAKER_HALF_OPEN"
	EventBreakerClosed     = "BREAKER_CLOSED"
	EventBreakerReset      = "BREAKER_RESET"
	EventStateForced       = "STATE_FORCED"
	EventServiceLoaded     = "SERVICE_LOADED"
	EventServiceFallback   = "SERVICE_FALLBACK"
	EventServiceFailed     = "SERVICE_FAILED"
	EventColdStartComplete = "COLDSTART_COMPLETE"
	EventWarmCycle         = "WARM_CYCLE"
)

// ResilienceEvent is the GORM model for the resilience_events audit table.
// One row per breaker transition, load outcome, bootstrap run, or warm cycle.
type ResilienceEvent struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Service   string    `gorm:"column:service;type:varchar(100);not null;index"`
	EventType string    `gorm:"column:event_type;type:varchar(50);not null;index"`
	Details   string    `gorm:"column:details;type:json"` // JSON string
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (ResilienceEvent) TableName() string {
	return "resilience_events"
}
