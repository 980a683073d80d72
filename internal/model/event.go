package model

// StateChangeDetails is the details payload of breaker transition events.
// Forced is true when an operator override caused the transition.
type StateChangeDetails struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
	Forced bool   `json:"forced,omitempty"`
}

// ServiceLoadDetails is the details payload of service load outcome events.
type ServiceLoadDetails struct {
	Status       string `json:"status"`
	Phase        string `json:"phase"`
	DurationMs   int64  `json:"duration_ms"`
	UsedFallback bool   `json:"used_fallback,omitempty"`
}

// ColdStartDetails is the details payload of bootstrap completion events.
type ColdStartDetails struct {
	Loaded     int   `json:"loaded"`
	Failed     int   `json:"failed"`
	Fallbacks  int   `json:"fallbacks"`
	DurationMs int64 `json:"duration_ms"`
}

// WarmCycleDetails is the details payload of cache warm cycle events.
type WarmCycleDetails struct {
	Warmed     int   `json:"warmed"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"duration_ms"`
}
