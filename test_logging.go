//go:build ignore
// +build ignore

package main

import (
	"context"

	"ChainPulse/internal/conf"
	pkglog "ChainPulse/pkg/log"
)

func main() {
	// Console format enables the emoji encoder
	logConf := &conf.Log{
		Level:  "debug",
		Format: "console",
		Env:    "development",
	}

	zapLogger, err := pkglog.NewZapLogger(logConf)
	if err != nil {
		panic(err)
	}

	kratosLogger := pkglog.NewKratosAdapter(zapLogger)

	helper := pkglog.NewLogHelper(kratosLogger)

	// Exercise every log type the emoji encoder maps
	println("=== log output format check ===\n")

	helper.Startup("ChainPulse service starting", "version", "1.0.0", "port", 8080)
	helper.API("Processing ops request", "endpoint", "/v1/breakers", "method", "GET")
	helper.Auth("Operator authenticated successfully", "key", "cp_live_4f***", "duration_ms", 2)
	helper.Request("GET", "/v1/health", 200, 12, "ip", "192.168.1.100", "user_agent", "curl/8.5.0")
	helper.Breaker("Circuit breaker created", "service", "market-data", "failure_threshold", 5)
	helper.StateChanged("market-data", "CLOSED", "OPEN", "failures", 5)
	helper.Bootstrap("Critical phase starting", "services", 2)
	helper.Upstream("Probing upstream", "service", "nft-market", "endpoint", "https://api.opensea.io/api/v2/ping")
	helper.Fallback("Serving snapshot fallback", "service", "market-data", "age_ms", 42000)
	helper.Warmup("Cache warmed", "service", "sentiment")
	helper.Telemetry("Metric recorded", "metric", "service_load_time", "value", 1270)
	helper.Health("Service health updated", "service", "portfolio", "status", "healthy", "latency_ms", 85)
	helper.Sink("Forwarding error batch", "count", 3, "endpoint", "errors")
	helper.Database("Resilience event persisted", "table", "resilience_events", "duration_ms", 4)
	helper.Cache("Probe result cached", "key", "probe:market-data", "ttl_s", 60)
	helper.Scheduler("Warm cycle scheduled", "cron", "0 */30 * * * *")
	helper.Performance("Cold start completed", "operation", "coldstart", "duration_ms", 2250)
	helper.Audit("Operator action", "operator", "ops", "action", "force_breaker_state")
	helper.Security("Invalid ops token", "ip", "10.0.0.1", "reason", "token mismatch")
	helper.Retry("Retrying failed services", "services", []string{"portfolio"})
	helper.Success("Cold start retry completed", "loaded", 1)

	// Context-aware methods
	ctx := pkglog.WithCorrelationContext(context.Background(),
		pkglog.GenerateCorrelationID(), "market-data", "coldstart.load")
	helper.LoadCompleted(ctx, "market-data", "loaded", 812)
	helper.SlowLoad(ctx, "nft-market", 3400, 3000)
	helper.RequestWithContext(ctx, "POST", "/v1/coldstart/retry", 200, 154)
	helper.CacheStats(ctx, "snapshots", 3, 128, 42, 7, 0)
	helper.BreakerWithContext(ctx, "Trial call allowed", "state", "HALF_OPEN")

	println("\n=== log output complete ===")
}
