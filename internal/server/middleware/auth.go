// Package middleware provides HTTP middleware for authentication, request
// logging, and correlation-id propagation on the ops API.
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"ChainPulse/internal/conf"
	pkglog "ChainPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// apiKeyMaskedContextKey is the context key for the masked API key
	apiKeyMaskedContextKey contextKey = "api_key_masked"
)

// openOperations are reachable without an ops token so external probes can
// scrape liveness without credentials.
var openOperations = map[string]bool{
	"/v1/health": true,
}

// Auth returns the ops-token authentication middleware.
//
// The token is taken from "Authorization: Bearer ..." or the X-API-Key
// header and compared against the configured ops key in constant time. The
// full key never reaches a log line; only the first characters survive
// masking.
//
// Example log output:
//
//	🔓 Authenticated ops request (cp_ops_1***) in 0ms | {"type":"auth","api_key_masked":"cp_ops_1***"}
func Auth(auth *conf.Auth, logger *pkglog.LogHelper) middleware.Middleware {
	var configuredKey string
	if auth != nil && auth.Api != nil {
		configuredKey = auth.Api.Key
	}

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				apiKey    string
				operation string
				userAgent string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					operation = httpReq.URL.Path

					// "Bearer {token}" wins over X-API-Key when both are set
					authHeader := httpReq.Header.Get("Authorization")
					if authHeader != "" {
						apiKey = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
					}
					if apiKey == "" {
						apiKey = httpReq.Header.Get("X-API-Key")
					}

					userAgent = httpReq.Header.Get("User-Agent")
				}
			}

			if openOperations[operation] {
				return handler(ctx, req)
			}

			if configuredKey != "" {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(configuredKey)) != 1 {
					logger.Security("Rejected ops request",
						"operation", operation,
						"api_key_masked", maskAPIKey(apiKey),
						"user_agent", userAgent,
					)
					return nil, errors.Unauthorized("INVALID_OPS_TOKEN", "missing or invalid ops API key")
				}
			}

			if apiKey != "" {
				maskedKey := maskAPIKey(apiKey)
				authDuration := time.Since(startTime).Milliseconds()

				logger.Auth(
					"Authenticated ops request ("+maskedKey+") in "+formatDuration(authDuration),
					"api_key_masked", maskedKey,
					"duration_ms", authDuration,
				)
				if userAgent != "" {
					logger.API(
						"   User-Agent: \""+userAgent+"\"",
						"user_agent", userAgent,
					)
				}

				ctx = context.WithValue(ctx, apiKeyMaskedContextKey, maskedKey)
			}

			return handler(ctx, req)
		}
	}
}

// maskAPIKey hides all but the first 8 characters of a key.
// Example: "cp_ops_1234567890" -> "cp_ops_1***"
func maskAPIKey(key string) string {
	if key == "" {
		return "(none)"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "***"
}

// formatDuration renders a millisecond count as 5ms / 150ms / 2.5s.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	return fmt.Sprintf("%.1fs", seconds)
}
