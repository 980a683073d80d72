package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "ChainPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThresholdMs flags ops requests slower than this.
const slowRequestThresholdMs = 3000

// Logging returns the request logging middleware. Every request gets a
// correlation id (from X-Request-ID when the caller supplies one) that is
// injected into the context so all telemetry produced while handling the
// request shares it.
//
// Example log output:
//
//	🟢 GET /v1/breakers - 200 (4ms) | CorrelationID: mgrn0zfqda
//	🐌 [mgrn0zfqda] Slow ops request | POST /v1/coldstart/retry | 13438ms
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method        string
				path          string
				ip            string
				userAgent     string
				correlationID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}

					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")

					// Callers may carry their own id end to end
					correlationID = httpReq.Header.Get("X-Request-ID")
				}
			}

			if correlationID == "" {
				correlationID = pkglog.GenerateCorrelationID()
			}
			ctx = pkglog.WithCorrelationContext(ctx, correlationID, "ops", method+" "+path)

			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()
			status := extractHTTPStatus(err)

			logger.RequestWithContext(ctx, method, path, status, duration,
				"ip", ip,
				"user_agent", userAgent,
			)
			if duration > slowRequestThresholdMs {
				logger.SlowLoad(ctx, "ops", duration, slowRequestThresholdMs,
					"method", method,
					"path", path,
				)
			}

			return reply, err
		}
	}
}

// extractClientIP resolves the client address behind proxies.
// Priority: X-Real-IP > X-Forwarded-For (first entry) > RemoteAddr.
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractHTTPStatus maps a handler error to the HTTP status the transport
// will write, using the kratos error model.
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	if se := errors.FromError(err); se != nil {
		return int(se.Code)
	}
	return 500
}
