package server

import (
	"context"

	"ChainPulse/internal/conf"
	"ChainPulse/internal/server/middleware"
	"ChainPulse/internal/service"
	pkglog "ChainPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer creates the ops HTTP server and registers the /v1 routes.
func NewHTTPServer(c *conf.Server, auth *conf.Auth, ops *service.OpsService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Auth(auth, logHelper), // ops-token auth with masked key logging
			middleware.Logging(logHelper),    // request logging with correlation ids
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerOpsRoutes(srv, ops)

	return srv
}

// registerOpsRoutes wires the ops API by hand. Every handler goes through
// ctx.Middleware so the recovery/auth/logging chain applies to these routes
// the same way it would to generated ones.
func registerOpsRoutes(srv *http.Server, ops *service.OpsService) {
	r := srv.Route("/v1")

	r.GET("/health", handle(func(ctx context.Context, c http.Context) (interface{}, error) {
		return ops.SystemHealth(ctx)
	}))

	r.GET("/breakers", handle(func(ctx context.Context, c http.Context) (interface{}, error) {
		return ops.ListBreakers(ctx)
	}))
	r.GET("/breakers/{name}", handle(func(ctx context.Context, c http.Context) (interface{}, error) {
		return ops.GetBreaker(ctx, c.Vars().Get("name"))
	}))
	r.POST("/breakers/{name}/state", handle(func(ctx context.Context, c http.Context) (interface{}, error) {
		var req service.ForceStateRequest
		if err := c.Bind(&req); err != nil {
			return nil, err
		}
		return ops.ForceBreakerState(ctx, c.Vars().Get("name"), &req)
	}))
	r.POST("/breakers/{name}/reset", handle(func(ctx context.Context, c http.Context) (interface{}, error) {
		return ops.ResetBreaker(ctx, c.Vars().Get("name"))
	}))

	r.GET("/coldstart", handle(func(ctx context.Context, c http.Context) (interface{}, error) {
		return ops.ColdStartStatus(ctx)
	}))
	r.POST("/coldstart/retry", handle(func(ctx context.Context, c http.Context) (interface{}, error) {
		return ops.RetryFailedServices(ctx)
	}))

	r.GET("/telemetry/errors", handle(func(ctx context.Context, c http.Context) (interface{}, error) {
		return ops.RecentErrors(ctx)
	}))
	r.GET("/telemetry/metrics", handle(func(ctx context.Context, c http.Context) (interface{}, error) {
		return ops.RecentMetrics(ctx)
	}))
}

// handle adapts a service call into a kratos HTTP handler, running it through
// the server middleware chain and serializing the reply.
func handle(fn func(ctx context.Context, c http.Context) (interface{}, error)) func(http.Context) error {
	return func(c http.Context) error {
		h := c.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return fn(ctx, c)
		})
		reply, err := h(c, nil)
		if err != nil {
			return err
		}
		return c.Result(200, reply)
	}
}
