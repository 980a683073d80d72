package server

import (
	"ChainPulse/internal/biz"
	"ChainPulse/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	kgrpc "github.com/go-kratos/kratos/v2/transport/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer creates the gRPC server exposing the standard grpc.health.v1
// service. Per-service serving status mirrors the health registry: healthy
// maps to SERVING, everything else to NOT_SERVING. The returned cleanup
// unsubscribes from the registry and marks all services NOT_SERVING.
func NewGRPCServer(c *conf.Server, registry *biz.HealthRegistry, logger log.Logger) (*kgrpc.Server, func(), error) {
	helper := log.NewHelper(logger)

	var opts = []kgrpc.ServerOption{
		kgrpc.Middleware(
			recovery.Recovery(),
		),
		// The default kratos health service only tracks process liveness;
		// ours is driven per service by the health registry
		kgrpc.CustomHealth(),
	}
	if c.Grpc.Network != "" {
		opts = append(opts, kgrpc.Network(c.Grpc.Network))
	}
	if c.Grpc.Addr != "" {
		opts = append(opts, kgrpc.Address(c.Grpc.Addr))
	}
	if c.Grpc.Timeout != nil {
		opts = append(opts, kgrpc.Timeout(c.Grpc.Timeout.AsDuration()))
	}
	srv := kgrpc.NewServer(opts...)

	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthSrv)
	// The empty service name is the whole-process probe target
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	updates, unsubscribe := registry.Subscribe()
	go func() {
		for u := range updates {
			status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
			if u.Status == biz.HealthHealthy {
				status = grpc_health_v1.HealthCheckResponse_SERVING
			}
			healthSrv.SetServingStatus(u.Service, status)
			helper.Debugf("grpc health: %s -> %s", u.Service, status)
		}
	}()

	cleanup := func() {
		unsubscribe()
		healthSrv.Shutdown()
	}
	return srv, cleanup, nil
}
