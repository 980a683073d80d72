//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"ChainPulse/internal/biz"
	"ChainPulse/internal/conf"
	"ChainPulse/internal/data"
	"ChainPulse/internal/server"
	"ChainPulse/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Auth, *conf.Telemetry, *conf.Resilience, *conf.ColdStart, *conf.Upstream, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newCryptoService,
		newBootstrapper,
		newApp,
	))
}
