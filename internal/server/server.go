// Package server assembles the kratos transport servers: the ops HTTP API
// and the gRPC health endpoint.
package server

import "github.com/google/wire"

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer, NewGRPCServer)
