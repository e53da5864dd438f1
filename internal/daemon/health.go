package daemon

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthService is the name reported by the gRPC health endpoint.
const healthService = "orchestra"

// newHealthServer returns a gRPC server exposing grpc.health.v1 with the
// orchestra service marked SERVING.
func newHealthServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// serveHealth serves until ctx is done, then reports NOT_SERVING and stops.
func serveHealth(ctx context.Context, ln net.Listener) error {
	srv, hs := newHealthServer()
	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()
	return srv.Serve(ln)
}
