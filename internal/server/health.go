package server

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/go-sod/posture/internal/buildinfo"
	"github.com/go-sod/posture/internal/httputil"
)

// ServiceName is the name reported to gRPC health checks.
const ServiceName = "posture"

type healthResponse struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HandleHealth answers GET /health while ctx is alive and 503 once the
// service started shutting down.
func HandleHealth(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			httputil.RespJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{
				Status:  "shutting down",
				Name:    buildinfo.Info.Name(),
				Version: buildinfo.Info.Tag(),
			})
		default:
			httputil.RespJSON(r.Context(), w, http.StatusOK, healthResponse{
				Status:  "ok",
				Name:    buildinfo.Info.Name(),
				Version: buildinfo.Info.Tag(),
			})
		}
	})
}

// NewHealthServer returns a gRPC server exposing the standard health service.
// The service reports SERVING until ctx is done.
func NewHealthServer(ctx context.Context, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() {
		<-ctx.Done()
		hs.Shutdown()
	}()
	return srv
}
