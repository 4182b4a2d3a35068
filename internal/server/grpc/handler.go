package grpc

import (
	"github.com/dmitrijs2005/pricealert/internal/server/matcher"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ObserveEngine is a matcher state observer that keeps the health status
// of MatcherService in step with the engine.
func (s *GRPCServer) ObserveEngine(state matcher.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == matcher.Running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(MatcherService, status)
}
