package grpcserver

import (
	"permission-center/auth"
	"permission-center/interceptors"
	"permission-center/services"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds the gRPC server with the auth, authorization and health services
// registered. The interceptor chain runs recovery, logging and then authentication.
func NewServer(authenticator *auth.Authenticator, authz services.AuthorizationService, logger *zap.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryInterceptor(logger),
			interceptors.ZapLoggingInterceptor(logger),
			interceptors.AuthInterceptor(authenticator),
		),
	)
	server.RegisterService(&AuthServiceDesc, NewAuthServiceServer(authenticator, logger))
	server.RegisterService(&AuthorizationServiceDesc, NewAuthorizationServer(authz, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(authServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(authzServiceName, healthpb.HealthCheckResponse_SERVING)
	return server, healthServer
}
