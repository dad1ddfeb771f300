package grpcserver

import (
	"context"
	"errors"

	"permission-center/repositories"
	"permission-center/services"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// unary builds a method descriptor that decodes into a fresh Req and dispatches to call,
// going through the server's interceptor chain when one is installed.
func unary[S any, Req proto.Message, Resp proto.Message](service, method string, newReq func() Req, call func(S, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// toStatus maps service errors to gRPC codes. Unknown errors are logged and hidden.
func toStatus(logger *zap.Logger, err error) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, repositories.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, services.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, services.ErrSystemRole):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		logger.Error("unhandled service error", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
