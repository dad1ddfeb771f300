package interceptors

import (
	"context"
	"runtime/debug"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDMetadataKey is the incoming metadata key copied into every log line of a call.
const RequestIDMetadataKey = "x-request-id"

// InterceptorLogger adapts zap logger to interceptor logger.
func InterceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		zapFields := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i < len(fields); i += 2 {
			// Ensure we don't panic if fields has odd number of elements.
			if i+1 >= len(fields) {
				break
			}
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			zapFields = append(zapFields, zap.Any(key, fields[i+1]))
		}

		switch lvl {
		case logging.LevelDebug:
			l.Debug(msg, zapFields...)
		case logging.LevelInfo:
			l.Info(msg, zapFields...)
		case logging.LevelWarn:
			l.Warn(msg, zapFields...)
		case logging.LevelError:
			l.Error(msg, zapFields...)
		default:
			l.Error("Unknown log level in interceptor", zap.String("original_msg", msg), zap.Any("level", lvl))
		}
	})
}

// ZapLoggingInterceptor returns a new unary server interceptor that logs requests using Zap.
func ZapLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	opts := []logging.Option{
		logging.WithLogOnEvents(logging.StartCall, logging.FinishCall),
		logging.WithDurationField(logging.DurationToDurationField),
		logging.WithFieldsFromContext(requestIDFields),
		logging.WithLevels(logging.DefaultServerCodeToLevel),
	}
	return logging.UnaryServerInterceptor(InterceptorLogger(logger.Named("grpc")), opts...)
}

func requestIDFields(ctx context.Context) logging.Fields {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	if ids := md.Get(RequestIDMetadataKey); len(ids) > 0 {
		return logging.Fields{"request_id", ids[0]}
	}
	return nil
}

// RecoveryInterceptor turns a panicking handler into codes.Internal and logs the stack.
func RecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
		logger.Error("panic in gRPC handler", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		return status.Error(codes.Internal, "internal error")
	}))
}
