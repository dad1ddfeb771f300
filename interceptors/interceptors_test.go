package interceptors

import (
	"context"
	"testing"
	"time"

	"permission-center/auth"
	"permission-center/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestAuthInterceptor(t *testing.T) {
	authenticator := auth.NewAuthenticator([]byte("interceptor-key"), time.Hour, "permission-center", nil, zap.NewNop())
	interceptor := AuthInterceptor(authenticator)
	token, err := authenticator.GenerateToken(&models.User{ID: 7, Username: "carol"})
	require.NoError(t, err)

	var seen context.Context
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = ctx
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/authz.AuthorizationService/Authorize"}

	t.Run("Public method", func(t *testing.T) {
		resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/auth.AuthService/Login"}, handler)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})

	t.Run("Missing metadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("Bad header", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Token "+token))
		_, err := interceptor(ctx, nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("Valid token", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
		_, err := interceptor(ctx, nil, info, handler)
		require.NoError(t, err)

		userID, ok := GetUserIDFromContext(seen)
		require.True(t, ok)
		assert.Equal(t, uint(7), userID)
		username, _ := GetUsernameFromContext(seen)
		assert.Equal(t, "carol", username)
	})
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := RecoveryInterceptor(zap.NewNop())
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/y"}, func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestRequestIDFields(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "abc"))
	fields := requestIDFields(ctx)
	assert.Equal(t, []any{"request_id", "abc"}, []any(fields))
	assert.Nil(t, requestIDFields(context.Background()))
}
