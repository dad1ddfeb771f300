package grpcserver

import (
	"context"
	"errors"

	"permission-center/auth"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const authServiceName = "auth.AuthService"

// AuthServiceServer logs users in and validates their tokens.
//
// Login takes {"username", "password"} and answers {"success", "token", "user_id", "message"}.
// ValidateToken takes the raw token and answers {"valid", "user_id", "username", "error"}.
type AuthServiceServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateToken(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// AuthServiceDesc describes auth.AuthService for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: authServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(authServiceName, "Login", newStruct, AuthServiceServer.Login),
		unary(authServiceName, "ValidateToken", newStringValue, AuthServiceServer.ValidateToken),
	},
	Streams: []grpc.StreamDesc{},
}

type authServiceServer struct {
	authenticator *auth.Authenticator
	logger        *zap.Logger
}

var _ AuthServiceServer = (*authServiceServer)(nil)

func NewAuthServiceServer(authenticator *auth.Authenticator, logger *zap.Logger) AuthServiceServer {
	return &authServiceServer{authenticator: authenticator, logger: logger.Named("grpc-auth")}
}

func newStruct() *structpb.Struct             { return &structpb.Struct{} }
func newStringValue() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }

func stringField(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func (s *authServiceServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, password := stringField(req, "username"), stringField(req, "password")
	if username == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "username and password are required")
	}

	token, user, err := s.authenticator.Login(ctx, username, password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		// Don't return error, return unsuccessful response
		return structpb.NewStruct(map[string]any{"success": false, "message": "Invalid credentials"})
	}
	if err != nil {
		s.logger.Error("login failed", zap.String("username", username), zap.Error(err))
		return nil, status.Error(codes.Internal, "could not log in")
	}
	return structpb.NewStruct(map[string]any{"success": true, "token": token, "user_id": float64(user.ID)})
}

func (s *authServiceServer) ValidateToken(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	claims, err := s.authenticator.ParseAndValidateToken(req.GetValue())
	if err != nil {
		return structpb.NewStruct(map[string]any{"valid": false, "error": err.Error()})
	}
	return structpb.NewStruct(map[string]any{
		"valid":    true,
		"user_id":  float64(claims.UserID),
		"username": claims.Username,
	})
}

// AuthServiceClient calls auth.AuthService.
type AuthServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) *AuthServiceClient {
	return &AuthServiceClient{cc: cc}
}

func (c *AuthServiceClient) Login(ctx context.Context, username, password string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+authServiceName+"/Login", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) ValidateToken(ctx context.Context, token string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+authServiceName+"/ValidateToken", wrapperspb.String(token), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
