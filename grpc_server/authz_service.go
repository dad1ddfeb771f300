package grpcserver

import (
	"context"
	"math"

	"permission-center/interceptors"
	"permission-center/services"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const authzServiceName = "authz.AuthorizationService"

// AuthorizationServer exposes the resolution engine over gRPC.
//
// Requests are structs with the optional keys "user_id" (number, defaults to the caller),
// "permission" (string) and "permissions" (list of strings). Asking about another user
// needs permissions.view.
type AuthorizationServer interface {
	Authorize(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	HasAnyPermission(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	HasAllPermissions(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	GetEffectivePermissions(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	GetUsersWithPermission(context.Context, *structpb.Struct) (*structpb.ListValue, error)
}

// AuthorizationServiceDesc describes authz.AuthorizationService for grpc.Server.RegisterService.
var AuthorizationServiceDesc = grpc.ServiceDesc{
	ServiceName: authzServiceName,
	HandlerType: (*AuthorizationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(authzServiceName, "Authorize", newStruct, AuthorizationServer.Authorize),
		unary(authzServiceName, "HasAnyPermission", newStruct, AuthorizationServer.HasAnyPermission),
		unary(authzServiceName, "HasAllPermissions", newStruct, AuthorizationServer.HasAllPermissions),
		unary(authzServiceName, "GetEffectivePermissions", newStruct, AuthorizationServer.GetEffectivePermissions),
		unary(authzServiceName, "GetUsersWithPermission", newStruct, AuthorizationServer.GetUsersWithPermission),
	},
	Streams: []grpc.StreamDesc{},
}

type authorizationServer struct {
	authz  services.AuthorizationService
	logger *zap.Logger
}

var _ AuthorizationServer = (*authorizationServer)(nil)

func NewAuthorizationServer(authz services.AuthorizationService, logger *zap.Logger) AuthorizationServer {
	return &authorizationServer{authz: authz, logger: logger.Named("grpc-authz")}
}

// subject resolves "user_id" against the caller.
func (s *authorizationServer) subject(ctx context.Context, req *structpb.Struct) (uint, error) {
	caller, ok := interceptors.GetUserIDFromContext(ctx)
	if !ok {
		return 0, status.Error(codes.Unauthenticated, "no authenticated user")
	}
	v, present := req.GetFields()["user_id"]
	if !present {
		return caller, nil
	}
	n := v.GetNumberValue()
	if n < 0 || n > math.MaxUint32 || n != math.Trunc(n) {
		return 0, status.Error(codes.InvalidArgument, "user_id must be a non-negative integer")
	}
	userID := uint(n)
	if userID == caller {
		return caller, nil
	}
	if err := s.require(ctx, caller, services.PermPermissionsView); err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *authorizationServer) require(ctx context.Context, caller uint, permissions ...string) error {
	allowed, err := s.authz.HasAllPermissions(ctx, caller, permissions)
	if err != nil {
		return toStatus(s.logger, err)
	}
	if !allowed {
		return status.Error(codes.PermissionDenied, "permission denied")
	}
	return nil
}

// names returns "permission" followed by the entries of "permissions".
func names(req *structpb.Struct) []string {
	var out []string
	if p := stringField(req, "permission"); p != "" {
		out = append(out, p)
	}
	for _, v := range req.GetFields()["permissions"].GetListValue().GetValues() {
		if name := v.GetStringValue(); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (s *authorizationServer) check(ctx context.Context, req *structpb.Struct, permissions []string, fn func(context.Context, uint, []string) (bool, error)) (*wrapperspb.BoolValue, error) {
	userID, err := s.subject(ctx, req)
	if err != nil {
		return nil, err
	}
	granted, err := fn(ctx, userID, permissions)
	if err != nil {
		return nil, toStatus(s.logger, err)
	}
	return wrapperspb.Bool(granted), nil
}

// Authorize takes exactly one name, in "permission" or as a one-element "permissions" list.
func (s *authorizationServer) Authorize(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	permissions := names(req)
	if len(permissions) != 1 {
		return nil, status.Error(codes.InvalidArgument, "exactly one permission is required")
	}
	return s.check(ctx, req, permissions, func(ctx context.Context, userID uint, permissions []string) (bool, error) {
		return s.authz.Authorize(ctx, userID, permissions[0])
	})
}

func (s *authorizationServer) HasAnyPermission(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	return s.check(ctx, req, names(req), s.authz.HasAnyPermission)
}

func (s *authorizationServer) HasAllPermissions(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	return s.check(ctx, req, names(req), s.authz.HasAllPermissions)
}

func (s *authorizationServer) GetEffectivePermissions(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	userID, err := s.subject(ctx, req)
	if err != nil {
		return nil, err
	}
	permissions, err := s.authz.GetEffectivePermissions(ctx, userID)
	if err != nil {
		return nil, toStatus(s.logger, err)
	}
	values := make([]*structpb.Value, 0, len(permissions))
	for _, name := range permissions {
		values = append(values, structpb.NewStringValue(name))
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *authorizationServer) GetUsersWithPermission(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	permission := stringField(req, "permission")
	if permission == "" {
		return nil, status.Error(codes.InvalidArgument, "permission is required")
	}
	caller, ok := interceptors.GetUserIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no authenticated user")
	}
	if err := s.require(ctx, caller, services.PermUsersView, services.PermPermissionsView); err != nil {
		return nil, err
	}
	userIDs, err := s.authz.GetUsersWithPermission(ctx, permission)
	if err != nil {
		return nil, toStatus(s.logger, err)
	}
	values := make([]*structpb.Value, 0, len(userIDs))
	for _, id := range userIDs {
		values = append(values, structpb.NewNumberValue(float64(id)))
	}
	return &structpb.ListValue{Values: values}, nil
}

// AuthorizationClient calls authz.AuthorizationService.
type AuthorizationClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthorizationClient(cc grpc.ClientConnInterface) *AuthorizationClient {
	return &AuthorizationClient{cc: cc}
}

// CheckRequest builds a request struct. A zero userID means the caller.
func CheckRequest(userID uint, permissions ...string) *structpb.Struct {
	fields := map[string]*structpb.Value{}
	if userID != 0 {
		fields["user_id"] = structpb.NewNumberValue(float64(userID))
	}
	if len(permissions) == 1 {
		fields["permission"] = structpb.NewStringValue(permissions[0])
	} else if len(permissions) > 1 {
		values := make([]*structpb.Value, 0, len(permissions))
		for _, p := range permissions {
			values = append(values, structpb.NewStringValue(p))
		}
		fields["permissions"] = structpb.NewListValue(&structpb.ListValue{Values: values})
	}
	return &structpb.Struct{Fields: fields}
}

func (c *AuthorizationClient) invokeBool(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, "/"+authzServiceName+"/"+method, in, out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *AuthorizationClient) Authorize(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (bool, error) {
	return c.invokeBool(ctx, "Authorize", in, opts)
}

func (c *AuthorizationClient) HasAnyPermission(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (bool, error) {
	return c.invokeBool(ctx, "HasAnyPermission", in, opts)
}

func (c *AuthorizationClient) HasAllPermissions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (bool, error) {
	return c.invokeBool(ctx, "HasAllPermissions", in, opts)
}

func (c *AuthorizationClient) GetEffectivePermissions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, "/"+authzServiceName+"/GetEffectivePermissions", in, out, opts...); err != nil {
		return nil, err
	}
	permissions := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		permissions = append(permissions, v.GetStringValue())
	}
	return permissions, nil
}

func (c *AuthorizationClient) GetUsersWithPermission(ctx context.Context, permission string, opts ...grpc.CallOption) ([]uint, error) {
	out := new(structpb.ListValue)
	in := CheckRequest(0, permission)
	if err := c.cc.Invoke(ctx, "/"+authzServiceName+"/GetUsersWithPermission", in, out, opts...); err != nil {
		return nil, err
	}
	userIDs := make([]uint, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		userIDs = append(userIDs, uint(v.GetNumberValue()))
	}
	return userIDs, nil
}
