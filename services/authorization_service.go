package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"permission-center/metrics"
	"permission-center/repositories"

	"go.uber.org/zap"
)

// AuthorizationService resolves permission decisions for users. It keeps no state between
// calls; every answer reflects the store at the time of the call, so it is safe for
// concurrent use.
type AuthorizationService interface {
	Authorize(ctx context.Context, userID uint, permission string) (bool, error)
	HasAnyPermission(ctx context.Context, userID uint, permissions []string) (bool, error)
	HasAllPermissions(ctx context.Context, userID uint, permissions []string) (bool, error)
	GetEffectivePermissions(ctx context.Context, userID uint) ([]string, error)
	GetUsersWithPermission(ctx context.Context, permission string) ([]uint, error)
	GetRolesWithPermission(ctx context.Context, permission string) ([]uint, error)
	RoleHasPermission(ctx context.Context, roleID uint, permission string) (bool, error)
}

type authorizationService struct {
	roles   repositories.RoleRepository
	grants  repositories.GrantRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var _ AuthorizationService = (*authorizationService)(nil)

// NewAuthorizationService creates a new AuthorizationService instance. m may be nil.
func NewAuthorizationService(roles repositories.RoleRepository, grants repositories.GrantRepository, m *metrics.Metrics, logger *zap.Logger) AuthorizationService {
	return &authorizationService{
		roles:   roles,
		grants:  grants,
		metrics: m,
		logger:  logger.Named("authz"),
	}
}

func (s *authorizationService) Authorize(ctx context.Context, userID uint, permission string) (bool, error) {
	started := time.Now()
	granted, err := s.authorize(ctx, userID, permission)
	s.metrics.ObserveDecision("authorize", granted, err, started)
	if err != nil {
		s.logger.Error("authorize failed", zap.Uint("user_id", userID), zap.String("permission", permission), zap.Error(err))
		return false, err
	}
	s.logger.Debug("authorize", zap.Uint("user_id", userID), zap.String("permission", permission), zap.Bool("granted", granted))
	return granted, nil
}

// authorize applies the precedence chain:
//  1. an authoritative override decides alone;
//  2. otherwise any effective role grant allows;
//  3. otherwise a plain user record decides;
//  4. otherwise deny.
func (s *authorizationService) authorize(ctx context.Context, userID uint, permission string) (bool, error) {
	record, err := s.grants.GetUserOverrideByName(ctx, userID, permission)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return false, err
	}
	if record != nil && record.IsOverride {
		return record.Resolves(), nil
	}

	roleIDs, err := s.roles.GetUserRoleIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	viaRole, err := s.grants.HasEffectiveRoleGrant(ctx, roleIDs, permission)
	if err != nil {
		return false, err
	}
	if viaRole {
		return true, nil
	}

	if record != nil {
		return record.Resolves(), nil
	}
	return false, nil
}

// HasAnyPermission is false for an empty list.
func (s *authorizationService) HasAnyPermission(ctx context.Context, userID uint, permissions []string) (bool, error) {
	started := time.Now()
	granted, err := s.hasAny(ctx, userID, permissions)
	s.metrics.ObserveDecision("has_any", granted, err, started)
	return granted, err
}

func (s *authorizationService) hasAny(ctx context.Context, userID uint, permissions []string) (bool, error) {
	for _, p := range permissions {
		ok, err := s.authorize(ctx, userID, p)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions is true for an empty list.
func (s *authorizationService) HasAllPermissions(ctx context.Context, userID uint, permissions []string) (bool, error) {
	started := time.Now()
	granted, err := s.hasAll(ctx, userID, permissions)
	s.metrics.ObserveDecision("has_all", granted, err, started)
	return granted, err
}

func (s *authorizationService) hasAll(ctx context.Context, userID uint, permissions []string) (bool, error) {
	for _, p := range permissions {
		ok, err := s.authorize(ctx, userID, p)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// GetEffectivePermissions returns, sorted, every permission name Authorize would allow for the user:
// role-derived names not vetoed by an authoritative override, plus names the user's own records grant.
func (s *authorizationService) GetEffectivePermissions(ctx context.Context, userID uint) ([]string, error) {
	defer s.metrics.ObserveQuery("effective_permissions", time.Now())

	records, err := s.grants.ListUserOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	roleIDs, err := s.roles.GetUserRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	viaRoles, err := s.grants.EffectiveRoleGrantNames(ctx, roleIDs)
	if err != nil {
		return nil, err
	}

	vetoed := make(map[string]struct{})
	effective := make(map[string]struct{}, len(viaRoles)+len(records))
	for _, rec := range records {
		name := rec.Permission.Name
		switch {
		case rec.Resolves():
			effective[name] = struct{}{}
		case rec.IsOverride:
			vetoed[name] = struct{}{}
		}
	}
	for _, name := range viaRoles {
		if _, ok := vetoed[name]; !ok {
			effective[name] = struct{}{}
		}
	}

	return sortedNames(effective), nil
}

// GetUsersWithPermission returns, sorted, exactly the users for whom Authorize(user, permission) is true.
func (s *authorizationService) GetUsersWithPermission(ctx context.Context, permission string) ([]uint, error) {
	defer s.metrics.ObserveQuery("users_with_permission", time.Now())

	roleIDs, err := s.grants.RoleIDsWithEffectiveGrant(ctx, permission)
	if err != nil {
		return nil, err
	}
	members, err := s.roles.GetUsersInRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	denied, err := s.grants.UserIDsWithDenyingOverride(ctx, permission)
	if err != nil {
		return nil, err
	}
	direct, err := s.grants.UserIDsWithResolvingRecord(ctx, permission)
	if err != nil {
		return nil, err
	}

	vetoed := make(map[uint]struct{}, len(denied))
	for _, id := range denied {
		vetoed[id] = struct{}{}
	}
	users := make(map[uint]struct{}, len(members)+len(direct))
	for _, id := range members {
		if _, ok := vetoed[id]; !ok {
			users[id] = struct{}{}
		}
	}
	for _, id := range direct {
		users[id] = struct{}{}
	}

	ids := make([]uint, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *authorizationService) GetRolesWithPermission(ctx context.Context, permission string) ([]uint, error) {
	return s.grants.RoleIDsWithEffectiveGrant(ctx, permission)
}

func (s *authorizationService) RoleHasPermission(ctx context.Context, roleID uint, permission string) (bool, error) {
	started := time.Now()
	granted, err := s.grants.HasEffectiveRoleGrant(ctx, []uint{roleID}, permission)
	s.metrics.ObserveDecision("role_has_permission", granted, err, started)
	return granted, err
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
