package controllers

import (
	"context"
	"net/http"

	"permission-center/auth"
	"permission-center/services"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

// AuthzController answers permission questions.
type AuthzController struct {
	authz  services.AuthorizationService
	guard  *Guard
	logger *zap.Logger
}

func NewAuthzController(authz services.AuthorizationService, guard *Guard, logger *zap.Logger) *AuthzController {
	return &AuthzController{authz: authz, guard: guard, logger: logger.Named("authz-api")}
}

// CheckRequest asks whether a user holds one or more permissions. UserID defaults to the caller.
type CheckRequest struct {
	UserID      *uint    `json:"user_id,omitempty" description:"Defaults to the caller"`
	Permission  string   `json:"permission,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// names returns Permission followed by Permissions.
func (r *CheckRequest) names() []string {
	if r.Permission == "" {
		return r.Permissions
	}
	return append([]string{r.Permission}, r.Permissions...)
}

type CheckResponse struct {
	UserID  uint `json:"user_id"`
	Granted bool `json:"granted"`
}

type EffectivePermissionsResponse struct {
	UserID      uint     `json:"user_id"`
	Permissions []string `json:"permissions"`
}

type HoldersResponse struct {
	Permission string `json:"permission"`
	UserIDs    []uint `json:"user_ids,omitempty"`
	RoleIDs    []uint `json:"role_ids,omitempty"`
}

// RegisterRoutes sets up the /authz routes on a go-restful WebService.
func (ctl *AuthzController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/authz").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	tags := []string{"authz"}
	g := ctl.guard
	permission := ws.PathParameter("permission", "Permission name")

	ws.Route(g.protect(ws.POST("/check")).To(ctl.checkHandler(ctl.checkOne, true)).
		Doc("Does the user hold the permission").
		Notes("Exactly one name, given as permission or as a one-element permissions list.").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(CheckRequest{}).
		Writes(CheckResponse{}).
		Returns(http.StatusBadRequest, "No permission or more than one", MessageResponse{}).
		Returns(http.StatusForbidden, "Checking another user needs permissions.view", MessageResponse{}))

	ws.Route(g.protect(ws.POST("/check-any")).To(ctl.checkHandler(ctl.authz.HasAnyPermission, false)).
		Doc("Does the user hold at least one of the permissions").
		Notes("An empty list is never satisfied.").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(CheckRequest{}).
		Writes(CheckResponse{}))

	ws.Route(g.protect(ws.POST("/check-all")).To(ctl.checkHandler(ctl.authz.HasAllPermissions, false)).
		Doc("Does the user hold every one of the permissions").
		Notes("An empty list is always satisfied.").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(CheckRequest{}).
		Writes(CheckResponse{}))

	ws.Route(g.protect(ws.GET("/me/permissions")).To(ctl.myPermissionsHandler).
		Doc("The caller's effective permissions").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(EffectivePermissionsResponse{}))

	ws.Route(g.protect(ws.GET("/users/{user-id}/permissions"), services.PermUsersView, services.PermPermissionsView).To(ctl.userPermissionsHandler).
		Doc("A user's effective permissions").
		Param(ws.PathParameter("user-id", "Identifier of the user").DataType("integer")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(EffectivePermissionsResponse{}))

	ws.Route(g.protect(ws.GET("/permissions/{permission}/users"), services.PermUsersView, services.PermPermissionsView).To(ctl.usersWithPermissionHandler).
		Doc("Users that effectively hold the permission").
		Param(permission).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(HoldersResponse{}))

	ws.Route(g.protect(ws.GET("/permissions/{permission}/roles"), services.PermRolesViewPermissions).To(ctl.rolesWithPermissionHandler).
		Doc("Roles with an effective grant of the permission").
		Param(permission).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(HoldersResponse{}))

	ws.Route(g.protect(ws.GET("/roles/{role-id}/permissions/{permission}"), services.PermRolesViewPermissions).To(ctl.roleHasPermissionHandler).
		Doc("Does the role effectively grant the permission").
		Param(ws.PathParameter("role-id", "Identifier of the role").DataType("integer")).
		Param(permission).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(CheckResponse{}))
}

type checkFunc func(ctx context.Context, userID uint, permissions []string) (bool, error)

func (ctl *AuthzController) checkOne(ctx context.Context, userID uint, permissions []string) (bool, error) {
	return ctl.authz.Authorize(ctx, userID, permissions[0])
}

// subject picks the user a check is about. Anyone may ask about themselves; asking about
// somebody else needs permissions.view.
func (ctl *AuthzController) subject(request *restful.Request, response *restful.Response, requested *uint) (uint, bool) {
	caller, ok := auth.UserIDFromRequest(request)
	if !ok {
		writeMessage(response, http.StatusUnauthorized, "Unauthorized")
		return 0, false
	}
	if requested == nil || *requested == caller {
		return caller, true
	}
	allowed, err := ctl.authz.Authorize(request.Request.Context(), caller, services.PermPermissionsView)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return 0, false
	}
	if !allowed {
		writeMessage(response, http.StatusForbidden, "Forbidden")
		return 0, false
	}
	return *requested, true
}

// checkHandler runs check for the requested subject. With single set the request must name
// exactly one permission; otherwise the name list goes to check as is, empty included.
func (ctl *AuthzController) checkHandler(check checkFunc, single bool) restful.RouteFunction {
	return func(request *restful.Request, response *restful.Response) {
		req := new(CheckRequest)
		if !readEntity(request, response, req) {
			return
		}
		names := req.names()
		if single && len(names) != 1 {
			writeMessage(response, http.StatusBadRequest, "Exactly one permission is required")
			return
		}
		userID, ok := ctl.subject(request, response, req.UserID)
		if !ok {
			return
		}
		granted, err := check(request.Request.Context(), userID, names)
		if err != nil {
			handleServiceError(response, ctl.logger, err)
			return
		}
		writeJSON(response, http.StatusOK, CheckResponse{UserID: userID, Granted: granted})
	}
}

func (ctl *AuthzController) writeEffective(request *restful.Request, response *restful.Response, userID uint) {
	names, err := ctl.authz.GetEffectivePermissions(request.Request.Context(), userID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, EffectivePermissionsResponse{UserID: userID, Permissions: names})
}

func (ctl *AuthzController) myPermissionsHandler(request *restful.Request, response *restful.Response) {
	userID, ok := ctl.subject(request, response, nil)
	if !ok {
		return
	}
	ctl.writeEffective(request, response, userID)
}

func (ctl *AuthzController) userPermissionsHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	ctl.writeEffective(request, response, userID)
}

func (ctl *AuthzController) usersWithPermissionHandler(request *restful.Request, response *restful.Response) {
	name := request.PathParameter("permission")
	userIDs, err := ctl.authz.GetUsersWithPermission(request.Request.Context(), name)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, HoldersResponse{Permission: name, UserIDs: userIDs})
}

func (ctl *AuthzController) rolesWithPermissionHandler(request *restful.Request, response *restful.Response) {
	name := request.PathParameter("permission")
	roleIDs, err := ctl.authz.GetRolesWithPermission(request.Request.Context(), name)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, HoldersResponse{Permission: name, RoleIDs: roleIDs})
}

func (ctl *AuthzController) roleHasPermissionHandler(request *restful.Request, response *restful.Response) {
	roleID, ok := pathID(request, response, "role-id")
	if !ok {
		return
	}
	granted, err := ctl.authz.RoleHasPermission(request.Request.Context(), roleID, request.PathParameter("permission"))
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, CheckResponse{Granted: granted})
}
