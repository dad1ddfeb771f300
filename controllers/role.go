package controllers

import (
	"net/http"

	"permission-center/models"
	"permission-center/repositories"
	"permission-center/services"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

// RoleController serves the role catalog and role grants.
type RoleController struct {
	roles  services.RoleService
	grants services.GrantService
	guard  *Guard
	logger *zap.Logger
}

func NewRoleController(roles services.RoleService, grants services.GrantService, guard *Guard, logger *zap.Logger) *RoleController {
	return &RoleController{roles: roles, grants: grants, guard: guard, logger: logger.Named("roles-api")}
}

type PriorityRequest struct {
	Priority int `json:"priority"`
}

// SyncRolePermissionsRequest sets the full list of permissions a role grants.
type SyncRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
	GrantedBy   string   `json:"granted_by"`
	Reason      string   `json:"reason"`
}

// RoleCatalogStats summarizes the role catalog.
type RoleCatalogStats struct {
	ByCategory  map[string]int64 `json:"by_category"`
	UsersByRole map[string]int64 `json:"users_by_role"`
}

// RoleUsersResponse lists the members of a role.
type RoleUsersResponse struct {
	UserIDs []uint `json:"user_ids"`
	Total   int64  `json:"total"`
}

// RegisterRoutes sets up the role routes on a go-restful WebService.
func (ctl *RoleController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/roles").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	tags := []string{"roles"}
	g := ctl.guard
	roleID := ws.PathParameter("role-id", "Identifier of the role").DataType("integer")
	permission := ws.PathParameter("permission", "Permission name")

	ws.Route(g.protect(ws.GET(""), services.PermRolesView).To(ctl.listHandler).
		Doc("List roles").
		Param(ws.QueryParameter("category", "Only this category")).
		Param(ws.QueryParameter("active_only", "Skip deactivated roles").DataType("boolean")).
		Param(ws.QueryParameter("system_only", "Only system roles").DataType("boolean")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]models.Role{}))

	ws.Route(g.protect(ws.POST(""), services.PermRolesCreate).To(ctl.createHandler).
		Doc("Create a role").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.CreateRoleInput{}).
		Returns(http.StatusCreated, "Created", models.Role{}).
		Returns(http.StatusConflict, "Name already taken", MessageResponse{}))

	ws.Route(g.protect(ws.GET("/hierarchy"), services.PermRolesView).To(ctl.hierarchyHandler).
		Doc("Active roles ordered by priority, highest first").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]models.Role{}))

	ws.Route(g.protect(ws.GET("/stats"), services.PermRolesView).To(ctl.catalogStatsHandler).
		Doc("Role counts by category and members per role").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(RoleCatalogStats{}))

	ws.Route(g.protect(ws.GET("/{role-id}"), services.PermRolesView).To(ctl.getHandler).
		Doc("Get a role").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(models.Role{}).
		Returns(http.StatusNotFound, "Role not found", MessageResponse{}))

	ws.Route(g.protect(ws.PUT("/{role-id}"), services.PermRolesEdit).To(ctl.updateHandler).
		Doc("Update a role").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.UpdateRoleInput{}).
		Writes(models.Role{}))

	ws.Route(g.protect(ws.DELETE("/{role-id}"), services.PermRolesDelete).To(ctl.deleteHandler).
		Doc("Delete a role with its grants and memberships").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Returns(http.StatusOK, "Deleted", ChangedResponse{}).
		Returns(http.StatusConflict, "System roles cannot be deleted", MessageResponse{}))

	ws.Route(g.protect(ws.PUT("/{role-id}/priority"), services.PermRolesEdit).To(ctl.priorityHandler).
		Doc("Change a role's priority").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(PriorityRequest{}).
		Writes(ChangedResponse{}))

	ws.Route(g.protect(ws.POST("/{role-id}/activate"), services.PermRolesEdit).To(ctl.setActiveHandler(true)).
		Doc("Activate a role").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(ChangedResponse{}))

	ws.Route(g.protect(ws.POST("/{role-id}/deactivate"), services.PermRolesEdit).To(ctl.setActiveHandler(false)).
		Doc("Deactivate a role").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(ChangedResponse{}))

	ws.Route(g.protect(ws.GET("/{role-id}/users"), services.PermRolesView, services.PermUsersView).To(ctl.usersHandler).
		Doc("Members of a role").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(RoleUsersResponse{}))

	ws.Route(g.protect(ws.GET("/{role-id}/stats"), services.PermRolesView).To(ctl.statsHandler).
		Doc("Member and grant counts for a role").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(services.RoleStatistics{}))

	ws.Route(g.protect(ws.GET("/{role-id}/grants"), services.PermRolesViewPermissions).To(ctl.listGrantsHandler).
		Doc("Grant rows held by a role, revoked ones included").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]models.RolePermission{}))

	ws.Route(g.protect(ws.POST("/{role-id}/grants"), services.PermRolesManagePermissions).To(ctl.bulkAddGrantsHandler).
		Doc("Write several grant rows at once").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads([]services.RoleGrantInput{}).
		Writes(services.BulkResult{}))

	ws.Route(g.protect(ws.DELETE("/{role-id}/grants"), services.PermRolesManagePermissions).To(ctl.bulkRemoveGrantsHandler).
		Doc("Delete several grant rows at once").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(NamesRequest{}).
		Writes(services.BulkResult{}))

	ws.Route(g.protect(ws.PUT("/{role-id}/permissions"), services.PermRolesManagePermissions).To(ctl.syncPermissionsHandler).
		Doc("Make the role grant exactly the listed permissions").
		Param(roleID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(SyncRolePermissionsRequest{}).
		Writes(services.SyncResult{}))

	ws.Route(g.protect(ws.PUT("/{role-id}/permissions/{permission}"), services.PermPermissionsGrant).To(ctl.grantHandler).
		Doc("Grant a permission to the role").
		Param(roleID).Param(permission).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.GrantOptions{}).
		Returns(http.StatusOK, "Granted", ChangedResponse{}))

	ws.Route(g.protect(ws.DELETE("/{role-id}/permissions/{permission}"), services.PermPermissionsRevoke).To(ctl.revokeHandler).
		Doc("Revoke a permission from the role").
		Param(roleID).Param(permission).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(ChangedResponse{}))
}

// lookupRole resolves the role-id path parameter, writing the error response when it fails.
func (ctl *RoleController) lookupRole(request *restful.Request, response *restful.Response) (*models.Role, bool) {
	id, ok := pathID(request, response, "role-id")
	if !ok {
		return nil, false
	}
	role, err := ctl.roles.GetRole(request.Request.Context(), id)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return nil, false
	}
	return role, true
}

func (ctl *RoleController) listHandler(request *restful.Request, response *restful.Response) {
	filter := repositories.RoleFilter{
		Category:   request.QueryParameter("category"),
		ActiveOnly: queryBool(request, "active_only"),
		SystemOnly: queryBool(request, "system_only"),
	}
	roles, err := ctl.roles.ListRoles(request.Request.Context(), filter)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, roles)
}

func (ctl *RoleController) createHandler(request *restful.Request, response *restful.Response) {
	input := new(services.CreateRoleInput)
	if !readEntity(request, response, input) {
		return
	}
	role, err := ctl.roles.CreateRole(request.Request.Context(), input)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusCreated, role)
}

func (ctl *RoleController) hierarchyHandler(request *restful.Request, response *restful.Response) {
	roles, err := ctl.roles.GetRoleHierarchy(request.Request.Context())
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, roles)
}

func (ctl *RoleController) catalogStatsHandler(request *restful.Request, response *restful.Response) {
	ctx := request.Request.Context()
	byCategory, err := ctl.roles.CountByCategory(ctx)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	usersByRole, err := ctl.roles.UserCountByRole(ctx)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, RoleCatalogStats{ByCategory: byCategory, UsersByRole: usersByRole})
}

func (ctl *RoleController) getHandler(request *restful.Request, response *restful.Response) {
	role, ok := ctl.lookupRole(request, response)
	if !ok {
		return
	}
	writeJSON(response, http.StatusOK, role)
}

func (ctl *RoleController) updateHandler(request *restful.Request, response *restful.Response) {
	id, ok := pathID(request, response, "role-id")
	if !ok {
		return
	}
	input := new(services.UpdateRoleInput)
	if !readEntity(request, response, input) {
		return
	}
	role, err := ctl.roles.UpdateRole(request.Request.Context(), id, input)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, role)
}

func (ctl *RoleController) deleteHandler(request *restful.Request, response *restful.Response) {
	id, ok := pathID(request, response, "role-id")
	if !ok {
		return
	}
	deleted, err := ctl.roles.DeleteRole(request.Request.Context(), id)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	if !deleted {
		writeMessage(response, http.StatusNotFound, "Role not found")
		return
	}
	writeJSON(response, http.StatusOK, ChangedResponse{Changed: true})
}

func (ctl *RoleController) priorityHandler(request *restful.Request, response *restful.Response) {
	id, ok := pathID(request, response, "role-id")
	if !ok {
		return
	}
	req := new(PriorityRequest)
	if !readEntity(request, response, req) {
		return
	}
	changed, err := ctl.roles.UpdateRolePriority(request.Request.Context(), id, req.Priority)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	if !changed {
		writeMessage(response, http.StatusNotFound, "Role not found")
		return
	}
	writeJSON(response, http.StatusOK, ChangedResponse{Changed: true})
}

func (ctl *RoleController) setActiveHandler(active bool) restful.RouteFunction {
	return func(request *restful.Request, response *restful.Response) {
		id, ok := pathID(request, response, "role-id")
		if !ok {
			return
		}
		set := ctl.roles.DeactivateRole
		if active {
			set = ctl.roles.ActivateRole
		}
		changed, err := set(request.Request.Context(), id)
		if err != nil {
			handleServiceError(response, ctl.logger, err)
			return
		}
		if !changed {
			writeMessage(response, http.StatusNotFound, "Role not found")
			return
		}
		writeJSON(response, http.StatusOK, ChangedResponse{Changed: true})
	}
}

func (ctl *RoleController) usersHandler(request *restful.Request, response *restful.Response) {
	role, ok := ctl.lookupRole(request, response)
	if !ok {
		return
	}
	ctx := request.Request.Context()
	userIDs, err := ctl.roles.GetUsersInRole(ctx, role.Name)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	total, err := ctl.roles.UserCountInRole(ctx, role.Name)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, RoleUsersResponse{UserIDs: userIDs, Total: total})
}

func (ctl *RoleController) statsHandler(request *restful.Request, response *restful.Response) {
	role, ok := ctl.lookupRole(request, response)
	if !ok {
		return
	}
	stats, err := ctl.roles.GetRoleStatistics(request.Request.Context(), role.Name)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, stats)
}

func (ctl *RoleController) listGrantsHandler(request *restful.Request, response *restful.Response) {
	id, ok := pathID(request, response, "role-id")
	if !ok {
		return
	}
	grants, err := ctl.grants.ListRoleGrants(request.Request.Context(), id)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, grants)
}

func (ctl *RoleController) bulkAddGrantsHandler(request *restful.Request, response *restful.Response) {
	id, ok := pathID(request, response, "role-id")
	if !ok {
		return
	}
	var inputs []services.RoleGrantInput
	if !readEntity(request, response, &inputs) {
		return
	}
	result, err := ctl.grants.BulkAddRoleGrants(request.Request.Context(), id, inputs)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, result)
}

func (ctl *RoleController) bulkRemoveGrantsHandler(request *restful.Request, response *restful.Response) {
	id, ok := pathID(request, response, "role-id")
	if !ok {
		return
	}
	req := new(NamesRequest)
	if !readEntity(request, response, req) {
		return
	}
	result, err := ctl.grants.BulkRemoveRoleGrants(request.Request.Context(), id, req.Names)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, result)
}

func (ctl *RoleController) syncPermissionsHandler(request *restful.Request, response *restful.Response) {
	role, ok := ctl.lookupRole(request, response)
	if !ok {
		return
	}
	req := new(SyncRolePermissionsRequest)
	if !readEntity(request, response, req) {
		return
	}
	opts := services.GrantOptions{GrantedBy: req.GrantedBy, Reason: req.Reason}
	result, err := ctl.grants.SyncRolePermissions(request.Request.Context(), role.Name, req.Permissions, opts)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, result)
}

func (ctl *RoleController) grantHandler(request *restful.Request, response *restful.Response) {
	role, ok := ctl.lookupRole(request, response)
	if !ok {
		return
	}
	opts := new(services.GrantOptions)
	if request.Request.ContentLength > 0 && !readEntity(request, response, opts) {
		return
	}
	err := ctl.grants.GrantRolePermission(request.Request.Context(), role.Name, request.PathParameter("permission"), *opts)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, ChangedResponse{Changed: true})
}

func (ctl *RoleController) revokeHandler(request *restful.Request, response *restful.Response) {
	role, ok := ctl.lookupRole(request, response)
	if !ok {
		return
	}
	revoked, err := ctl.grants.RevokeRolePermission(request.Request.Context(), role.Name, request.PathParameter("permission"))
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, ChangedResponse{Changed: revoked})
}
