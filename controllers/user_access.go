package controllers

import (
	"net/http"

	"permission-center/models"
	"permission-center/services"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

// UserAccessController manages what a single user holds: role memberships and per-user
// permission records.
type UserAccessController struct {
	roles  services.RoleService
	grants services.GrantService
	guard  *Guard
	logger *zap.Logger
}

func NewUserAccessController(roles services.RoleService, grants services.GrantService, guard *Guard, logger *zap.Logger) *UserAccessController {
	return &UserAccessController{roles: roles, grants: grants, guard: guard, logger: logger.Named("user-access-api")}
}

// SyncUserPermissionsRequest sets the full list of permissions a user holds directly.
type SyncUserPermissionsRequest struct {
	Permissions []string `json:"permissions"`
	Override    bool     `json:"override" description:"Records win over the user's roles"`
	GrantedBy   string   `json:"granted_by"`
	Reason      string   `json:"reason"`
}

// RegisterRoutes sets up the per-user routes on a go-restful WebService.
func (ctl *UserAccessController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/users/{user-id}").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	tags := []string{"user-access"}
	g := ctl.guard
	userID := ws.PathParameter("user-id", "Identifier of the user").DataType("integer")
	permission := ws.PathParameter("permission", "Permission name")

	ws.Route(g.protect(ws.GET("/roles"), services.PermUsersView, services.PermRolesView).To(ctl.listRolesHandler).
		Doc("Roles the user belongs to, highest priority first").
		Param(userID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]models.Role{}))

	ws.Route(g.protect(ws.GET("/roles/highest"), services.PermUsersView, services.PermRolesView).To(ctl.highestRoleHandler).
		Doc("The user's highest priority role").
		Param(userID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(models.Role{}).
		Returns(http.StatusNotFound, "User has no roles", MessageResponse{}))

	ws.Route(g.protect(ws.PUT("/roles"), services.PermRolesAssign, services.PermRolesUnassign).To(ctl.syncRolesHandler).
		Doc("Make the user belong to exactly the listed roles").
		Param(userID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(NamesRequest{}).
		Writes(services.SyncResult{}))

	ws.Route(g.protect(ws.POST("/roles"), services.PermRolesAssign).To(ctl.addRolesHandler).
		Doc("Add the user to the listed roles").
		Param(userID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(NamesRequest{}).
		Writes(services.BulkResult{}))

	ws.Route(g.protect(ws.DELETE("/roles"), services.PermRolesUnassign).To(ctl.removeRolesHandler).
		Doc("Remove the user from the listed roles").
		Param(userID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(NamesRequest{}).
		Writes(services.BulkResult{}))

	ws.Route(g.protect(ws.GET("/overrides"), services.PermUsersView, services.PermPermissionsView).To(ctl.listOverridesHandler).
		Doc("Per-user permission records").
		Param(userID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]models.UserPermission{}))

	ws.Route(g.protect(ws.POST("/overrides"), services.PermPermissionsGrant).To(ctl.bulkAddOverridesHandler).
		Doc("Write several per-user records at once").
		Param(userID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads([]services.OverrideInput{}).
		Writes(services.BulkResult{}))

	ws.Route(g.protect(ws.DELETE("/overrides"), services.PermPermissionsRevoke).To(ctl.bulkRemoveOverridesHandler).
		Doc("Delete several per-user records at once").
		Param(userID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(NamesRequest{}).
		Writes(services.BulkResult{}))

	ws.Route(g.protect(ws.DELETE("/overrides/{permission}"), services.PermPermissionsRevoke).To(ctl.removeOverrideHandler).
		Doc("Delete the user's record for one permission").
		Param(userID).Param(permission).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(ChangedResponse{}))

	ws.Route(g.protect(ws.PUT("/permissions"), services.PermPermissionsGrant, services.PermPermissionsRevoke).To(ctl.syncPermissionsHandler).
		Doc("Replace the user's per-user records with grants of exactly the listed permissions").
		Param(userID).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(SyncUserPermissionsRequest{}).
		Writes(services.SyncResult{}))

	ws.Route(g.protect(ws.PUT("/permissions/{permission}"), services.PermPermissionsGrant).To(ctl.grantHandler).
		Doc("Grant a permission directly to the user").
		Param(userID).Param(permission).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.GrantOptions{}).
		Writes(ChangedResponse{}))

	ws.Route(g.protect(ws.DELETE("/permissions/{permission}"), services.PermPermissionsRevoke).To(ctl.revokeHandler).
		Doc("Deny a permission to the user regardless of roles").
		Param(userID).Param(permission).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.GrantOptions{}).
		Writes(ChangedResponse{}))
}

func (ctl *UserAccessController) listRolesHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	roles, err := ctl.roles.GetUserRoles(request.Request.Context(), userID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, roles)
}

func (ctl *UserAccessController) highestRoleHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	role, err := ctl.roles.GetHighestPriorityUserRole(request.Request.Context(), userID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	if role == nil {
		writeMessage(response, http.StatusNotFound, "User has no roles")
		return
	}
	writeJSON(response, http.StatusOK, role)
}

func (ctl *UserAccessController) syncRolesHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	req := new(NamesRequest)
	if !readEntity(request, response, req) {
		return
	}
	result, err := ctl.roles.SyncUserRoles(request.Request.Context(), userID, req.Names)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, result)
}

func (ctl *UserAccessController) addRolesHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	req := new(NamesRequest)
	if !readEntity(request, response, req) {
		return
	}
	result, err := ctl.roles.AddUserToRoles(request.Request.Context(), userID, req.Names)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, result)
}

func (ctl *UserAccessController) removeRolesHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	req := new(NamesRequest)
	if !readEntity(request, response, req) {
		return
	}
	result, err := ctl.roles.RemoveUserFromRoles(request.Request.Context(), userID, req.Names)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, result)
}

func (ctl *UserAccessController) listOverridesHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	records, err := ctl.grants.ListUserOverrides(request.Request.Context(), userID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, records)
}

func (ctl *UserAccessController) bulkAddOverridesHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	var inputs []services.OverrideInput
	if !readEntity(request, response, &inputs) {
		return
	}
	result, err := ctl.grants.BulkAddUserOverrides(request.Request.Context(), userID, inputs)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, result)
}

func (ctl *UserAccessController) bulkRemoveOverridesHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	req := new(NamesRequest)
	if !readEntity(request, response, req) {
		return
	}
	result, err := ctl.grants.BulkRemoveUserOverrides(request.Request.Context(), userID, req.Names)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, result)
}

func (ctl *UserAccessController) removeOverrideHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	removed, err := ctl.grants.RemoveUserOverride(request.Request.Context(), userID, request.PathParameter("permission"))
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, ChangedResponse{Changed: removed})
}

func (ctl *UserAccessController) syncPermissionsHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	req := new(SyncUserPermissionsRequest)
	if !readEntity(request, response, req) {
		return
	}
	opts := services.GrantOptions{Override: req.Override, GrantedBy: req.GrantedBy, Reason: req.Reason}
	result, err := ctl.grants.SyncUserPermissions(request.Request.Context(), userID, req.Permissions, opts)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, result)
}

func (ctl *UserAccessController) grantHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	opts := new(services.GrantOptions)
	if request.Request.ContentLength > 0 && !readEntity(request, response, opts) {
		return
	}
	err := ctl.grants.GrantUserPermission(request.Request.Context(), userID, request.PathParameter("permission"), *opts)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, ChangedResponse{Changed: true})
}

func (ctl *UserAccessController) revokeHandler(request *restful.Request, response *restful.Response) {
	userID, ok := pathID(request, response, "user-id")
	if !ok {
		return
	}
	opts := new(services.GrantOptions)
	if request.Request.ContentLength > 0 && !readEntity(request, response, opts) {
		return
	}
	err := ctl.grants.RevokeUserPermission(request.Request.Context(), userID, request.PathParameter("permission"), *opts)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, ChangedResponse{Changed: true})
}
