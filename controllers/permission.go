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

// PermissionController serves the permission catalog.
type PermissionController struct {
	permissions services.PermissionService
	guard       *Guard
	logger      *zap.Logger
}

func NewPermissionController(permissions services.PermissionService, guard *Guard, logger *zap.Logger) *PermissionController {
	return &PermissionController{permissions: permissions, guard: guard, logger: logger.Named("permissions-api")}
}

// PermissionStats summarizes the catalog.
type PermissionStats struct {
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
}

// RegisterRoutes sets up the catalog routes on a go-restful WebService.
func (ctl *PermissionController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/permissions").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	tags := []string{"permissions"}
	g := ctl.guard

	ws.Route(g.protect(ws.GET(""), services.PermPermissionsView).To(ctl.listHandler).
		Doc("List permissions").
		Param(ws.QueryParameter("category", "Only this category")).
		Param(ws.QueryParameter("active_only", "Skip deactivated permissions").DataType("boolean")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]models.Permission{}).
		Returns(http.StatusOK, "OK", []models.Permission{}))

	ws.Route(g.protect(ws.POST(""), services.PermPermissionsCreate).To(ctl.createHandler).
		Doc("Create a permission").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.CreatePermissionInput{}).
		Returns(http.StatusCreated, "Created", models.Permission{}).
		Returns(http.StatusBadRequest, "Invalid request body", MessageResponse{}).
		Returns(http.StatusConflict, "Name already taken", MessageResponse{}))

	ws.Route(g.protect(ws.GET("/categories"), services.PermPermissionsView).To(ctl.categoriesHandler).
		Doc("Permission names grouped by category").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(map[string][]string{}))

	ws.Route(g.protect(ws.GET("/stats"), services.PermPermissionsView).To(ctl.statsHandler).
		Doc("Catalog counts").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(PermissionStats{}))

	ws.Route(g.protect(ws.GET("/{permission-id}"), services.PermPermissionsView).To(ctl.getHandler).
		Doc("Get a permission").
		Param(ws.PathParameter("permission-id", "Identifier of the permission").DataType("integer")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(models.Permission{}).
		Returns(http.StatusNotFound, "Permission not found", MessageResponse{}))

	ws.Route(g.protect(ws.PUT("/{permission-id}"), services.PermPermissionsEdit).To(ctl.updateHandler).
		Doc("Update a permission").
		Param(ws.PathParameter("permission-id", "Identifier of the permission").DataType("integer")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.UpdatePermissionInput{}).
		Writes(models.Permission{}).
		Returns(http.StatusNotFound, "Permission not found", MessageResponse{}))

	ws.Route(g.protect(ws.DELETE("/{permission-id}"), services.PermPermissionsDelete).To(ctl.deleteHandler).
		Doc("Delete a permission and every grant of it").
		Param(ws.PathParameter("permission-id", "Identifier of the permission").DataType("integer")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Returns(http.StatusOK, "Deleted", ChangedResponse{}).
		Returns(http.StatusNotFound, "Permission not found", MessageResponse{}))

	ws.Route(g.protect(ws.POST("/{permission-id}/activate"), services.PermPermissionsEdit).To(ctl.setActiveHandler(true)).
		Doc("Activate a permission").
		Param(ws.PathParameter("permission-id", "Identifier of the permission").DataType("integer")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(ChangedResponse{}))

	ws.Route(g.protect(ws.POST("/{permission-id}/deactivate"), services.PermPermissionsEdit).To(ctl.setActiveHandler(false)).
		Doc("Deactivate a permission").
		Param(ws.PathParameter("permission-id", "Identifier of the permission").DataType("integer")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(ChangedResponse{}))
}

func (ctl *PermissionController) listHandler(request *restful.Request, response *restful.Response) {
	filter := repositories.PermissionFilter{
		Category:   request.QueryParameter("category"),
		ActiveOnly: queryBool(request, "active_only"),
	}
	permissions, err := ctl.permissions.ListPermissions(request.Request.Context(), filter)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, permissions)
}

func (ctl *PermissionController) createHandler(request *restful.Request, response *restful.Response) {
	input := new(services.CreatePermissionInput)
	if !readEntity(request, response, input) {
		return
	}
	permission, err := ctl.permissions.CreatePermission(request.Request.Context(), input)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusCreated, permission)
}

func (ctl *PermissionController) categoriesHandler(request *restful.Request, response *restful.Response) {
	categories, err := ctl.permissions.Categories(request.Request.Context())
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, categories)
}

func (ctl *PermissionController) statsHandler(request *restful.Request, response *restful.Response) {
	ctx := request.Request.Context()
	total, err := ctl.permissions.CountPermissions(ctx)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	byCategory, err := ctl.permissions.CountByCategory(ctx)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, PermissionStats{Total: total, ByCategory: byCategory})
}

func (ctl *PermissionController) getHandler(request *restful.Request, response *restful.Response) {
	id, ok := pathID(request, response, "permission-id")
	if !ok {
		return
	}
	permission, err := ctl.permissions.GetPermission(request.Request.Context(), id)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, permission)
}

func (ctl *PermissionController) updateHandler(request *restful.Request, response *restful.Response) {
	id, ok := pathID(request, response, "permission-id")
	if !ok {
		return
	}
	input := new(services.UpdatePermissionInput)
	if !readEntity(request, response, input) {
		return
	}
	permission, err := ctl.permissions.UpdatePermission(request.Request.Context(), id, input)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeJSON(response, http.StatusOK, permission)
}

func (ctl *PermissionController) deleteHandler(request *restful.Request, response *restful.Response) {
	id, ok := pathID(request, response, "permission-id")
	if !ok {
		return
	}
	deleted, err := ctl.permissions.DeletePermission(request.Request.Context(), id)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	if !deleted {
		writeMessage(response, http.StatusNotFound, "Permission not found")
		return
	}
	writeJSON(response, http.StatusOK, ChangedResponse{Changed: true})
}

func (ctl *PermissionController) setActiveHandler(active bool) restful.RouteFunction {
	return func(request *restful.Request, response *restful.Response) {
		id, ok := pathID(request, response, "permission-id")
		if !ok {
			return
		}
		set := ctl.permissions.DeactivatePermission
		if active {
			set = ctl.permissions.ActivatePermission
		}
		changed, err := set(request.Request.Context(), id)
		if err != nil {
			handleServiceError(response, ctl.logger, err)
			return
		}
		if !changed {
			writeMessage(response, http.StatusNotFound, "Permission not found")
			return
		}
		writeJSON(response, http.StatusOK, ChangedResponse{Changed: true})
	}
}
