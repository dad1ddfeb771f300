package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"permission-center/auth"
	"permission-center/repositories"
	"permission-center/services"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Guard attaches authentication and the permission gate to route definitions.
type Guard struct {
	authenticator *auth.Authenticator
	checker       auth.PermissionChecker
	logger        *zap.Logger
}

func NewGuard(authenticator *auth.Authenticator, checker auth.PermissionChecker, logger *zap.Logger) *Guard {
	return &Guard{authenticator: authenticator, checker: checker, logger: logger.Named("guard")}
}

// protect requires a valid token and, when permissions are named, all of them.
func (g *Guard) protect(rb *restful.RouteBuilder, permissions ...string) *restful.RouteBuilder {
	rb = rb.Filter(g.authenticator.AuthFilter())
	if len(permissions) > 0 {
		rb = rb.Filter(auth.RequirePermissions(g.checker, g.logger, permissions...))
	}
	return rb
}

// MessageResponse is the body of every error and of bare acknowledgements.
type MessageResponse struct {
	Message string `json:"message"`
}

// NamesRequest carries a list of role or permission names.
type NamesRequest struct {
	Names []string `json:"names" description:"Role or permission names"`
}

// ChangedResponse reports whether a call changed anything.
type ChangedResponse struct {
	Changed bool `json:"changed"`
}

func writeMessage(response *restful.Response, status int, message string) {
	_ = response.WriteHeaderAndJson(status, MessageResponse{Message: message}, restful.MIME_JSON)
}

func writeJSON(response *restful.Response, status int, value any) {
	_ = response.WriteHeaderAndJson(status, value, restful.MIME_JSON)
}

// pathID parses a numeric path parameter, writing 400 when it is not one.
func pathID(request *restful.Request, response *restful.Response, name string) (uint, bool) {
	id, err := strconv.ParseUint(request.PathParameter(name), 10, 32)
	if err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid "+name+" format")
		return 0, false
	}
	return uint(id), true
}

func queryBool(request *restful.Request, name string) bool {
	v, err := strconv.ParseBool(request.QueryParameter(name))
	return err == nil && v
}

// readEntity decodes the request body, writing 400 on failure.
func readEntity(request *restful.Request, response *restful.Response, entity any) bool {
	if err := request.ReadEntity(entity); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// handleServiceError translates service errors to HTTP responses.
func handleServiceError(response *restful.Response, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		writeMessage(response, http.StatusNotFound, "Resource not found")
	case errors.Is(err, repositories.ErrAlreadyExists):
		writeMessage(response, http.StatusConflict, "Resource already exists")
	case errors.Is(err, services.ErrSystemRole):
		writeMessage(response, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidInput):
		writeMessage(response, http.StatusBadRequest, err.Error())
	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeMessage(response, http.StatusInternalServerError, "An internal error occurred")
	}
}

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestLogger is a container filter that tags each request with an id and logs it once done.
func RequestLogger(logger *zap.Logger) restful.FilterFunction {
	logger = logger.Named("http")
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		started := time.Now()
		requestID := req.HeaderParameter(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		req.SetAttribute("request_id", requestID)
		resp.AddHeader(RequestIDHeader, requestID)

		chain.ProcessFilter(req, resp)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", req.Request.Method),
			zap.String("path", req.Request.URL.Path),
			zap.Int("status_code", resp.StatusCode()),
			zap.Duration("latency", time.Since(started)),
			zap.String("client_ip", req.Request.RemoteAddr),
		}
		if userID, ok := auth.UserIDFromRequest(req); ok {
			fields = append(fields, zap.Uint("user_id", userID))
		}
		logger.Info("Request", fields...)
	}
}
