package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/api/middleware"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
)

// Error codes returned in the "code" field
const (
	CodeInvalidArgument    = "invalid_argument"
	CodePermissionsMissing = "required_permissions_not_granted"
	CodeNotFound           = "not_found"
	CodeNoPublishedVersion = "no_published_version"
	CodeNetwork            = "network_error"
	CodeFetch              = "fetch_error"
	CodePersistence        = "persistence_error"
	CodeCanceled           = "canceled"
	CodeInternal           = "internal_error"
)

// StatusFor maps a domain error to its HTTP status and code
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, types.ErrRequiredPermissionsDenied):
		return http.StatusForbidden, CodePermissionsMissing
	case errors.Is(err, types.ErrNoPublishedVersion):
		return http.StatusNotFound, CodeNoPublishedVersion
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, types.ErrNetwork):
		return http.StatusBadGateway, CodeNetwork
	case errors.Is(err, types.ErrFetch):
		return http.StatusBadGateway, CodeFetch
	case errors.Is(err, types.ErrPersistence):
		return http.StatusInternalServerError, CodePersistence
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeCanceled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	body := gin.H{"error": err.Error(), "code": code}

	var denied *types.RequiredPermissionsNotGrantedError
	if errors.As(err, &denied) {
		body["app_id"] = denied.AppID
		body["version_id"] = denied.VersionID
		body["missing"] = denied.Missing
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			zap.String("request_id", middleware.GetRequestID(c.Request.Context())),
			zap.String("code", code),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, body)
}
