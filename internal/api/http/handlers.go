package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/miniapp"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/permission"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	miniApps *miniapp.Manager
	metrics  *monitoring.Metrics
	breaker  *resilience.Breaker
	log      *zap.Logger
}

// NewHandlers creates a new handler set. breaker may be nil when the
// fetcher has none to report.
func NewHandlers(miniApps *miniapp.Manager, metrics *monitoring.Metrics, breaker *resilience.Breaker, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		miniApps: miniApps,
		metrics:  metrics,
		breaker:  breaker,
		log:      log,
	}
}

// Register mounts the mini-app routes on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	apps := r.Group("/miniapps")
	apps.GET("/instances", h.ListInstances)
	apps.DELETE("/instances/:instance", h.CloseInstance)
	apps.GET("/permissions", h.ListDownloaded)
	apps.POST("/:id/verify", h.Verify)
	apps.GET("/:id/manifest", h.GetManifest)
	apps.GET("/:id/permissions", h.GetPermissions)
	apps.PUT("/:id/permissions", h.SetPermissions)
	apps.POST("/:id/permissions/:kind", h.ApplyPermission)
}

// VerifyRequest creates a mini-app at a version
type VerifyRequest struct {
	VersionID   string `json:"version_id" binding:"required"`
	QueryParams string `json:"query_params"`
}

// SetPermissionsRequest replaces user decisions for several kinds
type SetPermissionsRequest struct {
	Permissions types.PermissionSet `json:"permissions" binding:"required"`
}

// ApplyPermissionRequest records one user decision
type ApplyPermissionRequest struct {
	Grant string `json:"grant" binding:"required"`
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Mini-App Host",
		"version": "1.0.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"miniapps": h.miniApps.Stats(),
		"metrics":  h.metrics.Snapshot(),
	}
	if h.breaker != nil {
		state := h.breaker.State()
		body["fetcher"] = gin.H{"breaker": state.String()}
		if state == resilience.StateOpen {
			body["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, body)
}

// Verify reconciles a mini-app and creates an instance when it may launch
func (h *Handlers) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	app, err := h.miniApps.Create(c.Request.Context(), miniapp.Config{
		AppID:       c.Param("id"),
		VersionID:   req.VersionID,
		QueryParams: req.QueryParams,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome":  app.State,
		"manifest": app.Manifest,
		"miniapp":  app,
	})
}

// GetManifest returns the cached manifest without verification
func (h *Handlers) GetManifest(c *gin.Context) {
	cached, err := h.miniApps.GetDownloadedManifest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if cached == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "mini-app has not been downloaded"})
		return
	}
	c.JSON(http.StatusOK, cached)
}

// GetPermissions returns the stored grants of a mini-app
func (h *Handlers) GetPermissions(c *gin.Context) {
	appID := c.Param("id")
	set, err := h.miniApps.GetCustomPermissions(c.Request.Context(), appID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"app_id": appID, "permissions": set})
}

// SetPermissions merges user decisions for several kinds
func (h *Handlers) SetPermissions(c *gin.Context) {
	var req SetPermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	appID := c.Param("id")
	set, err := h.miniApps.SetCustomPermissions(c.Request.Context(), appID, req.Permissions)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"app_id": appID, "permissions": set})
}

// ApplyPermission records one decision for the kind in the path
func (h *Handlers) ApplyPermission(c *gin.Context) {
	var req ApplyPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	grant, err := types.ParseGrantState(req.Grant)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	appID := c.Param("id")
	cmd := permission.Command{Kind: types.PermissionKind(c.Param("kind")), Grant: grant}
	set, err := h.miniApps.ApplyCommands(c.Request.Context(), appID, cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"app_id": appID, "permissions": set})
}

// ListDownloaded lists cached mini-apps with their grants
func (h *Handlers) ListDownloaded(c *gin.Context) {
	list, err := h.miniApps.ListDownloadedWithCustomPermissions(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"miniapps": list})
}

// ListInstances lists created mini-apps
func (h *Handlers) ListInstances(c *gin.Context) {
	var filter *types.State
	if s := c.Query("state"); s != "" {
		state := types.State(s)
		filter = &state
	}
	c.JSON(http.StatusOK, gin.H{
		"miniapps": h.miniApps.List(filter),
		"stats":    h.miniApps.Stats(),
	})
}

// CloseInstance removes a created mini-app
func (h *Handlers) CloseInstance(c *gin.Context) {
	if !h.miniApps.Close(c.Param("instance")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "mini-app instance not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
