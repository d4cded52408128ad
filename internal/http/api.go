package http

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"jget/internal/downloader"
	"jget/internal/locator"
	"jget/internal/service"
	"jget/internal/storage"
)

const claimsKey = "claims"

// Handler wires HTTP routes to the transfer registry.
type Handler struct {
	registry downloader.Registry
	storage  storage.Service
	auth     service.AuthService
	logger   *logrus.Logger
}

// NewHandler builds the API. store may be nil when publishing is off; auth
// guards every task route when it has a secret.
func NewHandler(registry downloader.Registry, store storage.Service, auth service.AuthService, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		registry: registry,
		storage:  store,
		auth:     auth,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	api.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	api.POST("/login", h.login)

	protected := api.Group("")
	protected.Use(h.authMiddleware())
	{
		protected.POST("/tasks", h.createTask)
		protected.GET("/tasks", h.listTasks)
		protected.DELETE("/tasks", h.deleteAllTasks)
		protected.POST("/tasks/resume", h.resumeAllTasks)
		protected.GET("/tasks/:ref", h.getTask)
		protected.POST("/tasks/:ref/resume", h.resumeTask)
		protected.POST("/tasks/:ref/stop", h.stopTask)
		protected.DELETE("/tasks/:ref", h.deleteTask)
		protected.GET("/storage/objects", h.listObjects)
		protected.DELETE("/storage/objects/:id", h.deleteObjects)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.auth == nil || !h.auth.Enabled() {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := h.auth.Verify(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	if h.auth == nil || !h.auth.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrAuthDisabled.Error()})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, expires, err := h.auth.Login(req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires.Format(time.RFC3339),
	})
}

type createTaskRequest struct {
	URL       string `json:"url" binding:"required"`
	Directory string `json:"directory"`
}

var errDirectoryOutsideRoot = errors.New("directory must be a relative path inside the download directory")

// targetDirectory places a requested directory under the download root.
func (h *Handler) targetDirectory(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if !filepath.IsLocal(dir) {
		return "", errDirectoryOutsideRoot
	}
	return filepath.Join(h.registry.Directory(), dir), nil
}

func (h *Handler) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dir, err := h.targetDirectory(req.Directory)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := h.registry.Download(req.URL, dir)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, t.Entry())
}

func (h *Handler) listTasks(c *gin.Context) {
	entries := h.registry.List()
	if c.Query("active") == "true" {
		entries = h.registry.Active()
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) getTask(c *gin.Context) {
	t, err := h.registry.Lookup(c.Param("ref"))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t.Entry())
}

func (h *Handler) resumeTask(c *gin.Context) {
	t, err := h.registry.Lookup(c.Param("ref"))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	if _, err := h.registry.ResumeID(t.ID()); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, t.Entry())
}

func (h *Handler) resumeAllTasks(c *gin.Context) {
	resumed, err := h.registry.ResumeAll()
	ids := make([]string, 0, len(resumed))
	for _, t := range resumed {
		ids = append(ids, t.ID())
	}
	resp := gin.H{"resumed": ids}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) stopTask(c *gin.Context) {
	t, err := h.registry.Lookup(c.Param("ref"))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	t.Stop()
	c.JSON(http.StatusOK, t.Entry())
}

func (h *Handler) deleteTask(c *gin.Context) {
	ref := c.Param("ref")
	id := ref
	t, err := h.registry.Lookup(ref)
	switch {
	case err == nil:
		id = t.ID()
	case errors.Is(err, downloader.ErrTaskNotFound):
		// may name a stored record that could not be loaded
	default:
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.registry.DeleteID(ctx, id); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) deleteAllTasks(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := h.registry.DeleteAll(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": "all"})
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "storage service not configured"})
		return
	}

	objects, err := h.storage.ListObjects(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

// deleteObjects removes everything published for one transfer id.
func (h *Handler) deleteObjects(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "storage service not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := h.storage.DeletePrefix(ctx, c.Param("id")); err != nil {
		h.logger.WithField("task_id", c.Param("id")).Warnf("delete remote data: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, locator.ErrInvalidURL), errors.Is(err, locator.ErrUnsupportedScheme):
		return http.StatusBadRequest
	case errors.Is(err, downloader.ErrTaskNotFound), errors.Is(err, downloader.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, downloader.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
