package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"customer-auth/internal/admin"
	"customer-auth/internal/domain"
	"customer-auth/internal/exporter"
	"customer-auth/internal/service"
	"customer-auth/internal/storage"
)

// Options carries the dependencies of Handler. Exporter and Storage may be
// nil, in which case export endpoints answer 503.
type Options struct {
	Site           *admin.Site
	Users          service.UserService
	Exports        service.ExportService
	Exporter       exporter.Manager
	Storage        storage.Service
	Bucket         string
	JWTSecret      string
	TokenTTL       time.Duration
	LoginRateLimit int
	Logger         *logrus.Logger
}

// Handler wires HTTP routes to the admin site and domain services.
type Handler struct {
	site     *admin.Site
	users    service.UserService
	exports  service.ExportService
	exporter exporter.Manager
	storage  storage.Service
	bucket   string
	tokens   *tokenSigner
	limiter  *ipRateLimiter
	logger   *logrus.Logger
}

func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		site:     opts.Site,
		users:    opts.Users,
		exports:  opts.Exports,
		exporter: opts.Exporter,
		storage:  opts.Storage,
		bucket:   opts.Bucket,
		tokens:   newTokenSigner(opts.JWTSecret, opts.TokenTTL),
		limiter:  newIPRateLimiter(opts.LoginRateLimit),
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}

	router.POST("/admin/login", h.limiter.middleware(), h.login)

	site := router.Group("/admin", h.requireStaff())
	{
		site.GET("/", h.index)
		site.GET("/exports/", h.listExports)
		site.GET("/exports/:id", h.getExport)
		site.DELETE("/exports/:id", h.deleteExport)
		site.GET("/:model/", h.changeList)
		site.GET("/:model/add/", h.addForm)
		site.POST("/:model/add/", h.addObject)
		site.POST("/:model/export/", h.exportChangeList)
		site.GET("/:model/:id/change/", h.changeForm)
		site.POST("/:model/:id/change/", h.changeObject)
		site.POST("/:model/:id/delete/", h.deleteObject)
		site.POST("/:model/:id/password/", h.setPassword)
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrUserAlreadyExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"errors": verr.Fields})
	case errors.Is(err, admin.ErrNotRegistered),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrExportNotFound),
		errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, admin.ErrInvalidLookup):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, exporter.ErrStorageDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		h.logger.WithField("path", c.Request.URL.Path).Errorf("request error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
