package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"parts-service/internal/service"
	"parts-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultMovementsLimit = 100

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	bills     *service.BillService
	refunds   *service.RefundService
	inventory *service.InventoryService
	db        Pinger
	jwtSecret string
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	bills *service.BillService,
	refunds *service.RefundService,
	inventory *service.InventoryService,
	db Pinger,
	jwtSecret string,
) *Handler {
	return &Handler{
		bills:     bills,
		refunds:   refunds,
		inventory: inventory,
		db:        db,
		jwtSecret: jwtSecret,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, allowedOrigins []string) {
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(allowedOrigins))
	router.Use(prometheusMiddleware())
	router.Use(h.requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(h.jwtSecret))
	{
		admin := requireRole(RoleAdmin, RoleSuperAdmin)

		v1.POST("/bills", admin, h.createBill)
		v1.GET("/bills/:id", h.getBill)
		v1.GET("/bills/:id/refunds", h.getRefunds)
		v1.POST("/bills/:id/refunds", admin, h.createRefund)

		v1.GET("/parts/:id", h.getPart)
		v1.GET("/parts/:id/stock", h.getStock)
		v1.GET("/parts/:id/movements", h.getMovements)
	}
}

// RegisterMetrics exposes the Prometheus registry on /metrics
func RegisterMetrics(router gin.IRoutes) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createBill handles bill creation
func (h *Handler) createBill(c *gin.Context) {
	var req service.CreateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	actor, _ := actorFrom(c)
	bill, err := h.bills.CreateBill(c.Request.Context(), actor, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bill)
}

// getBill returns a bill with its items and refund history
func (h *Handler) getBill(c *gin.Context) {
	billID, ok := pathID(c)
	if !ok {
		return
	}

	bill, err := h.bills.GetBillDetail(c.Request.Context(), billID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, bill)
}

// getRefunds returns the refunds of a bill, oldest first
func (h *Handler) getRefunds(c *gin.Context) {
	billID, ok := pathID(c)
	if !ok {
		return
	}

	refunds, err := h.refunds.GetRefunds(c.Request.Context(), billID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bill_id": billID,
		"refunds": refunds,
	})
}

// createRefund handles refund creation. The idempotency key may come from
// the body or the Idempotency-Key header.
func (h *Handler) createRefund(c *gin.Context) {
	billID, ok := pathID(c)
	if !ok {
		return
	}

	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	actor, _ := actorFrom(c)
	result, err := h.refunds.CreateRefund(c.Request.Context(), billID, actor, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// getPart returns a part with its stock counters
func (h *Handler) getPart(c *gin.Context) {
	partID, ok := pathID(c)
	if !ok {
		return
	}

	part, err := h.inventory.GetPart(c.Request.Context(), partID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, part)
}

// getStock returns the fast-path stock level of a part
func (h *Handler) getStock(c *gin.Context) {
	partID, ok := pathID(c)
	if !ok {
		return
	}

	level, err := h.inventory.GetStockLevel(c.Request.Context(), partID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, level)
}

// getMovements returns the stock audit trail of a part, newest first
func (h *Handler) getMovements(c *gin.Context) {
	partID, ok := pathID(c)
	if !ok {
		return
	}

	limit := defaultMovementsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	movements, err := h.inventory.GetStockMovements(c.Request.Context(), partID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"part_id":   partID,
		"movements": movements,
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// respondError maps service errors onto HTTP statuses. Lookups of a missing
// resource are 404; every other validation failure is 422.
func (h *Handler) respondError(c *gin.Context, err error) {
	var vErr *service.ValidationError
	if errors.As(err, &vErr) {
		status := http.StatusUnprocessableEntity
		if vErr.Line < 0 && (vErr.Code == service.CodeBillNotFound || vErr.Code == service.CodePartNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": vErr})
		return
	}

	var pErr *service.PersistenceError
	if errors.As(err, &pErr) && pErr.Conflict {
		c.JSON(http.StatusConflict, gin.H{
			"error": gin.H{"code": "conflict", "message": "the request conflicted with a concurrent change, retry it"},
		})
		return
	}

	h.logger.Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": "internal_error", "message": "internal error"},
	})
}

// corsMiddleware allows every origin when none is configured
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	origins := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", "Idempotency-Key")
	return cors.New(cfg)
}

// requestLogger logs each request through the structured logger
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		h.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
