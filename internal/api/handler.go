package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/models"
	"storefront-checkout/internal/money"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/service"
	"storefront-checkout/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const idempotencyKeyHeader = "Idempotency-Key"

// OrderService is the checkout API the handlers call. *service.OrderService
// satisfies it.
type OrderService interface {
	PlaceOrder(ctx context.Context, identity service.Identity, req *service.PlaceOrderRequest) (*service.PlaceOrderResult, error)
	GetOrder(ctx context.Context, orderNumber string) (*models.Order, []models.OrderLine, error)
}

// ReadinessCheck is a named dependency probe used by /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService OrderService
	jwtSecret    string
	currency     string
	checks       []ReadinessCheck
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService OrderService, jwtSecret, currency string, checks ...ReadinessCheck) *Handler {
	return &Handler{
		orderService: orderService,
		jwtSecret:    jwtSecret,
		currency:     strings.ToUpper(currency),
		checks:       checks,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(IdentityMiddleware(h.jwtSecret))
	{
		v1.POST("/orders", h.placeOrder)
		v1.GET("/orders/:number", h.getOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			failing[check.Name] = err.Error()
		}
	}

	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// placeOrder handles checkout submission
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "invalid_request",
				"message": err.Error(),
			},
		})
		return
	}
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))

	result, err := h.orderService.PlaceOrder(c.Request.Context(), identityFrom(c), &req)
	if err != nil {
		h.renderError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}

	c.JSON(status, gin.H{
		"success":        true,
		"order_number":   result.OrderNumber,
		"status":         result.Order.Status,
		"payment_status": result.Order.PaymentStatus,
		"totals":         h.totals(result.Breakdown, result.Order.Currency),
		"replayed":       result.Replayed,
	})
}

// getOrder handles get order by number. Orders owned by a user are only
// visible to that user.
func (h *Handler) getOrder(c *gin.Context) {
	order, lines, err := h.orderService.GetOrder(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	identity := identityFrom(c)
	if order.UserID.Valid && (identity.UserID == nil || *identity.UserID != order.UserID.Int64) {
		h.renderError(c, service.ErrOrderNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   newOrderView(order, lines),
	})
}

func (h *Handler) totals(b pricing.Breakdown, currency string) gin.H {
	if currency == "" {
		currency = h.currency
	}
	return gin.H{
		"subtotal": money.Format(b.SubtotalCents),
		"discount": money.Format(b.DiscountCents),
		"shipping": money.Format(b.ShippingCents),
		"tax":      money.Format(b.TaxCents),
		"total":    money.Format(b.TotalCents),
		"currency": currency,
	}
}

// renderError writes the error envelope. Internal errors are logged and
// reported without detail.
func (h *Handler) renderError(c *gin.Context, err error) {
	code := service.ErrorCode(err)
	body := gin.H{
		"code":    code,
		"message": err.Error(),
	}

	var (
		invalidCart *service.InvalidCartError
		outOfStock  *service.OutOfStockError
		coupon      *service.CouponError
		payment     *service.PaymentVerificationError
	)
	switch {
	case errors.As(err, &outOfStock):
		body["product_id"] = outOfStock.ProductID
		body["product_name"] = outOfStock.Name
		body["requested"] = outOfStock.Requested
		body["available"] = outOfStock.Available
	case errors.As(err, &invalidCart):
		if invalidCart.ProductID != 0 {
			body["product_id"] = invalidCart.ProductID
		}
	case errors.As(err, &coupon):
		body["coupon_status"] = coupon.Status
	case errors.As(err, &payment):
		body["message"] = "payment verification failed: " + payment.Reason
	}

	if code == service.CodeInternal {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["message"] = "internal error"
	}

	c.JSON(statusFor(code), gin.H{
		"success": false,
		"error":   body,
	})
}

func statusFor(code string) int {
	switch code {
	case service.CodeInvalidCart, service.CodeCouponRejected:
		return http.StatusBadRequest
	case service.CodeOutOfStock, service.CodeSubmissionInFlight, service.CodeIdempotencyKeyReused:
		return http.StatusConflict
	case service.CodePaymentVerification:
		return http.StatusPaymentRequired
	case service.CodeTransientCommit, service.CodeOrderNumberExhausted:
		return http.StatusServiceUnavailable
	case service.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
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

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
