package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/expozone/stallbook/internal/auth"
	redisrepo "github.com/expozone/stallbook/internal/repository/redis"
	"github.com/expozone/stallbook/internal/service"
	"github.com/expozone/stallbook/internal/service/coordinator"
	"github.com/expozone/stallbook/internal/service/payment"
	"github.com/expozone/stallbook/internal/service/query"
	"github.com/expozone/stallbook/internal/sweeper"
)

func NewRouter(
	svcs *service.Services,
	swp *sweeper.Sweeper,
	jwtSvc *auth.Service,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/availability", handleGetAvailability(svcs))
	r.GET("/events/:id/stalls", handleListStalls(svcs))

	// The gateway callback arrives via the vendor's browser; the HMAC
	// signature authenticates it, not a bearer token.
	r.POST("/payments/verify", handleVerifyPayment(svcs))

	authed := r.Group("/", Authenticate(jwtSvc))
	{
		vendor := authed.Group("/", RequireRole(auth.RoleVendor))
		{
			vendor.POST("/events/:id/applications", handleSubmitApplication(svcs, idem))
			vendor.DELETE("/applications/:id", handleCancelApplication(svcs))
			vendor.POST("/payments/orders", handleCreateOrder(svcs))
		}

		organizer := authed.Group("/", RequireRole(auth.RoleOrganizer))
		{
			organizer.POST("/events/:id/applications/:appID/decision", handleDecide(svcs))
		}

		authed.GET("/applications/:id", handleGetApplication(svcs))
	}

	// Operational surface; deployments keep /internal off the public edge.
	internal := r.Group("/internal")
	{
		internal.POST("/sweep", handleSweep(swp))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.Event
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 60s
		writeJSONWithCache(c, http.StatusOK, e, "public, max-age=60", true)
	}
}

// @Summary  Get stall availability counters
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.StallCounts
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		cnt, err := svcs.Query.GetAvailability(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 15s
		writeJSONWithCache(c, http.StatusOK, cnt, "public, max-age=15", true)
	}
}

// @Summary  List event stalls
// @Param    id     path   int     true  "Event ID"
// @Param    only   query  string  false "available"
// @Param    limit  query  int     false "page size"
// @Param    offset query  int     false "offset"
// @Success  200  {array}   domain.Stall
// @Router   /events/{id}/stalls [get]
func handleListStalls(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		onlyAvailable := false
		if c.Query("only") == "available" ||
			c.Query("only_available") == "true" ||
			c.Query("onlyAvailable") == "true" {
			onlyAvailable = true
		}
		limit := parseIntDefault(c.Query("limit"), 100)
		offset := parseIntDefault(c.Query("offset"), 0)

		stalls, err := svcs.Query.ListStalls(
			c.Request.Context(),
			eventID,
			onlyAvailable,
			limit,
			offset,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, stalls, "public, max-age=15", true)
	}
}

// @Summary  Submit stall application (idempotent)
// @Param    id  path  int  true  "Event ID"
// @Param    req body  SubmitApplicationRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} domain.Application
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "stall unavailable / duplicate application"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Security BearerAuth
// @Router   /events/{id}/applications [post]
func handleSubmitApplication(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req SubmitApplicationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		vendorID := callerID(c)

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemSubmit(eventID, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		rlKey := "vendor:" + strconv.FormatInt(vendorID, 10)

		app, err := svcs.Coordinator.Submit(c.Request.Context(), coordinator.SubmitInput{
			EventID:  eventID,
			VendorID: vendorID,
			StallID:  req.StallID,
			Products: req.Products,
			Fees:     req.Fees.toDomain(),
		}, rlKey)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if errors.Is(err, coordinator.ErrRateLimited) {
				c.Header("Retry-After", "60")
				c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many submissions"})
				return
			}
			respondErr(c, err)
			return
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(app)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, app)
	}
}

// @Summary  Approve or reject an application
// @Param    id     path  int     true  "Event ID"
// @Param    appID  path  string  true  "Application ID (uuid)"
// @Param    req    body  DecisionRequest true "payload"
// @Success  200 {object} DecisionResponse
// @Failure  409 {object} ErrorResponse "stall no longer available / not pending"
// @Security BearerAuth
// @Router   /events/{id}/applications/{appID}/decision [post]
func handleDecide(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		appID, err := uuid.Parse(c.Param("appID"))
		if err != nil {
			badRequest(c, "invalid appID")
			return
		}
		var req DecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		app, stallStatus, err := svcs.Coordinator.Decide(
			c.Request.Context(),
			eventID,
			appID,
			callerID(c),
			coordinator.Decision(req.Decision),
			req.Reason,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, DecisionResponse{Application: app, StallStatus: stallStatus})
	}
}

// @Summary  Cancel own application
// @Param    id  path  string  true  "Application ID (uuid)"
// @Success  200 {object} domain.Application
// @Security BearerAuth
// @Router   /applications/{id} [delete]
func handleCancelApplication(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		appID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid id")
			return
		}

		app, err := svcs.Coordinator.Cancel(c.Request.Context(), appID, callerID(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, app)
	}
}

// @Summary  Get application with status history
// @Param    id  path  string  true  "Application ID (uuid)"
// @Success  200 {object} domain.ApplicationWithHistory
// @Security BearerAuth
// @Router   /applications/{id} [get]
func handleGetApplication(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		appID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid id")
			return
		}

		a, err := svcs.Query.GetApplication(
			c.Request.Context(),
			appID,
			callerID(c),
			c.GetString("role"),
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, a)
	}
}

// @Summary  Create payment order for an approved application
// @Param    req body  CreateOrderRequest true "payload"
// @Success  201 {object} CreateOrderResponse
// @Failure  400 {object} ErrorResponse "not awaiting payment"
// @Failure  502 {object} ErrorResponse "gateway unavailable"
// @Security BearerAuth
// @Router   /payments/orders [post]
func handleCreateOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		appID, err := uuid.Parse(req.ApplicationID)
		if err != nil {
			badRequest(c, "invalid application_id")
			return
		}

		ord, err := svcs.Payment.CreateOrder(c.Request.Context(), appID, callerID(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		// Prefill fields for the gateway checkout form come from the
		// caller's token claims.
		c.JSON(http.StatusCreated, CreateOrderResponse{
			OrderID:     ord.OrderID,
			Amount:      ord.Amount,
			Currency:    ord.Currency,
			EventTitle:  ord.EventTitle,
			VendorName:  c.GetString("user_name"),
			VendorEmail: c.GetString("user_email"),
		})
	}
}

// @Summary  Verify payment callback
// @Param    req body  VerifyPaymentRequest true "payload"
// @Success  200 {object} VerifyPaymentResponse
// @Failure  400 {object} ErrorResponse "invalid signature"
// @Router   /payments/verify [post]
func handleVerifyPayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		res, err := svcs.Payment.VerifyPayment(
			c.Request.Context(),
			req.OrderID,
			req.PaymentID,
			req.Signature,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, VerifyPaymentResponse{
			Success:       res.Success,
			Status:        string(res.Application.Status),
			FailureReason: res.FailureReason,
			RedirectURL:   res.RedirectURL,
			ApplicationID: res.Application.ID.String(),
		})
	}
}

// @Summary  Trigger a sweep pass
// @Success  200 {object} sweeper.Result
// @Router   /internal/sweep [post]
func handleSweep(swp *sweeper.Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := swp.RunOnce(c.Request.Context())
		if err != nil {
			if errors.Is(err, sweeper.ErrSweepRunning) {
				c.JSON(http.StatusConflict, ErrorResponse{Error: "a sweep pass is already running"})
				return
			}
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// coordinator service
	case errors.Is(err, coordinator.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, coordinator.ErrStallNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "stall not found"})
	case errors.Is(err, coordinator.ErrApplicationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "application not found"})
	case errors.Is(err, coordinator.ErrEventNotPublished):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event is not accepting applications"})
	case errors.Is(err, coordinator.ErrStallUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "stall is not available"})
	case errors.Is(err, coordinator.ErrDuplicateApplication):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "an active application for this event already exists"})
	case errors.Is(err, coordinator.ErrStallStateChanged):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "stall no longer available"})
	case errors.Is(err, coordinator.ErrStaleState):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "state changed concurrently"})
	case errors.Is(err, coordinator.ErrNotPending):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "application is not pending"})
	case errors.Is(err, coordinator.ErrNotPaymentPending):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "application is not awaiting payment"})
	case errors.Is(err, coordinator.ErrFeeMismatch):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "fee breakdown does not match the stall price"})
	case errors.Is(err, coordinator.ErrNotOrganizer):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "caller does not organize this event"})
	case errors.Is(err, coordinator.ErrNotOwner):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "application belongs to another vendor"})

	// payment service
	case errors.Is(err, payment.ErrApplicationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "application not found"})
	case errors.Is(err, payment.ErrNotPaymentPending):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "application is not awaiting payment"})
	case errors.Is(err, payment.ErrNotOwner):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "application belongs to another vendor"})
	case errors.Is(err, payment.ErrSignatureInvalid):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payment signature"})
	case errors.Is(err, payment.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment gateway unavailable"})

	// query service
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, query.ErrStallNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "stall not found"})
	case errors.Is(err, query.ErrApplicationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "application not found"})
	case errors.Is(err, query.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not allowed to view this application"})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
