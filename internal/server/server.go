// Package server is the HTTP surface: gin handlers over the checkout
// orchestrator, the raw gateway passthrough endpoints, and the admin report.
// Handlers translate typed errors into status codes; they hold no checkout
// logic of their own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourorg/checkout-orchestrator/internal/domain"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
	"github.com/yourorg/checkout-orchestrator/internal/monitor"
	"github.com/yourorg/checkout-orchestrator/internal/orchestrator"
	"github.com/yourorg/checkout-orchestrator/internal/reporting"
	"github.com/yourorg/checkout-orchestrator/internal/store"
)

// CheckoutService is the slice of the orchestrator the handlers need.
type CheckoutService interface {
	BeginCheckout(ctx context.Context, ownerID string, cart domain.CartSnapshot, shipping domain.ShippingAddress) (orchestrator.BeginResult, error)
	CompleteCheckout(ctx context.Context, orderID, remoteOrderID string) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// RawGateway backs the raw create/capture passthrough endpoints.
type RawGateway interface {
	GetAccessToken(ctx context.Context) (gateway.Token, error)
	CreateOrder(ctx context.Context, token gateway.Token, amount float64, currency, description string) (gateway.RemoteOrder, error)
	CaptureOrder(ctx context.Context, token gateway.Token, remoteOrderID string) (gateway.CaptureResult, error)
}

// HealthChecker reports whether the order store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	checkout CheckoutService
	gateway  RawGateway
	verifier TokenVerifier
	recorder *reporting.Recorder
	health   HealthChecker
	contract *monitor.ContractMonitor
	origin   string
}

// NewServer wires the HTTP layer. The recorder may be nil; the report
// endpoint then returns an empty retrospective.
func NewServer(checkout CheckoutService, gw RawGateway, verifier TokenVerifier, recorder *reporting.Recorder, health HealthChecker, contract *monitor.ContractMonitor, allowedOrigin string) *Server {
	if checkout == nil {
		panic("checkout service cannot be nil")
	}
	if verifier == nil {
		panic("token verifier cannot be nil")
	}
	return &Server{
		checkout: checkout,
		gateway:  gw,
		verifier: verifier,
		recorder: recorder,
		health:   health,
		contract: contract,
		origin:   allowedOrigin,
	}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("checkout-orchestrator"))
	if s.origin != "" {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     []string{s.origin},
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/api", requireAuth(s.verifier))
	authed.POST("/orders", s.handleBeginCheckout)
	authed.GET("/orders/:id", s.handleGetOrder)
	authed.PUT("/orders/:id/pay", s.handleCompleteCheckout)
	authed.POST("/payments/create-order", s.handleCreateRemoteOrder)
	authed.POST("/payments/capture-order", s.handleCaptureRemoteOrder)
	authed.GET("/reports/checkout", requireAdmin(), s.handleCheckoutReport)

	return router
}

type beginCheckoutRequest struct {
	OrderItems      []domain.CartItem      `json:"orderItems"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
}

func (s *Server) handleBeginCheckout(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "unreadable request body"})
		return
	}

	if s.contract != nil {
		ok, violations, verr := s.contract.Validate(body)
		if verr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "malformed request body"})
			return
		}
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"message": monitor.FormatErrors(violations)})
			return
		}
	}

	var req beginCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request format"})
		return
	}

	identity := currentIdentity(c)
	result, err := s.checkout.BeginCheckout(c.Request.Context(), identity.UserID, domain.CartSnapshot{Items: req.OrderItems}, req.ShippingAddress)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.checkout.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	identity := currentIdentity(c)
	if order.OwnerID != identity.UserID && !identity.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"message": "not authorized to view this order"})
		return
	}
	c.JSON(http.StatusOK, order)
}

type completeCheckoutRequest struct {
	// The gateway's order id from the approval callback. Any other fields
	// the client sends (status, payer, amounts) are ignored; the capture
	// result comes from the gateway, never from the client.
	ID string `json:"id"`
}

func (s *Server) handleCompleteCheckout(c *gin.Context) {
	var req completeCheckoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request format"})
			return
		}
	}

	order, err := s.checkout.CompleteCheckout(c.Request.Context(), c.Param("id"), req.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type createRemoteOrderRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
}

func (s *Server) handleCreateRemoteOrder(c *gin.Context) {
	var req createRemoteOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request format"})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "amount must be positive"})
		return
	}

	ctx := c.Request.Context()
	token, err := s.gateway.GetAccessToken(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	remote, err := s.gateway.CreateOrder(ctx, token, req.Amount, req.Currency, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": remote.ID, "raw": remote.Raw})
}

type captureRemoteOrderRequest struct {
	OrderID string `json:"orderID"`
}

func (s *Server) handleCaptureRemoteOrder(c *gin.Context) {
	var req captureRemoteOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "orderID is required"})
		return
	}

	ctx := c.Request.Context()
	token, err := s.gateway.GetAccessToken(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := s.gateway.CaptureOrder(ctx, token, req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Raw)
}

func (s *Server) handleCheckoutReport(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusOK, &reporting.Retrospective{})
		return
	}
	c.JSON(http.StatusOK, s.recorder.GenerateRetrospective())
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "message": "order store unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps typed errors to status codes. Raw causes are logged, never
// sent to the client.
func writeError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"message": validationErr.Message})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "order not found"})
		return
	}

	var orchErr *orchestrator.Error
	if errors.As(err, &orchErr) {
		switch orchErr.Kind {
		case orchestrator.KindInvalidState:
			c.JSON(http.StatusConflict, gin.H{"message": "order already processed or in an invalid state", "kind": orchErr.Kind})
		case orchestrator.KindGatewayUnavailable, orchestrator.KindCaptureFailed, orchestrator.KindAmountMismatch:
			log.Printf("server: gateway-side checkout failure: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"message": "payment processing failed", "kind": orchErr.Kind})
		default:
			log.Printf("server: internal checkout failure: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		}
		return
	}

	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		log.Printf("server: gateway call failed: %v", err)
		if gwErr.Kind == gateway.KindUnavailable {
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "payment gateway unavailable", "kind": gwErr.Kind})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"message": "payment gateway call failed", "kind": gwErr.Kind})
		return
	}

	log.Printf("server: unhandled error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
}
