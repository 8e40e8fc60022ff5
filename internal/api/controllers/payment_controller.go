package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payorch/internal/models/request_models"
	"payorch/internal/services"
	"payorch/pkg/middleware"
	"payorch/pkg/utils"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type PaymentController struct {
	paymentService services.PaymentService
}

func NewPaymentController(paymentService services.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
	}
}

func paymentIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("paymentId"))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid payment ID")
		return uuid.Nil, false
	}
	return id, true
}

// CreatePayment godoc
// @Summary Start a payment attempt
// @Description Creates a payment with the requested or the tenant's preferred provider. Replays the stored response for a repeated Idempotency-Key.
// @Tags Payments
// @Accept json
// @Produce json
// @Param Idempotency-Key header string true "Idempotency key"
// @Param request body request_models.CreatePaymentRequest true "Create Payment Request"
// @Success 200 {object} response_models.PaymentResponse
// @Failure 400 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Failure 422 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payments/create [post]
func (p *PaymentController) CreatePayment(c *gin.Context) {
	idemKey := c.GetHeader(IdempotencyKeyHeader)
	if idemKey == "" {
		utils.HandleServiceError(c, utils.ErrIdempotencyKeyRequired)
		return
	}

	var request request_models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	payment, err := p.paymentService.CreatePayment(c.Request.Context(), c.GetString(middleware.TenantIDKey), idemKey, services.CreatePaymentInput{
		OrderID:       request.OrderID,
		AmountMinor:   request.AmountMinor,
		Currency:      request.Currency,
		Provider:      request.Provider,
		Method:        request.Method,
		Description:   request.Description,
		CustomerID:    request.CustomerID,
		CustomerEmail: request.CustomerEmail,
		CustomerPhone: request.CustomerPhone,
		ReturnURL:     request.ReturnURL,
		CancelURL:     request.CancelURL,
		Metadata:      request.Metadata,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, payment, "Payment created successfully")
}

// RefundPayment godoc
// @Summary Refund a completed payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param Idempotency-Key header string true "Idempotency key"
// @Param request body request_models.RefundPaymentRequest true "Refund Request"
// @Success 200 {object} response_models.RefundResponse
// @Failure 409 {object} utils.APIResponse
// @Failure 422 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payments/refunds [post]
func (p *PaymentController) RefundPayment(c *gin.Context) {
	idemKey := c.GetHeader(IdempotencyKeyHeader)
	if idemKey == "" {
		utils.HandleServiceError(c, utils.ErrIdempotencyKeyRequired)
		return
	}

	var request request_models.RefundPaymentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}
	paymentID, _ := uuid.Parse(request.PaymentID)

	refund, err := p.paymentService.RefundPayment(c.Request.Context(), c.GetString(middleware.TenantIDKey), idemKey, services.RefundInput{
		PaymentID:        paymentID,
		MerchantRefundID: request.MerchantRefundID,
		AmountMinor:      request.AmountMinor,
		Reason:           request.Reason,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, refund, "Refund submitted successfully")
}

// CancelPayment godoc
// @Summary Cancel an open payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body request_models.CancelPaymentRequest true "Cancel Request"
// @Success 200 {object} response_models.PaymentResponse
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payments/cancel [post]
func (p *PaymentController) CancelPayment(c *gin.Context) {
	var request request_models.CancelPaymentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}
	paymentID, _ := uuid.Parse(request.PaymentID)

	payment, err := p.paymentService.CancelPayment(c.Request.Context(), c.GetString(middleware.TenantIDKey), paymentID, request.Reason)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, payment, "Payment cancelled successfully")
}

// GetStatus godoc
// @Summary Verify a payment's status with its provider
// @Tags Payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} response_models.PaymentStatusResponse
// @Failure 404 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payments/status/{paymentId} [get]
func (p *PaymentController) GetStatus(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	status, err := p.paymentService.GetStatus(c.Request.Context(), c.GetString(middleware.TenantIDKey), paymentID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, status, "Payment status fetched successfully")
}

// GetPayment godoc
// @Summary Get a payment record
// @Tags Payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} response_models.PaymentResponse
// @Failure 404 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payments/records/{paymentId} [get]
func (p *PaymentController) GetPayment(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	payment, err := p.paymentService.GetPayment(c.Request.Context(), c.GetString(middleware.TenantIDKey), paymentID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, payment, "Payment fetched successfully")
}

// ListEvents godoc
// @Summary List the audit events of a payment
// @Tags Payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Param limit query int false "Maximum events" default(100)
// @Success 200 {array} response_models.PaymentEventResponse
// @Security BearerAuth
// @Router /payments/records/{paymentId}/events [get]
func (p *PaymentController) ListEvents(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 || limit > 500 {
		utils.RespondError(c, http.StatusBadRequest, "Invalid limit (must be 1-500)")
		return
	}

	events, err := p.paymentService.ListEvents(c.Request.Context(), c.GetString(middleware.TenantIDKey), paymentID, limit)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, events, "Payment events fetched successfully")
}

// ProviderHealth godoc
// @Summary Check the tenant's configured providers
// @Tags Operations
// @Produce json
// @Success 200 {array} response_models.ProviderHealthResponse
// @Security BearerAuth
// @Router /payments/providers/health [get]
func (p *PaymentController) ProviderHealth(c *gin.Context) {
	health, err := p.paymentService.ProviderHealth(c.Request.Context(), c.GetString(middleware.TenantIDKey))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, health, "Provider health fetched successfully")
}
