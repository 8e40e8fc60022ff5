package controllers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"payorch/internal/models/response_models"
	"payorch/internal/services"
	"payorch/pkg/utils"
)

const (
	TenantIDHeader     = "X-Tenant-ID"
	maxWebhookBodySize = 1 << 20
)

type WebhookController struct {
	webhookService services.WebhookService
}

func NewWebhookController(webhookService services.WebhookService) *WebhookController {
	return &WebhookController{
		webhookService: webhookService,
	}
}

// HandleWebhook godoc
// @Summary Receive a provider notification
// @Description Verifies, deduplicates and applies a provider webhook. Without a provider in the path every enabled provider of the tenant is tried.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string false "Provider name"
// @Param X-Tenant-ID header string false "Tenant ID"
// @Param tenant query string false "Tenant ID"
// @Success 200 {object} response_models.WebhookResponse
// @Failure 400 {object} utils.APIResponse
// @Failure 401 {object} utils.APIResponse
// @Failure 403 {object} utils.APIResponse
// @Router /webhook/{provider} [post]
func (w *WebhookController) HandleWebhook(c *gin.Context) {
	tenantID := utils.PickFirstNonEmpty(c.GetHeader(TenantIDHeader), c.Query("tenant"))
	if tenantID == "" {
		utils.RespondError(c, http.StatusBadRequest, "tenant is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize+1))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) > maxWebhookBodySize {
		utils.RespondError(c, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	res, err := w.webhookService.HandleWebhook(c.Request.Context(), services.WebhookInput{
		TenantID: tenantID,
		Provider: strings.TrimSpace(c.Param("provider")),
		Headers:  c.Request.Header.Clone(),
		Body:     body,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	data := response_models.WebhookResponse{
		Outcome:  string(res.Outcome),
		Provider: res.Provider,
		Status:   res.Status,
	}
	if res.InboxID != nil {
		data.InboxID = res.InboxID.String()
	}
	if res.PaymentID != nil {
		data.PaymentID = res.PaymentID.String()
	}
	if res.RefundID != nil {
		data.RefundID = res.RefundID.String()
	}

	if res.HTTPStatus >= http.StatusBadRequest {
		utils.RespondErrorData(c, res.HTTPStatus, res.Message, data)
		return
	}
	utils.RespondWithStatus(c, res.HTTPStatus, data, utils.PickFirstNonEmpty(res.Message, "Webhook processed"))
}
