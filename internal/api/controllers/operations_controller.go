package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"payorch/internal/models/db_models"
	"payorch/internal/models/request_models"
	"payorch/internal/models/response_models"
	"payorch/internal/services"
	"payorch/pkg/middleware"
	"payorch/pkg/utils"
)

// OperationsController exposes worker snapshots and idempotency key
// management to a tenant's operators.
type OperationsController struct {
	pollingWorker      services.PollingWorker
	idempotencyService services.IdempotencyService
}

func NewOperationsController(pollingWorker services.PollingWorker, idempotencyService services.IdempotencyService) *OperationsController {
	return &OperationsController{
		pollingWorker:      pollingWorker,
		idempotencyService: idempotencyService,
	}
}

// ListPollingJobs godoc
// @Summary List reconciliation polling jobs
// @Tags Operations
// @Produce json
// @Param status query string false "pending, completed, failed or expired"
// @Param limit query int false "Maximum jobs" default(50)
// @Success 200 {array} response_models.PollingJobResponse
// @Security BearerAuth
// @Router /payments/polling-jobs [get]
func (o *OperationsController) ListPollingJobs(c *gin.Context) {
	var query request_models.PollingJobQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}
	status := db_models.PollingJobStatus(query.Status)
	switch status {
	case "", db_models.PollingJobPending, db_models.PollingJobCompleted, db_models.PollingJobFailed, db_models.PollingJobExpired:
	default:
		utils.RespondError(c, http.StatusBadRequest, "Invalid job status")
		return
	}
	if query.Limit <= 0 || query.Limit > 500 {
		query.Limit = 50
	}

	jobs, err := o.pollingWorker.ListJobs(c.Request.Context(), c.GetString(middleware.TenantIDKey), status, query.Limit)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	out := make([]response_models.PollingJobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, services.ToPollingJobResponse(&jobs[i]))
	}
	utils.RespondSuccess(c, out, "Polling jobs fetched successfully")
}

// CheckIdempotencyKey godoc
// @Summary Inspect an idempotency key
// @Tags Operations
// @Produce json
// @Param key query string true "Idempotency key"
// @Param scope query string true "Operation scope, e.g. payments.create"
// @Success 200 {object} response_models.IdempotencyCheckResponse
// @Security BearerAuth
// @Router /payments/idempotency [get]
func (o *OperationsController) CheckIdempotencyKey(c *gin.Context) {
	var query request_models.IdempotencyKeyQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "key and scope are required")
		return
	}
	scope := services.TenantScope(query.Scope, c.GetString(middleware.TenantIDKey))

	check, err := o.idempotencyService.CheckKey(c.Request.Context(), query.Key, scope)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	resp := response_models.IdempotencyCheckResponse{
		Key:       query.Key,
		Scope:     query.Scope,
		Exists:    check.Exists,
		Completed: check.Completed,
		Expired:   check.Expired,
		Status:    string(check.Status),
		CreatedAt: check.CreatedAt,
		ExpiresAt: check.ExpiresAt,
	}
	if len(check.Response) > 0 {
		resp.Response = json.RawMessage(check.Response)
	}
	utils.RespondSuccess(c, resp, "Idempotency key fetched successfully")
}

// InvalidateIdempotencyKey godoc
// @Summary Forget an idempotency key so the next request runs again
// @Tags Operations
// @Produce json
// @Param key query string true "Idempotency key"
// @Param scope query string true "Operation scope, e.g. payments.create"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payments/idempotency [delete]
func (o *OperationsController) InvalidateIdempotencyKey(c *gin.Context) {
	var query request_models.IdempotencyKeyQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "key and scope are required")
		return
	}
	scope := services.TenantScope(query.Scope, c.GetString(middleware.TenantIDKey))

	deleted, err := o.idempotencyService.InvalidateKey(c.Request.Context(), query.Key, scope)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	if !deleted {
		utils.HandleServiceError(c, utils.ErrIdempotencyKeyNotFound)
		return
	}
	utils.RespondSuccess(c, gin.H{"key": query.Key, "scope": query.Scope}, "Idempotency key invalidated")
}

// Health godoc
// @Summary Liveness probe
// @Tags Operations
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /health [get]
func (o *OperationsController) Health(c *gin.Context) {
	utils.RespondSuccess(c, gin.H{"status": "ok"}, "")
}
