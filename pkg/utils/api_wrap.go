package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func traceID(c *gin.Context) string {
	return c.GetString("trace_id")
}

func RespondSuccess(c *gin.Context, data interface{}, message string) {
	RespondWithStatus(c, http.StatusOK, data, message)
}

// RespondWithStatus writes a success envelope with a non-200 code (201, 202).
func RespondWithStatus(c *gin.Context, code int, data interface{}, message string) {
	c.JSON(code, APIResponse{
		Status:  "success",
		Code:    code,
		Message: message,
		TraceID: traceID(c),
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, message string) {
	c.JSON(code, APIResponse{
		Status:  "error",
		Code:    code,
		Message: message,
		TraceID: traceID(c),
	})
}

// RespondErrorData is RespondError with a payload, used for webhook outcomes.
func RespondErrorData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, APIResponse{
		Status:  "error",
		Code:    code,
		Message: message,
		TraceID: traceID(c),
		Data:    data,
	})
}

func HandleServiceError(c *gin.Context, err error) {
	var perr *PaymentError
	if errors.As(err, &perr) {
		c.JSON(perr.HTTPStatus(), APIResponse{
			Status:  "error",
			Code:    perr.HTTPStatus(),
			Message: perr.Error(),
			TraceID: traceID(c),
			Data:    gin.H{"error_code": perr.Code},
		})
		return
	}

	switch {
	case errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrRefundNotFound),
		errors.Is(err, ErrIdempotencyKeyNotFound):
		RespondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrIdempotencyKeyRequired),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrNoProviderAvailable):
		RespondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrIdempotencyInFlight):
		RespondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrProviderCallFailed):
		zap.L().Warn("provider call failed", zap.String("trace_id", traceID(c)), zap.Error(err))
		RespondError(c, http.StatusBadGateway, "Payment provider unavailable")
	case errors.Is(err, ErrDatabaseError):
		zap.L().Error("database error", zap.String("trace_id", traceID(c)), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Internal server error")
	default:
		zap.L().Error("unhandled service error", zap.String("trace_id", traceID(c)), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Internal server error")
	}
}
