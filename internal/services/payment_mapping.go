package services

import (
	"encoding/json"

	"payorch/internal/models/db_models"
	"payorch/internal/models/response_models"
)

func toPaymentResponse(p *db_models.Payment) *response_models.PaymentResponse {
	resp := &response_models.PaymentResponse{
		ID:                    p.ID.String(),
		TenantID:              p.TenantID,
		OrderID:               p.OrderID,
		Provider:              p.Provider,
		Environment:           p.Environment,
		Method:                p.Method,
		Status:                string(p.Status),
		AuthorizedAmountMinor: p.AuthorizedAmountMinor,
		CapturedAmountMinor:   p.CapturedAmountMinor,
		Currency:              p.Currency,
		MerchantTransactionID: p.MerchantTransactionID,
		ProviderPaymentID:     p.ProviderPaymentID,
		ProviderTransactionID: p.ProviderTransactionID,
		ProviderReferenceID:   p.ProviderReferenceID,
		CheckoutURL:           p.CheckoutURL,
		CheckoutExpiresAt:     p.CheckoutExpiresAt,
		PayerHandleMasked:     p.PayerHandleMasked,
		InstrumentType:        p.InstrumentType,
		ReceiptURL:            p.ReceiptURL,
		FailureCode:           p.FailureCode,
		FailureMessage:        p.FailureMessage,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
		CompletedAt:           p.CompletedAt,
	}
	if len(p.Metadata) > 0 {
		var md map[string]any
		if err := json.Unmarshal(p.Metadata, &md); err == nil && len(md) > 0 {
			resp.Metadata = md
		}
	}
	return resp
}

func toRefundResponse(r *db_models.Refund) *response_models.RefundResponse {
	return &response_models.RefundResponse{
		ID:               r.ID.String(),
		PaymentID:        r.PaymentID.String(),
		MerchantRefundID: r.MerchantRefundID,
		ProviderRefundID: r.ProviderRefundID,
		Provider:         r.Provider,
		AmountMinor:      r.AmountMinor,
		Currency:         r.Currency,
		Status:           string(r.Status),
		Reason:           r.Reason,
		FailureCode:      r.FailureCode,
		FailureMessage:   r.FailureMessage,
		CreatedAt:        r.CreatedAt,
		ProcessedAt:      r.ProcessedAt,
	}
}

func toEventResponse(e *db_models.PaymentEvent) response_models.PaymentEventResponse {
	resp := response_models.PaymentEventResponse{
		ID:         e.ID.String(),
		Type:       e.Type,
		Provider:   e.Provider,
		OccurredAt: e.OccurredAt,
	}
	if e.PaymentID != nil {
		resp.PaymentID = e.PaymentID.String()
	}
	if e.RefundID != nil {
		resp.RefundID = e.RefundID.String()
	}
	if len(e.Data) > 0 {
		_ = json.Unmarshal(e.Data, &resp.Data)
	}
	return resp
}

func ToPollingJobResponse(j *db_models.PollingJob) response_models.PollingJobResponse {
	return response_models.PollingJobResponse{
		ID:               j.ID.String(),
		TenantID:         j.TenantID,
		PaymentID:        j.PaymentID.String(),
		OrderID:          j.OrderID,
		Provider:         j.Provider,
		Status:           string(j.Status),
		Attempt:          j.Attempt,
		NextPollAt:       j.NextPollAt,
		ExpireAt:         j.ExpireAt,
		LastStatus:       j.LastStatus,
		LastResponseCode: j.LastResponseCode,
		LastError:        j.LastError,
		CompletedAt:      j.CompletedAt,
	}
}
