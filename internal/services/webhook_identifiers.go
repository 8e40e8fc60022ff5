package services

import (
	"encoding/base64"
	"net/http"

	"github.com/buger/jsonparser"

	"payorch/pkg/utils"
)

// webhookIdentifiers are the fields that identify one provider notification,
// read from the raw body before any adapter is trusted with it.
type webhookIdentifiers struct {
	OrderID       string
	TransactionID string
	EventID       string
	UTR           string
	EventType     string
	RawStatus     string
	ContentHash   string
}

var (
	orderIDPaths = [][]string{
		{"order_id"},
		{"orderId"},
		{"payload", "payment", "entity", "order_id"},
		{"payload", "order", "entity", "id"},
		{"data", "orderCode"},
		{"data", "merchantOrderId"},
	}
	transactionIDPaths = [][]string{
		{"transaction_id"},
		{"transactionId"},
		{"payload", "payment", "entity", "id"},
		{"payload", "refund", "entity", "id"},
		{"data", "transactionId"},
		{"data", "merchantTransactionId"},
		{"data", "reference"},
	}
	eventIDPaths = [][]string{
		{"event_id"},
		{"eventId"},
		{"id"},
	}
	utrPaths = [][]string{
		{"utr"},
		{"payload", "payment", "entity", "acquirer_data", "rrn"},
		{"data", "paymentInstrument", "utr"},
	}
	eventTypePaths = [][]string{
		{"event"},
		{"event_type"},
		{"type"},
		{"code"},
	}
	rawStatusPaths = [][]string{
		{"status"},
		{"payload", "refund", "entity", "status"},
		{"payload", "payment", "entity", "status"},
		{"data", "state"},
		{"data", "code"},
		{"code"},
	}
	eventIDHeaders = []string{"X-Razorpay-Event-Id", "X-Event-Id", "X-Webhook-Id"}
)

// probeString returns the first non-empty scalar at any of paths.
func probeString(doc []byte, paths [][]string) string {
	accessors := make([]func() string, 0, len(paths))
	for _, p := range paths {
		p := p
		accessors = append(accessors, func() string {
			v, dt, _, err := jsonparser.Get(doc, p...)
			if err != nil {
				return ""
			}
			switch dt {
			case jsonparser.String:
				s, err := jsonparser.ParseString(v)
				if err != nil {
					return ""
				}
				return s
			case jsonparser.Number, jsonparser.Boolean:
				return string(v)
			}
			return ""
		})
	}
	return utils.FirstFromAccessors(accessors...)
}

// probeIdentifiers reads identifiers from the body, and from the base64
// document PhonePe wraps under "response" when present.
func probeIdentifiers(headers http.Header, body []byte) webhookIdentifiers {
	docs := [][]byte{body}
	if encoded, err := jsonparser.GetString(body, "response"); err == nil && encoded != "" {
		if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			docs = append([][]byte{decoded}, docs...)
		}
	}

	probe := func(paths [][]string) string {
		for _, d := range docs {
			if v := probeString(d, paths); v != "" {
				return v
			}
		}
		return ""
	}

	ids := webhookIdentifiers{
		OrderID:       probe(orderIDPaths),
		TransactionID: probe(transactionIDPaths),
		UTR:           probe(utrPaths),
		EventType:     probe(eventTypePaths),
		RawStatus:     probe(rawStatusPaths),
		ContentHash:   utils.HashBytes(body),
	}

	headerIDs := make([]string, 0, len(eventIDHeaders)+1)
	for _, h := range eventIDHeaders {
		headerIDs = append(headerIDs, headers.Get(h))
	}
	ids.EventID = utils.PickFirstNonEmpty(append(headerIDs, probe(eventIDPaths))...)
	return ids
}

// dedupeKey identifies a notification independently of how often it is
// delivered. Event type and status are part of the key so that distinct
// notifications about the same payment are not collapsed.
func dedupeKey(tenantID, provider string, ids webhookIdentifiers) string {
	var basis string
	switch {
	case ids.OrderID != "" && ids.TransactionID != "":
		basis = "ot|" + ids.OrderID + "|" + ids.TransactionID
	case ids.EventID != "":
		basis = "ev|" + ids.EventID
	case ids.TransactionID != "":
		basis = "tx|" + ids.TransactionID
	default:
		basis = "ch|" + ids.ContentHash
	}
	return utils.HashKey(tenantID, provider, ids.EventType, ids.RawStatus, basis)
}
