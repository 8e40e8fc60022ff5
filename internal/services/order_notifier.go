package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type OrderPaidNotification struct {
	TenantID    string `json:"tenant_id"`
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id"`
	Provider    string `json:"provider"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	PaidAt      int64  `json:"paid_at"`
}

// OrderNotifier tells the order system that an order became paid. It is only
// called after the payment transition committed.
type OrderNotifier interface {
	NotifyOrderPaid(ctx context.Context, n OrderPaidNotification) error
}

type redisOrderNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisOrderNotifier(client *redis.Client, channel string) OrderNotifier {
	return &redisOrderNotifier{client: client, channel: channel}
}

func (r *redisOrderNotifier) NotifyOrderPaid(ctx context.Context, n OrderPaidNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

type logOrderNotifier struct {
	log *zap.Logger
}

func NewLogOrderNotifier(log *zap.Logger) OrderNotifier {
	return &logOrderNotifier{log: log.Named("order_notifier")}
}

func (l *logOrderNotifier) NotifyOrderPaid(_ context.Context, n OrderPaidNotification) error {
	l.log.Info("order paid",
		zap.String("tenant", n.TenantID),
		zap.String("order_id", n.OrderID),
		zap.String("payment_id", n.PaymentID),
		zap.Int64("amount_minor", n.AmountMinor))
	return nil
}
