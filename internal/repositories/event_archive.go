package repositories

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"payorch/internal/models/db_models"
)

// EventArchive keeps payment events that aged out of the primary database.
type EventArchive interface {
	Archive(ctx context.Context, events []db_models.PaymentEvent) error
	Enabled() bool
}

type mongoEventArchive struct {
	coll *mongo.Collection
}

func NewMongoEventArchive(client *mongo.Client, database, collection string) EventArchive {
	return &mongoEventArchive{coll: client.Database(database).Collection(collection)}
}

func (a *mongoEventArchive) Enabled() bool { return true }

// Archive upserts by event id so a sweep interrupted after archiving but
// before deleting can safely run again.
func (a *mongoEventArchive) Archive(ctx context.Context, events []db_models.PaymentEvent) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(events))
	for _, e := range events {
		doc := bson.M{
			"_id":         e.ID.String(),
			"tenant_id":   e.TenantID,
			"provider":    e.Provider,
			"type":        e.Type,
			"data":        string(e.Data),
			"occurred_at": e.OccurredAt,
		}
		if e.PaymentID != nil {
			doc["payment_id"] = e.PaymentID.String()
		}
		if e.RefundID != nil {
			doc["refund_id"] = e.RefundID.String()
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc["_id"]}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := a.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("archive %d events: %w", len(events), err)
	}
	return nil
}

type noopEventArchive struct{}

// NewNoopEventArchive is used when no archive store is configured; events
// past retention are then deleted without a copy.
func NewNoopEventArchive() EventArchive { return noopEventArchive{} }

func (noopEventArchive) Enabled() bool { return false }

func (noopEventArchive) Archive(context.Context, []db_models.PaymentEvent) error { return nil }
