package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"payorch/internal/repositories"
	"payorch/pkg/utils"
)

const sweepBatchSize = 500

type MaintenanceOptions struct {
	EventRetention time.Duration
	InboxRetention time.Duration
	Interval       time.Duration
}

type SweepSummary struct {
	EventsArchived    int   `json:"events_archived"`
	EventsDeleted     int64 `json:"events_deleted"`
	IdempotencyPurged int64 `json:"idempotency_purged"`
	InboxPurged       int64 `json:"inbox_purged"`
	ArchiveEnabled    bool  `json:"archive_enabled"`
	EventCutoff       int64 `json:"event_cutoff"`
}

// MaintenanceService enforces retention: old audit events are archived and
// deleted, expired idempotency keys and old processed inbox rows are purged.
type MaintenanceService interface {
	Sweep(ctx context.Context) (SweepSummary, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type maintenanceService struct {
	events  repositories.PaymentEventRepository
	inbox   repositories.WebhookInboxRepository
	archive repositories.EventArchive
	idem    IdempotencyService
	clock   utils.Clock
	opts    MaintenanceOptions
	log     *zap.Logger
	loop    *backgroundLoop
}

func NewMaintenanceService(
	events repositories.PaymentEventRepository,
	inbox repositories.WebhookInboxRepository,
	archive repositories.EventArchive,
	idem IdempotencyService,
	clock utils.Clock,
	opts MaintenanceOptions,
	log *zap.Logger,
) MaintenanceService {
	if opts.EventRetention <= 0 {
		opts.EventRetention = 90 * 24 * time.Hour
	}
	if opts.InboxRetention <= 0 {
		opts.InboxRetention = opts.EventRetention
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	m := &maintenanceService{
		events:  events,
		inbox:   inbox,
		archive: archive,
		idem:    idem,
		clock:   clock,
		opts:    opts,
		log:     log.Named("maintenance"),
	}
	m.loop = newBackgroundLoop("maintenance", opts.Interval, m.log, func(ctx context.Context) {
		summary, err := m.Sweep(ctx)
		if err != nil {
			m.log.Error("sweep failed", zap.Error(err))
			return
		}
		m.log.Info("sweep finished", zap.Any("summary", summary))
	})
	return m
}

func (m *maintenanceService) Start(context.Context) error {
	m.loop.Start()
	return nil
}

func (m *maintenanceService) Stop(ctx context.Context) error {
	return m.loop.Stop(ctx)
}

func (m *maintenanceService) Sweep(ctx context.Context) (SweepSummary, error) {
	now := m.clock.Now()
	summary := SweepSummary{
		ArchiveEnabled: m.archive.Enabled(),
		EventCutoff:    now.Add(-m.opts.EventRetention).Unix(),
	}

	for {
		batch, err := m.events.ListOlderThan(ctx, summary.EventCutoff, sweepBatchSize)
		if err != nil {
			return summary, fmt.Errorf("%w: list old events: %v", utils.ErrDatabaseError, err)
		}
		if len(batch) == 0 {
			break
		}
		if m.archive.Enabled() {
			if err := m.archive.Archive(ctx, batch); err != nil {
				// Keep the rows; the next sweep retries.
				return summary, fmt.Errorf("archive events: %w", err)
			}
			summary.EventsArchived += len(batch)
		}
		ids := make([]uuid.UUID, 0, len(batch))
		for _, e := range batch {
			ids = append(ids, e.ID)
		}
		deleted, err := m.events.DeleteByIDs(ctx, ids)
		if err != nil {
			return summary, fmt.Errorf("%w: delete old events: %v", utils.ErrDatabaseError, err)
		}
		summary.EventsDeleted += deleted
		if len(batch) < sweepBatchSize {
			break
		}
	}

	purged, err := m.idem.PurgeExpired(ctx)
	if err != nil {
		return summary, err
	}
	summary.IdempotencyPurged = purged

	inboxPurged, err := m.inbox.PurgeProcessedBefore(ctx, now.Add(-m.opts.InboxRetention).Unix())
	if err != nil {
		return summary, fmt.Errorf("%w: purge inbox: %v", utils.ErrDatabaseError, err)
	}
	summary.InboxPurged = inboxPurged
	return summary, nil
}
