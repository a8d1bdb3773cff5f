// internal/services/outbox_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/shop-backend/internal/models"
	"github.com/javajoker/shop-backend/internal/tasks"
	"github.com/javajoker/shop-backend/pkg/events"
)

const (
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicOrderCancelled = "order.cancelled"
	TopicOrderShipped   = "order.shipped"
	TopicOrderDelivered = "order.delivered"
	TopicOrderRefunded  = "order.refunded"

	taskTopicPrefix = "receipts."
	outboxLease     = 30 * time.Second
)

// OutboxService records side effects inside business transactions and
// forwards them after commit: receipts.* rows go to the task queue,
// everything else to the event publisher.
type OutboxService struct {
	db        *gorm.DB
	queue     tasks.Queue
	publisher events.Publisher
	batchSize int
	interval  time.Duration
	logger    *logrus.Entry
}

func NewOutboxService(db *gorm.DB, queue tasks.Queue, publisher events.Publisher, batchSize int, interval time.Duration) *OutboxService {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &OutboxService{
		db:        db,
		queue:     queue,
		publisher: publisher,
		batchSize: batchSize,
		interval:  interval,
		logger:    logrus.WithField("component", "outbox"),
	}
}

// Add writes an outbox row with tx. A second row for the same (topic, key)
// is silently skipped and reported as id 0.
func (s *OutboxService) Add(tx *gorm.DB, topic, key string, payload map[string]interface{}) (int64, error) {
	event := &models.OutboxEvent{
		Topic:   topic,
		Key:     key,
		Payload: models.JSONB(payload),
	}

	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "topic"}, {Name: "key"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to write outbox event %s: %w", topic, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, nil
	}
	return event.ID, nil
}

// Dispatch forwards the given rows now. Failures are left for the relay.
func (s *OutboxService) Dispatch(ctx context.Context, ids ...int64) {
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if err := s.dispatchOne(ctx, id); err != nil {
			s.logger.WithError(err).WithField("outbox_id", id).Warn("Outbox dispatch failed, relay will retry")
		}
	}
}

// RelayOnce forwards one batch of unsent rows and returns how many were sent.
func (s *OutboxService) RelayOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("sent_at IS NULL AND (lease_until IS NULL OR lease_until < ?)", now).
		Order("id").
		Limit(s.batchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load outbox events: %w", err)
	}

	sent := 0
	for _, id := range ids {
		if err := s.dispatchOne(ctx, id); err != nil {
			s.logger.WithError(err).WithField("outbox_id", id).Warn("Outbox relay publish failed")
			continue
		}
		sent++
	}
	return sent, nil
}

// Relay polls for unsent rows until ctx is cancelled.
func (s *OutboxService) Relay(ctx context.Context) {
	s.logger.WithField("interval", s.interval.String()).Info("Outbox relay started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := s.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Error("Outbox relay iteration failed")
			}
		}
	}
}

func (s *OutboxService) dispatchOne(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	leaseUntil := now.Add(outboxLease)

	claim := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND sent_at IS NULL AND (lease_until IS NULL OR lease_until < ?)", id, now).
		UpdateColumns(map[string]interface{}{
			"lease_until": leaseUntil,
			"attempts":    gorm.Expr("attempts + 1"),
		})
	if claim.Error != nil {
		return fmt.Errorf("failed to claim outbox event: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		// Already sent or being sent by someone else.
		return nil
	}

	var event models.OutboxEvent
	if err := s.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return fmt.Errorf("failed to load outbox event: %w", err)
	}

	if err := s.publish(ctx, &event); err != nil {
		if releaseErr := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", id).
			UpdateColumns(map[string]interface{}{
				"lease_until": nil,
				"last_error":  err.Error(),
			}).Error; releaseErr != nil {
			// The lease expires on its own; the relay picks the row up after that.
			s.logger.WithError(releaseErr).WithField("outbox_id", id).Error("Failed to release outbox lease")
		}
		return err
	}

	sentAt := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"sent_at":     sentAt,
			"lease_until": nil,
			"last_error":  "",
		}).Error; err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"outbox_id": id,
		"topic":     event.Topic,
		"key":       event.Key,
	}).Debug("Outbox event sent")
	return nil
}

func (s *OutboxService) publish(ctx context.Context, event *models.OutboxEvent) error {
	if strings.HasPrefix(event.Topic, taskTopicPrefix) {
		return s.queue.Enqueue(ctx, tasks.Task{
			Type:       event.Topic,
			Key:        event.Key,
			Payload:    map[string]interface{}(event.Payload),
			EnqueuedAt: time.Now().UTC(),
		})
	}
	return s.publisher.Publish(ctx, events.Event{
		Topic:      event.Topic,
		Key:        event.Key,
		Payload:    map[string]interface{}(event.Payload),
		OccurredAt: event.CreatedAt,
	})
}
