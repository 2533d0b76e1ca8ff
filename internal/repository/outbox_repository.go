package repository

import (
	"context"
	"time"

	"meshly/internal/domain/outbox"
	meshly_errors "meshly/pkg/errors"

	"gorm.io/gorm"
)

const outboxMaxRetries = 10

type PostgresOutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

func (r *PostgresOutboxRepository) Create(ctx context.Context, event *outbox.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *PostgresOutboxRepository) GetPending(ctx context.Context, limit int) ([]outbox.OutboxEvent, error) {
	var events []outbox.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", outbox.StatusPending, outboxMaxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *PostgresOutboxRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, outbox.StatusProcessing, "")
}

func (r *PostgresOutboxRepository) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&outbox.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       outbox.StatusCompleted,
			"processed_at": &now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meshly_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresOutboxRepository) MarkFailed(ctx context.Context, id string, errorMsg string) error {
	return r.setStatus(ctx, id, outbox.StatusFailed, errorMsg)
}

func (r *PostgresOutboxRepository) IncrementRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&outbox.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"status":      outbox.StatusPending,
			"updated_at":  time.Now(),
		}).Error
}

func (r *PostgresOutboxRepository) setStatus(ctx context.Context, id string, status outbox.Status, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errorMsg != "" {
		updates["error"] = errorMsg
	}
	res := r.db.WithContext(ctx).
		Model(&outbox.OutboxEvent{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meshly_errors.ErrNotFound
	}
	return nil
}
