package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"meshly/internal/domain/message"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return meshly_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, meshly_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) Update(ctx context.Context, m message.Message) error {
	res := r.db.WithContext(ctx).Save(&m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meshly_errors.ErrNotFound
	}
	return nil
}

// SoftDelete replaces the content with the fixed placeholder and sets the
// deleted flag. The row keeps its id and sequence position.
func (r *PostgresMessageRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content": message.DeletedPlaceholder,
			"deleted": true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meshly_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) GetConversationPage(ctx context.Context, conversationID uuid.UUID, page, limit int) ([]message.Message, int64, error) {
	var messages []message.Message
	var total int64

	q := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id = ?", conversationID)

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := q.
		Preload("Attachments").
		Order("seq DESC").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

func (r *PostgresMessageRepository) GetUnreadMessageIDs(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	subQuery := r.db.Model(&message.MessageReceipt{}).
		Select("message_id").
		Where("user_id = ? AND read_at IS NOT NULL", userID)

	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id = ? AND sender_id != ? AND id NOT IN (?)",
			conversationID, userID, subQuery).
		Order("seq ASC").
		Pluck("id", &ids).Error

	if err != nil {
		return nil, err
	}
	return ids, nil
}

// BulkMarkAsRead upserts a READ receipt per message for the given reader.
// The (message_id, user_id) primary key keeps this idempotent: a reader can
// never accumulate a second receipt for the same message.
func (r *PostgresMessageRepository) BulkMarkAsRead(ctx context.Context, messageIDs []uuid.UUID, userID uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, msgID := range messageIDs {
			res := tx.Model(&message.MessageReceipt{}).
				Where("message_id = ? AND user_id = ?", msgID, userID).
				Updates(map[string]interface{}{
					"status":     message.ReceiptRead,
					"read_at":    now,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				receipt := &message.MessageReceipt{
					MessageID: msgID,
					UserID:    userID,
					Status:    message.ReceiptRead,
					ReadAt:    toNullTime(now),
					UpdatedAt: now,
				}
				if err := tx.Create(receipt).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *PostgresMessageRepository) MarkAsDelivered(ctx context.Context, messageID, userID uuid.UUID) error {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&message.MessageReceipt{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Updates(map[string]interface{}{
			"delivered_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		receipt := &message.MessageReceipt{
			MessageID:   messageID,
			UserID:      userID,
			Status:      message.ReceiptDelivered,
			DeliveredAt: toNullTime(now),
			UpdatedAt:   now,
		}
		return r.db.WithContext(ctx).Create(receipt).Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetMessageReceipts(ctx context.Context, messageID uuid.UUID) ([]message.MessageReceipt, error) {
	var receipts []message.MessageReceipt
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Find(&receipts).Error
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// Search runs a case-insensitive regex over message content restricted to
// the given conversations. Deleted messages only hold the placeholder, so
// they are excluded.
func (r *PostgresMessageRepository) Search(ctx context.Context, conversationIDs []uuid.UUID, pattern string, page, limit int) ([]message.Message, int64, error) {
	var messages []message.Message
	var total int64

	if len(conversationIDs) == 0 {
		return nil, 0, nil
	}

	q := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id IN (?) AND content ~* ? AND deleted = false", conversationIDs, pattern)

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&messages).Error; err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

func (r *PostgresMessageRepository) CreateAttachment(ctx context.Context, a *message.Attachment) error {
	res := r.db.WithContext(ctx).Create(a)
	if res.Error != nil {
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetMessageAttachments(ctx context.Context, messageID uuid.UUID) ([]message.Attachment, error) {
	var attachments []message.Attachment
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Find(&attachments).Error
	if err != nil {
		return nil, err
	}
	return attachments, nil
}

func toNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
