package repository

import (
	"context"
	"errors"
	"time"

	"meshly/internal/domain/conversation"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	res := r.db.WithContext(ctx).Create(c)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return meshly_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.Conversation{}, meshly_errors.ErrNotFound
		}
		return conversation.Conversation{}, err
	}
	return c, nil
}

func (r *PostgresConversationRepository) GetUserConversations(ctx context.Context, userID uuid.UUID, page, limit int) ([]conversation.Conversation, int64, error) {
	var conversations []conversation.Conversation
	var total int64

	subQuery := r.db.Model(&conversation.Participant{}).
		Select("conversation_id").
		Where("user_id = ?", userID)

	q := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id IN (?) AND archived = false", subQuery)

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := q.
		Preload("Participants").
		Order("last_activity_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&conversations).Error; err != nil {
		return nil, 0, err
	}

	return conversations, total, nil
}

func (r *PostgresConversationRepository) GetUserConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresConversationRepository) GetDirectConversation(ctx context.Context, userID1, userID2 uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation

	// Direct conversation where both users are participants and nobody else is
	subQuery := r.db.Model(&conversation.Participant{}).
		Select("conversation_id").
		Where("user_id IN (?, ?)", userID1, userID2).
		Group("conversation_id").
		Having("COUNT(DISTINCT user_id) = 2")

	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id IN (?) AND is_group = false", subQuery).
		First(&c).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.Conversation{}, meshly_errors.ErrNotFound
		}
		return conversation.Conversation{}, err
	}
	return c, nil
}

func (r *PostgresConversationRepository) AddParticipant(ctx context.Context, p *conversation.Participant) error {
	res := r.db.WithContext(ctx).Create(p)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return meshly_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresConversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error) {
	var participants []conversation.Participant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&participants).Error
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *PostgresConversationRepository) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Participant, error) {
	var p conversation.Participant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.Participant{}, meshly_errors.ErrNotFound
		}
		return conversation.Participant{}, err
	}
	return p, nil
}

func (r *PostgresConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Archive flips the conversation-level flag. It is idempotent and has no
// inverse operation.
func (r *PostgresConversationRepository) Archive(ctx context.Context, conversationID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", conversationID).
		Update("archived", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meshly_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) Mute(ctx context.Context, conversationID, userID uuid.UUID, until time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("muted_until", until)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meshly_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) Unmute(ctx context.Context, conversationID, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("muted_until", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return meshly_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) SetTyping(ctx context.Context, conversationID, userID uuid.UUID, startedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.TypingState{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("started_at", startedAt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		state := &conversation.TypingState{
			ConversationID: conversationID,
			UserID:         userID,
			StartedAt:      startedAt,
		}
		return r.db.WithContext(ctx).Create(state).Error
	}
	return nil
}

func (r *PostgresConversationRepository) ClearTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Delete(&conversation.TypingState{}, "conversation_id = ? AND user_id = ?", conversationID, userID).Error
}

func (r *PostgresConversationRepository) GetTypingStates(ctx context.Context, conversationID uuid.UUID) ([]conversation.TypingState, error) {
	var states []conversation.TypingState
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&states).Error
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (r *PostgresConversationRepository) BumpLastMessage(ctx context.Context, conversationID, messageID uuid.UUID, at time.Time) (int64, error) {
	var seq int64
	err := r.db.WithContext(ctx).Raw(`
        UPDATE conversations
        SET last_seq = last_seq + 1, last_message_id = ?, last_activity_at = ?, updated_at = ?
        WHERE id = ?
        RETURNING last_seq
    `, messageID, at, at, conversationID).Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	if seq == 0 {
		return 0, meshly_errors.ErrNotFound
	}
	return seq, nil
}
