package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"meshly/internal/domain/conversation"
	"meshly/internal/domain/message"
	"meshly/internal/domain/notification"
	"meshly/internal/domain/outbox"
	"meshly/internal/domain/user"
)

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, c *conversation.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)

	GetUserConversations(ctx context.Context, userID uuid.UUID, page, limit int) ([]conversation.Conversation, int64, error)
	GetUserConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	GetDirectConversation(ctx context.Context, userID1, userID2 uuid.UUID) (conversation.Conversation, error)

	AddParticipant(ctx context.Context, p *conversation.Participant) error
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error)
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)

	Archive(ctx context.Context, conversationID uuid.UUID) error
	Mute(ctx context.Context, conversationID, userID uuid.UUID, until time.Time) error
	Unmute(ctx context.Context, conversationID, userID uuid.UUID) error

	SetTyping(ctx context.Context, conversationID, userID uuid.UUID, startedAt time.Time) error
	ClearTyping(ctx context.Context, conversationID, userID uuid.UUID) error
	GetTypingStates(ctx context.Context, conversationID uuid.UUID) ([]conversation.TypingState, error)

	// BumpLastMessage advances the conversation's sequence and moves the
	// last-message pointer and activity timestamp, returning the new
	// sequence number. Called inside the send transaction.
	BumpLastMessage(ctx context.Context, conversationID, messageID uuid.UUID, at time.Time) (int64, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	Update(ctx context.Context, m message.Message) error
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// GetConversationPage returns one page of messages ordered newest
	// first (seq descending) together with the total message count.
	// Soft-deleted messages are included so positions stay stable.
	GetConversationPage(ctx context.Context, conversationID uuid.UUID, page, limit int) ([]message.Message, int64, error)

	GetUnreadMessageIDs(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error)
	BulkMarkAsRead(ctx context.Context, messageIDs []uuid.UUID, userID uuid.UUID) error
	MarkAsDelivered(ctx context.Context, messageID, userID uuid.UUID) error
	GetMessageReceipts(ctx context.Context, messageID uuid.UUID) ([]message.MessageReceipt, error)

	Search(ctx context.Context, conversationIDs []uuid.UUID, pattern string, page, limit int) ([]message.Message, int64, error)

	CreateAttachment(ctx context.Context, a *message.Attachment) error
	GetMessageAttachments(ctx context.Context, messageID uuid.UUID) ([]message.Attachment, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *notification.Notification) error
	GetUserNotifications(ctx context.Context, userID uuid.UUID, page, limit int) ([]notification.Notification, int64, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
}

type OutboxRepository interface {
	Create(ctx context.Context, event *outbox.OutboxEvent) error
	GetPending(ctx context.Context, limit int) ([]outbox.OutboxEvent, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errorMsg string) error
	IncrementRetry(ctx context.Context, id string) error
}
