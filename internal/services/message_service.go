package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"meshly/internal/domain/message"
	"meshly/internal/domain/outbox"
	"meshly/internal/events"
	"meshly/internal/proxy"
	"meshly/internal/repository"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxContentLength = 4000
	maxAttachments   = 5
	previewLength    = 120
)

type MessageService struct {
	db          *gorm.DB
	messageRepo repository.MessageRepository
	convRepo    repository.ConversationRepository
	outboxRepo  repository.OutboxRepository
	access      *proxy.AccessControl
}

func NewMessageService(db *gorm.DB, messageRepo repository.MessageRepository, convRepo repository.ConversationRepository, outboxRepo repository.OutboxRepository, access *proxy.AccessControl) *MessageService {
	return &MessageService{
		db:          db,
		messageRepo: messageRepo,
		convRepo:    convRepo,
		outboxRepo:  outboxRepo,
		access:      access,
	}
}

type SendMessageInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Type           string
	Content        string
	ReplyToMsgID   uuid.NullUUID
	Attachments    []AttachmentInput
}

type AttachmentInput struct {
	Kind string
	URL  string
	Name string
	Size int64
}

// Send appends a message to a conversation. The sequence bump, the message
// row, its attachments and the outbox event all commit in one transaction,
// so a message is never visible without its notification event and seq
// order matches insertion order.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (message.Message, error) {
	if err := validateSend(in); err != nil {
		return message.Message{}, err
	}

	if s.access != nil {
		if err := s.access.CanSendMessage(ctx, in.SenderID, in.ConversationID); err != nil {
			return message.Message{}, err
		}
	}

	if s.db == nil {
		return s.sendDirect(ctx, in, s.messageRepo, s.convRepo, s.outboxRepo)
	}

	var result message.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.sendDirect(ctx, in,
			repository.NewMessageRepository(tx),
			repository.NewConversationRepository(tx),
			repository.NewOutboxRepository(tx),
		)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return message.Message{}, err
	}
	return result, nil
}

// sendDirect persists through the given repositories so that transactional
// callers can hand in tx-bound ones without touching shared service state.
func (s *MessageService) sendDirect(ctx context.Context, in SendMessageInput, messageRepo repository.MessageRepository, convRepo repository.ConversationRepository, outboxRepo repository.OutboxRepository) (message.Message, error) {
	now := time.Now()
	msg := message.Message{
		ID:             uuid.New(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Type:           in.Type,
		Content:        in.Content,
		ReplyToMsgID:   in.ReplyToMsgID,
		CreatedAt:      now,
	}

	seq, err := convRepo.BumpLastMessage(ctx, in.ConversationID, msg.ID, now)
	if err != nil {
		return message.Message{}, err
	}
	msg.Seq = seq

	if err := messageRepo.Create(ctx, &msg); err != nil {
		return message.Message{}, err
	}

	for _, a := range in.Attachments {
		attachment := message.Attachment{
			ID:        uuid.New(),
			MessageID: msg.ID,
			Kind:      a.Kind,
			URL:       a.URL,
			Name:      a.Name,
			Size:      a.Size,
			CreatedAt: now,
		}
		if err := messageRepo.CreateAttachment(ctx, &attachment); err != nil {
			return message.Message{}, err
		}
		msg.Attachments = append(msg.Attachments, attachment)
	}

	evt := events.MessageNewEvent{
		BaseEvent:      events.NewBaseEvent(events.EventMessageNew),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		Seq:            msg.Seq,
		Preview:        preview(msg.Content),
	}
	if err := s.appendOutbox(ctx, outboxRepo, &evt, msg.ID.String()); err != nil {
		return message.Message{}, err
	}

	return msg, nil
}

// FetchPage returns one page of conversation history, newest page first but
// ordered oldest-to-newest within the page. Fetching counts as reading:
// every message still unread by the caller gets a read receipt.
func (s *MessageService) FetchPage(ctx context.Context, conversationID, userID uuid.UUID, page, limit int) ([]message.Message, int64, error) {
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
			return nil, 0, err
		}
	}

	page, limit = normalizePage(page, limit)
	messages, total, err := s.messageRepo.GetConversationPage(ctx, conversationID, page, limit)
	if err != nil {
		return nil, 0, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := s.markUnreadAsRead(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkConversationRead records read receipts for everything the caller has
// not read yet. Re-reading is a no-op.
func (s *MessageService) MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
			return err
		}
	}
	return s.markUnreadAsRead(ctx, conversationID, userID)
}

func (s *MessageService) markUnreadAsRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	unread, err := s.messageRepo.GetUnreadMessageIDs(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if len(unread) == 0 {
		return nil
	}

	if err := s.messageRepo.BulkMarkAsRead(ctx, unread, userID); err != nil {
		return err
	}

	evt := events.MessageReadEvent{
		BaseEvent:      events.NewBaseEvent(events.EventMessageRead),
		ConversationID: conversationID,
		ReaderID:       userID,
		MessageIDs:     unread,
	}
	return s.appendOutbox(ctx, s.outboxRepo, &evt, conversationID.String())
}

func (s *MessageService) GetByID(ctx context.Context, messageID, userID uuid.UUID) (message.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, msg.ConversationID); err != nil {
			return message.Message{}, err
		}
	}
	return msg, nil
}

// Edit rewrites the content of the caller's own message. Deleted messages
// cannot be edited.
func (s *MessageService) Edit(ctx context.Context, messageID, userID uuid.UUID, content string) (message.Message, error) {
	if content == "" || len(content) > maxContentLength {
		return message.Message{}, meshly_errors.ErrInvalidInput
	}

	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if msg.SenderID != userID {
		return message.Message{}, meshly_errors.ErrForbidden
	}
	if msg.Deleted {
		return message.Message{}, meshly_errors.ErrConflict
	}

	msg.Content = content
	msg.EditedAt = toNullTime(time.Now())
	if err := s.messageRepo.Update(ctx, msg); err != nil {
		return message.Message{}, err
	}

	evt := events.MessageEditedEvent{
		BaseEvent:      events.NewBaseEvent(events.EventMessageEdited),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
	}
	if err := s.appendOutbox(ctx, s.outboxRepo, &evt, msg.ID.String()); err != nil {
		return message.Message{}, err
	}

	return msg, nil
}

// Delete tombstones the caller's own message. The row keeps its id and seq,
// content becomes the placeholder. Deleting twice is a no-op.
func (s *MessageService) Delete(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return meshly_errors.ErrForbidden
	}
	if msg.Deleted {
		return nil
	}

	if err := s.messageRepo.SoftDelete(ctx, messageID); err != nil {
		return err
	}

	evt := events.MessageDeletedEvent{
		BaseEvent:      events.NewBaseEvent(events.EventMessageDeleted),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
	}
	return s.appendOutbox(ctx, s.outboxRepo, &evt, msg.ID.String())
}

// Search matches message content case-insensitively across the caller's
// conversations, or within a single one when a conversation filter is given.
func (s *MessageService) Search(ctx context.Context, userID uuid.UUID, pattern string, conversationID uuid.NullUUID, page, limit int) ([]message.Message, int64, error) {
	if pattern == "" {
		return nil, 0, meshly_errors.ErrInvalidInput
	}

	var conversationIDs []uuid.UUID
	if conversationID.Valid {
		if s.access != nil {
			if err := s.access.CanViewConversation(ctx, userID, conversationID.UUID); err != nil {
				return nil, 0, err
			}
		}
		conversationIDs = []uuid.UUID{conversationID.UUID}
	} else {
		ids, err := s.convRepo.GetUserConversationIDs(ctx, userID)
		if err != nil {
			return nil, 0, err
		}
		if len(ids) == 0 {
			return nil, 0, nil
		}
		conversationIDs = ids
	}

	page, limit = normalizePage(page, limit)
	return s.messageRepo.Search(ctx, conversationIDs, pattern, page, limit)
}

func (s *MessageService) MarkDelivered(ctx context.Context, messageID, userID uuid.UUID) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, msg.ConversationID); err != nil {
			return err
		}
	}
	return s.messageRepo.MarkAsDelivered(ctx, messageID, userID)
}

func (s *MessageService) Receipts(ctx context.Context, messageID, userID uuid.UUID) ([]message.MessageReceipt, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, msg.ConversationID); err != nil {
			return nil, err
		}
	}
	return s.messageRepo.GetMessageReceipts(ctx, messageID)
}

func (s *MessageService) appendOutbox(ctx context.Context, outboxRepo repository.OutboxRepository, evt events.Event, aggregateID string) error {
	if outboxRepo == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	now := time.Now()
	return outboxRepo.Create(ctx, &outbox.OutboxEvent{
		ID:            uuid.New(),
		EventType:     string(evt.EventType()),
		AggregateType: events.AggregateTypeMessage,
		AggregateID:   aggregateID,
		Payload:       payload,
		Status:        outbox.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

func validateSend(in SendMessageInput) error {
	if in.ConversationID == uuid.Nil || in.SenderID == uuid.Nil {
		return meshly_errors.ErrInvalidInput
	}
	switch in.Type {
	case message.TypeText, message.TypeImage, message.TypeFile, message.TypeVoice:
	default:
		return meshly_errors.ErrInvalidInput
	}
	if in.Content == "" && len(in.Attachments) == 0 {
		return meshly_errors.ErrInvalidInput
	}
	if len(in.Content) > maxContentLength {
		return meshly_errors.ErrTooLarge
	}
	if len(in.Attachments) > maxAttachments {
		return meshly_errors.ErrInvalidInput
	}
	for _, a := range in.Attachments {
		if a.URL == "" || a.Kind == "" {
			return meshly_errors.ErrInvalidInput
		}
	}
	return nil
}

func toNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func preview(content string) string {
	if len(content) <= previewLength {
		return content
	}
	return content[:previewLength]
}
