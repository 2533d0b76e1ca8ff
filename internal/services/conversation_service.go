package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"meshly/internal/domain/conversation"
	"meshly/internal/domain/outbox"
	"meshly/internal/events"
	"meshly/internal/proxy"
	"meshly/internal/repository"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationService struct {
	db         *gorm.DB
	repo       repository.ConversationRepository
	outboxRepo repository.OutboxRepository
	access     *proxy.AccessControl
	bus        events.EventBus
}

func NewConversationService(db *gorm.DB, repo repository.ConversationRepository, outboxRepo repository.OutboxRepository, access *proxy.AccessControl, bus events.EventBus) *ConversationService {
	return &ConversationService{db: db, repo: repo, outboxRepo: outboxRepo, access: access, bus: bus}
}

type CreateConversationInput struct {
	CreatorID      uuid.UUID
	IsGroup        bool
	Name           string
	ParticipantIDs []uuid.UUID
}

// Create starts a new conversation. A direct conversation between the same
// two users is deduplicated: the existing one is returned instead of a
// second copy. Group creation always makes a new conversation.
func (s *ConversationService) Create(ctx context.Context, in CreateConversationInput) (conversation.Conversation, error) {
	participants, err := normalizeParticipants(in)
	if err != nil {
		return conversation.Conversation{}, err
	}

	if !in.IsGroup {
		other := participants[0]
		if other == in.CreatorID {
			other = participants[1]
		}
		existing, err := s.repo.GetDirectConversation(ctx, in.CreatorID, other)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, meshly_errors.ErrNotFound) {
			return conversation.Conversation{}, err
		}
	}

	if s.db == nil {
		return s.createDirect(ctx, in, participants, s.repo, s.outboxRepo)
	}

	var result conversation.Conversation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.createDirect(ctx, in, participants,
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
		return conversation.Conversation{}, err
	}
	return result, nil
}

// createDirect persists through the given repositories so that transactional
// callers can hand in tx-bound ones without touching shared service state.
func (s *ConversationService) createDirect(ctx context.Context, in CreateConversationInput, participantIDs []uuid.UUID, repo repository.ConversationRepository, outboxRepo repository.OutboxRepository) (conversation.Conversation, error) {
	now := time.Now()
	conv := conversation.Conversation{
		ID:             uuid.New(),
		IsGroup:        in.IsGroup,
		Name:           toNullString(in.Name),
		LastActivityAt: now,
		CreatedBy:      uuid.NullUUID{UUID: in.CreatorID, Valid: true},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := repo.Create(ctx, &conv); err != nil {
		return conversation.Conversation{}, err
	}

	for _, participantID := range participantIDs {
		role := conversation.RoleMember
		if participantID == in.CreatorID {
			role = conversation.RoleOwner
		}
		p := &conversation.Participant{
			ConversationID: conv.ID,
			UserID:         participantID,
			Role:           role,
			JoinedAt:       now,
		}
		if err := repo.AddParticipant(ctx, p); err != nil {
			return conversation.Conversation{}, err
		}
		conv.Participants = append(conv.Participants, *p)
	}

	evt := events.ConversationCreatedEvent{
		BaseEvent:      events.NewBaseEvent(events.EventConversationCreated),
		ConversationID: conv.ID,
		ActorID:        in.CreatorID,
	}
	if err := s.appendOutbox(ctx, outboxRepo, &evt, events.AggregateTypeConversation, conv.ID.String()); err != nil {
		return conversation.Conversation{}, err
	}

	return conv, nil
}

func (s *ConversationService) GetByID(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Conversation, error) {
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
			return conversation.Conversation{}, err
		}
	}
	return s.repo.GetByID(ctx, conversationID)
}

func (s *ConversationService) List(ctx context.Context, userID uuid.UUID, page, limit int) ([]conversation.Conversation, int64, error) {
	page, limit = normalizePage(page, limit)
	return s.repo.GetUserConversations(ctx, userID, page, limit)
}

// Archive hides the conversation from everyone's active list. It is
// idempotent and cannot be undone.
func (s *ConversationService) Archive(ctx context.Context, conversationID, userID uuid.UUID) error {
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
			return err
		}
	}

	if err := s.repo.Archive(ctx, conversationID); err != nil {
		return err
	}

	evt := events.ConversationArchivedEvent{
		BaseEvent:      events.NewBaseEvent(events.EventConversationArchived),
		ConversationID: conversationID,
		ActorID:        userID,
	}
	return s.appendOutbox(ctx, s.outboxRepo, &evt, events.AggregateTypeConversation, conversationID.String())
}

// Mute suppresses notifications for one participant until the given time.
// Other participants are unaffected.
func (s *ConversationService) Mute(ctx context.Context, conversationID, userID uuid.UUID, until time.Time) error {
	if until.Before(time.Now()) {
		return meshly_errors.ErrInvalidInput
	}
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
			return err
		}
	}
	return s.repo.Mute(ctx, conversationID, userID, until)
}

func (s *ConversationService) Unmute(ctx context.Context, conversationID, userID uuid.UUID) error {
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
			return err
		}
	}
	return s.repo.Unmute(ctx, conversationID, userID)
}

// StartTyping records that a participant is composing and fans the signal
// out over the bus. Typing is ephemeral state and bypasses the outbox.
func (s *ConversationService) StartTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
			return err
		}
	}

	if err := s.repo.SetTyping(ctx, conversationID, userID, time.Now()); err != nil {
		return err
	}

	s.publishTyping(ctx, events.EventTypingStarted, conversationID, userID)
	return nil
}

func (s *ConversationService) StopTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
			return err
		}
	}

	if err := s.repo.ClearTyping(ctx, conversationID, userID); err != nil {
		return err
	}

	s.publishTyping(ctx, events.EventTypingStopped, conversationID, userID)
	return nil
}

func (s *ConversationService) TypingUsers(ctx context.Context, conversationID, userID uuid.UUID) ([]conversation.TypingState, error) {
	if s.access != nil {
		if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
			return nil, err
		}
	}
	return s.repo.GetTypingStates(ctx, conversationID)
}

func (s *ConversationService) publishTyping(ctx context.Context, t events.EventType, conversationID, userID uuid.UUID) {
	if s.bus == nil {
		return
	}
	evt := events.TypingEvent{
		BaseEvent:      events.NewBaseEvent(t),
		ConversationID: conversationID,
		UserID:         userID,
	}
	_ = s.bus.Publish(ctx, &evt)
}

func (s *ConversationService) appendOutbox(ctx context.Context, outboxRepo repository.OutboxRepository, evt events.Event, aggregateType, aggregateID string) error {
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
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		Status:        outbox.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

func normalizeParticipants(in CreateConversationInput) ([]uuid.UUID, error) {
	if in.CreatorID == uuid.Nil {
		return nil, meshly_errors.ErrInvalidInput
	}

	seen := map[uuid.UUID]bool{in.CreatorID: true}
	participants := []uuid.UUID{in.CreatorID}
	for _, id := range in.ParticipantIDs {
		if id == uuid.Nil {
			return nil, meshly_errors.ErrInvalidInput
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, id)
	}

	if !in.IsGroup {
		if len(participants) != 2 {
			return nil, meshly_errors.ErrInvalidInput
		}
		if in.Name != "" {
			return nil, meshly_errors.ErrInvalidInput
		}
	} else if len(participants) < 2 {
		return nil, meshly_errors.ErrInvalidInput
	}

	return participants, nil
}

func normalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func toNullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
