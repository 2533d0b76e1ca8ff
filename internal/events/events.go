package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType follows the domain.action format.
type EventType string

const (
	EventMessageNew     EventType = "message.new"
	EventMessageEdited  EventType = "message.edited"
	EventMessageDeleted EventType = "message.deleted"
	EventMessageRead    EventType = "message.read"

	EventTypingStarted EventType = "typing.started"
	EventTypingStopped EventType = "typing.stopped"

	EventConversationCreated  EventType = "conversation.created"
	EventConversationArchived EventType = "conversation.archived"

	EventNotificationNew EventType = "notification.new"
)

// Aggregate type constants used by outbox rows.
const (
	AggregateTypeMessage      = "message"
	AggregateTypeConversation = "conversation"
	AggregateTypeNotification = "notification"
)

type Event interface {
	EventType() EventType
	OccurredAt() time.Time
}

type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type EventBus interface {
	Start() error
	Stop() error
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) error
}

// BaseEvent carries the fields every event shares. The json tag on
// EventTypeVal is what the bus uses to route raw payloads back to a
// concrete type.
type BaseEvent struct {
	EventTypeVal EventType `json:"event_type"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e BaseEvent) EventType() EventType  { return e.EventTypeVal }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

func NewBaseEvent(t EventType) BaseEvent {
	return BaseEvent{EventTypeVal: t, Timestamp: time.Now()}
}

type MessageNewEvent struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Seq            int64     `json:"seq"`
	Preview        string    `json:"preview"`
}

type MessageEditedEvent struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

type MessageDeletedEvent struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

type MessageReadEvent struct {
	BaseEvent
	ConversationID uuid.UUID   `json:"conversation_id"`
	ReaderID       uuid.UUID   `json:"reader_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
}

type TypingEvent struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
}

type ConversationCreatedEvent struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversation_id"`
	ActorID        uuid.UUID `json:"actor_id"`
}

type ConversationArchivedEvent struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversation_id"`
	ActorID        uuid.UUID `json:"actor_id"`
}

type NotificationNewEvent struct {
	BaseEvent
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         uuid.UUID `json:"user_id"`
}
