package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"meshly/internal/domain/conversation"
	"meshly/internal/domain/outbox"
	"meshly/internal/events"
	"meshly/internal/repository"

	"github.com/google/uuid"
)

type stubEventBus struct {
	mu        sync.Mutex
	published []events.Event
	failures  int
}

func (b *stubEventBus) Start() error { return nil }
func (b *stubEventBus) Stop() error  { return nil }

func (b *stubEventBus) Publish(ctx context.Context, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("publish failed")
	}
	b.published = append(b.published, event)
	return nil
}

func (b *stubEventBus) Subscribe(eventType events.EventType, handler events.EventHandler) error {
	return nil
}

func (b *stubEventBus) publishedTypes() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.EventType, 0, len(b.published))
	for _, e := range b.published {
		out = append(out, e.EventType())
	}
	return out
}

func enqueueOutbox(t *testing.T, repo repository.OutboxRepository, evt events.Event, aggregateType, aggregateID string, retryCount int) outbox.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	row := outbox.OutboxEvent{
		ID:            uuid.New(),
		EventType:     string(evt.EventType()),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		Status:        outbox.StatusPending,
		RetryCount:    retryCount,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := repo.Create(context.Background(), &row); err != nil {
		t.Fatalf("create outbox row: %v", err)
	}
	return row
}

func seedConversation(t *testing.T, repo *repository.MemoryConversationRepository, participantIDs ...uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	conv := conversation.Conversation{
		ID:             uuid.New(),
		IsGroup:        true,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.Create(ctx, &conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	for _, id := range participantIDs {
		p := conversation.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           conversation.RoleMember,
			JoinedAt:       now,
		}
		if err := repo.AddParticipant(ctx, &p); err != nil {
			t.Fatalf("add participant: %v", err)
		}
	}
	return conv.ID
}

func TestWorkerFansOutNotifications(t *testing.T) {
	ctx := context.Background()
	convRepo := repository.NewMemoryConversationRepository()
	notifRepo := repository.NewMemoryNotificationRepository()
	outboxRepo := repository.NewMemoryOutboxRepository()
	bus := &stubEventBus{}

	sender := uuid.New()
	recipient := uuid.New()
	muted := uuid.New()
	convID := seedConversation(t, convRepo, sender, recipient, muted)
	if err := convRepo.Mute(ctx, convID, muted, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("mute participant: %v", err)
	}

	msgID := uuid.New()
	row := enqueueOutbox(t, outboxRepo, &events.MessageNewEvent{
		BaseEvent:      events.NewBaseEvent(events.EventMessageNew),
		ConversationID: convID,
		MessageID:      msgID,
		SenderID:       sender,
		Seq:            1,
		Preview:        "hello there",
	}, events.AggregateTypeMessage, msgID.String(), 0)

	worker := NewOutboxWorker(outboxRepo, notifRepo, convRepo, bus)
	worker.ProcessBatch(ctx)

	got, _, err := notifRepo.GetUserNotifications(ctx, recipient, 1, 10)
	if err != nil {
		t.Fatalf("get notifications: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 notification for recipient, got %d", len(got))
	}
	if got[0].ActorID != sender || got[0].Body != "hello there" {
		t.Errorf("unexpected notification: actor=%s body=%q", got[0].ActorID, got[0].Body)
	}
	if !got[0].ConversationID.Valid || got[0].ConversationID.UUID != convID {
		t.Errorf("notification missing conversation reference")
	}

	for name, userID := range map[string]uuid.UUID{"sender": sender, "muted": muted} {
		items, _, err := notifRepo.GetUserNotifications(ctx, userID, 1, 10)
		if err != nil {
			t.Fatalf("get notifications for %s: %v", name, err)
		}
		if len(items) != 0 {
			t.Errorf("expected no notifications for %s, got %d", name, len(items))
		}
	}

	stored := outboxRepo.Events()
	if len(stored) != 1 || stored[0].Status != outbox.StatusCompleted {
		t.Fatalf("expected completed outbox row, got %+v", stored)
	}
	if stored[0].ProcessedAt == nil {
		t.Error("expected processed_at to be set")
	}
	if stored[0].ID != row.ID {
		t.Errorf("unexpected row id %s", stored[0].ID)
	}

	types := bus.publishedTypes()
	if len(types) != 1 || types[0] != events.EventMessageNew {
		t.Errorf("expected one message.new publish, got %v", types)
	}
}

func TestWorkerRetriesOnPublishFailure(t *testing.T) {
	ctx := context.Background()
	convRepo := repository.NewMemoryConversationRepository()
	notifRepo := repository.NewMemoryNotificationRepository()
	outboxRepo := repository.NewMemoryOutboxRepository()
	bus := &stubEventBus{failures: 1}

	enqueueOutbox(t, outboxRepo, &events.ConversationCreatedEvent{
		BaseEvent:      events.NewBaseEvent(events.EventConversationCreated),
		ConversationID: uuid.New(),
		ActorID:        uuid.New(),
	}, events.AggregateTypeConversation, uuid.NewString(), 0)

	worker := NewOutboxWorker(outboxRepo, notifRepo, convRepo, bus)
	worker.ProcessBatch(ctx)

	stored := outboxRepo.Events()
	if stored[0].Status != outbox.StatusPending || stored[0].RetryCount != 1 {
		t.Fatalf("expected pending retry, got status=%s retries=%d", stored[0].Status, stored[0].RetryCount)
	}

	worker.ProcessBatch(ctx)

	stored = outboxRepo.Events()
	if stored[0].Status != outbox.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s", stored[0].Status)
	}
	if len(bus.publishedTypes()) != 1 {
		t.Errorf("expected exactly one successful publish")
	}
}

func TestWorkerMarksFailedAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	convRepo := repository.NewMemoryConversationRepository()
	notifRepo := repository.NewMemoryNotificationRepository()
	outboxRepo := repository.NewMemoryOutboxRepository()
	bus := &stubEventBus{failures: 1}

	enqueueOutbox(t, outboxRepo, &events.ConversationCreatedEvent{
		BaseEvent:      events.NewBaseEvent(events.EventConversationCreated),
		ConversationID: uuid.New(),
		ActorID:        uuid.New(),
	}, events.AggregateTypeConversation, uuid.NewString(), 9)

	worker := NewOutboxWorker(outboxRepo, notifRepo, convRepo, bus)
	worker.ProcessBatch(ctx)

	stored := outboxRepo.Events()
	if stored[0].Status != outbox.StatusFailed {
		t.Fatalf("expected failed after max retries, got %s", stored[0].Status)
	}
	if stored[0].Error == "" {
		t.Error("expected error message on failed row")
	}
}

func TestWorkerFailsUnknownEventType(t *testing.T) {
	ctx := context.Background()
	outboxRepo := repository.NewMemoryOutboxRepository()

	row := outbox.OutboxEvent{
		ID:            uuid.New(),
		EventType:     "bogus.event",
		AggregateType: events.AggregateTypeMessage,
		AggregateID:   uuid.NewString(),
		Payload:       []byte("{}"),
		Status:        outbox.StatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := outboxRepo.Create(ctx, &row); err != nil {
		t.Fatalf("create outbox row: %v", err)
	}

	worker := NewOutboxWorker(outboxRepo, repository.NewMemoryNotificationRepository(), repository.NewMemoryConversationRepository(), &stubEventBus{})
	worker.ProcessBatch(ctx)

	stored := outboxRepo.Events()
	if stored[0].Status != outbox.StatusFailed {
		t.Fatalf("expected failed for unknown event type, got %s", stored[0].Status)
	}
}
