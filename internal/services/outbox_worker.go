package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"meshly/internal/domain/notification"
	"meshly/internal/domain/outbox"
	"meshly/internal/events"
	"meshly/internal/repository"

	"github.com/google/uuid"
)

// OutboxWorker polls the outbox table, materializes notifications for new
// messages and publishes events to Redis. All notification fan-out happens
// here, never inline in the send path.
type OutboxWorker struct {
	outboxRepo       repository.OutboxRepository
	notificationRepo repository.NotificationRepository
	convRepo         repository.ConversationRepository
	eventBus         events.EventBus
	interval         time.Duration
	batchSize        int
	stopChan         chan struct{}
	wg               sync.WaitGroup
	running          bool
}

func NewOutboxWorker(outboxRepo repository.OutboxRepository, notificationRepo repository.NotificationRepository, convRepo repository.ConversationRepository, eventBus events.EventBus) *OutboxWorker {
	return &OutboxWorker{
		outboxRepo:       outboxRepo,
		notificationRepo: notificationRepo,
		convRepo:         convRepo,
		eventBus:         eventBus,
		interval:         100 * time.Millisecond,
		batchSize:        100,
		stopChan:         make(chan struct{}),
	}
}

// Start begins the worker loop
func (w *OutboxWorker) Start() {
	w.running = true
	w.wg.Add(1)
	go w.run()
}

// Stop gracefully shuts down
func (w *OutboxWorker) Stop() {
	w.running = false
	close(w.stopChan)
	w.wg.Wait()
}

func (w *OutboxWorker) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.ProcessBatch(context.Background())
		}
	}
}

// ProcessBatch drains up to batchSize pending events. Exported so a single
// drain can be driven without the ticker.
func (w *OutboxWorker) ProcessBatch(ctx context.Context) {
	pending, err := w.outboxRepo.GetPending(ctx, w.batchSize)
	if err != nil {
		return
	}

	for _, event := range pending {
		w.processEvent(ctx, &event)
	}
}

func (w *OutboxWorker) processEvent(ctx context.Context, event *outbox.OutboxEvent) {
	// Prevent duplicate processing
	if err := w.outboxRepo.MarkProcessing(ctx, event.ID.String()); err != nil {
		return
	}

	domainEvent := w.unmarshalEvent(event.EventType, event.Payload)
	if domainEvent == nil {
		w.outboxRepo.MarkFailed(ctx, event.ID.String(), "failed to unmarshal")
		return
	}

	if e, ok := domainEvent.(*events.MessageNewEvent); ok {
		if err := w.fanOutNotifications(ctx, e); err != nil {
			w.outboxRepo.IncrementRetry(ctx, event.ID.String())
			if event.RetryCount >= 9 {
				w.outboxRepo.MarkFailed(ctx, event.ID.String(), err.Error())
			}
			return
		}
	}

	if w.eventBus != nil {
		if err := w.eventBus.Publish(ctx, domainEvent); err != nil {
			w.outboxRepo.IncrementRetry(ctx, event.ID.String())
			if event.RetryCount >= 9 {
				w.outboxRepo.MarkFailed(ctx, event.ID.String(), err.Error())
			}
			return
		}
	}

	w.outboxRepo.MarkCompleted(ctx, event.ID.String())
}

// fanOutNotifications creates one notification row per recipient. The
// sender and anyone with an active mute are skipped.
func (w *OutboxWorker) fanOutNotifications(ctx context.Context, e *events.MessageNewEvent) error {
	participants, err := w.convRepo.GetParticipants(ctx, e.ConversationID)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, p := range participants {
		if p.UserID == e.SenderID {
			continue
		}
		if p.MutedUntil.Valid && p.MutedUntil.Time.After(now) {
			continue
		}

		n := &notification.Notification{
			ID:             uuid.New(),
			UserID:         p.UserID,
			ActorID:        e.SenderID,
			Kind:           notification.KindMessageNew,
			ConversationID: uuid.NullUUID{UUID: e.ConversationID, Valid: true},
			MessageID:      uuid.NullUUID{UUID: e.MessageID, Valid: true},
			Body:           e.Preview,
			CreatedAt:      now,
		}
		if err := w.notificationRepo.Create(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (w *OutboxWorker) unmarshalEvent(eventType string, payload []byte) events.Event {
	switch events.EventType(eventType) {
	case events.EventMessageNew:
		var e events.MessageNewEvent
		if err := json.Unmarshal(payload, &e); err == nil {
			return &e
		}
	case events.EventMessageEdited:
		var e events.MessageEditedEvent
		if err := json.Unmarshal(payload, &e); err == nil {
			return &e
		}
	case events.EventMessageDeleted:
		var e events.MessageDeletedEvent
		if err := json.Unmarshal(payload, &e); err == nil {
			return &e
		}
	case events.EventMessageRead:
		var e events.MessageReadEvent
		if err := json.Unmarshal(payload, &e); err == nil {
			return &e
		}
	case events.EventConversationCreated:
		var e events.ConversationCreatedEvent
		if err := json.Unmarshal(payload, &e); err == nil {
			return &e
		}
	case events.EventConversationArchived:
		var e events.ConversationArchivedEvent
		if err := json.Unmarshal(payload, &e); err == nil {
			return &e
		}
	}
	return nil
}
