package repository

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"sync"
	"time"

	"meshly/internal/domain/conversation"
	"meshly/internal/domain/message"
	"meshly/internal/domain/notification"
	"meshly/internal/domain/outbox"
	"meshly/internal/domain/user"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
)

// In-memory implementations backing the service tests. They hold the same
// contracts as the postgres repositories, including idempotent receipt
// upserts and sequence bumping, without needing a database.

type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]user.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[uuid.UUID]user.User)}
}

func (r *MemoryUserRepository) Create(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		return meshly_errors.ErrAlreadyExists
	}
	r.users[u.ID] = *u
	return nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return user.User{}, meshly_errors.ErrNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var users []user.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

type participantKey struct {
	conversationID uuid.UUID
	userID         uuid.UUID
}

type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]conversation.Conversation
	participants  map[participantKey]conversation.Participant
	typing        map[participantKey]conversation.TypingState
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[uuid.UUID]conversation.Conversation),
		participants:  make(map[participantKey]conversation.Participant),
		typing:        make(map[participantKey]conversation.TypingState),
	}
}

func (r *MemoryConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[c.ID]; ok {
		return meshly_errors.ErrAlreadyExists
	}
	stored := *c
	for _, p := range c.Participants {
		key := participantKey{p.ConversationID, p.UserID}
		r.participants[key] = p
	}
	r.conversations[c.ID] = stored
	return nil
}

func (r *MemoryConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return conversation.Conversation{}, meshly_errors.ErrNotFound
	}
	c.Participants = r.participantsOf(id)
	return c, nil
}

func (r *MemoryConversationRepository) participantsOf(conversationID uuid.UUID) []conversation.Participant {
	var out []conversation.Participant
	for key, p := range r.participants {
		if key.conversationID == conversationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UserID.String() < out[j].UserID.String()
	})
	return out
}

func (r *MemoryConversationRepository) GetUserConversations(ctx context.Context, userID uuid.UUID, page, limit int) ([]conversation.Conversation, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []conversation.Conversation
	for id, c := range r.conversations {
		if c.Archived {
			continue
		}
		if _, ok := r.participants[participantKey{id, userID}]; !ok {
			continue
		}
		c.Participants = r.participantsOf(id)
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastActivityAt.After(all[j].LastActivityAt)
	})
	total := int64(len(all))
	return paginate(all, page, limit), total, nil
}

func (r *MemoryConversationRepository) GetUserConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for key := range r.participants {
		if key.userID == userID {
			ids = append(ids, key.conversationID)
		}
	}
	return ids, nil
}

func (r *MemoryConversationRepository) GetDirectConversation(ctx context.Context, userID1, userID2 uuid.UUID) (conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.conversations {
		if c.IsGroup {
			continue
		}
		_, has1 := r.participants[participantKey{id, userID1}]
		_, has2 := r.participants[participantKey{id, userID2}]
		if has1 && has2 {
			c.Participants = r.participantsOf(id)
			return c, nil
		}
	}
	return conversation.Conversation{}, meshly_errors.ErrNotFound
}

func (r *MemoryConversationRepository) AddParticipant(ctx context.Context, p *conversation.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{p.ConversationID, p.UserID}
	if _, ok := r.participants[key]; ok {
		return meshly_errors.ErrAlreadyExists
	}
	r.participants[key] = *p
	return nil
}

func (r *MemoryConversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participantsOf(conversationID), nil
}

func (r *MemoryConversationRepository) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[participantKey{conversationID, userID}]
	if !ok {
		return conversation.Participant{}, meshly_errors.ErrNotFound
	}
	return p, nil
}

func (r *MemoryConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.participants[participantKey{conversationID, userID}]
	return ok, nil
}

func (r *MemoryConversationRepository) Archive(ctx context.Context, conversationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return meshly_errors.ErrNotFound
	}
	c.Archived = true
	r.conversations[conversationID] = c
	return nil
}

func (r *MemoryConversationRepository) Mute(ctx context.Context, conversationID, userID uuid.UUID, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{conversationID, userID}
	p, ok := r.participants[key]
	if !ok {
		return meshly_errors.ErrNotFound
	}
	p.MutedUntil = sql.NullTime{Time: until, Valid: true}
	r.participants[key] = p
	return nil
}

func (r *MemoryConversationRepository) Unmute(ctx context.Context, conversationID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{conversationID, userID}
	p, ok := r.participants[key]
	if !ok {
		return meshly_errors.ErrNotFound
	}
	p.MutedUntil = sql.NullTime{}
	r.participants[key] = p
	return nil
}

func (r *MemoryConversationRepository) SetTyping(ctx context.Context, conversationID, userID uuid.UUID, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{conversationID, userID}
	r.typing[key] = conversation.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		StartedAt:      startedAt,
	}
	return nil
}

func (r *MemoryConversationRepository) ClearTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.typing, participantKey{conversationID, userID})
	return nil
}

func (r *MemoryConversationRepository) GetTypingStates(ctx context.Context, conversationID uuid.UUID) ([]conversation.TypingState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var states []conversation.TypingState
	for key, s := range r.typing {
		if key.conversationID == conversationID {
			states = append(states, s)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].UserID.String() < states[j].UserID.String()
	})
	return states, nil
}

func (r *MemoryConversationRepository) BumpLastMessage(ctx context.Context, conversationID, messageID uuid.UUID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return 0, meshly_errors.ErrNotFound
	}
	c.LastSeq++
	c.LastMessageID = uuid.NullUUID{UUID: messageID, Valid: true}
	c.LastActivityAt = at
	c.UpdatedAt = at
	r.conversations[conversationID] = c
	return c.LastSeq, nil
}

type receiptKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
}

type MemoryMessageRepository struct {
	mu          sync.RWMutex
	messages    map[uuid.UUID]message.Message
	receipts    map[receiptKey]message.MessageReceipt
	attachments map[uuid.UUID][]message.Attachment
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		messages:    make(map[uuid.UUID]message.Message),
		receipts:    make(map[receiptKey]message.MessageReceipt),
		attachments: make(map[uuid.UUID][]message.Attachment),
	}
}

func (r *MemoryMessageRepository) Create(ctx context.Context, m *message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ID]; ok {
		return meshly_errors.ErrAlreadyExists
	}
	r.messages[m.ID] = *m
	return nil
}

func (r *MemoryMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok {
		return message.Message{}, meshly_errors.ErrNotFound
	}
	m.Attachments = r.attachments[id]
	return m, nil
}

func (r *MemoryMessageRepository) Update(ctx context.Context, m message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ID]; !ok {
		return meshly_errors.ErrNotFound
	}
	r.messages[m.ID] = m
	return nil
}

func (r *MemoryMessageRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return meshly_errors.ErrNotFound
	}
	m.Content = message.DeletedPlaceholder
	m.Deleted = true
	r.messages[id] = m
	return nil
}

func (r *MemoryMessageRepository) conversationMessages(conversationID uuid.UUID) []message.Message {
	var out []message.Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

func (r *MemoryMessageRepository) GetConversationPage(ctx context.Context, conversationID uuid.UUID, page, limit int) ([]message.Message, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.conversationMessages(conversationID)
	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })
	total := int64(len(all))
	return paginate(all, page, limit), total, nil
}

func (r *MemoryMessageRepository) GetUnreadMessageIDs(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.conversationMessages(conversationID)
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	var ids []uuid.UUID
	for _, m := range all {
		if m.SenderID == userID {
			continue
		}
		rec, ok := r.receipts[receiptKey{m.ID, userID}]
		if ok && rec.ReadAt.Valid {
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (r *MemoryMessageRepository) BulkMarkAsRead(ctx context.Context, messageIDs []uuid.UUID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, msgID := range messageIDs {
		key := receiptKey{msgID, userID}
		rec, ok := r.receipts[key]
		if !ok {
			rec = message.MessageReceipt{MessageID: msgID, UserID: userID}
		}
		rec.Status = message.ReceiptRead
		rec.ReadAt = sql.NullTime{Time: now, Valid: true}
		rec.UpdatedAt = now
		r.receipts[key] = rec
	}
	return nil
}

func (r *MemoryMessageRepository) MarkAsDelivered(ctx context.Context, messageID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	key := receiptKey{messageID, userID}
	rec, ok := r.receipts[key]
	if !ok {
		rec = message.MessageReceipt{
			MessageID: messageID,
			UserID:    userID,
			Status:    message.ReceiptDelivered,
		}
	}
	rec.DeliveredAt = sql.NullTime{Time: now, Valid: true}
	rec.UpdatedAt = now
	r.receipts[key] = rec
	return nil
}

func (r *MemoryMessageRepository) GetMessageReceipts(ctx context.Context, messageID uuid.UUID) ([]message.MessageReceipt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var receipts []message.MessageReceipt
	for key, rec := range r.receipts {
		if key.messageID == messageID {
			receipts = append(receipts, rec)
		}
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].UserID.String() < receipts[j].UserID.String()
	})
	return receipts, nil
}

func (r *MemoryMessageRepository) Search(ctx context.Context, conversationIDs []uuid.UUID, pattern string, page, limit int) ([]message.Message, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, 0, meshly_errors.ErrInvalidInput
	}
	allowed := make(map[uuid.UUID]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		allowed[id] = true
	}
	var matches []message.Message
	for _, m := range r.messages {
		if !allowed[m.ConversationID] || m.Deleted {
			continue
		}
		if re.MatchString(m.Content) {
			matches = append(matches, m)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	total := int64(len(matches))
	return paginate(matches, page, limit), total, nil
}

func (r *MemoryMessageRepository) CreateAttachment(ctx context.Context, a *message.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachments[a.MessageID] = append(r.attachments[a.MessageID], *a)
	return nil
}

func (r *MemoryMessageRepository) GetMessageAttachments(ctx context.Context, messageID uuid.UUID) ([]message.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attachments[messageID], nil
}

type MemoryNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[uuid.UUID]notification.Notification
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{notifications: make(map[uuid.UUID]notification.Notification)}
}

func (r *MemoryNotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notifications[n.ID]; ok {
		return meshly_errors.ErrAlreadyExists
	}
	r.notifications[n.ID] = *n
	return nil
}

func (r *MemoryNotificationRepository) GetUserNotifications(ctx context.Context, userID uuid.UUID, page, limit int) ([]notification.Notification, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []notification.Notification
	for _, n := range r.notifications {
		if n.UserID == userID {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := int64(len(all))
	return paginate(all, page, limit), total, nil
}

func (r *MemoryNotificationRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok || n.UserID != userID {
		return meshly_errors.ErrNotFound
	}
	n.Read = true
	r.notifications[id] = n
	return nil
}

type MemoryOutboxRepository struct {
	mu     sync.RWMutex
	events map[string]outbox.OutboxEvent
	order  []string
}

func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{events: make(map[string]outbox.OutboxEvent)}
}

func (r *MemoryOutboxRepository) Create(ctx context.Context, event *outbox.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := event.ID.String()
	if _, ok := r.events[id]; ok {
		return meshly_errors.ErrAlreadyExists
	}
	if event.Status == "" {
		event.Status = outbox.StatusPending
	}
	r.events[id] = *event
	r.order = append(r.order, id)
	return nil
}

func (r *MemoryOutboxRepository) GetPending(ctx context.Context, limit int) ([]outbox.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []outbox.OutboxEvent
	for _, id := range r.order {
		e := r.events[id]
		if e.Status != outbox.StatusPending || e.RetryCount >= outboxMaxRetries {
			continue
		}
		pending = append(pending, e)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (r *MemoryOutboxRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.setStatus(id, outbox.StatusProcessing, "", false)
}

func (r *MemoryOutboxRepository) MarkCompleted(ctx context.Context, id string) error {
	return r.setStatus(id, outbox.StatusCompleted, "", true)
}

func (r *MemoryOutboxRepository) MarkFailed(ctx context.Context, id string, errorMsg string) error {
	return r.setStatus(id, outbox.StatusFailed, errorMsg, false)
}

func (r *MemoryOutboxRepository) IncrementRetry(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return meshly_errors.ErrNotFound
	}
	e.RetryCount++
	e.Status = outbox.StatusPending
	e.UpdatedAt = time.Now()
	r.events[id] = e
	return nil
}

func (r *MemoryOutboxRepository) setStatus(id string, status outbox.Status, errorMsg string, processed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return meshly_errors.ErrNotFound
	}
	now := time.Now()
	e.Status = status
	e.UpdatedAt = now
	if errorMsg != "" {
		e.Error = errorMsg
	}
	if processed {
		e.ProcessedAt = &now
	}
	r.events[id] = e
	return nil
}

// Events returns a snapshot of all stored events, newest last.
func (r *MemoryOutboxRepository) Events() []outbox.OutboxEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]outbox.OutboxEvent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.events[id])
	}
	return out
}

func paginate[T any](items []T, page, limit int) []T {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
