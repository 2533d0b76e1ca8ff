package httpdto

import (
	"time"

	"meshly/internal/domain/notification"
)

type NotificationResponse struct {
	ID             string    `json:"id"`
	ActorID        string    `json:"actor_id"`
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	Body           string    `json:"body,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

type NotificationListResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	Total         int64                  `json:"total"`
	Page          int                    `json:"page"`
	Limit         int                    `json:"limit"`
}

func FromNotification(n notification.Notification) NotificationResponse {
	resp := NotificationResponse{
		ID:        n.ID.String(),
		ActorID:   n.ActorID.String(),
		Kind:      n.Kind,
		Body:      n.Body,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
	if n.ConversationID.Valid {
		resp.ConversationID = n.ConversationID.UUID.String()
	}
	if n.MessageID.Valid {
		resp.MessageID = n.MessageID.UUID.String()
	}
	return resp
}

func FromNotifications(items []notification.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, FromNotification(n))
	}
	return out
}
