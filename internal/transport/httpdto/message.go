package httpdto

import (
	"time"

	"meshly/internal/domain/message"
	"meshly/internal/domain/user"

	"github.com/google/uuid"
)

type SendMessageRequest struct {
	Type             string              `json:"message_type"`
	Content          string              `json:"content"`
	ReplyToMessageID string              `json:"reply_to"`
	Attachments      []AttachmentRequest `json:"attachments"`
}

type AttachmentRequest struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type AttachmentResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

type MessageResponse struct {
	ID               string               `json:"id"`
	ConversationID   string               `json:"conversation_id"`
	SenderID         string               `json:"sender_id"`
	Sender           *UserResponse        `json:"sender,omitempty"`
	Seq              int64                `json:"seq"`
	Type             string               `json:"type"`
	Content          string               `json:"content"`
	ReplyToMessageID string               `json:"reply_to_message_id,omitempty"`
	Deleted          bool                 `json:"deleted"`
	CreatedAt        time.Time            `json:"created_at"`
	EditedAt         *time.Time           `json:"edited_at,omitempty"`
	Attachments      []AttachmentResponse `json:"attachments,omitempty"`
}

type MessageListResponse struct {
	Messages []MessageResponse `json:"messages"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

type ReceiptResponse struct {
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

func FromMessage(m message.Message) MessageResponse {
	resp := MessageResponse{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		Seq:            m.Seq,
		Type:           m.Type,
		Content:        m.Content,
		Deleted:        m.Deleted,
		CreatedAt:      m.CreatedAt,
	}
	if m.ReplyToMsgID.Valid {
		resp.ReplyToMessageID = m.ReplyToMsgID.UUID.String()
	}
	if m.EditedAt.Valid {
		t := m.EditedAt.Time
		resp.EditedAt = &t
	}
	for _, a := range m.Attachments {
		resp.Attachments = append(resp.Attachments, AttachmentResponse{
			ID:   a.ID.String(),
			Kind: a.Kind,
			URL:  a.URL,
			Name: a.Name,
			Size: a.Size,
		})
	}
	return resp
}

func FromMessages(items []message.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(items))
	for _, m := range items {
		out = append(out, FromMessage(m))
	}
	return out
}

// FromMessageResolved embeds the sender profile when one is known. Messages
// from senders missing from the map still render with just the sender id.
func FromMessageResolved(m message.Message, senders map[uuid.UUID]user.User) MessageResponse {
	resp := FromMessage(m)
	if u, ok := senders[m.SenderID]; ok {
		sender := FromUser(u)
		resp.Sender = &sender
	}
	return resp
}

func FromMessagesResolved(items []message.Message, senders map[uuid.UUID]user.User) []MessageResponse {
	out := make([]MessageResponse, 0, len(items))
	for _, m := range items {
		out = append(out, FromMessageResolved(m, senders))
	}
	return out
}

func FromReceipts(items []message.MessageReceipt) []ReceiptResponse {
	out := make([]ReceiptResponse, 0, len(items))
	for _, r := range items {
		resp := ReceiptResponse{
			UserID: r.UserID.String(),
			Status: r.Status,
		}
		if r.DeliveredAt.Valid {
			t := r.DeliveredAt.Time
			resp.DeliveredAt = &t
		}
		if r.ReadAt.Valid {
			t := r.ReadAt.Time
			resp.ReadAt = &t
		}
		out = append(out, resp)
	}
	return out
}
