package httpdto

import (
	"time"

	"meshly/internal/domain/conversation"
)

type CreateConversationRequest struct {
	IsGroup        bool     `json:"is_group"`
	Name           string   `json:"group_name"`
	ParticipantIDs []string `json:"participants"`
}

type MuteConversationRequest struct {
	Until time.Time `json:"until"`
}

type TypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

type ParticipantResponse struct {
	UserID     string     `json:"user_id"`
	Role       string     `json:"role"`
	JoinedAt   time.Time  `json:"joined_at"`
	MutedUntil *time.Time `json:"muted_until,omitempty"`
}

type ConversationResponse struct {
	ID             string                `json:"id"`
	IsGroup        bool                  `json:"is_group"`
	Name           string                `json:"name,omitempty"`
	Archived       bool                  `json:"archived"`
	LastSeq        int64                 `json:"last_seq"`
	LastMessageID  string                `json:"last_message_id,omitempty"`
	LastActivityAt time.Time             `json:"last_activity_at"`
	Participants   []ParticipantResponse `json:"participants,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

type ConversationListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Total         int64                  `json:"total"`
	Page          int                    `json:"page"`
	Limit         int                    `json:"limit"`
}

type TypingStateResponse struct {
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

func FromConversation(c conversation.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:             c.ID.String(),
		IsGroup:        c.IsGroup,
		Archived:       c.Archived,
		LastSeq:        c.LastSeq,
		LastActivityAt: c.LastActivityAt,
		CreatedAt:      c.CreatedAt,
	}
	if c.Name.Valid {
		resp.Name = c.Name.String
	}
	if c.LastMessageID.Valid {
		resp.LastMessageID = c.LastMessageID.UUID.String()
	}
	for _, p := range c.Participants {
		resp.Participants = append(resp.Participants, FromParticipant(p))
	}
	return resp
}

func FromConversations(items []conversation.Conversation) []ConversationResponse {
	out := make([]ConversationResponse, 0, len(items))
	for _, c := range items {
		out = append(out, FromConversation(c))
	}
	return out
}

func FromParticipant(p conversation.Participant) ParticipantResponse {
	resp := ParticipantResponse{
		UserID:   p.UserID.String(),
		Role:     p.Role,
		JoinedAt: p.JoinedAt,
	}
	if p.MutedUntil.Valid {
		t := p.MutedUntil.Time
		resp.MutedUntil = &t
	}
	return resp
}

func FromTypingStates(states []conversation.TypingState) []TypingStateResponse {
	out := make([]TypingStateResponse, 0, len(states))
	for _, s := range states {
		out = append(out, TypingStateResponse{
			UserID:    s.UserID.String(),
			StartedAt: s.StartedAt,
		})
	}
	return out
}
