package conversation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Participant roles. Group admins are the OWNER/ADMIN rows of a conversation.
const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// Conversation represents the conversations table.
//
// Messages are not embedded: they are rows keyed by id carrying a
// per-conversation sequence number, and the conversation holds only the
// last-message pointer. LastSeq is bumped in the same transaction that
// inserts a message, so seq order is insertion order.
type Conversation struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	IsGroup        bool      `gorm:"not null;default:false"`
	Name           sql.NullString
	AvatarURL      sql.NullString
	Archived       bool  `gorm:"not null;default:false"`
	LastSeq        int64 `gorm:"not null;default:0"`
	LastMessageID  uuid.NullUUID `gorm:"type:uuid"`
	LastActivityAt time.Time     `gorm:"not null;index:idx_conversations_activity,sort:desc"`
	CreatedBy      uuid.NullUUID `gorm:"type:uuid"`
	CreatedAt      time.Time     `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"default:CURRENT_TIMESTAMP"`

	// Relations
	Participants []Participant `gorm:"foreignKey:ConversationID"`
}

// Participant represents the participants table.
type Participant struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey;index:idx_participants_user"`
	Role           string    `gorm:"not null;default:'MEMBER'"`
	JoinedAt       time.Time `gorm:"default:CURRENT_TIMESTAMP"`
	MutedUntil     sql.NullTime
}

// TypingState represents the typing_states table. An entry exists while the
// participant is composing; stopping deletes the row. There is no server-side
// expiry, consumers apply their own staleness cutoff against StartedAt.
type TypingState struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	StartedAt      time.Time `gorm:"not null"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (Participant) TableName() string {
	return "participants"
}

func (TypingState) TableName() string {
	return "typing_states"
}
