package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds
const (
	KindMessageNew = "message.new"
)

// Notification represents the notifications table. Rows are created by the
// outbox worker, never inline in the send path.
type Notification struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index:idx_notifications_user"`
	ActorID        uuid.UUID `gorm:"type:uuid;not null"`
	Kind           string    `gorm:"not null"`
	ConversationID uuid.NullUUID `gorm:"type:uuid"`
	MessageID      uuid.NullUUID `gorm:"type:uuid"`
	Body           string        `gorm:"type:text"`
	Read           bool          `gorm:"not null;default:false"`
	CreatedAt      time.Time     `gorm:"default:CURRENT_TIMESTAMP"`
}

func (Notification) TableName() string {
	return "notifications"
}
