package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	TypeText  = "TEXT"
	TypeImage = "IMAGE"
	TypeFile  = "FILE"
	TypeVoice = "VOICE"
)

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "This message was deleted"

// Receipt statuses
const (
	ReceiptDelivered = "DELIVERED"
	ReceiptRead      = "READ"
)

// Message represents the messages table.
//
// Seq is assigned from the conversation's sequence inside the send
// transaction. ReplyToMsgID is stored without a referential check and may
// reference a deleted or nonexistent message. Rows are never hard-deleted
// through the API; delete replaces Content with DeletedPlaceholder.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_history,priority:1"`
	SenderID       uuid.UUID `gorm:"type:uuid;not null"`
	Seq            int64     `gorm:"not null;index:idx_messages_history,priority:2"`
	Type           string    `gorm:"not null;default:'TEXT'"`
	Content        string    `gorm:"type:text"`
	ReplyToMsgID   uuid.NullUUID `gorm:"type:uuid"`
	Deleted        bool          `gorm:"not null;default:false"`
	CreatedAt      time.Time     `gorm:"default:CURRENT_TIMESTAMP"`
	EditedAt       sql.NullTime

	// Relations
	Attachments []Attachment     `gorm:"foreignKey:MessageID"`
	Receipts    []MessageReceipt `gorm:"foreignKey:MessageID"`
}

// Attachment represents the attachments table.
type Attachment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index:idx_attachments_message"`
	Kind      string    `gorm:"not null"`
	URL       string    `gorm:"not null"`
	Name      string
	Size      int64
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

// MessageReceipt represents message_receipts. The composite primary key is
// what guarantees at most one receipt per (message, reader); writes are
// upserts keyed on it.
type MessageReceipt struct {
	MessageID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status      string    `gorm:"not null;default:'DELIVERED'"`
	DeliveredAt sql.NullTime
	ReadAt      sql.NullTime
	UpdatedAt   time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

func (Message) TableName() string {
	return "messages"
}

func (Attachment) TableName() string {
	return "attachments"
}

func (MessageReceipt) TableName() string {
	return "message_receipts"
}
