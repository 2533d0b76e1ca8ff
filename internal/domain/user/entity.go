package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User represents the users table. Credentials are issued and verified by the
// external identity service; only display data lives here.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username    string    `gorm:"uniqueIndex;not null"`
	DisplayName string    `gorm:"not null"`
	AvatarURL   sql.NullString
	CreatedAt   time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string {
	return "users"
}
