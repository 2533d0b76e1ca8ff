package services

import (
	"context"

	"meshly/internal/domain/notification"
	"meshly/internal/repository"

	"github.com/google/uuid"
)

type NotificationService struct {
	repo repository.NotificationRepository
}

func NewNotificationService(repo repository.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, page, limit int) ([]notification.Notification, int64, error) {
	page, limit = normalizePage(page, limit)
	return s.repo.GetUserNotifications(ctx, userID, page, limit)
}

// MarkRead flips a single notification. Ownership is enforced by the
// repository: a foreign notification id reads as not found.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	return s.repo.MarkRead(ctx, notificationID, userID)
}
