package proxy

import (
	"context"

	"meshly/internal/repository"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
)

// AccessControl gates conversation operations on participation. Every
// check takes the acting user explicitly; nothing is read from ambient
// state.
type AccessControl struct {
	conversationRepo repository.ConversationRepository
}

func NewAccessControl(conversationRepo repository.ConversationRepository) *AccessControl {
	return &AccessControl{conversationRepo: conversationRepo}
}

func (a *AccessControl) CanSendMessage(ctx context.Context, userID, conversationID uuid.UUID) error {
	return a.ensureParticipant(ctx, conversationID, userID)
}

func (a *AccessControl) CanViewConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	return a.ensureParticipant(ctx, conversationID, userID)
}

func (a *AccessControl) CanManageGroup(ctx context.Context, userID, conversationID uuid.UUID) error {
	if a.conversationRepo == nil {
		return meshly_errors.ErrForbidden
	}
	participant, err := a.conversationRepo.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if participant.Role != "OWNER" && participant.Role != "ADMIN" {
		return meshly_errors.ErrForbidden
	}
	return nil
}

func (a *AccessControl) ensureParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	if a.conversationRepo == nil {
		return meshly_errors.ErrForbidden
	}
	ok, err := a.conversationRepo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return meshly_errors.ErrForbidden
	}
	return nil
}
