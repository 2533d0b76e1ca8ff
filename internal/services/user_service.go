package services

import (
	"context"
	"errors"
	"time"

	"meshly/internal/domain/user"
	"meshly/internal/repository"
	meshly_errors "meshly/pkg/errors"

	"github.com/google/uuid"
)

// UserService maintains the local profile mirror. Accounts are owned by the
// identity service; profiles are provisioned here so conversations can show
// display names without a cross-service call.
type UserService struct {
	repo repository.UserRepository
}

func NewUserService(repo repository.UserRepository) *UserService {
	return &UserService{repo: repo}
}

type ProvisionUserInput struct {
	ID          uuid.UUID
	Username    string
	DisplayName string
	AvatarURL   string
}

// Provision inserts the profile, or returns the existing one when the id is
// already mirrored.
func (s *UserService) Provision(ctx context.Context, in ProvisionUserInput) (user.User, error) {
	if in.ID == uuid.Nil || in.Username == "" || in.DisplayName == "" {
		return user.User{}, meshly_errors.ErrInvalidInput
	}

	u := user.User{
		ID:          in.ID,
		Username:    in.Username,
		DisplayName: in.DisplayName,
		AvatarURL:   toNullString(in.AvatarURL),
		CreatedAt:   time.Now(),
	}

	err := s.repo.Create(ctx, &u)
	if err == nil {
		return u, nil
	}
	if errors.Is(err, meshly_errors.ErrAlreadyExists) {
		return s.repo.GetByID(ctx, in.ID)
	}
	return user.User{}, err
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error) {
	return s.repo.GetByIDs(ctx, ids)
}
