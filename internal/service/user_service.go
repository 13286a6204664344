package service

import (
	"context"
	"fmt"

	"github.com/example/romanticbot/internal/models"
)

// UserStore is the slice of the user repository the services depend on.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error)
	IncrementGenerationsUsed(ctx context.Context, userID int64) error
	ListTelegramIDs(ctx context.Context) ([]int64, error)
}

type UserService struct {
	users UserStore
}

func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

func (s *UserService) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error) {
	user, created, err := s.users.Ensure(ctx, telegramID, username, firstName, lastName)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return user, created, nil
}

func (s *UserService) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	return ids, nil
}
