package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/romanticbot/internal/models"
)

// Every user gets one generation for free, forever. Everything beyond it is
// paid for with Telegram Stars.
const freeGenerations = 1

var ErrUserNotFound = errors.New("user not found")

// QuotaService is the ledger of free and paid generation allowances. It only
// reads counters and applies SQL-side increments, so concurrent purchases and
// completions for one user cannot lose updates.
type QuotaService struct {
	users UserStore
}

func NewQuotaService(users UserStore) *QuotaService {
	return &QuotaService{users: users}
}

// CanStart is the admission check performed before a new generation is
// created. It has no side effects.
func (s *QuotaService) CanStart(ctx context.Context, userID int64) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return false, ErrUserNotFound
	}
	return user.GenerationsUsed < freeGenerations+user.PaidGenerations, nil
}

// ConsumeOnCompletion charges one generation against the user's allowance.
// Called exactly once per COMPLETED generation, never on ERROR: a failed job
// is not charged.
func (s *QuotaService) ConsumeOnCompletion(ctx context.Context, userID int64) error {
	if err := s.users.IncrementGenerationsUsed(ctx, userID); err != nil {
		return fmt.Errorf("consume generation: %w", err)
	}
	return nil
}

func (s *QuotaService) Stats(ctx context.Context, userID int64) (*models.UserStats, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return &models.UserStats{
		GenerationsUsed: user.GenerationsUsed,
		PaidGenerations: user.PaidGenerations,
		TotalAllowed:    freeGenerations + user.PaidGenerations,
	}, nil
}
