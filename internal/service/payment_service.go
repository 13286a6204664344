package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/romanticbot/internal/metrics"
	"github.com/example/romanticbot/internal/models"
)

var ErrUnknownPayment = errors.New("payment not found")

// PaymentStore is the slice of the payment repository the reconciler needs.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	CompleteAndCredit(ctx context.Context, paymentID, providerPaymentID string) (bool, error)
}

// Package is a purchasable bundle of generations priced in Telegram Stars.
type Package struct {
	Generations int
	Stars       int
}

// Packages returns the fixed purchase tiers.
func Packages() []Package {
	return []Package{
		{Generations: 1, Stars: 50},
		{Generations: 5, Stars: 225},
		{Generations: 10, Stars: 400},
		{Generations: 25, Stars: 875},
	}
}

// PackageFor looks a tier up by its generation count.
func PackageFor(generations int) (Package, bool) {
	for _, p := range Packages() {
		if p.Generations == generations {
			return p, true
		}
	}
	return Package{}, false
}

// PaymentService reconciles purchase intents with provider confirmations and
// turns completed payments into paid generation credit.
type PaymentService struct {
	log      *slog.Logger
	payments PaymentStore
	metrics  metrics.Recorder
}

func NewPaymentService(log *slog.Logger, payments PaymentStore, metrics metrics.Recorder) *PaymentService {
	return &PaymentService{log: log, payments: payments, metrics: metrics}
}

// InitiatePurchase records a PENDING payment and returns it. The payment id is
// embedded as the invoice payload so the confirmation can be correlated back.
func (s *PaymentService) InitiatePurchase(ctx context.Context, userID int64, pkg Package) (*models.Payment, error) {
	payment := &models.Payment{
		UserID:           userID,
		Amount:           pkg.Stars,
		GenerationsCount: pkg.Generations,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	s.log.Info("payment initiated", "payment_id", payment.ID, "user_id", userID, "generations", pkg.Generations, "stars", pkg.Stars)
	return payment, nil
}

// ConfirmPurchase applies a provider confirmation. The status flip and the
// credit happen atomically in the store; a duplicate delivery finds the
// payment already COMPLETED and is a no-op, so providers may retry freely.
func (s *PaymentService) ConfirmPurchase(ctx context.Context, paymentID, providerPaymentID string) (*models.Payment, error) {
	credited, err := s.payments.CompleteAndCredit(ctx, paymentID, providerPaymentID)
	if err != nil {
		return nil, fmt.Errorf("complete payment: %w", err)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	if payment == nil {
		return nil, ErrUnknownPayment
	}

	if credited {
		s.metrics.PaymentCompleted(payment.GenerationsCount)
		s.log.Info("payment completed", "payment_id", paymentID, "provider_payment_id", providerPaymentID, "generations", payment.GenerationsCount)
	} else {
		s.log.Info("duplicate payment confirmation ignored", "payment_id", paymentID)
	}
	return payment, nil
}
