package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/romanticbot/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	payment.Status = models.PaymentPending
	const query = `
INSERT INTO payments (id, user_id, amount, generations_count, status)
VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, payment.ID, payment.UserID, payment.Amount, payment.GenerationsCount, payment.Status); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	const query = `
SELECT id, user_id, amount, generations_count, status, COALESCE(provider_payment_id, ''), created_at, updated_at
FROM payments WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var p models.Payment
	if err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.GenerationsCount, &p.Status, &p.ProviderPaymentID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

// CompleteAndCredit marks a pending payment COMPLETED and credits the user's
// paid generations in one transaction. The conditional UPDATE on status makes
// the credit fire at most once no matter how many times the provider delivers
// the confirmation; credited is false when the payment was already completed.
func (r *PaymentRepository) CompleteAndCredit(ctx context.Context, paymentID, providerPaymentID string) (credited bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const complete = `
UPDATE payments SET status = ?, provider_payment_id = ?, updated_at = NOW()
WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, complete, models.PaymentCompleted, providerPaymentID, paymentID, models.PaymentPending)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	const credit = `
UPDATE users u
JOIN payments p ON p.user_id = u.id
SET u.paid_generations = u.paid_generations + p.generations_count, u.updated_at = NOW()
WHERE p.id = ?`
	if _, err = tx.ExecContext(ctx, credit, paymentID); err != nil {
		return false, fmt.Errorf("credit paid generations: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit payment: %w", err)
	}
	return true, nil
}

func (r *PaymentRepository) ListRecent(ctx context.Context, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, user_id, amount, generations_count, status, COALESCE(provider_payment_id, ''), created_at, updated_at
FROM payments
ORDER BY created_at DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.GenerationsCount, &p.Status, &p.ProviderPaymentID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
