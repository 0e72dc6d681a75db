package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/learnhub/internal/domain/checkout"
)

const (
	paymentColumns = `id, session_id, learner_id, course_id, coupon_code, original_amount,
		discount_amount, amount, currency, status, transaction_id, created_at`

	createPaymentSQL = `INSERT INTO payments (id, session_id, learner_id, course_id, coupon_code,
		original_amount, discount_amount, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

	getPaymentBySessionSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE session_id = $1`

	markPaymentFailedSQL = `UPDATE payments SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	expirePendingSQL = `UPDATE payments SET status = 'expired', updated_at = now()
		WHERE status = 'pending' AND created_at < $1`

	recordTransactionSQL = `INSERT INTO payment_transactions (transaction_id, payment_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_id) DO NOTHING`

	lockPaymentSQL = `SELECT status FROM payments WHERE id = $1 FOR UPDATE`

	createEnrollmentSQL = `INSERT INTO enrollments (id, learner_id, course_id, payment_id, status, progress, created_at)
		VALUES ($1, $2, $3, $4, 'active', 0, $5)
		ON CONFLICT (learner_id, course_id) DO NOTHING`

	closePaymentSQL = `UPDATE payments SET status = $2, transaction_id = $3, updated_at = $4 WHERE id = $1`

	creditInstructorSQL = `UPDATE instructors SET earnings = earnings + $2 WHERE id = $1`

	redeemCouponSQL = `UPDATE coupons SET uses = uses + 1, locked = TRUE WHERE code = $1 RETURNING id`

	recordRedemptionSQL = `INSERT INTO coupon_redemptions (coupon_id, payment_id, learner_id, course_id, redeemed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`
)

var _ checkout.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements checkout.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// CreatePayment persists a pending payment.
func (r *PaymentRepository) CreatePayment(ctx context.Context, p *checkout.Payment) error {
	_, err := r.pool.Exec(ctx, createPaymentSQL,
		p.ID, p.SessionID, p.LearnerID, p.CourseID, p.CouponCode,
		p.OriginalAmount, p.DiscountAmount, p.Amount, p.Currency, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// GetPaymentBySession returns the payment opened for a processor session.
func (r *PaymentRepository) GetPaymentBySession(ctx context.Context, sessionID string) (*checkout.Payment, error) {
	rows, err := r.pool.Query(ctx, getPaymentBySessionSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("getting payment of session %q: %w", sessionID, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("getting payment of session %q: %w", sessionID, err)
	}
	return &p, nil
}

// MarkFailed fails a payment that is still pending.
func (r *PaymentRepository) MarkFailed(ctx context.Context, paymentID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, markPaymentFailedSQL, paymentID)
	if err != nil {
		return false, fmt.Errorf("failing payment %q: %w", paymentID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExpirePending expires pending payments created before the cutoff.
func (r *PaymentRepository) ExpirePending(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, expirePendingSQL, before)
	if err != nil {
		return 0, fmt.Errorf("expiring pending payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Settle applies a successful payment in one transaction:
//
//  1. the transaction id is inserted into the dedupe set; a conflict means
//     the notification was already processed;
//  2. the payment row is locked, and a payment already closed is left alone;
//  3. the enrollment is inserted; a conflict on (learner, course) marks the
//     payment duplicate and stops;
//  4. the payment is marked paid, the instructor credited and the coupon
//     redemption counted.
func (r *PaymentRepository) Settle(ctx context.Context, s checkout.Settlement) (checkout.SettleResult, error) {
	res := checkout.Settled
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, recordTransactionSQL, s.TransactionID, s.PaymentID, s.At)
		if err != nil {
			return fmt.Errorf("recording transaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			res = checkout.DuplicateTransaction
			return nil
		}

		var status string
		if err := tx.QueryRow(ctx, lockPaymentSQL, s.PaymentID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return checkout.ErrPaymentNotFound
			}
			return fmt.Errorf("locking payment: %w", err)
		}
		switch checkout.PaymentStatus(status) {
		case checkout.PaymentPaid, checkout.PaymentDuplicate:
			res = checkout.DuplicateTransaction
			return nil
		}

		tag, err = tx.Exec(ctx, createEnrollmentSQL, s.EnrollmentID, s.LearnerID, s.CourseID, s.PaymentID, s.At)
		if err != nil {
			return fmt.Errorf("creating enrollment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			res = checkout.DuplicateEnrollment
			_, err := tx.Exec(ctx, closePaymentSQL, s.PaymentID, string(checkout.PaymentDuplicate), s.TransactionID, s.At)
			if err != nil {
				return fmt.Errorf("marking payment duplicate: %w", err)
			}
			return nil
		}

		if _, err := tx.Exec(ctx, closePaymentSQL, s.PaymentID, string(checkout.PaymentPaid), s.TransactionID, s.At); err != nil {
			return fmt.Errorf("marking payment paid: %w", err)
		}
		// Synthetic admin owners have no row and receive nothing.
		if _, err := tx.Exec(ctx, creditInstructorSQL, s.InstructorID, s.InstructorShare); err != nil {
			return fmt.Errorf("crediting instructor: %w", err)
		}
		if s.CouponCode == "" {
			return nil
		}

		var couponID string
		if err := tx.QueryRow(ctx, redeemCouponSQL, s.CouponCode).Scan(&couponID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("redeeming coupon: %w", err)
		}
		if _, err := tx.Exec(ctx, recordRedemptionSQL, couponID, s.PaymentID, s.LearnerID, s.CourseID, s.At); err != nil {
			return fmt.Errorf("recording redemption: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return res, nil
}

func scanPayment(row pgx.CollectableRow) (checkout.Payment, error) {
	var (
		p      checkout.Payment
		status string
		txnID  *string
	)
	err := row.Scan(
		&p.ID, &p.SessionID, &p.LearnerID, &p.CourseID, &p.CouponCode, &p.OriginalAmount,
		&p.DiscountAmount, &p.Amount, &p.Currency, &status, &txnID, &p.CreatedAt,
	)
	p.Status = checkout.PaymentStatus(status)
	p.TransactionID = deref(txnID)
	return p, err
}
