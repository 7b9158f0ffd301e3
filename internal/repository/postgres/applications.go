package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/expozone/stallbook/internal/domain"
)

const applicationColumns = `id, event_id, vendor_id, stall_id, status, products,
	stall_price, platform_fee, entry_fee, gst, total_amount,
	payment_deadline, gateway_order_ref, gateway_payment_ref, amount_captured, paid_at,
	created_at`

func scanApplication(row pgx.Row) (domain.Application, error) {
	var a domain.Application
	var orderRef, paymentRef *string
	err := row.Scan(
		&a.ID, &a.EventID, &a.VendorID, &a.StallID, &a.Status, &a.Products,
		&a.Fees.StallPrice, &a.Fees.PlatformFee, &a.Fees.EntryFee, &a.Fees.GST, &a.Fees.TotalAmount,
		&a.PaymentDeadline, &orderRef, &paymentRef, &a.Payment.AmountCaptured, &a.Payment.PaidAt,
		&a.CreatedAt,
	)
	if err != nil {
		return domain.Application{}, err
	}
	if orderRef != nil {
		a.Payment.OrderRef = *orderRef
	}
	if paymentRef != nil {
		a.Payment.PaymentRef = *paymentRef
	}
	return a, nil
}

// CreateApplication inserts a pending application and its first history
// entry. Call inside WithTx so the insert commits with the stall reservation.
//
// Returns:
//   - error: repository.ErrConflict if the vendor already has an active
//     application for the event (partial unique index violation).
func (s *Store) CreateApplication(ctx context.Context, a domain.Application, change domain.StatusChange) error {
	const op = "postgres.Store.CreateApplication"

	db := s.handle(ctx)

	if _, err := db.Exec(ctx,
		`INSERT INTO applications(
			id, event_id, vendor_id, stall_id, status, products,
			stall_price, platform_fee, entry_fee, gst, total_amount, created_at)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.EventID, a.VendorID, a.StallID, a.Status, a.Products,
		a.Fees.StallPrice, a.Fees.PlatformFee, a.Fees.EntryFee, a.Fees.GST, a.Fees.TotalAmount,
		a.CreatedAt,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if err := s.appendHistory(ctx, a.ID, change); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	const op = "postgres.Store.GetApplication"

	a, err := scanApplication(s.handle(ctx).QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id,
	))
	if err != nil {
		return domain.Application{}, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return a, nil
}

// GetApplicationForUpdate locks and returns one application. Call inside
// WithTx; the lock serializes concurrent transitions on the same application.
func (s *Store) GetApplicationForUpdate(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	const op = "postgres.Store.GetApplicationForUpdate"

	a, err := scanApplication(s.handle(ctx).QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id,
	))
	if err != nil {
		return domain.Application{}, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return a, nil
}

// GetApplicationByOrderRef locates the application a gateway order belongs
// to. The gateway order reference is unique, so duplicate callbacks resolve
// to the same row.
func (s *Store) GetApplicationByOrderRef(ctx context.Context, orderRef string) (domain.Application, error) {
	const op = "postgres.Store.GetApplicationByOrderRef"

	a, err := scanApplication(s.handle(ctx).QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE gateway_order_ref = $1 FOR UPDATE`, orderRef,
	))
	if err != nil {
		return domain.Application{}, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return a, nil
}

// MarkPaymentPending moves an application to payment_pending with its
// deadline and appends the history entry.
func (s *Store) MarkPaymentPending(ctx context.Context, id uuid.UUID, deadline time.Time, change domain.StatusChange) error {
	const op = "postgres.Store.MarkPaymentPending"

	if _, err := s.handle(ctx).Exec(ctx,
		`UPDATE applications
        	SET status = $2, payment_deadline = $3
      	 WHERE id = $1`,
		id, domain.StatusPaymentPending, deadline,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if err := s.appendHistory(ctx, id, change); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// MarkStatus sets a plain status (rejected, cancelled, expired) and appends
// the history entry.
func (s *Store) MarkStatus(ctx context.Context, id uuid.UUID, status domain.ApplicationStatus, change domain.StatusChange) error {
	const op = "postgres.Store.MarkStatus"

	if _, err := s.handle(ctx).Exec(ctx,
		`UPDATE applications SET status = $2 WHERE id = $1`,
		id, status,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if err := s.appendHistory(ctx, id, change); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// MarkPaymentOutcome records the gateway's final determination together with
// the captured payment identifiers.
func (s *Store) MarkPaymentOutcome(ctx context.Context, id uuid.UUID, status domain.ApplicationStatus, details domain.PaymentDetails, change domain.StatusChange) error {
	const op = "postgres.Store.MarkPaymentOutcome"

	if _, err := s.handle(ctx).Exec(ctx,
		`UPDATE applications
        	SET status = $2, gateway_payment_ref = $3, amount_captured = $4, paid_at = $5
      	 WHERE id = $1`,
		id, status, details.PaymentRef, details.AmountCaptured, details.PaidAt,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if err := s.appendHistory(ctx, id, change); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SetGatewayOrder attaches the gateway order reference created for the
// application.
//
// Returns:
//   - error: repository.ErrConflict if the reference is already taken.
func (s *Store) SetGatewayOrder(ctx context.Context, id uuid.UUID, orderRef string) error {
	const op = "postgres.Store.SetGatewayOrder"

	if _, err := s.handle(ctx).Exec(ctx,
		`UPDATE applications SET gateway_order_ref = $2 WHERE id = $1`,
		id, orderRef,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return nil
}

// ListExpiredApplications returns payment_pending applications whose
// deadline is already behind now.
func (s *Store) ListExpiredApplications(ctx context.Context, now time.Time, limit int) ([]domain.Application, error) {
	const op = "postgres.Store.ListExpiredApplications"

	rows, err := s.handle(ctx).Query(ctx,
		`SELECT `+applicationColumns+`
       	 FROM applications
      	 WHERE status = $1 AND payment_deadline < $2
      	 ORDER BY payment_deadline
      	 LIMIT $3`,
		domain.StatusPaymentPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return apps, nil
}

// GetApplicationHistory returns the append-only status log, oldest first.
func (s *Store) GetApplicationHistory(ctx context.Context, id uuid.UUID) ([]domain.StatusChange, error) {
	const op = "postgres.Store.GetApplicationHistory"

	rows, err := s.handle(ctx).Query(ctx,
		`SELECT status, actor, reason, changed_at
       	 FROM application_status_history
      	 WHERE application_id = $1
      	 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	defer rows.Close()

	var history []domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		if err := rows.Scan(&c.Status, &c.Actor, &c.Reason, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return history, nil
}

// appendHistory inserts one status log row. History is append-only: nothing
// in the store updates or deletes these rows.
func (s *Store) appendHistory(ctx context.Context, id uuid.UUID, change domain.StatusChange) error {
	_, err := s.handle(ctx).Exec(ctx,
		`INSERT INTO application_status_history(application_id, status, actor, reason, changed_at)
       	 VALUES ($1, $2, $3, $4, $5)`,
		id, change.Status, change.Actor, change.Reason, change.ChangedAt,
	)
	if err != nil {
		return translateDBErr(err)
	}
	return nil
}
