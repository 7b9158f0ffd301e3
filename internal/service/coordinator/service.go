package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/expozone/stallbook/internal/clock"
	"github.com/expozone/stallbook/internal/domain"
	"github.com/expozone/stallbook/internal/repository"
	redisrepo "github.com/expozone/stallbook/internal/repository/redis"
	"github.com/expozone/stallbook/internal/uow"
)

// Store is the persistence surface the coordinator drives. Every transition
// that touches both a stall and its application runs inside one WithTx call,
// so both writes commit or neither does.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	GetStallForUpdate(ctx context.Context, eventID, stallID int64) (domain.Stall, error)
	UpdateStallStatus(ctx context.Context, eventID, stallID int64, from, to domain.StallStatus) error
	CreateApplication(ctx context.Context, a domain.Application, change domain.StatusChange) error
	GetApplicationForUpdate(ctx context.Context, id uuid.UUID) (domain.Application, error)
	GetApplicationByOrderRef(ctx context.Context, orderRef string) (domain.Application, error)
	MarkPaymentPending(ctx context.Context, id uuid.UUID, deadline time.Time, change domain.StatusChange) error
	MarkStatus(ctx context.Context, id uuid.UUID, status domain.ApplicationStatus, change domain.StatusChange) error
	MarkPaymentOutcome(ctx context.Context, id uuid.UUID, status domain.ApplicationStatus, details domain.PaymentDetails, change domain.StatusChange) error
	ListExpiredApplications(ctx context.Context, now time.Time, limit int) ([]domain.Application, error)
}

// Notifier delivers lifecycle notices. Calls are fire-and-forget: they run
// only after commit and their errors are never propagated.
type Notifier interface {
	Publish(ctx context.Context, kind string, eventID, vendorID int64, applicationID, reason string) error
}

// Invalidator drops cached read-side data for an event.
type Invalidator interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

type Config struct {
	PaymentWindow time.Duration
	SweepBatch    int
}

// Service orchestrates every transition that touches both an event's stall
// inventory and a vendor's application.
type Service struct {
	store    Store
	cache    Invalidator
	notifier Notifier
	limiter  *redisrepo.SlidingWindowLimiter
	uow      *uow.UoW
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config
}

func New(
	store Store,
	cache Invalidator,
	notifier Notifier,
	limiter *redisrepo.SlidingWindowLimiter,
	clk clock.Clock,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 24 * time.Hour
	}

	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}

	return &Service{
		store:    store,
		cache:    cache,
		notifier: notifier,
		limiter:  limiter,
		uow:      uow.New(store),
		clock:    clk,
		logger:   logger,
		cfg:      cfg,
	}
}

type SubmitInput struct {
	EventID  int64
	VendorID int64
	StallID  int64
	Products []string
	Fees     domain.FeeBreakdown
}

// Submit reserves a stall and creates the vendor's pending application in
// one atomic write.
//
// Returns:
//   - domain.Application: the created pending application.
//   - error: coordinator.ErrEventNotFound / ErrStallNotFound for missing entities.
//   - error: coordinator.ErrEventNotPublished if the event takes no applications.
//   - error: coordinator.ErrStallUnavailable if the stall is not available.
//   - error: coordinator.ErrDuplicateApplication if the vendor already has an
//     active application for this event. The aborted transaction rolls the
//     stall reservation back, so the stall stays available.
func (s *Service) Submit(ctx context.Context, in SubmitInput, rlKey string) (domain.Application, error) {
	const op = "service.coordinator.Submit"

	if in.Fees.TotalAmount <= 0 {
		return domain.Application{}, fmt.Errorf("%s: %w", op, ErrFeeMismatch)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return domain.Application{}, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			return domain.Application{}, fmt.Errorf("%s: %w: retry in %s", op, ErrRateLimited, retry)
		}
	}

	var app domain.Application

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		ev, err := s.store.GetEvent(ctx, in.EventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s: %w", op, ErrEventNotFound)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		if ev.Status != domain.EventPublished {
			return fmt.Errorf("%s: %w", op, ErrEventNotPublished)
		}

		st, err := s.store.GetStallForUpdate(ctx, in.EventID, in.StallID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s: %w", op, ErrStallNotFound)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		if st.Status != domain.StallAvailable {
			return fmt.Errorf("%s: %w", op, ErrStallUnavailable)
		}

		if in.Fees.StallPrice != st.Price || sumFees(in.Fees) != in.Fees.TotalAmount {
			return fmt.Errorf("%s: %w", op, ErrFeeMismatch)
		}

		if err := s.store.UpdateStallStatus(ctx, in.EventID, in.StallID, domain.StallAvailable, domain.StallReserved); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				return fmt.Errorf("%s: %w", op, ErrStallUnavailable)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		now := s.clock.Now()
		app = domain.Application{
			ID:        uuid.New(),
			EventID:   in.EventID,
			VendorID:  in.VendorID,
			StallID:   in.StallID,
			Status:    domain.StatusPending,
			Products:  in.Products,
			Fees:      in.Fees,
			CreatedAt: now,
		}

		change := domain.StatusChange{
			Status:    domain.StatusPending,
			Actor:     actorVendor(in.VendorID),
			ChangedAt: now,
		}

		// The partial unique index rejects a second active application for
		// the same (event, vendor); the abort also undoes the reservation.
		if err := s.store.CreateApplication(ctx, app, change); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s: %w", op, ErrDuplicateApplication)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		after(func(ctx context.Context) {
			s.invalidate(ctx, in.EventID)
			s.notify(ctx, "application_submitted", app, "")
		})

		return nil
	})
	if err != nil {
		return domain.Application{}, err
	}

	return app, nil
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Decide applies an organizer's approve/reject verdict to a pending
// application. Stall and application are re-read under lock inside the
// transaction, so a race against payment or expiry resolves to one winner.
//
// On approve, the application moves to payment_pending with a payment
// deadline and the stall stays reserved until the payment is captured. On
// reject, the stall returns to available.
//
// Returns:
//   - error: coordinator.ErrNotOrganizer if the caller does not own the event.
//   - error: coordinator.ErrNotPending if the application left pending already.
//   - error: coordinator.ErrStallStateChanged if an approve finds the stall no
//     longer reserved; the application stays pending for operator retry.
func (s *Service) Decide(
	ctx context.Context,
	eventID int64,
	applicationID uuid.UUID,
	organizerID int64,
	decision Decision,
	reason string,
) (domain.Application, domain.StallStatus, error) {
	const op = "service.coordinator.Decide"

	if decision != DecisionApproved && decision != DecisionRejected {
		return domain.Application{}, "", fmt.Errorf("%s: unknown decision %q", op, decision)
	}

	var (
		app         domain.Application
		stallStatus domain.StallStatus
	)

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		ev, err := s.store.GetEvent(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s: %w", op, ErrEventNotFound)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		if ev.OrganizerID != organizerID {
			return fmt.Errorf("%s: %w", op, ErrNotOrganizer)
		}

		a, err := s.store.GetApplicationForUpdate(ctx, applicationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s: %w", op, ErrApplicationNotFound)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		if a.EventID != eventID {
			return fmt.Errorf("%s: %w", op, ErrApplicationNotFound)
		}

		if a.Status != domain.StatusPending {
			return fmt.Errorf("%s: %w", op, ErrNotPending)
		}

		st, err := s.store.GetStallForUpdate(ctx, a.EventID, a.StallID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		now := s.clock.Now()

		if decision == DecisionApproved {
			if st.Status != domain.StallReserved {
				return fmt.Errorf("%s: %w", op, ErrStallStateChanged)
			}

			deadline := now.Add(s.cfg.PaymentWindow)
			change := domain.StatusChange{
				Status:    domain.StatusPaymentPending,
				Actor:     actorOrganizer(organizerID),
				Reason:    reason,
				ChangedAt: now,
			}
			if err := s.store.MarkPaymentPending(ctx, a.ID, deadline, change); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}

			a.Status = domain.StatusPaymentPending
			a.PaymentDeadline = &deadline
			stallStatus = domain.StallReserved
		} else {
			change := domain.StatusChange{
				Status:    domain.StatusRejected,
				Actor:     actorOrganizer(organizerID),
				Reason:    reason,
				ChangedAt: now,
			}
			if err := s.store.MarkStatus(ctx, a.ID, domain.StatusRejected, change); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}

			if err := s.store.UpdateStallStatus(ctx, a.EventID, a.StallID, domain.StallReserved, domain.StallAvailable); err != nil {
				if errors.Is(err, repository.ErrStaleStatus) {
					return fmt.Errorf("%s: %w", op, ErrStaleState)
				}
				return fmt.Errorf("%s: %w", op, err)
			}

			a.Status = domain.StatusRejected
			stallStatus = domain.StallAvailable
		}

		app = a

		kind := "application_approved"
		if decision == DecisionRejected {
			kind = "application_rejected"
		}
		after(func(ctx context.Context) {
			s.invalidate(ctx, a.EventID)
			s.notify(ctx, kind, a, reason)
		})

		return nil
	})
	if err != nil {
		return domain.Application{}, "", err
	}

	return app, stallStatus, nil
}

type PaymentResult struct {
	OrderRef       string
	Success        bool
	PaymentRef     string
	AmountCaptured int64
	FailureReason  string
}

// RecordPaymentResult finalizes the payment outcome for the application a
// gateway order belongs to. The call is idempotent: once a payment outcome
// has been reached, replays return the stored application untouched, so
// duplicate callback delivery changes nothing and the history keeps exactly
// one completion entry.
func (s *Service) RecordPaymentResult(ctx context.Context, res PaymentResult) (domain.Application, error) {
	const op = "service.coordinator.RecordPaymentResult"

	var app domain.Application

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		a, err := s.store.GetApplicationByOrderRef(ctx, res.OrderRef)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s: %w", op, ErrApplicationNotFound)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		if domain.IsPaymentSettled(a.Status) {
			app = a
			return nil
		}

		if a.Status != domain.StatusPaymentPending {
			return fmt.Errorf("%s: %w", op, ErrNotPaymentPending)
		}

		now := s.clock.Now()

		status := domain.StatusPaymentCompleted
		stallTo := domain.StallBooked
		kind := "payment_completed"
		details := domain.PaymentDetails{
			OrderRef:       res.OrderRef,
			PaymentRef:     res.PaymentRef,
			AmountCaptured: res.AmountCaptured,
			PaidAt:         &now,
		}
		if !res.Success {
			status = domain.StatusPaymentFailed
			stallTo = domain.StallAvailable
			kind = "payment_failed"
			details.AmountCaptured = 0
			details.PaidAt = nil
		}

		change := domain.StatusChange{
			Status:    status,
			Actor:     "gateway",
			Reason:    res.FailureReason,
			ChangedAt: now,
		}
		if err := s.store.MarkPaymentOutcome(ctx, a.ID, status, details, change); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if err := s.store.UpdateStallStatus(ctx, a.EventID, a.StallID, domain.StallReserved, stallTo); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				return fmt.Errorf("%s: %w", op, ErrStaleState)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		a.Status = status
		a.Payment = details
		app = a

		after(func(ctx context.Context) {
			s.invalidate(ctx, a.EventID)
			s.notify(ctx, kind, a, res.FailureReason)
		})

		return nil
	})
	if err != nil {
		return domain.Application{}, err
	}

	return app, nil
}

// Cancel withdraws the vendor's own application while it is still active and
// releases the stall.
func (s *Service) Cancel(ctx context.Context, applicationID uuid.UUID, vendorID int64) (domain.Application, error) {
	const op = "service.coordinator.Cancel"

	var app domain.Application

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		a, err := s.store.GetApplicationForUpdate(ctx, applicationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s: %w", op, ErrApplicationNotFound)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		if a.VendorID != vendorID {
			return fmt.Errorf("%s: %w", op, ErrNotOwner)
		}

		if !domain.CanTransition(a.Status, domain.StatusCancelled) {
			return fmt.Errorf("%s: %w", op, ErrStaleState)
		}

		now := s.clock.Now()
		change := domain.StatusChange{
			Status:    domain.StatusCancelled,
			Actor:     actorVendor(vendorID),
			ChangedAt: now,
		}
		if err := s.store.MarkStatus(ctx, a.ID, domain.StatusCancelled, change); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if err := s.store.UpdateStallStatus(ctx, a.EventID, a.StallID, domain.StallReserved, domain.StallAvailable); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				return fmt.Errorf("%s: %w", op, ErrStaleState)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		a.Status = domain.StatusCancelled
		app = a

		after(func(ctx context.Context) {
			s.invalidate(ctx, a.EventID)
			s.notify(ctx, "application_cancelled", a, "")
		})

		return nil
	})
	if err != nil {
		return domain.Application{}, err
	}

	return app, nil
}

// ReclaimExpired moves every payment_pending application past its deadline
// to expired and returns its stall to available. Each application is
// reclaimed in its own transaction that re-checks state under lock, so the
// pass is safe to run redundantly and a failure on one entity never stops
// the rest.
func (s *Service) ReclaimExpired(ctx context.Context) (int, error) {
	const op = "service.coordinator.ReclaimExpired"

	now := s.clock.Now()

	candidates, err := s.store.ListExpiredApplications(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var reclaimed int
	for _, candidate := range candidates {
		ok, err := s.reclaimOne(ctx, candidate.ID, now)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("failed to reclaim expired application",
					"application_id", candidate.ID, "error", err)
			}
			continue
		}
		if ok {
			reclaimed++
		}
	}

	return reclaimed, nil
}

func (s *Service) reclaimOne(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var reclaimed bool

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		a, err := s.store.GetApplicationForUpdate(ctx, id)
		if err != nil {
			return err
		}

		// A payment outcome may have landed between the scan and this
		// transaction; the deadline only matters while payment is pending.
		if a.Status != domain.StatusPaymentPending || a.PaymentDeadline == nil || !a.PaymentDeadline.Before(now) {
			return nil
		}

		change := domain.StatusChange{
			Status:    domain.StatusExpired,
			Actor:     "system",
			Reason:    "payment window lapsed",
			ChangedAt: now,
		}
		if err := s.store.MarkStatus(ctx, a.ID, domain.StatusExpired, change); err != nil {
			return err
		}

		if err := s.store.UpdateStallStatus(ctx, a.EventID, a.StallID, domain.StallReserved, domain.StallAvailable); err != nil {
			return err
		}

		reclaimed = true

		after(func(ctx context.Context) {
			s.invalidate(ctx, a.EventID)
			s.notify(ctx, "application_expired", a, "payment window lapsed")
		})

		return nil
	})

	return reclaimed, err
}

func (s *Service) notify(ctx context.Context, kind string, a domain.Application, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, kind, a.EventID, a.VendorID, a.ID.String(), reason); err != nil && s.logger != nil {
		s.logger.Warn("notification publish failed", "kind", kind, "application_id", a.ID, "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, eventID int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.InvalidateEvent(ctx, eventID)
}

func sumFees(f domain.FeeBreakdown) int64 {
	return f.StallPrice + f.PlatformFee + f.EntryFee + f.GST
}

func actorVendor(id int64) string {
	return fmt.Sprintf("vendor:%d", id)
}

func actorOrganizer(id int64) string {
	return fmt.Sprintf("organizer:%d", id)
}
