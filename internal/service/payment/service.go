package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/expozone/stallbook/internal/domain"
	"github.com/expozone/stallbook/internal/gateway"
	"github.com/expozone/stallbook/internal/repository"
	"github.com/expozone/stallbook/internal/service/coordinator"
)

// Gateway is the provider surface the adapter needs: order creation and
// authoritative order/payment fetches. Implemented by gateway.Client.
type Gateway interface {
	CreateOrder(amount int64, currency, receipt string, notes map[string]any) (gateway.Order, error)
	FetchOrder(id string) (gateway.Order, error)
	FetchPayment(id string) (gateway.Payment, error)
}

// Store is the read/write surface for attaching gateway orders.
type Store interface {
	GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error)
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	SetGatewayOrder(ctx context.Context, id uuid.UUID, orderRef string) error
}

// Recorder finalizes a verified payment outcome. Implemented by the
// reservation coordinator.
type Recorder interface {
	RecordPaymentResult(ctx context.Context, res coordinator.PaymentResult) (domain.Application, error)
}

type Config struct {
	Currency    string
	Secret      string
	RedirectURL string
}

// Service adapts the external payment provider to the reservation flow. All
// provider calls happen outside any open database transaction.
type Service struct {
	store    Store
	gw       Gateway
	recorder Recorder
	cfg      Config
}

func New(store Store, gw Gateway, recorder Recorder, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}

	return &Service{
		store:    store,
		gw:       gw,
		recorder: recorder,
		cfg:      cfg,
	}
}

type OrderInfo struct {
	OrderID    string
	Amount     int64
	Currency   string
	EventTitle string
}

// CreateOrder opens a provider order for an application awaiting payment.
// The charge amount comes strictly from the application's stored fee total;
// nothing client-supplied is trusted. Correlation identifiers ride on the
// order as notes so a later callback can be tied back without trusting the
// client.
//
// Returns:
//   - payment.ErrNotPaymentPending if the application is not awaiting payment.
//   - payment.ErrNotOwner if the caller is not the applying vendor.
//   - payment.ErrGatewayUnavailable if the provider call fails; no database
//     mutation has happened and the call is safe to retry.
func (s *Service) CreateOrder(ctx context.Context, applicationID uuid.UUID, vendorID int64) (OrderInfo, error) {
	const op = "service.payment.CreateOrder"

	a, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return OrderInfo{}, fmt.Errorf("%s: %w", op, ErrApplicationNotFound)
		}
		return OrderInfo{}, fmt.Errorf("%s: %w", op, err)
	}

	if a.VendorID != vendorID {
		return OrderInfo{}, fmt.Errorf("%s: %w", op, ErrNotOwner)
	}

	if a.Status != domain.StatusPaymentPending {
		return OrderInfo{}, fmt.Errorf("%s: %w", op, ErrNotPaymentPending)
	}

	ev, err := s.store.GetEvent(ctx, a.EventID)
	if err != nil {
		return OrderInfo{}, fmt.Errorf("%s: %w", op, err)
	}

	// Repeated calls reuse the order already opened for this application.
	if a.Payment.OrderRef != "" {
		return OrderInfo{
			OrderID:    a.Payment.OrderRef,
			Amount:     a.Fees.TotalAmount,
			Currency:   s.cfg.Currency,
			EventTitle: ev.Title,
		}, nil
	}

	notes := map[string]any{
		"application_id": a.ID.String(),
		"event_id":       strconv.FormatInt(a.EventID, 10),
		"vendor_id":      strconv.FormatInt(a.VendorID, 10),
		"organizer_id":   strconv.FormatInt(ev.OrganizerID, 10),
	}

	ord, err := s.gw.CreateOrder(toMinorUnits(a.Fees.TotalAmount), s.cfg.Currency, a.ID.String(), notes)
	if err != nil {
		return OrderInfo{}, fmt.Errorf("%s: %w: %w", op, ErrGatewayUnavailable, err)
	}

	// If this write fails the provider order is orphaned; the application
	// stays payment_pending and a retry opens a fresh order.
	if err := s.store.SetGatewayOrder(ctx, a.ID, ord.ID); err != nil {
		return OrderInfo{}, fmt.Errorf("%s: %w", op, err)
	}

	return OrderInfo{
		OrderID:    ord.ID,
		Amount:     a.Fees.TotalAmount,
		Currency:   s.cfg.Currency,
		EventTitle: ev.Title,
	}, nil
}

type VerifyResult struct {
	Success       bool
	FailureReason string
	RedirectURL   string
	Application   domain.Application
}

// VerifyPayment authenticates a client-delivered callback and finalizes the
// outcome. The signature check runs before any lookup or mutation; on a
// mismatch nothing is touched. On a match the authoritative order and
// payment objects are fetched from the provider, and the provider's own
// captured/failed determination, never the client's, is recorded.
func (s *Service) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (VerifyResult, error) {
	const op = "service.payment.VerifyPayment"

	if !VerifySignature(orderID, paymentID, signature, s.cfg.Secret) {
		return VerifyResult{}, fmt.Errorf("%s: %w", op, ErrSignatureInvalid)
	}

	ord, err := s.gw.FetchOrder(orderID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%s: %w: %w", op, ErrGatewayUnavailable, err)
	}

	pay, err := s.gw.FetchPayment(paymentID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%s: %w: %w", op, ErrGatewayUnavailable, err)
	}

	success := pay.OrderID == orderID && pay.Status == "captured" && pay.Amount == ord.Amount

	var failureReason string
	if !success {
		switch {
		case pay.OrderID != orderID:
			failureReason = "payment does not belong to order"
		case pay.Amount != ord.Amount:
			failureReason = "captured amount does not match order"
		default:
			failureReason = "payment not captured: " + pay.Status
		}
	}

	app, err := s.recorder.RecordPaymentResult(ctx, coordinator.PaymentResult{
		OrderRef:       orderID,
		Success:        success,
		PaymentRef:     paymentID,
		AmountCaptured: fromMinorUnits(pay.Amount),
		FailureReason:  failureReason,
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%s: %w", op, err)
	}

	return VerifyResult{
		Success:       success,
		FailureReason: failureReason,
		RedirectURL:   s.cfg.RedirectURL,
		Application:   app,
	}, nil
}

// Fee amounts are stored in whole currency units; the provider wants the
// minor unit.
func toMinorUnits(amount int64) int64 {
	return amount * 100
}

func fromMinorUnits(amount int64) int64 {
	return amount / 100
}
