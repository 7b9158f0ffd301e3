package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expozone/stallbook/internal/domain"
	"github.com/expozone/stallbook/internal/gateway"
	"github.com/expozone/stallbook/internal/repository"
	"github.com/expozone/stallbook/internal/service/coordinator"
)

type fakeGateway struct {
	orders   map[string]gateway.Order
	payments map[string]gateway.Payment

	created     int
	createErr   error
	lastAmount  int64
	lastReceipt string
	lastNotes   map[string]any
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders:   make(map[string]gateway.Order),
		payments: make(map[string]gateway.Payment),
	}
}

func (g *fakeGateway) CreateOrder(amount int64, currency, receipt string, notes map[string]any) (gateway.Order, error) {
	if g.createErr != nil {
		return gateway.Order{}, g.createErr
	}
	g.created++
	g.lastAmount = amount
	g.lastReceipt = receipt
	g.lastNotes = notes

	ord := gateway.Order{ID: "order_123", Amount: amount, Currency: currency, Status: "created"}
	g.orders[ord.ID] = ord
	return ord, nil
}

func (g *fakeGateway) FetchOrder(id string) (gateway.Order, error) {
	ord, ok := g.orders[id]
	if !ok {
		return gateway.Order{}, errors.New("order not found")
	}
	return ord, nil
}

func (g *fakeGateway) FetchPayment(id string) (gateway.Payment, error) {
	p, ok := g.payments[id]
	if !ok {
		return gateway.Payment{}, errors.New("payment not found")
	}
	return p, nil
}

type fakeAppStore struct {
	apps   map[uuid.UUID]domain.Application
	events map[int64]domain.Event
}

func (s *fakeAppStore) GetApplication(_ context.Context, id uuid.UUID) (domain.Application, error) {
	a, ok := s.apps[id]
	if !ok {
		return domain.Application{}, repository.ErrNotFound
	}
	return a, nil
}

func (s *fakeAppStore) GetEvent(_ context.Context, id int64) (domain.Event, error) {
	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, repository.ErrNotFound
	}
	return ev, nil
}

func (s *fakeAppStore) SetGatewayOrder(_ context.Context, id uuid.UUID, orderRef string) error {
	a, ok := s.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Payment.OrderRef = orderRef
	s.apps[id] = a
	return nil
}

type fakeRecorder struct {
	results []coordinator.PaymentResult
	app     domain.Application
	err     error
}

func (r *fakeRecorder) RecordPaymentResult(_ context.Context, res coordinator.PaymentResult) (domain.Application, error) {
	r.results = append(r.results, res)
	if r.err != nil {
		return domain.Application{}, r.err
	}
	return r.app, nil
}

const secret = "s"

func newTestService(t *testing.T) (*Service, *fakeAppStore, *fakeGateway, *fakeRecorder, uuid.UUID) {
	t.Helper()

	appID := uuid.New()
	store := &fakeAppStore{
		apps: map[uuid.UUID]domain.Application{
			appID: {
				ID:       appID,
				EventID:  1,
				VendorID: 7,
				StallID:  3,
				Status:   domain.StatusPaymentPending,
				Fees: domain.FeeBreakdown{
					StallPrice:  5000,
					PlatformFee: 250,
					GST:         945,
					TotalAmount: 6195,
				},
			},
		},
		events: map[int64]domain.Event{
			1: {ID: 1, OrganizerID: 10, Title: "Spring Expo", Status: domain.EventPublished},
		},
	}
	gw := newFakeGateway()
	rec := &fakeRecorder{app: store.apps[appID]}

	svc := New(store, gw, rec, Config{
		Currency:    "INR",
		Secret:      secret,
		RedirectURL: "/payments/status",
	})

	return svc, store, gw, rec, appID
}

func TestCreateOrder(t *testing.T) {
	svc, store, gw, _, appID := newTestService(t)

	ord, err := svc.CreateOrder(context.Background(), appID, 7)
	require.NoError(t, err)

	assert.Equal(t, "order_123", ord.OrderID)
	assert.Equal(t, int64(6195), ord.Amount)
	assert.Equal(t, "INR", ord.Currency)
	assert.Equal(t, "Spring Expo", ord.EventTitle)

	// The provider is charged in the minor unit.
	assert.Equal(t, int64(619500), gw.lastAmount)
	assert.Equal(t, appID.String(), gw.lastReceipt)
	assert.Equal(t, appID.String(), gw.lastNotes["application_id"])
	assert.Equal(t, "1", gw.lastNotes["event_id"])
	assert.Equal(t, "7", gw.lastNotes["vendor_id"])
	assert.Equal(t, "10", gw.lastNotes["organizer_id"])

	assert.Equal(t, "order_123", store.apps[appID].Payment.OrderRef)
}

func TestCreateOrderReusesExisting(t *testing.T) {
	svc, _, gw, _, appID := newTestService(t)

	first, err := svc.CreateOrder(context.Background(), appID, 7)
	require.NoError(t, err)

	second, err := svc.CreateOrder(context.Background(), appID, 7)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, gw.created)
}

func TestCreateOrderNotOwner(t *testing.T) {
	svc, _, _, _, appID := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), appID, 99)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestCreateOrderNotPaymentPending(t *testing.T) {
	svc, store, _, _, appID := newTestService(t)

	a := store.apps[appID]
	a.Status = domain.StatusPending
	store.apps[appID] = a

	_, err := svc.CreateOrder(context.Background(), appID, 7)
	assert.ErrorIs(t, err, ErrNotPaymentPending)
}

func TestCreateOrderGatewayDown(t *testing.T) {
	svc, store, gw, _, appID := newTestService(t)

	gw.createErr = errors.New("connection refused")

	_, err := svc.CreateOrder(context.Background(), appID, 7)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	// Nothing persisted; a retry may open a fresh order.
	assert.Empty(t, store.apps[appID].Payment.OrderRef)
}

func TestVerifyPaymentCaptured(t *testing.T) {
	svc, _, gw, rec, appID := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), appID, 7)
	require.NoError(t, err)

	gw.payments["pay_1"] = gateway.Payment{
		ID: "pay_1", OrderID: "order_123", Amount: 619500, Currency: "INR", Status: "captured",
	}

	res, err := svc.VerifyPayment(context.Background(), "order_123", "pay_1", Sign("order_123", "pay_1", secret))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.FailureReason)
	assert.Equal(t, "/payments/status", res.RedirectURL)

	require.Len(t, rec.results, 1)
	assert.Equal(t, coordinator.PaymentResult{
		OrderRef:       "order_123",
		Success:        true,
		PaymentRef:     "pay_1",
		AmountCaptured: 6195,
	}, rec.results[0])
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	svc, _, gw, rec, appID := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), appID, 7)
	require.NoError(t, err)

	gw.payments["pay_1"] = gateway.Payment{
		ID: "pay_1", OrderID: "order_123", Amount: 619500, Status: "captured",
	}

	_, err = svc.VerifyPayment(context.Background(), "order_123", "pay_1", "forged")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// A forged callback must never reach the recorder.
	assert.Empty(t, rec.results)
}

func TestVerifyPaymentNotCaptured(t *testing.T) {
	svc, _, gw, rec, appID := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), appID, 7)
	require.NoError(t, err)

	gw.payments["pay_1"] = gateway.Payment{
		ID: "pay_1", OrderID: "order_123", Amount: 619500, Status: "failed",
	}

	res, err := svc.VerifyPayment(context.Background(), "order_123", "pay_1", Sign("order_123", "pay_1", secret))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "payment not captured: failed", res.FailureReason)

	require.Len(t, rec.results, 1)
	assert.False(t, rec.results[0].Success)
}

func TestVerifyPaymentAmountMismatch(t *testing.T) {
	svc, _, gw, rec, appID := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), appID, 7)
	require.NoError(t, err)

	gw.payments["pay_1"] = gateway.Payment{
		ID: "pay_1", OrderID: "order_123", Amount: 100, Status: "captured",
	}

	res, err := svc.VerifyPayment(context.Background(), "order_123", "pay_1", Sign("order_123", "pay_1", secret))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "captured amount does not match order", res.FailureReason)
	require.Len(t, rec.results, 1)
	assert.False(t, rec.results[0].Success)
}

func TestVerifyPaymentWrongOrder(t *testing.T) {
	svc, _, gw, _, appID := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), appID, 7)
	require.NoError(t, err)

	gw.orders["order_999"] = gateway.Order{ID: "order_999", Amount: 619500}
	gw.payments["pay_1"] = gateway.Payment{
		ID: "pay_1", OrderID: "order_123", Amount: 619500, Status: "captured",
	}

	res, err := svc.VerifyPayment(context.Background(), "order_999", "pay_1", Sign("order_999", "pay_1", secret))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "payment does not belong to order", res.FailureReason)
}
