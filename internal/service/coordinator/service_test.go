package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expozone/stallbook/internal/clock"
	"github.com/expozone/stallbook/internal/domain"
	"github.com/expozone/stallbook/internal/repository"
)

type stallKey struct {
	eventID int64
	stallID int64
}

// fakeStore keeps everything in maps and mimics the transactional repository:
// WithTx snapshots all state and restores it when fn fails, so an aborted
// submission rolls the stall reservation back exactly like postgres does.
type fakeStore struct {
	events  map[int64]domain.Event
	stalls  map[stallKey]domain.Stall
	apps    map[uuid.UUID]domain.Application
	history map[uuid.UUID][]domain.StatusChange
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:  make(map[int64]domain.Event),
		stalls:  make(map[stallKey]domain.Stall),
		apps:    make(map[uuid.UUID]domain.Application),
		history: make(map[uuid.UUID][]domain.StatusChange),
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	events := maps.Clone(f.events)
	stalls := maps.Clone(f.stalls)
	apps := maps.Clone(f.apps)
	history := make(map[uuid.UUID][]domain.StatusChange, len(f.history))
	for id, h := range f.history {
		history[id] = append([]domain.StatusChange(nil), h...)
	}

	if err := fn(ctx); err != nil {
		f.events = events
		f.stalls = stalls
		f.apps = apps
		f.history = history
		return err
	}

	return nil
}

func (f *fakeStore) GetEvent(_ context.Context, id int64) (domain.Event, error) {
	ev, ok := f.events[id]
	if !ok {
		return domain.Event{}, repository.ErrNotFound
	}
	return ev, nil
}

func (f *fakeStore) GetStallForUpdate(_ context.Context, eventID, stallID int64) (domain.Stall, error) {
	st, ok := f.stalls[stallKey{eventID, stallID}]
	if !ok {
		return domain.Stall{}, repository.ErrNotFound
	}
	return st, nil
}

func (f *fakeStore) UpdateStallStatus(_ context.Context, eventID, stallID int64, from, to domain.StallStatus) error {
	key := stallKey{eventID, stallID}
	st, ok := f.stalls[key]
	if !ok {
		return repository.ErrNotFound
	}
	if st.Status != from {
		return repository.ErrStaleStatus
	}
	st.Status = to
	f.stalls[key] = st
	return nil
}

func (f *fakeStore) CreateApplication(_ context.Context, a domain.Application, change domain.StatusChange) error {
	for _, existing := range f.apps {
		if existing.EventID == a.EventID && existing.VendorID == a.VendorID && domain.IsActive(existing.Status) {
			return repository.ErrConflict
		}
	}
	f.apps[a.ID] = a
	f.history[a.ID] = append(f.history[a.ID], change)
	return nil
}

func (f *fakeStore) GetApplicationForUpdate(_ context.Context, id uuid.UUID) (domain.Application, error) {
	a, ok := f.apps[id]
	if !ok {
		return domain.Application{}, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) GetApplicationByOrderRef(_ context.Context, orderRef string) (domain.Application, error) {
	for _, a := range f.apps {
		if a.Payment.OrderRef == orderRef {
			return a, nil
		}
	}
	return domain.Application{}, repository.ErrNotFound
}

func (f *fakeStore) MarkPaymentPending(_ context.Context, id uuid.UUID, deadline time.Time, change domain.StatusChange) error {
	a, ok := f.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = domain.StatusPaymentPending
	a.PaymentDeadline = &deadline
	f.apps[id] = a
	f.history[id] = append(f.history[id], change)
	return nil
}

func (f *fakeStore) MarkStatus(_ context.Context, id uuid.UUID, status domain.ApplicationStatus, change domain.StatusChange) error {
	a, ok := f.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = status
	f.apps[id] = a
	f.history[id] = append(f.history[id], change)
	return nil
}

func (f *fakeStore) MarkPaymentOutcome(_ context.Context, id uuid.UUID, status domain.ApplicationStatus, details domain.PaymentDetails, change domain.StatusChange) error {
	a, ok := f.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = status
	a.Payment = details
	f.apps[id] = a
	f.history[id] = append(f.history[id], change)
	return nil
}

func (f *fakeStore) ListExpiredApplications(_ context.Context, now time.Time, limit int) ([]domain.Application, error) {
	var out []domain.Application
	for _, a := range f.apps {
		if a.Status == domain.StatusPaymentPending && a.PaymentDeadline != nil && a.PaymentDeadline.Before(now) {
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) setGatewayOrder(id uuid.UUID, orderRef string) {
	a := f.apps[id]
	a.Payment.OrderRef = orderRef
	f.apps[id] = a
}

type fakeNotifier struct {
	kinds []string
}

func (n *fakeNotifier) Publish(_ context.Context, kind string, _, _ int64, _, _ string) error {
	n.kinds = append(n.kinds, kind)
	return nil
}

type fakeInvalidator struct {
	calls int
}

func (i *fakeInvalidator) InvalidateEvent(context.Context, int64) error {
	i.calls++
	return nil
}

var testNow = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

const (
	organizerID = int64(10)
	vendorID    = int64(7)
	eventID     = int64(1)
)

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeNotifier) {
	t.Helper()

	store := newFakeStore()
	store.events[eventID] = domain.Event{
		ID:          eventID,
		OrganizerID: organizerID,
		Title:       "Spring Expo",
		Status:      domain.EventPublished,
		Starts:      testNow.Add(30 * 24 * time.Hour),
		Ends:        testNow.Add(33 * 24 * time.Hour),
	}
	store.stalls[stallKey{eventID, 3}] = domain.Stall{
		EventID:   eventID,
		StallID:   3,
		DisplayID: "A-3",
		Type:      "standard",
		Category:  "food",
		Price:     5000,
		Size:      "3x3",
		Status:    domain.StallAvailable,
	}
	store.stalls[stallKey{eventID, 4}] = domain.Stall{
		EventID: eventID,
		StallID: 4,
		Price:   8000,
		Status:  domain.StallAvailable,
	}

	notifier := &fakeNotifier{}
	svc := New(store, &fakeInvalidator{}, notifier, nil, clock.NewFixed(testNow), slog.Default(), Config{})

	return svc, store, notifier
}

func stallThreeFees() domain.FeeBreakdown {
	return domain.FeeBreakdown{
		StallPrice:  5000,
		PlatformFee: 250,
		EntryFee:    0,
		GST:         945,
		TotalAmount: 6195,
	}
}

func submitStallThree(t *testing.T, svc *Service) domain.Application {
	t.Helper()

	app, err := svc.Submit(context.Background(), SubmitInput{
		EventID:  eventID,
		VendorID: vendorID,
		StallID:  3,
		Products: []string{"pottery"},
		Fees:     stallThreeFees(),
	}, "")
	require.NoError(t, err)

	return app
}

func approve(t *testing.T, svc *Service, appID uuid.UUID) domain.Application {
	t.Helper()

	app, _, err := svc.Decide(context.Background(), eventID, appID, organizerID, DecisionApproved, "")
	require.NoError(t, err)

	return app
}

func TestSubmit(t *testing.T) {
	svc, store, notifier := newTestService(t)

	app := submitStallThree(t, svc)

	assert.Equal(t, domain.StatusPending, app.Status)
	assert.Equal(t, int64(6195), app.Fees.TotalAmount)
	assert.Equal(t, domain.StallReserved, store.stalls[stallKey{eventID, 3}].Status)
	assert.Equal(t, []string{"application_submitted"}, notifier.kinds)

	history := store.history[app.ID]
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusPending, history[0].Status)
	assert.Equal(t, "vendor:7", history[0].Actor)
}

func TestSubmitStallUnavailable(t *testing.T) {
	svc, store, _ := newTestService(t)

	st := store.stalls[stallKey{eventID, 3}]
	st.Status = domain.StallBlocked
	store.stalls[stallKey{eventID, 3}] = st

	_, err := svc.Submit(context.Background(), SubmitInput{
		EventID:  eventID,
		VendorID: vendorID,
		StallID:  3,
		Products: []string{"pottery"},
		Fees:     stallThreeFees(),
	}, "")
	assert.ErrorIs(t, err, ErrStallUnavailable)
}

func TestSubmitDuplicateRollsBackReservation(t *testing.T) {
	svc, store, _ := newTestService(t)

	submitStallThree(t, svc)

	// Second application for the same event while the first is active.
	_, err := svc.Submit(context.Background(), SubmitInput{
		EventID:  eventID,
		VendorID: vendorID,
		StallID:  4,
		Products: []string{"pottery"},
		Fees: domain.FeeBreakdown{
			StallPrice:  8000,
			PlatformFee: 250,
			GST:         1485,
			TotalAmount: 9735,
		},
	}, "")
	assert.ErrorIs(t, err, ErrDuplicateApplication)

	// The aborted transaction must not leave stall 4 reserved.
	assert.Equal(t, domain.StallAvailable, store.stalls[stallKey{eventID, 4}].Status)
	assert.Equal(t, domain.StallReserved, store.stalls[stallKey{eventID, 3}].Status)
}

func TestSubmitFeeMismatch(t *testing.T) {
	svc, store, _ := newTestService(t)

	tests := []struct {
		name string
		fees domain.FeeBreakdown
	}{
		{"wrong stall price", domain.FeeBreakdown{StallPrice: 4000, PlatformFee: 250, GST: 945, TotalAmount: 5195}},
		{"components do not add up", domain.FeeBreakdown{StallPrice: 5000, PlatformFee: 250, GST: 945, TotalAmount: 6000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), SubmitInput{
				EventID:  eventID,
				VendorID: vendorID,
				StallID:  3,
				Products: []string{"pottery"},
				Fees:     tt.fees,
			}, "")
			assert.ErrorIs(t, err, ErrFeeMismatch)
			assert.Equal(t, domain.StallAvailable, store.stalls[stallKey{eventID, 3}].Status)
		})
	}
}

func TestSubmitEventNotPublished(t *testing.T) {
	svc, store, _ := newTestService(t)

	ev := store.events[eventID]
	ev.Status = domain.EventCompleted
	store.events[eventID] = ev

	_, err := svc.Submit(context.Background(), SubmitInput{
		EventID:  eventID,
		VendorID: vendorID,
		StallID:  3,
		Products: []string{"pottery"},
		Fees:     stallThreeFees(),
	}, "")
	assert.ErrorIs(t, err, ErrEventNotPublished)
}

func TestDecideApprove(t *testing.T) {
	svc, store, notifier := newTestService(t)

	app := submitStallThree(t, svc)

	decided, stallStatus, err := svc.Decide(context.Background(), eventID, app.ID, organizerID, DecisionApproved, "looks good")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPaymentPending, decided.Status)
	require.NotNil(t, decided.PaymentDeadline)
	assert.Equal(t, testNow.Add(24*time.Hour), *decided.PaymentDeadline)
	assert.Equal(t, domain.StallReserved, stallStatus)
	assert.Equal(t, domain.StallReserved, store.stalls[stallKey{eventID, 3}].Status)
	assert.Equal(t, []string{"application_submitted", "application_approved"}, notifier.kinds)
}

func TestDecideReject(t *testing.T) {
	svc, store, _ := newTestService(t)

	app := submitStallThree(t, svc)

	decided, stallStatus, err := svc.Decide(context.Background(), eventID, app.ID, organizerID, DecisionRejected, "category full")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusRejected, decided.Status)
	assert.Equal(t, domain.StallAvailable, stallStatus)
	assert.Equal(t, domain.StallAvailable, store.stalls[stallKey{eventID, 3}].Status)

	history := store.history[app.ID]
	require.Len(t, history, 2)
	assert.Equal(t, "organizer:10", history[1].Actor)
	assert.Equal(t, "category full", history[1].Reason)
}

func TestDecideNotOrganizer(t *testing.T) {
	svc, _, _ := newTestService(t)

	app := submitStallThree(t, svc)

	_, _, err := svc.Decide(context.Background(), eventID, app.ID, int64(99), DecisionApproved, "")
	assert.ErrorIs(t, err, ErrNotOrganizer)
}

func TestDecideTwice(t *testing.T) {
	svc, _, _ := newTestService(t)

	app := submitStallThree(t, svc)
	approve(t, svc, app.ID)

	_, _, err := svc.Decide(context.Background(), eventID, app.ID, organizerID, DecisionRejected, "")
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestDecideApproveStallStateChanged(t *testing.T) {
	svc, store, _ := newTestService(t)

	app := submitStallThree(t, svc)

	// Stall got blocked by an operator while the application sat pending.
	st := store.stalls[stallKey{eventID, 3}]
	st.Status = domain.StallBlocked
	store.stalls[stallKey{eventID, 3}] = st

	_, _, err := svc.Decide(context.Background(), eventID, app.ID, organizerID, DecisionApproved, "")
	assert.ErrorIs(t, err, ErrStallStateChanged)

	// The application stays pending for a later retry or reject.
	got, err := store.GetApplicationForUpdate(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestRecordPaymentResultSuccess(t *testing.T) {
	svc, store, notifier := newTestService(t)

	app := submitStallThree(t, svc)
	approve(t, svc, app.ID)
	store.setGatewayOrder(app.ID, "order_123")

	res := PaymentResult{
		OrderRef:       "order_123",
		Success:        true,
		PaymentRef:     "pay_456",
		AmountCaptured: 6195,
	}

	got, err := svc.RecordPaymentResult(context.Background(), res)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPaymentCompleted, got.Status)
	assert.Equal(t, "pay_456", got.Payment.PaymentRef)
	assert.Equal(t, int64(6195), got.Payment.AmountCaptured)
	require.NotNil(t, got.Payment.PaidAt)
	assert.Equal(t, domain.StallBooked, store.stalls[stallKey{eventID, 3}].Status)
	assert.Contains(t, notifier.kinds, "payment_completed")

	// Duplicate callback delivery: same stored application back, nothing
	// mutated, still exactly one completion entry in the history.
	again, err := svc.RecordPaymentResult(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	var completions int
	for _, h := range store.history[app.ID] {
		if h.Status == domain.StatusPaymentCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestRecordPaymentResultFailure(t *testing.T) {
	svc, store, _ := newTestService(t)

	app := submitStallThree(t, svc)
	approve(t, svc, app.ID)
	store.setGatewayOrder(app.ID, "order_123")

	got, err := svc.RecordPaymentResult(context.Background(), PaymentResult{
		OrderRef:      "order_123",
		Success:       false,
		PaymentRef:    "pay_456",
		FailureReason: "payment not captured: failed",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPaymentFailed, got.Status)
	assert.Zero(t, got.Payment.AmountCaptured)
	assert.Nil(t, got.Payment.PaidAt)
	assert.Equal(t, domain.StallAvailable, store.stalls[stallKey{eventID, 3}].Status)
}

func TestRecordPaymentResultUnknownOrder(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.RecordPaymentResult(context.Background(), PaymentResult{OrderRef: "order_nope", Success: true})
	assert.ErrorIs(t, err, ErrApplicationNotFound)
}

func TestCancel(t *testing.T) {
	svc, store, _ := newTestService(t)

	app := submitStallThree(t, svc)

	got, err := svc.Cancel(context.Background(), app.ID, vendorID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.StallAvailable, store.stalls[stallKey{eventID, 3}].Status)
}

func TestCancelNotOwner(t *testing.T) {
	svc, _, _ := newTestService(t)

	app := submitStallThree(t, svc)

	_, err := svc.Cancel(context.Background(), app.ID, int64(99))
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestCancelSettled(t *testing.T) {
	svc, store, _ := newTestService(t)

	app := submitStallThree(t, svc)
	approve(t, svc, app.ID)
	store.setGatewayOrder(app.ID, "order_123")

	_, err := svc.RecordPaymentResult(context.Background(), PaymentResult{
		OrderRef: "order_123", Success: true, PaymentRef: "pay_456", AmountCaptured: 6195,
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), app.ID, vendorID)
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestReclaimExpired(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}

	store.events[eventID] = domain.Event{
		ID: eventID, OrganizerID: organizerID, Status: domain.EventPublished,
		Starts: testNow.Add(30 * 24 * time.Hour), Ends: testNow.Add(33 * 24 * time.Hour),
	}
	store.stalls[stallKey{eventID, 3}] = domain.Stall{
		EventID: eventID, StallID: 3, Price: 5000, Status: domain.StallAvailable,
	}

	// Submit and approve with a clock one day in the past, so the 24h
	// payment window has lapsed by testNow.
	earlier := New(store, &fakeInvalidator{}, notifier, nil, clock.NewFixed(testNow.Add(-25*time.Hour)), slog.Default(), Config{})

	app, err := earlier.Submit(context.Background(), SubmitInput{
		EventID: eventID, VendorID: vendorID, StallID: 3,
		Products: []string{"pottery"}, Fees: stallThreeFees(),
	}, "")
	require.NoError(t, err)
	_, _, err = earlier.Decide(context.Background(), eventID, app.ID, organizerID, DecisionApproved, "")
	require.NoError(t, err)

	svc := New(store, &fakeInvalidator{}, notifier, nil, clock.NewFixed(testNow), slog.Default(), Config{})

	reclaimed, err := svc.ReclaimExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	got, err := store.GetApplicationForUpdate(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
	assert.Equal(t, domain.StallAvailable, store.stalls[stallKey{eventID, 3}].Status)
	assert.Contains(t, notifier.kinds, "application_expired")

	// A second pass finds nothing.
	reclaimed, err = svc.ReclaimExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	// The stall is free again and the old application no longer counts as
	// active, so a fresh submission succeeds.
	fresh, err := svc.Submit(context.Background(), SubmitInput{
		EventID: eventID, VendorID: vendorID, StallID: 3,
		Products: []string{"pottery"}, Fees: stallThreeFees(),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, fresh.Status)
}

func TestReclaimExpiredSkipsSettled(t *testing.T) {
	svc, store, _ := newTestService(t)

	app := submitStallThree(t, svc)
	approve(t, svc, app.ID)
	store.setGatewayOrder(app.ID, "order_123")

	// Payment landed; even a deadline in the past must not expire it.
	_, err := svc.RecordPaymentResult(context.Background(), PaymentResult{
		OrderRef: "order_123", Success: true, PaymentRef: "pay_456", AmountCaptured: 6195,
	})
	require.NoError(t, err)

	late := New(store, &fakeInvalidator{}, &fakeNotifier{}, nil, clock.NewFixed(testNow.Add(48*time.Hour)), slog.Default(), Config{})

	reclaimed, err := late.ReclaimExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	got, err := store.GetApplicationForUpdate(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentCompleted, got.Status)
	assert.Equal(t, domain.StallBooked, store.stalls[stallKey{eventID, 3}].Status)
}

func TestSubmitUnknownEvent(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), SubmitInput{
		EventID: 42, VendorID: vendorID, StallID: 3,
		Products: []string{"pottery"}, Fees: stallThreeFees(),
	}, "")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestDecideWrongEvent(t *testing.T) {
	svc, store, _ := newTestService(t)

	store.events[2] = domain.Event{
		ID: 2, OrganizerID: organizerID, Status: domain.EventPublished,
		Starts: testNow.Add(time.Hour), Ends: testNow.Add(2 * time.Hour),
	}

	app := submitStallThree(t, svc)

	_, _, err := svc.Decide(context.Background(), int64(2), app.ID, organizerID, DecisionApproved, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrApplicationNotFound))
}
