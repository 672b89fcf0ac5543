package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lastmin-booking/internal/model"
	"github.com/iliyamo/lastmin-booking/internal/payment"
)

type reconcilerFixture struct {
	store    *memStore
	gateway  *fakeGateway
	dispatch *recordingDispatcher
	feed     *recordingFeed
	hook     *test.Hook
	r        *Reconciler
}

func newFixture() *reconcilerFixture {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f := &reconcilerFixture{
		store: newMemStore(),
		gateway: &fakeGateway{
			sessions: make(map[string]*payment.CheckoutSession),
			intents:  make(map[string]*payment.PaymentIntent),
		},
		dispatch: &recordingDispatcher{},
		feed:     &recordingFeed{},
		hook:     hook,
	}
	f.r = NewReconciler(f.store, f.store, f.gateway, f.dispatch, f.feed, logger)
	return f
}

func TestReconcileCreatesBooking(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 5, 2000))

	res, err := f.r.Reconcile(context.Background(), Payment{PaymentIntentID: "pi_1", Metadata: meta("act-1", "3", "u1")})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.BookingID)

	b, err := f.store.GetByPaymentIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, res.BookingID, b.ID)
	assert.Equal(t, "u1", b.UserID)
	assert.Equal(t, "prov-1", b.ProviderID)
	assert.Equal(t, int64(2000), b.PricePerSpotCents)
	assert.Equal(t, int64(6000), b.TotalPriceCents)
	assert.Equal(t, model.PaymentPaid, b.PaymentStatus)
	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Len(t, b.QRCode, 32)
	assert.False(t, b.CheckedIn)

	a := f.store.activity("act-1")
	assert.Equal(t, 2, a.AvailableSpots)
	assert.Equal(t, model.ActivityActive, a.Status)

	assert.Equal(t, []string{res.BookingID}, f.dispatch.enqueued())
	require.Len(t, f.feed.changes, 1)
	assert.Equal(t, Change{Type: ChangeInsert, BookingID: res.BookingID, UserID: "u1"}, f.feed.changes[0])
}

func TestReconcileIsIdempotentSequentially(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 5, 2000))
	p := Payment{PaymentIntentID: "pi_1", Metadata: meta("act-1", "1", "u1")}

	first, err := f.r.Reconcile(context.Background(), p)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := f.r.Reconcile(context.Background(), p)
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, first.BookingID, again.BookingID)
	}
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 4, f.store.activity("act-1").AvailableSpots)
	assert.Len(t, f.dispatch.enqueued(), 1)
}

func TestReconcileIsIdempotentConcurrently(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 50, 1500))
	p := Payment{PaymentIntentID: "pi_same", Metadata: meta("act-1", "2", "u1")}

	const n = 20
	results := make([]Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.r.Reconcile(context.Background(), p)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].BookingID, results[i].BookingID)
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 48, f.store.activity("act-1").AvailableSpots)
}

func TestReconcileLosingInsertRaceReturnsWinner(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 5, 1000))
	winner := &model.Booking{ID: "winner", UserID: "u1", ActivityID: "act-1", NumberOfSpots: 1, PaymentIntentID: "pi_1"}
	f.store.beforeCreate = func() {
		f.store.beforeCreate = nil
		require.NoError(t, f.store.CreateWithInventory(context.Background(), winner))
	}

	res, err := f.r.Reconcile(context.Background(), Payment{PaymentIntentID: "pi_1", Metadata: meta("act-1", "1", "u1")})
	require.NoError(t, err)
	assert.Equal(t, Result{BookingID: "winner", Created: false}, res)
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 4, f.store.activity("act-1").AvailableSpots)
	assert.Empty(t, f.dispatch.enqueued())
}

func TestReconcileLastSpotRace(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 1, 1000))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.r.Reconcile(context.Background(),
				Payment{PaymentIntentID: fmt.Sprintf("pi_%d", i), Metadata: meta("act-1", "1", "u1")})
		}(i)
	}
	wg.Wait()

	ok, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientSpots):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	a := f.store.activity("act-1")
	assert.Equal(t, 0, a.AvailableSpots)
	assert.Equal(t, model.ActivitySoldOut, a.Status)
}

func TestReconcileNeverOversells(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 7, 1000))

	var wg sync.WaitGroup
	var mu sync.Mutex
	booked := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			spots := 1 + i%3
			_, err := f.r.Reconcile(context.Background(), Payment{
				PaymentIntentID: fmt.Sprintf("pi_%d", i),
				Metadata:        meta("act-1", fmt.Sprint(spots), "u1"),
			})
			if err == nil {
				mu.Lock()
				booked += spots
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientSpots)
			}
		}(i)
	}
	wg.Wait()

	a := f.store.activity("act-1")
	assert.LessOrEqual(t, booked, 7)
	assert.GreaterOrEqual(t, a.AvailableSpots, 0)
	assert.Equal(t, 7-booked, a.AvailableSpots)
}

func TestReconcileSoldOutOnlyAtZero(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 3, 1000))

	_, err := f.r.Reconcile(context.Background(), Payment{PaymentIntentID: "pi_1", Metadata: meta("act-1", "2", "u1")})
	require.NoError(t, err)
	assert.Equal(t, model.ActivityActive, f.store.activity("act-1").Status)

	_, err = f.r.Reconcile(context.Background(), Payment{PaymentIntentID: "pi_2", Metadata: meta("act-1", "1", "u2")})
	require.NoError(t, err)
	a := f.store.activity("act-1")
	assert.Equal(t, 0, a.AvailableSpots)
	assert.Equal(t, model.ActivitySoldOut, a.Status)
}

func TestReconcilePriceIsSnapshot(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 10, 2000))

	_, err := f.r.Reconcile(context.Background(), Payment{PaymentIntentID: "pi_1", Metadata: meta("act-1", "3", "u1")})
	require.NoError(t, err)

	f.store.mu.Lock()
	f.store.activities["act-1"].DiscountPriceCents = 500
	f.store.mu.Unlock()

	b, err := f.store.GetByPaymentIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), b.PricePerSpotCents)
	assert.Equal(t, int64(6000), b.TotalPriceCents)
}

func TestReconcileRejections(t *testing.T) {
	cases := []struct {
		name string
		p    Payment
		want error
	}{
		{"missing reference", Payment{Metadata: meta("act-1", "1", "u1")}, ErrMissingPaymentReference},
		{"missing activity id", Payment{PaymentIntentID: "pi", Metadata: meta("", "1", "u1")}, ErrInvalidMetadata},
		{"missing user", Payment{PaymentIntentID: "pi", Metadata: meta("act-1", "1", "")}, ErrInvalidMetadata},
		{"spots not a number", Payment{PaymentIntentID: "pi", Metadata: meta("act-1", "two", "u1")}, ErrInvalidMetadata},
		{"zero spots", Payment{PaymentIntentID: "pi", Metadata: meta("act-1", "0", "u1")}, ErrInvalidMetadata},
		{"nil metadata", Payment{PaymentIntentID: "pi"}, ErrInvalidMetadata},
		{"other user's payment", Payment{PaymentIntentID: "pi", Metadata: meta("act-1", "1", "U1"), CallerID: "U2"}, ErrForbidden},
		{"unknown activity", Payment{PaymentIntentID: "pi", Metadata: meta("nope", "1", "u1")}, ErrActivityNotFound},
		{"too many spots", Payment{PaymentIntentID: "pi", Metadata: meta("act-1", "3", "u1")}, ErrInsufficientSpots},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture()
			f.store.addActivity(testActivity("act-1", 2, 1000))

			_, err := f.r.Reconcile(context.Background(), c.p)
			assert.ErrorIs(t, err, c.want)
			assert.Equal(t, 0, f.store.count())
			assert.Equal(t, 2, f.store.activity("act-1").AvailableSpots)
			assert.Empty(t, f.dispatch.enqueued())
		})
	}
}

func TestReconcileExistingBookingSkipsOwnershipCheck(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 2, 1000))
	first, err := f.r.Reconcile(context.Background(), Payment{PaymentIntentID: "pi_1", Metadata: meta("act-1", "1", "u1")})
	require.NoError(t, err)

	// Duplicate triggers short-circuit before metadata is looked at.
	again, err := f.r.Reconcile(context.Background(), Payment{PaymentIntentID: "pi_1"})
	require.NoError(t, err)
	assert.Equal(t, Result{BookingID: first.BookingID}, again)
}

func TestSyncSession(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 4, 1000))
	f.gateway.sessions["cs_paid"] = &payment.CheckoutSession{
		ID: "cs_paid", Status: "complete", PaymentStatus: "paid", PaymentIntentID: "pi_1", Metadata: meta("act-1", "2", "u1"),
	}
	f.gateway.sessions["cs_unpaid"] = &payment.CheckoutSession{
		ID: "cs_unpaid", Status: "open", PaymentStatus: "unpaid", Metadata: meta("act-1", "2", "u1"),
	}
	f.gateway.sessions["cs_nopi"] = &payment.CheckoutSession{
		ID: "cs_nopi", Status: "complete", PaymentStatus: "paid", Metadata: meta("act-1", "2", "u1"),
	}

	res, err := f.r.SyncSession(context.Background(), "cs_paid", "u1")
	require.NoError(t, err)
	assert.True(t, res.Created)

	_, err = f.r.SyncSession(context.Background(), "cs_unpaid", "u1")
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)

	_, err = f.r.SyncSession(context.Background(), "cs_nopi", "u1")
	assert.ErrorIs(t, err, ErrMissingPaymentReference)

	_, err = f.r.SyncSession(context.Background(), "", "u1")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.r.SyncSession(context.Background(), "cs_typo", "u1")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.NotErrorIs(t, err, ErrUpstreamGateway)

	f.gateway.err = errors.New("timeout")
	_, err = f.r.SyncSession(context.Background(), "cs_paid", "u1")
	assert.ErrorIs(t, err, ErrUpstreamGateway)

	assert.Equal(t, 1, f.store.count())
}

func TestSyncIntent(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 4, 1000))
	f.gateway.intents["pi_ok"] = &payment.PaymentIntent{ID: "pi_ok", Status: "succeeded", Metadata: meta("act-1", "1", "U1")}
	f.gateway.intents["pi_pending"] = &payment.PaymentIntent{ID: "pi_pending", Status: "processing", Metadata: meta("act-1", "1", "U1")}

	_, err := f.r.SyncIntent(context.Background(), "pi_ok", "U2")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, f.store.count())
	assert.Equal(t, 4, f.store.activity("act-1").AvailableSpots)

	_, err = f.r.SyncIntent(context.Background(), "pi_pending", "U1")
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)

	res, err := f.r.SyncIntent(context.Background(), "pi_ok", "U1")
	require.NoError(t, err)
	assert.True(t, res.Created)

	_, err = f.r.SyncIntent(context.Background(), "", "U1")
	assert.ErrorIs(t, err, ErrMissingPaymentReference)

	_, err = f.r.SyncIntent(context.Background(), "pi_someone_elses_account", "U1")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	f.gateway.err = errors.New("connection reset")
	_, err = f.r.SyncIntent(context.Background(), "pi_ok", "U1")
	assert.ErrorIs(t, err, ErrUpstreamGateway)
}

func TestHandleEventCheckoutCompletedTwice(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 4, 1000))
	ev := &payment.Event{
		ID:   "evt_1",
		Type: payment.EventCheckoutCompleted,
		Session: &payment.CheckoutSession{
			ID: "cs_1", Status: "complete", PaymentStatus: "paid", PaymentIntentID: "pi_1", Metadata: meta("act-1", "1", "u1"),
		},
		Verified: true,
	}

	first, err := f.r.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := f.r.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.BookingID, second.BookingID)
	assert.Equal(t, 1, f.store.count())
}

func TestHandleEventPaymentStatus(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 4, 1000))
	_, err := f.r.Reconcile(context.Background(), Payment{PaymentIntentID: "pi_1", Metadata: meta("act-1", "1", "u1")})
	require.NoError(t, err)

	_, err = f.r.HandleEvent(context.Background(), &payment.Event{
		Type:   payment.EventIntentFailed,
		Intent: &payment.PaymentIntent{ID: "pi_1", Metadata: meta("act-1", "1", "u1")},
	})
	require.NoError(t, err)
	b, _ := f.store.GetByPaymentIntentID(context.Background(), "pi_1")
	assert.Equal(t, model.PaymentFailed, b.PaymentStatus)
	assert.Equal(t, Change{Type: ChangeUpdate, UserID: "u1"}, f.feed.changes[len(f.feed.changes)-1])

	_, err = f.r.HandleEvent(context.Background(), &payment.Event{
		Type:   payment.EventIntentSucceeded,
		Intent: &payment.PaymentIntent{ID: "pi_1"},
	})
	require.NoError(t, err)
	b, _ = f.store.GetByPaymentIntentID(context.Background(), "pi_1")
	assert.Equal(t, model.PaymentPaid, b.PaymentStatus)

	// Status events never create bookings.
	_, err = f.r.HandleEvent(context.Background(), &payment.Event{
		Type:   payment.EventIntentSucceeded,
		Intent: &payment.PaymentIntent{ID: "pi_unknown", Metadata: meta("act-1", "1", "u1")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.count())
}

func TestHandleEventIgnoresUnknownTypes(t *testing.T) {
	f := newFixture()
	res, err := f.r.HandleEvent(context.Background(), &payment.Event{Type: "customer.created", Verified: true})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestHandleEventLogsUnsignedEvents(t *testing.T) {
	f := newFixture()
	_, err := f.r.HandleEvent(context.Background(), &payment.Event{ID: "evt_x", Type: "customer.created"})
	require.NoError(t, err)

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "processing unsigned webhook event" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestHandleEventUnpaidSession(t *testing.T) {
	f := newFixture()
	f.store.addActivity(testActivity("act-1", 4, 1000))
	_, err := f.r.HandleEvent(context.Background(), &payment.Event{
		Type:    payment.EventCheckoutCompleted,
		Session: &payment.CheckoutSession{Status: "complete", PaymentStatus: "unpaid", PaymentIntentID: "pi_1", Metadata: meta("act-1", "1", "u1")},
	})
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, 0, f.store.count())
}

func TestReconcileSucceedsWhenNotificationFails(t *testing.T) {
	store := newMemStore()
	store.addActivity(testActivity("act-1", 4, 1000))
	store.profiles["u1"] = &model.Profile{ID: "u1", Email: "u1@example.com"}

	logger, hook := test.NewNullLogger()
	mailer := &fakeMailer{configured: true, err: errors.New("smtp down")}
	dispatcher := NewInlineDispatcher(NewNotifier(store, mailer, "", "EUR", logger))
	r := NewReconciler(store, store, &fakeGateway{}, dispatcher, nil, logger)

	res, err := r.Reconcile(context.Background(), Payment{PaymentIntentID: "pi_1", Metadata: meta("act-1", "1", "u1")})
	require.NoError(t, err)
	assert.True(t, res.Created)
	dispatcher.Wait()

	_, err = store.GetByPaymentIntentID(context.Background(), "pi_1")
	require.NoError(t, err)

	failures := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "booking notification failed" {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}
