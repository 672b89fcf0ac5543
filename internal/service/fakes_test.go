package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/lastmin-booking/internal/mail"
	"github.com/iliyamo/lastmin-booking/internal/model"
	"github.com/iliyamo/lastmin-booking/internal/payment"
	"github.com/iliyamo/lastmin-booking/internal/repository"
)

// memStore mimics the MySQL store: a unique index on payment_intent_id and
// a conditional decrement applied in the same critical section as the
// insert.
type memStore struct {
	mu         sync.Mutex
	activities map[string]*model.Activity
	bookings   map[string]*model.Booking // by payment intent
	providers  map[string]*model.Provider
	profiles   map[string]*model.Profile

	// beforeCreate runs at the top of CreateWithInventory, outside the lock.
	beforeCreate func()
}

func newMemStore() *memStore {
	return &memStore{
		activities: make(map[string]*model.Activity),
		bookings:   make(map[string]*model.Booking),
		providers:  make(map[string]*model.Provider),
		profiles:   make(map[string]*model.Profile),
	}
}

func (s *memStore) addActivity(a model.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[a.ID] = &a
}

func (s *memStore) activity(id string) model.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.activities[id]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return nil, repository.ErrActivityNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) GetByPaymentIntentID(_ context.Context, pi string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[pi]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) CreateWithInventory(_ context.Context, b *model.Booking) error {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[b.ActivityID]
	if !ok || a.AvailableSpots < b.NumberOfSpots {
		return repository.ErrInsufficientSpots
	}
	if _, dup := s.bookings[b.PaymentIntentID]; dup {
		return repository.ErrDuplicatePaymentRef
	}
	if a.AvailableSpots == b.NumberOfSpots {
		a.Status = model.ActivitySoldOut
	}
	a.AvailableSpots -= b.NumberOfSpots
	cp := *b
	cp.BookedAt = time.Now().UTC()
	s.bookings[b.PaymentIntentID] = &cp
	return nil
}

func (s *memStore) UpdatePaymentStatus(_ context.Context, pi, status string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[pi]
	if !ok {
		return 0, nil
	}
	b.PaymentStatus = status
	return 1, nil
}

func (s *memStore) GetNotificationDetail(_ context.Context, id string) (*model.BookingDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.ID != id {
			continue
		}
		d := &model.BookingDetail{Booking: *b, Activity: *s.activities[b.ActivityID]}
		if p, ok := s.providers[b.ProviderID]; ok {
			d.Provider = *p
			if owner, ok := s.profiles[p.UserID]; ok {
				d.ProviderOwnerEmail = owner.Email
			}
		}
		if c, ok := s.profiles[b.UserID]; ok {
			d.Customer = *c
		}
		return d, nil
	}
	return nil, repository.ErrBookingNotFound
}

type fakeGateway struct {
	sessions map[string]*payment.CheckoutSession
	intents  map[string]*payment.PaymentIntent
	err      error
	created  []payment.CheckoutRequest
	started  []payment.IntentRequest
}

func (g *fakeGateway) RetrieveCheckoutSession(_ context.Context, id string) (*payment.CheckoutSession, error) {
	if g.err != nil {
		return nil, g.err
	}
	cs, ok := g.sessions[id]
	if !ok {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, payment.ErrNotFound)
	}
	return cs, nil
}

func (g *fakeGateway) RetrievePaymentIntent(_ context.Context, id string) (*payment.PaymentIntent, error) {
	if g.err != nil {
		return nil, g.err
	}
	pi, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", id, payment.ErrNotFound)
	}
	return pi, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.created = append(g.created, req)
	return &payment.CheckoutSession{ID: "cs_new", URL: "https://checkout.test/cs_new", Metadata: req.Metadata}, nil
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (*payment.PaymentIntent, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.started = append(g.started, req)
	return &payment.PaymentIntent{ID: "pi_new", Status: "requires_payment_method", ClientSecret: "pi_new_secret", Metadata: req.Metadata}, nil
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Enqueue(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
}

func (d *recordingDispatcher) enqueued() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type recordingFeed struct {
	mu      sync.Mutex
	changes []Change
}

func (f *recordingFeed) Publish(_ context.Context, c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, c)
}

type fakeMailer struct {
	mu         sync.Mutex
	configured bool
	err        error
	sent       []mail.Message
}

func (m *fakeMailer) Configured() bool { return m.configured }

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

func testActivity(id string, spots int, priceCents int64) model.Activity {
	now := time.Now().UTC()
	return model.Activity{
		ID:                 id,
		ProviderID:         "prov-1",
		Title:              "Sunset kayak tour",
		Location:           "Harbour pier 3",
		TotalSpots:         spots,
		AvailableSpots:     spots,
		RegularPriceCents:  priceCents * 2,
		DiscountPriceCents: priceCents,
		BookingDeadline:    now.Add(2 * time.Hour),
		StartTime:          now.Add(3 * time.Hour),
		Status:             model.ActivityActive,
	}
}

func meta(activityID, spots, userID string) map[string]string {
	return map[string]string{
		payment.MetaActivityID:    activityID,
		payment.MetaNumberOfSpots: spots,
		payment.MetaUserID:        userID,
	}
}
