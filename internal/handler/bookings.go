package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lastmin-booking/internal/model"
	"github.com/iliyamo/lastmin-booking/internal/queue"
	"github.com/iliyamo/lastmin-booking/internal/service"
)

// Syncer runs client-initiated reconciliation.
type Syncer interface {
	SyncSession(ctx context.Context, sessionID, callerID string) (service.Result, error)
	SyncIntent(ctx context.Context, paymentIntentID, callerID string) (service.Result, error)
}

// BookingReader lists a customer's own bookings.
type BookingReader interface {
	ListByUser(ctx context.Context, userID string) ([]model.BookingSummary, error)
	GetByIDForUser(ctx context.Context, id, userID string) (*model.BookingSummary, error)
}

// FeedSubscriber streams booking changes for one user.
type FeedSubscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan service.Change, func() error, error)
}

// Notifier sends one confirmation email synchronously.
type Notifier interface {
	Notify(ctx context.Context, bookingID, audience string) error
	MailConfigured() bool
}

// BookingHandler serves the customer booking endpoints: the two sync
// entry points, listing, the change stream and the admin test email.
type BookingHandler struct {
	Sync      Syncer
	Bookings  BookingReader
	Feed      FeedSubscriber
	Notifier  Notifier
	Log       logrus.FieldLogger
	KeepAlive time.Duration // SSE comment interval, 25s when zero
}

type syncResponse struct {
	BookingID string `json:"bookingId"`
	Created   bool   `json:"created"`
	Message   string `json:"message"`
}

func writeSyncResult(c echo.Context, res service.Result) error {
	msg := "Booking already exists"
	if res.Created {
		msg = "Booking created successfully"
	}
	return c.JSON(http.StatusOK, syncResponse{BookingID: res.BookingID, Created: res.Created, Message: msg})
}

// SyncSession handles POST /v1/bookings/sync-session {sessionId}.
func (h *BookingHandler) SyncSession(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.Sync.SyncSession(c.Request().Context(), body.SessionID, uid)
	if err != nil {
		h.Log.WithError(err).WithFields(logrus.Fields{"session_id": body.SessionID, "user_id": uid}).Warn("session sync failed")
		return writeServiceError(c, err)
	}
	return writeSyncResult(c, res)
}

// SyncIntent handles POST /v1/bookings/sync {payment_intent_id}.
func (h *BookingHandler) SyncIntent(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body struct {
		PaymentIntentID string `json:"payment_intent_id"`
		Camel           string `json:"paymentIntentId"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	pi := body.PaymentIntentID
	if pi == "" {
		pi = body.Camel
	}
	res, err := h.Sync.SyncIntent(c.Request().Context(), pi, uid)
	if err != nil {
		h.Log.WithError(err).WithFields(logrus.Fields{"payment_intent_id": pi, "user_id": uid}).Warn("intent sync failed")
		return writeServiceError(c, err)
	}
	return writeSyncResult(c, res)
}

// List handles GET /v1/bookings.  With ?session_id= the session is synced
// first so a booking whose webhook is still in flight shows up right after
// checkout; a failed sync never fails the listing.
func (h *BookingHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	if sid := strings.TrimSpace(c.QueryParam("session_id")); sid != "" {
		if _, err := h.Sync.SyncSession(ctx, sid, uid); err != nil {
			h.Log.WithError(err).WithField("session_id", sid).Info("initial sync did not create a booking")
		}
	}
	list, err := h.Bookings.ListByUser(ctx, uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": list})
}

// Get handles GET /v1/bookings/:id for the caller's own booking.
func (h *BookingHandler) Get(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	b, err := h.Bookings.GetByIDForUser(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Stream handles GET /v1/bookings/stream as server-sent events.  Each
// change is one "booking" event; clients refetch on receipt.
func (h *BookingHandler) Stream(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	changes, closeFeed, err := h.Feed.Subscribe(ctx, uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	defer func() { _ = closeFeed() }()

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ch)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: booking\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

type sendOutcome struct {
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

// TestEmail handles POST /v1/bookings/test-email {bookingId}.  It sends
// both confirmation emails synchronously, bypassing reconciliation, and
// reports each outcome.  Admin only.
func (h *BookingHandler) TestEmail(c echo.Context) error {
	var body struct {
		BookingID string `json:"bookingId"`
	}
	if err := c.Bind(&body); err != nil || strings.TrimSpace(body.BookingID) == "" {
		return badRequest(c, "bookingId is required")
	}

	out := echo.Map{"mail_configured": h.Notifier.MailConfigured()}
	for _, aud := range []string{queue.AudienceCustomer, queue.AudienceProvider} {
		res := sendOutcome{Sent: true}
		if err := h.Notifier.Notify(c.Request().Context(), body.BookingID, aud); err != nil {
			res = sendOutcome{Error: err.Error()}
			h.Log.WithError(err).WithFields(logrus.Fields{"booking_id": body.BookingID, "audience": aud}).Warn("test email failed")
		}
		out[aud] = res
	}
	return c.JSON(http.StatusOK, out)
}
