package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lastmin-booking/internal/payment"
	"github.com/iliyamo/lastmin-booking/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookParser verifies and decodes a gateway webhook body.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.Event, error)
}

// EventHandler applies a decoded webhook event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *payment.Event) (service.Result, error)
}

// WebhookHandler receives payment gateway callbacks.
type WebhookHandler struct {
	Parser WebhookParser
	Events EventHandler
	Log    logrus.FieldLogger
}

// Stripe handles POST /webhooks/stripe.  Only unreadable, malformed or
// wrongly signed bodies get a 4xx; once an event is accepted the gateway
// always receives 200 whatever reconciliation concluded; failures are
// logged.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}

	ev, err := h.Parser.ParseWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		h.Log.WithError(err).Warn("webhook rejected")
		code := "malformed_event"
		if errors.Is(err, payment.ErrInvalidSignature) {
			code = "invalid_signature"
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": code})
	}

	entry := h.Log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type})
	res, err := h.Events.HandleEvent(c.Request().Context(), ev)
	switch {
	case err != nil:
		entry.WithError(err).Error("webhook event not reconciled")
	case res.BookingID != "":
		entry.WithFields(logrus.Fields{"booking_id": res.BookingID, "created": res.Created}).Info("webhook event reconciled")
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
