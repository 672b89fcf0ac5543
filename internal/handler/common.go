// Package handler contains the HTTP handlers. Handlers bind and validate
// input, call a service and translate its sentinel errors into status
// codes in one place (writeServiceError).
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lastmin-booking/internal/middleware"
	"github.com/iliyamo/lastmin-booking/internal/repository"
	"github.com/iliyamo/lastmin-booking/internal/service"
)

// couldNotComplete is shown when a paid booking cannot be honoured.
const couldNotComplete = "booking could not be completed"

var errorTable = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{service.ErrPaymentNotCompleted, http.StatusBadRequest, "payment_not_completed", ""},
	{service.ErrMissingPaymentReference, http.StatusBadRequest, "missing_payment_reference", ""},
	{service.ErrInvalidMetadata, http.StatusBadRequest, "invalid_metadata", ""},
	{service.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", ""},
	{service.ErrForbidden, http.StatusForbidden, "forbidden", ""},
	{service.ErrActivityNotFound, http.StatusNotFound, "activity_not_found", couldNotComplete},
	{service.ErrBookingNotFound, http.StatusNotFound, "booking_not_found", ""},
	{repository.ErrActivityNotFound, http.StatusNotFound, "activity_not_found", ""},
	{repository.ErrBookingNotFound, http.StatusNotFound, "booking_not_found", ""},
	{service.ErrInsufficientSpots, http.StatusConflict, "insufficient_spots", couldNotComplete},
	{service.ErrAlreadyCheckedIn, http.StatusConflict, "already_checked_in", ""},
	{service.ErrBookingClosed, http.StatusConflict, "booking_closed", ""},
	{service.ErrRecipientNotFound, http.StatusUnprocessableEntity, "recipient_not_found", ""},
	{service.ErrUpstreamGateway, http.StatusBadGateway, "upstream_gateway_error", "payment provider unavailable"},
	{service.ErrMailServiceUnavailable, http.StatusServiceUnavailable, "mail_service_unavailable", "Email service not configured"},
	{service.ErrFeedUnavailable, http.StatusServiceUnavailable, "feed_unavailable", ""},
}

// writeServiceError maps err to a status and writes {"error", "message"}.
// Unknown errors become 500 and are returned to echo so the request
// logger records them.
func writeServiceError(c echo.Context, err error) error {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			msg := e.message
			if msg == "" {
				msg = err.Error()
			}
			return c.JSON(e.status, echo.Map{"error": e.code, "message": msg})
		}
	}
	_ = c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "internal error"})
	return err
}

// getUserID returns the authenticated subject stored by JWTAuth.
func getUserID(c echo.Context) (string, error) {
	if s, ok := c.Get(middleware.CtxUserID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("invalid user_id in context")
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": msg})
}
