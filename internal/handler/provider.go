package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lastmin-booking/internal/model"
)

// ProviderDesk is the provider-facing booking service.
type ProviderDesk interface {
	Bookings(ctx context.Context, userID string) ([]model.BookingSummary, error)
	CheckIn(ctx context.Context, userID, qr string) (*model.Booking, error)
}

// ProviderHandler serves provider staff.
type ProviderHandler struct {
	Desk ProviderDesk
}

// ListBookings handles GET /v1/provider/bookings.
func (h *ProviderHandler) ListBookings(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	list, err := h.Desk.Bookings(c.Request().Context(), uid)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": list})
}

// CheckIn handles POST /v1/provider/check-in {qr_code}.
func (h *ProviderHandler) CheckIn(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body struct {
		QRCode string `json:"qr_code"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.Desk.CheckIn(c.Request().Context(), uid, body.QRCode)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": b})
}
