package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lastmin-booking/internal/middleware"
	"github.com/iliyamo/lastmin-booking/internal/model"
	"github.com/iliyamo/lastmin-booking/internal/payment"
	"github.com/iliyamo/lastmin-booking/internal/service"
)

// CheckoutStarter creates checkout sessions and payment intents.
type CheckoutStarter interface {
	Start(ctx context.Context, in service.CheckoutInput) (*payment.CheckoutSession, error)
	StartIntent(ctx context.Context, in service.CheckoutInput) (*payment.PaymentIntent, error)
}

// ActivityReader loads one activity.
type ActivityReader interface {
	GetByID(ctx context.Context, id string) (*model.Activity, error)
}

// CatalogHandler serves activity availability and checkout start.
type CatalogHandler struct {
	Activities ActivityReader
	Checkout   CheckoutStarter
}

// GetActivity handles GET /v1/activities/:id.  Public; responses are
// cached for a few seconds.
func (h *CatalogHandler) GetActivity(c echo.Context) error {
	a, err := h.Activities.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// bindCheckout reads {activity_id, number_of_spots} for the caller.
func bindCheckout(c echo.Context, uid string) (service.CheckoutInput, error) {
	var body struct {
		ActivityID    string `json:"activity_id"`
		NumberOfSpots int    `json:"number_of_spots"`
	}
	if err := c.Bind(&body); err != nil {
		return service.CheckoutInput{}, err
	}
	email, _ := c.Get(middleware.CtxEmail).(string)
	return service.CheckoutInput{
		ActivityID:    body.ActivityID,
		NumberOfSpots: body.NumberOfSpots,
		UserID:        uid,
		Email:         email,
	}, nil
}

// StartCheckout handles POST /v1/checkout {activity_id, number_of_spots}
// and returns the hosted checkout URL.
func (h *CatalogHandler) StartCheckout(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	in, err := bindCheckout(c, uid)
	if err != nil {
		return badRequest(c, "invalid request body")
	}
	cs, err := h.Checkout.Start(c.Request().Context(), in)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"sessionId": cs.ID, "url": cs.URL})
}

// StartIntent handles POST /v1/payments/intent {activity_id,
// number_of_spots} for the embedded payment form. The client secret lets
// the browser confirm the payment; POST /v1/bookings/sync follows.
func (h *CatalogHandler) StartIntent(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	in, err := bindCheckout(c, uid)
	if err != nil {
		return badRequest(c, "invalid request body")
	}
	pi, err := h.Checkout.StartIntent(c.Request().Context(), in)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"client_secret": pi.ClientSecret, "paymentIntentId": pi.ID})
}
