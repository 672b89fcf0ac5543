// Package service holds the booking workflows: payment reconciliation,
// confirmation notifications, the per-user booking feed, checkout start and
// provider check-in. Handlers translate the errors below into HTTP
// responses; repository and gateway errors never leak past this package
// unwrapped.
package service

import "errors"

var (
	ErrPaymentNotCompleted     = errors.New("payment not completed")
	ErrMissingPaymentReference = errors.New("missing payment reference")
	ErrInvalidMetadata         = errors.New("invalid payment metadata")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrForbidden               = errors.New("forbidden")
	ErrActivityNotFound        = errors.New("activity not found")
	ErrBookingNotFound         = errors.New("booking not found")
	ErrInsufficientSpots       = errors.New("insufficient spots")
	ErrBookingClosed           = errors.New("booking closed")
	ErrAlreadyCheckedIn        = errors.New("already checked in")
	ErrRecipientNotFound       = errors.New("recipient not found")
	ErrMailServiceUnavailable  = errors.New("mail service unavailable")
	ErrUpstreamGateway         = errors.New("payment gateway error")
	ErrFeedUnavailable         = errors.New("booking feed unavailable")
)
