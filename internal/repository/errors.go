// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// booking service to distinguish between different failure scenarios
// without inspecting driver errors. For example, ErrDuplicatePaymentRef
// signals that another caller already created the booking for a payment,
// while ErrInsufficientSpots reports that the conditional inventory
// decrement matched no row.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because of
// conflicting state, such as checking in a booking twice.
var ErrConflict = errors.New("conflict")

var (
	ErrActivityNotFound = errors.New("activity not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrProviderNotFound = errors.New("provider not found")
)

// ErrDuplicatePaymentRef is returned by CreateWithInventory when a booking
// for the same payment_intent_id already exists. The transaction has been
// rolled back, so the inventory decrement did not take effect.
var ErrDuplicatePaymentRef = errors.New("duplicate payment reference")

// ErrInsufficientSpots is returned when the activity has fewer available
// spots than requested at the instant of the decrement.
var ErrInsufficientSpots = errors.New("insufficient spots")

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
