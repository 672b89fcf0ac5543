package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// checkInTokenBytes gives 32 hex characters, within qr_code's column width.
const checkInTokenBytes = 16

// NewCheckInToken returns an opaque, unguessable token printed on a
// booking's QR code.
func NewCheckInToken() (string, error) {
	return randomHex(checkInTokenBytes)
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
