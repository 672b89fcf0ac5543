package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Change types carried by the booking feed.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
)

// Change tells a client that one of its bookings was created or updated;
// clients refetch rather than patching local state.
type Change struct {
	Type      string `json:"type"`
	BookingID string `json:"booking_id,omitempty"`
	UserID    string `json:"user_id"`
}

// Feed fans booking changes out to per-user Redis channels. Without a
// Redis client publishing is a no-op and subscribing fails with
// ErrFeedUnavailable; clients then fall back to polling.
type Feed struct {
	rdb *redis.Client
	log logrus.FieldLogger
}

// NewFeed returns a Feed. rdb may be nil.
func NewFeed(rdb *redis.Client, log logrus.FieldLogger) *Feed {
	return &Feed{rdb: rdb, log: log}
}

func feedChannel(userID string) string { return "bookings:user:" + userID }

// Publish sends c to the user's channel. Failures are logged only.
func (f *Feed) Publish(ctx context.Context, c Change) {
	if f.rdb == nil || c.UserID == "" {
		return
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := f.rdb.Publish(ctx, feedChannel(c.UserID), string(payload)).Err(); err != nil {
		f.log.WithError(err).WithField("user_id", c.UserID).Warn("booking feed publish failed")
	}
}

// Subscribe streams the user's changes until ctx is done or the returned
// close function is called. The channel is closed afterwards.
func (f *Feed) Subscribe(ctx context.Context, userID string) (<-chan Change, func() error, error) {
	if f.rdb == nil {
		return nil, nil, ErrFeedUnavailable
	}
	ps := f.rdb.Subscribe(ctx, feedChannel(userID))
	// Wait for the subscription confirmation so no change published right
	// after this call is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					f.log.WithError(err).Debug("booking feed: dropping undecodable message")
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					_ = ps.Close()
					return
				}
			}
		}
	}()
	return out, ps.Close, nil
}
