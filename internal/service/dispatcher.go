package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lastmin-booking/internal/queue"
)

// notifyTimeout bounds one detached notification send.
const notifyTimeout = 30 * time.Second

var audiences = []string{queue.AudienceCustomer, queue.AudienceProvider}

// BestEffortNotifier is satisfied by *Notifier.
type BestEffortNotifier interface {
	NotifyBestEffort(ctx context.Context, bookingID, audience string)
}

// InlineDispatcher sends notifications from goroutines in this process.
// The sends are detached from the triggering request's cancellation.
type InlineDispatcher struct {
	notifier BestEffortNotifier
	wg       sync.WaitGroup
}

// NewInlineDispatcher returns a dispatcher sending through n.
func NewInlineDispatcher(n BestEffortNotifier) *InlineDispatcher {
	return &InlineDispatcher{notifier: n}
}

// Enqueue starts one send per audience and returns immediately.
func (d *InlineDispatcher) Enqueue(ctx context.Context, bookingID string) {
	base := context.WithoutCancel(ctx)
	for _, aud := range audiences {
		d.wg.Add(1)
		go func(aud string) {
			defer d.wg.Done()
			sctx, cancel := context.WithTimeout(base, notifyTimeout)
			defer cancel()
			d.notifier.NotifyBestEffort(sctx, bookingID, aud)
		}(aud)
	}
}

// Wait blocks until every started send has finished.
func (d *InlineDispatcher) Wait() { d.wg.Wait() }

// JobPublisher is satisfied by *queue.Publisher.
type JobPublisher interface {
	Publish(ctx context.Context, job queue.NotificationJob) error
}

// QueueDispatcher hands notification jobs to the broker. A job that cannot
// be published is passed to the fallback dispatcher when one is set.
type QueueDispatcher struct {
	pub      JobPublisher
	fallback *InlineDispatcher
	log      logrus.FieldLogger
	wg       sync.WaitGroup
}

// NewQueueDispatcher returns a QueueDispatcher. fallback may be nil.
func NewQueueDispatcher(pub JobPublisher, fallback *InlineDispatcher, log logrus.FieldLogger) *QueueDispatcher {
	return &QueueDispatcher{pub: pub, fallback: fallback, log: log}
}

// Enqueue publishes one job per audience from a goroutine.
func (d *QueueDispatcher) Enqueue(ctx context.Context, bookingID string) {
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		pctx, cancel := context.WithTimeout(base, notifyTimeout)
		defer cancel()

		failed := false
		for _, aud := range audiences {
			job := queue.NotificationJob{BookingID: bookingID, Audience: aud}
			if err := d.pub.Publish(pctx, job); err != nil {
				d.log.WithError(err).WithFields(logrus.Fields{
					"booking_id": bookingID,
					"audience":   aud,
				}).Error("notification job publish failed")
				failed = true
			}
		}
		// The fallback covers both audiences, so a partial failure can send
		// one email twice.
		if failed && d.fallback != nil {
			d.fallback.Enqueue(base, bookingID)
		}
	}()
}

// Wait blocks until in-flight publishes and fallback sends are done.
func (d *QueueDispatcher) Wait() {
	d.wg.Wait()
	if d.fallback != nil {
		d.fallback.Wait()
	}
}

// HandleJob is the queue.Handler the notification worker runs.
func HandleJob(n BestEffortNotifier) queue.Handler {
	return func(ctx context.Context, job queue.NotificationJob) error {
		sctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		n.NotifyBestEffort(sctx, job.BookingID, job.Audience)
		return nil
	}
}
