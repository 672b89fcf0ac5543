package service

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"

	"github.com/iliyamo/lastmin-booking/internal/mail"
	"github.com/iliyamo/lastmin-booking/internal/model"
	"github.com/iliyamo/lastmin-booking/internal/queue"
	"github.com/iliyamo/lastmin-booking/internal/repository"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// DetailStore loads the projection a notification is rendered from.
type DetailStore interface {
	GetNotificationDetail(ctx context.Context, bookingID string) (*model.BookingDetail, error)
}

// Notifier sends booking confirmation emails to customers and providers.
type Notifier struct {
	details  DetailStore
	mailer   mail.Mailer
	appURL   string
	currency string
	log      logrus.FieldLogger
}

// NewNotifier returns a Notifier. appURL is used for links back to the
// booking and may be empty.
func NewNotifier(details DetailStore, mailer mail.Mailer, appURL, currency string, log logrus.FieldLogger) *Notifier {
	return &Notifier{
		details:  details,
		mailer:   mailer,
		appURL:   strings.TrimRight(appURL, "/"),
		currency: strings.ToUpper(currency),
		log:      log,
	}
}

// MailConfigured reports whether outbound mail is set up.
func (n *Notifier) MailConfigured() bool { return n.mailer.Configured() }

type emailView struct {
	Title           string
	Schedule        string
	Location        string
	Spots           int
	Total           string
	ProviderName    string
	ProviderContact string
	CustomerName    string
	CustomerEmail   string
	BookingID       string
	CheckInToken    string
	QRImage         template.URL
	BookingURL      string
}

// Notify sends one confirmation email for bookingID to the given audience
// (queue.AudienceCustomer or queue.AudienceProvider). It is a single
// attempt; callers decide whether to log or surface the error. Booking and
// recipient problems are reported ahead of missing mail configuration.
func (n *Notifier) Notify(ctx context.Context, bookingID, audience string) error {
	d, err := n.details.GetNotificationDetail(ctx, bookingID)
	if errors.Is(err, repository.ErrBookingNotFound) {
		return ErrBookingNotFound
	}
	if err != nil {
		return fmt.Errorf("load booking detail: %w", err)
	}

	view := emailView{
		Title:           d.Activity.Title,
		Schedule:        schedule(d.Activity.StartTime, d.Activity.EndTime),
		Location:        d.Activity.Location,
		Spots:           d.Booking.NumberOfSpots,
		Total:           formatMoney(d.Booking.TotalPriceCents, n.currency),
		ProviderName:    d.Provider.Name,
		ProviderContact: d.ProviderContact(),
		CustomerName:    d.Customer.FullName,
		CustomerEmail:   d.Customer.Email,
		BookingID:       d.Booking.ID,
	}

	var to, subject, tmpl string
	switch audience {
	case queue.AudienceCustomer:
		to = d.Customer.Email
		subject = "Booking confirmed: " + d.Activity.Title
		tmpl = "customer.html"
		view.CheckInToken = d.Booking.QRCode
		if img, err := qrDataURI(d.Booking.QRCode); err == nil {
			view.QRImage = img
		} else {
			n.log.WithError(err).WithField("booking_id", bookingID).Warn("qr encode failed")
		}
		if n.appURL != "" {
			view.BookingURL = n.appURL + "/bookings/" + d.Booking.ID
		}
	case queue.AudienceProvider:
		to = d.ProviderContact()
		subject = "New booking: " + d.Activity.Title
		tmpl = "provider.html"
	default:
		return fmt.Errorf("%w: unknown audience %q", ErrInvalidRequest, audience)
	}
	if to == "" {
		return ErrRecipientNotFound
	}
	if !n.mailer.Configured() {
		return ErrMailServiceUnavailable
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, view); err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}

	err = n.mailer.Send(ctx, mail.Message{To: to, Subject: subject, HTML: body.String()})
	if errors.Is(err, mail.ErrNotConfigured) {
		return ErrMailServiceUnavailable
	}
	return err
}

// NotifyBestEffort calls Notify and logs any failure. It never retries.
func (n *Notifier) NotifyBestEffort(ctx context.Context, bookingID, audience string) {
	entry := n.log.WithFields(logrus.Fields{"booking_id": bookingID, "audience": audience})
	if err := n.Notify(ctx, bookingID, audience); err != nil {
		entry.WithError(err).Error("booking notification failed")
		return
	}
	entry.Info("booking notification sent")
}

func qrDataURI(content string) (template.URL, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}

func formatMoney(cents int64, currency string) string {
	s := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if currency != "" {
		s += " " + currency
	}
	return s
}

func schedule(start time.Time, end *time.Time) string {
	const layout = "Mon 2 Jan 2006, 15:04"
	s := start.UTC().Format(layout)
	if end != nil {
		s += " - " + end.UTC().Format("15:04")
	}
	return s + " UTC"
}
