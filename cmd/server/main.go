package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lastmin-booking/internal/config"
	"github.com/iliyamo/lastmin-booking/internal/database"
	"github.com/iliyamo/lastmin-booking/internal/handler"
	"github.com/iliyamo/lastmin-booking/internal/mail"
	"github.com/iliyamo/lastmin-booking/internal/middleware"
	"github.com/iliyamo/lastmin-booking/internal/payment"
	"github.com/iliyamo/lastmin-booking/internal/queue"
	"github.com/iliyamo/lastmin-booking/internal/repository"
	"github.com/iliyamo/lastmin-booking/internal/router"
	"github.com/iliyamo/lastmin-booking/internal/service"
)

// dispatcher is the notification dispatcher plus a way to drain it.
type dispatcher interface {
	service.Dispatcher
	Wait()
}

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := config.NewLogger(cfg)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()
	if cfg.Migrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			log.WithError(err).Fatal("migrate database")
		}
		log.Info("schema applied")
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.WithField("addr", cfg.Redis.Address()).Warn("redis unavailable; cache, rate limit and booking feed disabled")
	} else {
		defer rdb.Close()
	}

	gateway := payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	if cfg.StripeSecretKey == "" {
		log.Warn("STRIPE_SECRET_KEY not set; checkout and sync will fail")
	}
	if !gateway.VerifiesWebhooks() && !cfg.IsDev() {
		log.Warn("STRIPE_WEBHOOK_SECRET not set; webhook signatures are not verified")
	}
	mailer := mail.NewResend(cfg.ResendAPIKey, cfg.MailFrom)
	if !mailer.Configured() {
		log.Warn("RESEND_API_KEY not set; confirmation emails are disabled")
	}

	activities := repository.NewActivityRepo(db)
	bookings := repository.NewBookingRepo(db)
	providers := repository.NewProviderRepo(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := service.NewFeed(rdb, log)
	notifier := service.NewNotifier(bookings, mailer, cfg.AppURL, cfg.Currency, log)
	dispatch := newDispatcher(ctx, cfg, notifier, log)

	reconciler := service.NewReconciler(bookings, activities, gateway, dispatch, feed, log)
	checkout := service.NewCheckout(activities, gateway, cfg.AppURL, cfg.Currency)
	desk := service.NewProviderDesk(providers, bookings, feed)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger(log))
	router.RegisterRoutes(e, cfg, rdb, router.Handlers{
		Health:  handler.Health(db),
		Webhook: &handler.WebhookHandler{Parser: gateway, Events: reconciler, Log: log},
		Bookings: &handler.BookingHandler{
			Sync:     reconciler,
			Bookings: bookings,
			Feed:     feed,
			Notifier: notifier,
			Log:      log,
		},
		Catalog:  &handler.CatalogHandler{Activities: activities, Checkout: checkout},
		Provider: &handler.ProviderHandler{Desk: desk},
	}, log)

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	dispatch.Wait()
}

// newDispatcher sends notifications through RabbitMQ when RABBITMQ_URL is
// set and inline otherwise. With the broker, the consumer runs in this
// process unless NOTIFY_WORKER=false.
func newDispatcher(ctx context.Context, cfg config.Config, n *service.Notifier, log logrus.FieldLogger) dispatcher {
	inline := service.NewInlineDispatcher(n)
	if cfg.RabbitURL == "" {
		return inline
	}
	pub := queue.NewPublisher(cfg.RabbitURL, cfg.NotifyQueue, log)
	if cfg.NotifyWorker {
		go queue.StartConsumer(ctx, cfg.RabbitURL, cfg.NotifyQueue, service.HandleJob(n), log)
	}
	log.WithField("queue", cfg.NotifyQueue).Info("notifications dispatched via rabbitmq")
	return service.NewQueueDispatcher(pub, inline, log)
}
