package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ticket-reserve/config"
	"ticket-reserve/handlers"
	"ticket-reserve/monitoring"
	"ticket-reserve/payments"
	"ticket-reserve/security"
	"ticket-reserve/services"
	"ticket-reserve/store"
	"ticket-reserve/utils"

	_ "ticket-reserve/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
)

func Start() error {
	app := pocketbase.New()

	cfg := config.LoadConfig()

	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var notifier services.Notifier = services.NopNotifier{}
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pnConfig.UUID = cfg.PubNubUserID

		notifier = services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig))
	}

	st := store.NewPocketBase(app)
	monitor := monitoring.New()
	ledger := services.NewLedger(st)
	limiter := security.NewRateLimiter(redisClient, cfg.RateLimitJoins, cfg.RateLimitWindow)
	locks := utils.NewKeyMutex(redisClient, cfg.LockTTL)

	reservation := services.NewReservationService(st, ledger, limiter, locks, notifier, monitor, cfg.OfferDuration)
	expirer := services.NewExpirer(st, reservation, notifier, monitor, locks, cfg.SweepInterval)
	reservation.SetScheduler(expirer)
	purchase := services.NewPurchaseService(st, locks, reservation, expirer, notifier, monitor)

	queueHandler := handlers.NewQueueHandler(reservation, ledger)
	paymentHandler := handlers.NewPaymentHandler(st, purchase, cfg.GatewayHMACKey, cfg.GatewayKeyHash)
	adminHandler := handlers.NewAdminHandler(st, reservation, expirer)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleShutdown(cancel, expirer)

	if cfg.GatewayChannel != "" {
		feed := payments.NewFeed(payments.FeedConfig{
			SubscribeKey: cfg.GatewaySubscribeKey,
			SecretKey:    cfg.GatewaySecretKey,
			CipherKey:    cfg.GatewayCipherKey,
			UserID:       cfg.GatewayUserID,
			Channel:      cfg.GatewayChannel,
		})
		feed.Start(ctx)
		go consumeConfirmations(ctx, feed, st, purchase, monitor)
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		if err := expirer.Start(ctx); err != nil {
			return err
		}

		if cfg.EnableMetrics {
			monitor.StartDepthCollector(st, cfg.DepthPollInterval)
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Queue endpoints
		e.Router.POST("/api/queue/join", queueHandler.JoinQueue).Bind(apis.RequireAuth())
		e.Router.GET("/api/queue/position", queueHandler.GetPosition).Bind(apis.RequireAuth())
		e.Router.GET("/api/events/{eventId}/availability/{ticketTypeId}", queueHandler.GetAvailability)

		// Gateway webhook
		e.Router.POST("/api/payments/confirm", paymentHandler.ConfirmPayment)

		// Admin endpoints
		e.Router.POST("/api/admin/queue/process", adminHandler.ProcessQueue).Bind(apis.RequireSuperuserAuth())
		e.Router.POST("/api/admin/offers/{entryId}/release", adminHandler.ReleaseOffer).Bind(apis.RequireSuperuserAuth())
		e.Router.GET("/api/admin/queue/dashboard", adminHandler.Dashboard).Bind(apis.RequireSuperuserAuth())

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		slog.Info("server routes registered")

		return e.Next()
	})

	return app.Start()
}

// consumeConfirmations finalizes purchases arriving over the gateway's
// realtime feed. The webhook path delivers the same confirmations, so
// failures here only delay finalization until the webhook retry.
func consumeConfirmations(ctx context.Context, feed *payments.Feed, st store.Store, purchase *services.PurchaseService, monitor *monitoring.Monitor) {
	for {
		select {
		case conf := <-feed.Confirmations():
			entry, err := st.FindEntry(conf.BillNumber)
			if err != nil {
				slog.Error("confirmation for unknown entry", "bill_number", conf.BillNumber, "error", err)
				monitor.TrackError("feed_unknown_entry")
				continue
			}

			_, err = purchase.PurchaseTicket(ctx, entry.EventID, entry.UserID, entry.ID,
				services.PaymentInfo{Amount: conf.Amount, Reference: conf.Reference})
			if err != nil {
				slog.Error("feed purchase finalization failed", "entry", entry.ID, "error", err)
				monitor.TrackError("feed_purchase")
				continue
			}

			slog.Info("purchase finalized from feed", "entry", entry.ID, "reference", conf.Reference)

		case <-ctx.Done():
			return
		}
	}
}

func handleShutdown(cancel context.CancelFunc, expirer *services.Expirer) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("shutdown signal received")
	expirer.Stop()
	cancel()
}
