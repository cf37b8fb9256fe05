package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardforge/storefront/internal/domain/order"
	"github.com/cardforge/storefront/internal/httpapi"
	"github.com/cardforge/storefront/internal/notify"
	"github.com/cardforge/storefront/internal/payme"
	"github.com/cardforge/storefront/internal/promo"
	"github.com/cardforge/storefront/internal/storage/postgres"
	"github.com/cardforge/storefront/pkg/health"
	"github.com/cardforge/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	promoRepo := postgres.NewPromoRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	courierFee, err := decimal.NewFromString(cfg.Delivery.CourierFee)
	if err != nil {
		return errors.Wrap(err, "parse courier fee")
	}
	promoValidator := promo.NewRepoValidator(promoRepo)
	orderService := order.NewService(catalogRepo, promoValidator, orderRepo, order.ServiceConfig{
		CourierFee: courierFee,
	})

	// Settlement notifier: disabled when no bot token is configured.
	var notifier payme.Notifier = payme.NopNotifier{}
	if cfg.Telegram.Token != "" {
		notifier = notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		})
	}

	// Payme settlement surface.
	authenticator := payme.NewAuthenticator(cfg.Payme.Login, cfg.Payme.MerchantKey)
	merchant := payme.NewHandler(orderRepo, paymentRepo, authenticator, notifier)
	checkout := payme.NewBuilder(orderRepo, paymentRepo, payme.CheckoutConfig{
		MerchantID:   cfg.Payme.MerchantID,
		CheckoutHost: cfg.Payme.CheckoutHost,
		CallbackURL:  cfg.Payme.CallbackURL,
		ReturnURL:    cfg.Payme.ReturnURL,
		Debug:        cfg.Payme.Debug,
	})
	reconciler := payme.NewReconciler(orderRepo, paymentRepo, merchant)

	// Customer and back-office surface.
	keyAuth := httpapi.NewAPIKeyAuth(apikeyRepo, []byte(cfg.APIKeyPepper))
	designsHandler := httpapi.NewDesignsHandler(catalogRepo)
	createHandler := httpapi.NewCreateHandler(orderService)
	statusHandler := httpapi.NewStatusHandler(orderRepo, paymentRepo)
	adminHandler := httpapi.NewAdminHandler(orderService, keyAuth)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("POST /payme/merchant", merchant)
	mux.Handle("/payme/callback", reconciler)
	mux.Handle("GET /pay/checkout", checkout)
	mux.Handle("GET /designs", designsHandler)
	mux.Handle("POST /orders", createHandler)
	mux.Handle("GET /orders/{key}", statusHandler)
	mux.Handle("POST /admin/orders/{id}/state", adminHandler)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip: func(r *http.Request) bool {
					// Gateway retries are contractual traffic.
					return strings.HasPrefix(r.URL.Path, "/payme/")
				},
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
