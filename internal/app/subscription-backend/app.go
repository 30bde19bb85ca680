// Package subscriptionbackend собирает основное приложение: хранилище,
// миграции, кэш, очередь уведомлений, реестр провайдеров и HTTP-сервер.
package subscriptionbackend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/tradervault/subscription-backend/internal/cache"
	"github.com/tradervault/subscription-backend/internal/config"
	"github.com/tradervault/subscription-backend/internal/lib/jwt"
	"github.com/tradervault/subscription-backend/internal/lib/plan"
	"github.com/tradervault/subscription-backend/internal/lib/rabbitmq"
	"github.com/tradervault/subscription-backend/internal/migrations"
	"github.com/tradervault/subscription-backend/internal/providers"
	"github.com/tradervault/subscription-backend/internal/services/commission"
	"github.com/tradervault/subscription-backend/internal/services/entitlement"
	"github.com/tradervault/subscription-backend/internal/services/notifier"
	"github.com/tradervault/subscription-backend/internal/services/provisioner"
	"github.com/tradervault/subscription-backend/internal/storage/repository"
)

type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, "./migrations"); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		conn.Close()
		return nil, err
	}

	unsigned, err := cfg.ValidateProviderSecrets()
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	skipVerify := make(map[string]bool, len(unsigned))
	for _, name := range unsigned {
		skipVerify[name] = true
		logger.Warn("webhook signature verification DISABLED for provider, do not use in production",
			slog.String("provider", name), slog.String("env", cfg.Env))
	}
	registry := providers.NewRegistry(cfg.Providers, skipVerify)

	prices := plan.DefaultPrices()
	if len(cfg.PlanPrices) > 0 {
		prices = plan.PriceTable(cfg.PlanPrices)
	}

	notify := notifier.New(ch, logger)
	provision := provisioner.New(db, logger)
	commissions := commission.New(db, prices, cfg.Affiliate.DefaultCommissionRate, logger)
	core := entitlement.New(db, cacheRedis, provision, commissions, notify,
		registry, cfg.AdminEmail, logger)

	jwtMaker := jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, core, commissions, registry, db, jwtMaker)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		conn:   conn,
		ch:     ch,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if cerr := a.ch.Close(); cerr != nil {
			a.logger.Error("failed to close RabbitMQ channel", slog.Any("err", cerr))
		}
		if cerr := a.conn.Close(); cerr != nil {
			a.logger.Error("failed to close RabbitMQ connection", slog.Any("err", cerr))
		}
		a.db.DB.Close()
		return err
	}
}
