// Package main запускает HTTP-сервер сервиса paytapper.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Stan7771213/paytapper-sub000/internal/config"
	"github.com/Stan7771213/paytapper-sub000/internal/handler"
	"github.com/Stan7771213/paytapper-sub000/internal/metrics"
	"github.com/Stan7771213/paytapper-sub000/internal/middleware"
	"github.com/Stan7771213/paytapper-sub000/internal/notify"
	"github.com/Stan7771213/paytapper-sub000/internal/provider"
	"github.com/Stan7771213/paytapper-sub000/internal/repository"
	"github.com/Stan7771213/paytapper-sub000/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	stripeClient := provider.NewClient(cfg.StripeSecretKey)
	notifier := notify.NewLogNotifier(logger)

	svc := service.NewService(repo, stripeClient, notifier, logger, cfg.PlatformFeePercent, cfg.BaseURL)
	defer svc.Close()

	sessions := middleware.NewSessionManager(cfg.SessionSecret)
	m := metrics.New("paytapper")
	h := handler.NewHandler(svc, logger, sessions, m, cfg.WebhookSecret())

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting paytapper server", "addr", cfg.RunAddress, "mode", cfg.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
