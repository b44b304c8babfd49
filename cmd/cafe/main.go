// Package main запускает HTTP-сервер сервиса заказов кафе.
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

	"github.com/mmeshcher/cafe-order-system/internal/config"
	"github.com/mmeshcher/cafe-order-system/internal/handler"
	"github.com/mmeshcher/cafe-order-system/internal/middleware"
	"github.com/mmeshcher/cafe-order-system/internal/notify"
	"github.com/mmeshcher/cafe-order-system/internal/pricing"
	"github.com/mmeshcher/cafe-order-system/internal/repository"
	"github.com/mmeshcher/cafe-order-system/internal/service"
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

	var publisher notify.Publisher
	if cfg.RedisAddr != "" {
		redisPublisher := notify.NewRedisPublisher(cfg.RedisAddr)
		defer redisPublisher.Close()
		publisher = redisPublisher
	}

	var smsClient *notify.SMSClient
	if cfg.SMSGatewayAddress != "" {
		smsClient = notify.NewSMSClient(cfg.SMSGatewayAddress)
	}

	fanout := notify.NewFanout(repo, publisher, smsClient, logger)

	svc := service.NewService(repo, fanout, pricing.Config{
		PointValueCents: cfg.PointValueCents,
		EarnRatePercent: cfg.EarnRatePercent,
		MaxRedeemPoints: cfg.MaxRedeemPoints,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

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
		sugar.Infow("starting cafe order server", "addr", cfg.RunAddress)
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
