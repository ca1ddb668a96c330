// Пакет server — HTTP-сервер Auction Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goauction/auction-module/internal/api/handlers"
	"github.com/bigkaa/goauction/auction-module/internal/api/middleware"
	"github.com/bigkaa/goauction/auction-module/internal/config"
)

// Server — HTTP-сервер Auction Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
//
// Схема авторизации по маршрутам:
//   - health, metrics — без аутентификации;
//   - чтение аукционов и ставки — JWT участника (Bearer, HS256);
//   - создание, обновление, удаление, закрытие, sweep — Admin-Api-Key.
func New(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler, bidderAuth *middleware.BidderAuth) *Server {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и метрики
	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Get("/metrics", api.GetMetrics)

	adminOnly := middleware.RequireAdminKey(cfg.AdminAPIKey)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/auctions", func(r chi.Router) {
			// Чтение и ставки — для аутентифицированных участников
			r.With(bidderAuth.Middleware()).Get("/", api.ListAuctions)
			r.With(bidderAuth.Middleware()).Get("/{auction_id}", api.GetAuction)
			r.With(bidderAuth.Middleware()).Post("/{auction_id}/bid", api.PlaceBid)

			// Административные операции
			r.With(adminOnly).Post("/", api.CreateAuction)
			r.With(adminOnly).Put("/{auction_id}", api.UpdateAuction)
			r.With(adminOnly).Delete("/{auction_id}", api.DeleteAuction)
			r.With(adminOnly).Post("/{auction_id}/close", api.CloseAuction)
		})

		r.With(adminOnly).Post("/maintenance/sweep", api.Sweep)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
