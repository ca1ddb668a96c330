// Точка входа Auction Module — сервиса управления жизненным циклом аукционов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goauction/auction-module/internal/api/handlers"
	"github.com/bigkaa/goauction/auction-module/internal/api/middleware"
	"github.com/bigkaa/goauction/auction-module/internal/config"
	"github.com/bigkaa/goauction/auction-module/internal/database"
	"github.com/bigkaa/goauction/auction-module/internal/events"
	"github.com/bigkaa/goauction/auction-module/internal/repository"
	"github.com/bigkaa/goauction/auction-module/internal/scheduler"
	"github.com/bigkaa/goauction/auction-module/internal/server"
	"github.com/bigkaa/goauction/auction-module/internal/service"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Auction Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("expiry_bid_policy", cfg.ExpiryBidPolicy),
	)

	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. PostgreSQL: подключение и миграции
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Репозиторий аукционов
	repo := repository.NewAuctionRepository(pool)

	// 3. Публикация событий (NATS, опционально)
	var pub events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		natsPub, natsErr := events.NewNATSPublisher(cfg.NATSURL, logger)
		if natsErr != nil {
			logger.Warn("NATS недоступен, события отключены",
				slog.String("nats_url", cfg.NATSURL),
				slog.String("error", natsErr.Error()),
			)
		} else {
			pub = natsPub
			logger.Info("Публикация событий настроена", slog.String("nats_url", cfg.NATSURL))
		}
	}
	defer pub.Close()

	// 4. Кэш закрытых аукционов
	cache := service.NewClosedCache(cfg.ClosedCacheSize, cfg.ClosedCacheTTL)

	// 5. Планировщик закрытий и сервис жизненного цикла
	sched := scheduler.New(logger)
	auctionSvc := service.NewAuctionService(
		repo,
		sched,
		pub,
		cache,
		service.ExpiryBidPolicy(cfg.ExpiryBidPolicy),
		cfg.SweepPageSize,
		logger,
	)
	sched.Bind(auctionSvc.CloseScheduled)

	// Восстанавливаем задачи закрытия для открытых аукционов:
	// таймеры живут только в памяти и не переживают рестарт.
	restored, err := auctionSvc.RestoreSchedules(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления задач закрытия", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Планировщик инициализирован", slog.Int("restored", restored))

	// 6. Фоновые процессы

	// 6.1 Sweep — восстановительное закрытие истёкших аукционов
	sweepSvc := service.NewSweepService(auctionSvc, cfg.SweepInterval, logger)
	sweepSvc.Start(ctx)

	// 6.2 topologymetrics — мониторинг зависимостей
	sqlDB := stdlib.OpenDBFromPool(pool)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"auction-module",
		cfg.DephealthGroup,
		sqlDB,
		cfg.DatabaseURL(),
		cfg.NATSMonitorURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool))
	apiHandler := handlers.NewAPIHandler(auctionSvc, sweepSvc, healthHandler, logger)

	// 8. Аутентификация участников
	bidderAuth := middleware.NewBidderAuth(cfg.JWTSecret, logger)

	// 9. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, bidderAuth)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	sweepSvc.Stop()
	sched.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Auction Module остановлен")
}
