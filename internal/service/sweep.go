// sweep.go — фоновый сервис восстановительного закрытия аукционов.
//
// Страховка на случай потери in-memory задач планировщика (рестарт
// процесса, паника горутины): периодически находит открытые аукционы
// с истёкшим end_time и закрывает их через общий идемпотентный путь.
//
// Запускается как горутина с периодическим тикером (AU_SWEEP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики sweep
var (
	// sweepRunsTotal — количество запусков sweep.
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "au_sweep_runs_total",
		Help: "Общее количество запусков восстановительного sweep",
	})

	// sweepClosedTotal — количество аукционов, закрытых sweep.
	sweepClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "au_sweep_closed_total",
		Help: "Общее количество аукционов, закрытых sweep",
	})

	// sweepDurationSeconds — длительность выполнения sweep.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "au_sweep_duration_seconds",
		Help:    "Длительность выполнения sweep в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// SweepResult — результат одного запуска sweep.
type SweepResult struct {
	// ClosedCount — количество закрытых аукционов
	ClosedCount int
	// Errors — была ли ошибка выборки из хранилища
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// SweepService — фоновый сервис восстановительного закрытия.
type SweepService struct {
	auctions *AuctionService
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex // защита от параллельного запуска RunOnce
	running bool       // флаг работы фонового процесса
	cancel  context.CancelFunc
}

// NewSweepService создаёт сервис sweep.
func NewSweepService(auctions *AuctionService, interval time.Duration, logger *slog.Logger) *SweepService {
	return &SweepService{
		auctions: auctions,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweep")),
	}
}

// Start запускает фоновую горутину sweep с периодическим тикером.
// Вызывается один раз при старте приложения.
func (sw *SweepService) Start(ctx context.Context) {
	swCtx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel
	sw.running = true

	go sw.run(swCtx)

	sw.logger.Info("sweep запущен",
		slog.String("interval", sw.interval.String()),
	)
}

// Stop останавливает фоновый процесс sweep.
func (sw *SweepService) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.running = false
	sw.logger.Info("sweep остановлен")
}

// run — основной цикл фоновой горутины.
func (sw *SweepService) run(ctx context.Context) {
	// Первый запуск — сразу после старта: подбираем аукционы,
	// истёкшие пока процесс не работал.
	sw.RunOnce(ctx)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл sweep.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (sw *SweepService) RunOnce(ctx context.Context) *SweepResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	sw.logger.Debug("sweep запуск начат")

	closed, err := sw.auctions.SweepExpired(ctx, time.Now().UTC())
	result.ClosedCount = closed
	if err != nil {
		result.Errors++
		sw.logger.Error("sweep: ошибка выборки истёкших аукционов",
			slog.String("error", err.Error()),
		)
	}

	result.Duration = time.Since(start)

	// Обновляем Prometheus метрики
	sweepRunsTotal.Inc()
	sweepClosedTotal.Add(float64(closed))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	if closed > 0 || result.Errors > 0 {
		sw.logger.Info("sweep завершён",
			slog.Int("closed", result.ClosedCount),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	} else {
		sw.logger.Debug("sweep завершён, истёкших аукционов нет",
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}
