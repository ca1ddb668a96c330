// Пакет scheduler — планировщик отложенного закрытия аукционов.
//
// Для каждого открытого аукциона держит отменяемый таймер (time.AfterFunc);
// по срабатыванию вызывает close-callback жизненного цикла. Состояние
// планировщика только в памяти: после рестарта процесса задачи
// восстанавливаются из хранилища (RestoreSchedules) и страхуются sweep.
//
// Планировщик — механизм своевременности, а не корректности: потерянная
// задача компенсируется lazy close при чтении и периодическим sweep.
// Дубль срабатывания гасится идемпотентностью close, не планировщиком.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики планировщика.
var (
	// schedulerTasksTotal — количество зарегистрированных задач.
	schedulerTasksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "au_scheduler_tasks_scheduled_total",
		Help: "Общее количество зарегистрированных задач закрытия",
	})

	// schedulerCancelledTotal — количество отменённых задач.
	schedulerCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "au_scheduler_tasks_cancelled_total",
		Help: "Общее количество отменённых задач закрытия",
	})

	// schedulerFiredTotal — количество сработавших задач.
	schedulerFiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "au_scheduler_tasks_fired_total",
		Help: "Общее количество сработавших задач закрытия",
	})

	// schedulerPending — текущее количество ожидающих задач.
	schedulerPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "au_scheduler_tasks_pending",
		Help: "Текущее количество ожидающих задач закрытия",
	})
)

// CloseFunc — callback закрытия аукциона, вызывается при срабатывании задачи.
type CloseFunc func(ctx context.Context, auctionID string)

// task — зарегистрированный таймер с номером поколения. Поколение
// различает срабатывание актуальной задачи и таймера, уже заменённого
// через Schedule: устаревшее срабатывание не должно снимать замену.
type task struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler — отображение auctionID → отменяемый таймер.
// Потокобезопасен. Бизнес-полями аукциона не владеет.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*task
	gen     uint64
	closeFn CloseFunc
	logger  *slog.Logger
	stopped bool
}

// New создаёт планировщик. Callback закрытия привязывается отдельно
// через Bind: сервис жизненного цикла создаётся позже планировщика.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*task),
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Bind привязывает callback закрытия. Вызывается один раз при сборке
// приложения, до Schedule.
func (s *Scheduler) Bind(fn CloseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFn = fn
}

// Schedule регистрирует задачу закрытия аукциона в момент fireAt.
// Существующая задача для того же id заменяется (cancel-then-add),
// поэтому смена endTime никогда не оставляет двух конкурирующих задач.
// fireAt в прошлом означает немедленное срабатывание.
func (s *Scheduler) Schedule(auctionID string, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if old, ok := s.timers[auctionID]; ok {
		old.timer.Stop()
		delete(s.timers, auctionID)
		schedulerPending.Dec()
	}

	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	s.gen++
	gen := s.gen
	s.timers[auctionID] = &task{
		gen: gen,
		timer: time.AfterFunc(delay, func() {
			s.fire(auctionID, gen)
		}),
	}
	schedulerTasksTotal.Inc()
	schedulerPending.Inc()

	s.logger.Debug("задача закрытия зарегистрирована",
		slog.String("auction_id", auctionID),
		slog.Time("fire_at", fireAt),
	)
}

// Cancel снимает задачу для аукциона. No-op, если задачи нет
// (в том числе когда она уже сработала).
func (s *Scheduler) Cancel(auctionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[auctionID]; ok {
		t.timer.Stop()
		delete(s.timers, auctionID)
		schedulerCancelledTotal.Inc()
		schedulerPending.Dec()

		s.logger.Debug("задача закрытия отменена",
			slog.String("auction_id", auctionID),
		)
	}
}

// Pending возвращает количество ожидающих задач.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop отменяет все задачи. Вызывается при остановке приложения.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
		schedulerPending.Dec()
	}
	s.stopped = true
	s.logger.Info("планировщик остановлен")
}

// fire — срабатывание задачи: снимает её из отображения и вызывает
// close-callback. Запись снимается только при совпадении поколения —
// таймер, замещённый параллельным Schedule, не трогает свою замену.
// Отмена, гонящаяся со срабатыванием, разрешается идемпотентностью
// close на стороне жизненного цикла.
func (s *Scheduler) fire(auctionID string, gen uint64) {
	s.mu.Lock()
	if t, ok := s.timers[auctionID]; ok && t.gen == gen {
		delete(s.timers, auctionID)
		schedulerPending.Dec()
	}
	fn := s.closeFn
	s.mu.Unlock()

	schedulerFiredTotal.Inc()

	if fn == nil {
		s.logger.Error("задача сработала без привязанного callback",
			slog.String("auction_id", auctionID),
		)
		return
	}

	s.logger.Debug("задача закрытия сработала",
		slog.String("auction_id", auctionID),
	)
	fn(context.Background(), auctionID)
}
