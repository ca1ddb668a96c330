// auctions.go — сервис жизненного цикла аукционов.
//
// Единственный компонент, которому разрешено мутировать состояние аукциона
// в хранилище. Владеет конечным автоматом open → closed: триггеры закрытия,
// оправданные истечением окна (задача планировщика, lazy close при
// чтении/ставке, recovery sweep), проходят через идемпотентный путь
// closeExpiredWith с проверкой end_time в хранилище, административное
// закрытие — через безусловный closeWith.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goauction/auction-module/internal/domain/bidding"
	"github.com/bigkaa/goauction/auction-module/internal/domain/model"
	"github.com/bigkaa/goauction/auction-module/internal/events"
	"github.com/bigkaa/goauction/auction-module/internal/repository"
	"github.com/bigkaa/goauction/auction-module/internal/scheduler"
)

// ExpiryBidPolicy — политика обработки ставки в момент истечения окна.
type ExpiryBidPolicy string

const (
	// PolicyWin — ставка, принятая в момент now >= endTime, выигрывает
	// и атомарно закрывает аукцион (поведение по умолчанию).
	PolicyWin ExpiryBidPolicy = "win"
	// PolicyReject — ставки принимаются строго до endTime; ставка
	// в момент истечения отклоняется как AUCTION_ENDED.
	PolicyReject ExpiryBidPolicy = "reject"
)

const (
	// maxBidAttempts — лимит повторов conditional update при конфликте версий.
	maxBidAttempts = 5
	// maxUpdateAttempts — лимит повторов административного обновления.
	maxUpdateAttempts = 3
	// readRetries — лимит повторов чтения при транзиентных ошибках хранилища.
	readRetries = 3
	// readRetryDelay — пауза между повторами чтения.
	readRetryDelay = 100 * time.Millisecond
)

// Prometheus метрики жизненного цикла.
var (
	// auctionsCreatedTotal — количество созданных аукционов.
	auctionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "au_auctions_created_total",
		Help: "Общее количество созданных аукционов",
	})

	// bidsAcceptedTotal — количество принятых ставок.
	bidsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "au_bids_accepted_total",
		Help: "Общее количество принятых ставок",
	})

	// bidsRejectedTotal — количество отклонённых ставок по причинам.
	bidsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "au_bids_rejected_total",
		Help: "Общее количество отклонённых ставок",
	}, []string{"reason"})

	// auctionsClosedTotal — количество закрытий по триггерам.
	auctionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "au_auctions_closed_total",
		Help: "Общее количество закрытых аукционов",
	}, []string{"trigger"})
)

// AuctionService — менеджер жизненного цикла аукционов.
type AuctionService struct {
	repo   repository.AuctionRepository
	sched  *scheduler.Scheduler
	pub    events.Publisher
	cache  *ClosedCache
	policy ExpiryBidPolicy
	// pageSize — размер страницы для sweep и восстановления задач
	pageSize int
	logger   *slog.Logger
	// now — источник времени, подменяется в тестах
	now func() time.Time
}

// NewAuctionService создаёт сервис жизненного цикла.
func NewAuctionService(
	repo repository.AuctionRepository,
	sched *scheduler.Scheduler,
	pub events.Publisher,
	cache *ClosedCache,
	policy ExpiryBidPolicy,
	pageSize int,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		repo:     repo,
		sched:    sched,
		pub:      pub,
		cache:    cache,
		policy:   policy,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "auctions")),
		now:      time.Now,
	}
}

// Create валидирует инварианты полей, сохраняет новый открытый аукцион
// и регистрирует задачу закрытия на endTime.
func (s *AuctionService) Create(ctx context.Context, itemName string, startPrice float64, startTime, endTime time.Time) (*model.Auction, error) {
	a := &model.Auction{
		ID:         uuid.NewString(),
		ItemName:   itemName,
		StartTime:  startTime.UTC(),
		EndTime:    endTime.UTC(),
		StartPrice: startPrice,
		CurrentBid: 0,
		Status:     model.StatusOpen,
	}

	if err := a.ValidateNew(s.now()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.sched.Schedule(a.ID, a.EndTime)
	auctionsCreatedTotal.Inc()

	s.logger.Info("аукцион создан",
		slog.String("auction_id", a.ID),
		slog.String("item_name", a.ItemName),
		slog.Time("end_time", a.EndTime),
	)
	return a, nil
}

// GetOpen возвращает открытый аукцион по id.
//
// Если окно записи истекло, а статус всё ещё open (задержка планировщика,
// рестарт процесса, расхождение часов), выполняется lazy close, и вызов
// сообщает ErrAuctionEnded вместе с закрытой записью — устаревшее открытое
// представление наружу не отдаётся. Именно этот путь сохраняет корректность
// состояния при потере задачи планировщика.
func (s *AuctionService) GetOpen(ctx context.Context, id string) (*model.Auction, error) {
	// Закрытый аукцион неизменяем — кэш не может отдать устаревший open.
	if cached, ok := s.cache.Get(id); ok {
		return cached, ErrAuctionEnded
	}

	a, err := s.getWithRetry(ctx, id)
	if err != nil {
		return nil, err
	}

	if a.Status == model.StatusClosed {
		s.cache.Set(a)
		return a, ErrAuctionEnded
	}

	if a.Expired(s.now()) {
		closed, closeErr := s.closeExpiredWith(ctx, id, "lazy")
		switch {
		case closeErr == nil, errors.Is(closeErr, ErrAlreadyClosed):
			return closed, ErrAuctionEnded
		case errors.Is(closeErr, ErrNotExpired):
			// endTime продлили параллельно — запись снова актуальна.
			return closed, nil
		default:
			return nil, closeErr
		}
	}

	return a, nil
}

// ListOpen возвращает открытые аукционы без lazy close по каждому:
// листинг — best-effort представление, устаревание закрывается
// планировщиком или следующим индивидуальным доступом.
func (s *AuctionService) ListOpen(ctx context.Context, limit, offset int) ([]*model.Auction, error) {
	return s.repo.ListByStatus(ctx, model.StatusOpen, limit, offset)
}

// Update применяет частичное обновление полей открытого аукциона.
// При смене endTime старая задача планировщика заменяется новой —
// двух конкурирующих задач для одного аукциона не остаётся.
func (s *AuctionService) Update(ctx context.Context, id string, fields model.UpdateFields) (*model.Auction, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		a, err := s.getWithRetry(ctx, id)
		if err != nil {
			return nil, err
		}

		now := s.now()
		if a.Status == model.StatusClosed {
			return nil, ErrAuctionEnded
		}
		if a.Expired(now) {
			_, closeErr := s.closeExpiredWith(ctx, id, "lazy")
			switch {
			case closeErr == nil, errors.Is(closeErr, ErrAlreadyClosed):
				return nil, ErrAuctionEnded
			case errors.Is(closeErr, ErrNotExpired):
				// Снимок устарел относительно продлённого endTime — перечитываем.
				continue
			default:
				return nil, closeErr
			}
		}

		updated := a.Clone()
		startChanged, endChanged := updated.Apply(fields)
		if err := updated.ValidateUpdated(startChanged, endChanged, now); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}

		err = s.repo.UpdateIfVersion(ctx, updated, a.Version)
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			continue
		case errors.Is(err, repository.ErrAlreadyClosed):
			return nil, ErrAuctionEnded
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case err != nil:
			return nil, err
		}

		if endChanged {
			s.sched.Schedule(updated.ID, updated.EndTime)
			s.logger.Info("задача закрытия перепланирована",
				slog.String("auction_id", updated.ID),
				slog.Time("end_time", updated.EndTime),
			)
		}
		return updated, nil
	}
	return nil, ErrContention
}

// PlaceBid валидирует и атомарно фиксирует ставку.
//
// Conditional update по версии снимка гарантирует, что две параллельные
// ставки не пройдут проверку по одному и тому же currentBid: проигравшая
// попытка перечитывает запись и валидируется заново. Если в момент принятия
// now >= endTime и действует политика win, та же операция атомарно
// закрывает аукцион с победителем-автором ставки — окна, в котором
// выигрышная ставка принята, а аукцион остался открытым, не существует.
func (s *AuctionService) PlaceBid(ctx context.Context, id, bidderID string, amount float64) (*model.Auction, error) {
	for attempt := 0; attempt < maxBidAttempts; attempt++ {
		a, err := s.getWithRetry(ctx, id)
		if err != nil {
			return nil, err
		}

		now := s.now()
		if rej := bidding.Validate(a, amount, now); rej != nil {
			// Просроченная, но всё ещё открытая запись — закрываем попутно.
			if rej.Reason == bidding.ReasonAuctionEnded && a.IsOpen() && a.Expired(now) {
				_, closeErr := s.closeExpiredWith(ctx, id, "lazy")
				if errors.Is(closeErr, ErrNotExpired) {
					// Отклонение основано на устаревшем снимке:
					// endTime продлили параллельно — перечитываем и валидируем заново.
					continue
				}
				if closeErr != nil && !errors.Is(closeErr, ErrAlreadyClosed) {
					s.logger.Warn("lazy close при ставке не удался",
						slog.String("auction_id", id),
						slog.String("error", closeErr.Error()),
					)
				}
			}
			bidsRejectedTotal.WithLabelValues(string(rej.Reason)).Inc()
			return nil, rej
		}

		closeNow := !now.Before(a.EndTime)
		if closeNow && s.policy == PolicyReject {
			rej := &bidding.Rejection{Reason: bidding.ReasonAuctionEnded}
			bidsRejectedTotal.WithLabelValues(string(rej.Reason)).Inc()
			return nil, rej
		}

		updated, err := s.repo.ApplyBid(ctx, a.ID, amount, bidderID, a.Version, closeNow)
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			continue
		case errors.Is(err, repository.ErrAlreadyClosed):
			rej := &bidding.Rejection{Reason: bidding.ReasonAuctionEnded}
			bidsRejectedTotal.WithLabelValues(string(rej.Reason)).Inc()
			return nil, rej
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case err != nil:
			return nil, err
		}

		bidsAcceptedTotal.Inc()
		s.publishBid(ctx, updated, a.CurrentBid)
		s.logger.Info("ставка принята",
			slog.String("auction_id", updated.ID),
			slog.String("bidder_id", bidderID),
			slog.Float64("amount", amount),
		)

		if closeNow {
			// Закрытие произошло внутри того же conditional update.
			s.finishClose(ctx, updated, "bid")
		}
		return updated, nil
	}

	return nil, ErrContention
}

// DeleteByID отменяет ожидающую задачу закрытия и удаляет аукцион.
// Отмена до удаления — иначе повисшая задача могла бы мутировать
// несуществующую или пересозданную запись. Удаление завершённого
// аукциона допустимо и просто стирает историю.
func (s *AuctionService) DeleteByID(ctx context.Context, id string) (*model.Auction, error) {
	s.sched.Cancel(id)

	a, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.cache.Delete(id)
	s.logger.Info("аукцион удалён",
		slog.String("auction_id", id),
		slog.String("status", a.Status),
	)
	return a, nil
}

// Close — закрытие аукциона по id. Идемпотентна: повторный вызов
// возвращает запись и ErrAlreadyClosed, вызывающие трактуют его как успех.
func (s *AuctionService) Close(ctx context.Context, id string) (*model.Auction, error) {
	return s.closeWith(ctx, id, "manual")
}

// CloseScheduled — callback планировщика. Закрытие ограждено проверкой
// end_time в хранилище: устаревшая задача, гонящаяся с продлением endTime,
// не закрывает аукцион, а перепланируется по актуальному end_time.
// Ошибка хранилища здесь только логируется: пропущенное закрытие
// подберёт recovery sweep.
func (s *AuctionService) CloseScheduled(ctx context.Context, id string) {
	a, err := s.closeExpiredWith(ctx, id, "scheduler")
	switch {
	case err == nil, errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrNotExpired):
		s.sched.Schedule(id, a.EndTime)
		s.logger.Info("устаревшая задача закрытия перепланирована по end_time из хранилища",
			slog.String("auction_id", id),
			slog.Time("end_time", a.EndTime),
		)
	default:
		s.logger.Error("закрытие по задаче планировщика не удалось, ожидаем sweep",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// SweepExpired закрывает все открытые аукционы с истёкшим end_time.
// Механизм восстановления при потере in-memory задач планировщика
// (рестарт процесса). Идемпотентен для каждого аукциона за счёт
// guard AlreadyClosed в close. Возвращает количество закрытых.
//
// Выборка постранична: каждое закрытие убирает запись из открытого
// множества, поэтому страницы читаются без offset до исчерпания бэклога.
// Страница без единого продвижения прерывает цикл — зависшие ошибки
// закрытия не зацикливают sweep, их подберёт следующий запуск.
func (s *AuctionService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	closed := 0
	for {
		expired, err := s.repo.FindOpenEndingBefore(ctx, now, s.pageSize)
		if err != nil {
			return closed, fmt.Errorf("ошибка поиска истёкших аукционов: %w", err)
		}
		if len(expired) == 0 {
			return closed, nil
		}

		progressed := false
		for _, a := range expired {
			_, closeErr := s.closeExpiredWith(ctx, a.ID, "sweep")
			switch {
			case closeErr == nil:
				closed++
				progressed = true
			case errors.Is(closeErr, ErrAlreadyClosed),
				errors.Is(closeErr, ErrNotFound),
				errors.Is(closeErr, ErrNotExpired):
				// Параллельный триггер или продление endTime успели раньше —
				// запись уже вне открытого истёкшего множества.
				progressed = true
			default:
				s.logger.Error("sweep: закрытие не удалось",
					slog.String("auction_id", a.ID),
					slog.String("error", closeErr.Error()),
				)
			}
		}

		if len(expired) < s.pageSize || !progressed {
			return closed, nil
		}
	}
}

// RestoreSchedules регистрирует задачи закрытия для всех открытых аукционов
// из хранилища. Вызывается при старте процесса: задачи планировщика живут
// только в памяти. Просроченные аукционы получают немедленное срабатывание.
func (s *AuctionService) RestoreSchedules(ctx context.Context) (int, error) {
	restored := 0
	for offset := 0; ; offset += s.pageSize {
		page, err := s.repo.ListByStatus(ctx, model.StatusOpen, s.pageSize, offset)
		if err != nil {
			return restored, fmt.Errorf("ошибка восстановления задач: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, a := range page {
			s.sched.Schedule(a.ID, a.EndTime)
			restored++
		}
		if len(page) < s.pageSize {
			break
		}
	}

	if restored > 0 {
		s.logger.Info("задачи закрытия восстановлены из хранилища",
			slog.Int("count", restored),
		)
	}
	return restored, nil
}

// closeWith — безусловный переход open → closed. Только для триггеров,
// не привязанных к истечению окна (manual).
func (s *AuctionService) closeWith(ctx context.Context, id, trigger string) (*model.Auction, error) {
	a, err := s.repo.CloseIfOpen(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyClosed) {
			s.cache.Set(a)
			return a, ErrAlreadyClosed
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.finishClose(ctx, a, trigger)
	return a, nil
}

// closeExpiredWith — переход open → closed, ограждённый проверкой end_time
// в том же conditional update. Для триггеров, оправданных истечением окна
// (scheduler, lazy, sweep): продление endTime, гонящееся с таким закрытием,
// выигрывает всегда — хранилище отклоняет закрытие непросроченной записи
// и возвращает её актуальное состояние вместе с ErrNotExpired.
func (s *AuctionService) closeExpiredWith(ctx context.Context, id, trigger string) (*model.Auction, error) {
	a, err := s.repo.CloseIfExpired(ctx, id, s.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyClosed):
			s.cache.Set(a)
			return a, ErrAlreadyClosed
		case errors.Is(err, repository.ErrNotExpired):
			return a, ErrNotExpired
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.finishClose(ctx, a, trigger)
	return a, nil
}

// finishClose — пост-обработка успешного закрытия: кэш, метрика,
// событие завершения, лог.
func (s *AuctionService) finishClose(ctx context.Context, a *model.Auction, trigger string) {
	s.cache.Set(a)
	auctionsClosedTotal.WithLabelValues(trigger).Inc()

	ev := &events.ClosedEvent{
		AuctionID: a.ID,
		Winner:    a.Winner,
		FinalBid:  a.CurrentBid,
		ClosedAt:  a.UpdatedAt,
	}
	if err := s.pub.AuctionClosed(ctx, ev); err != nil {
		s.logger.Warn("событие закрытия не опубликовано",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}

	winner := ""
	if a.Winner != nil {
		winner = *a.Winner
	}
	s.logger.Info("аукцион закрыт",
		slog.String("auction_id", a.ID),
		slog.String("trigger", trigger),
		slog.String("winner", winner),
		slog.Float64("final_bid", a.CurrentBid),
	)
}

// publishBid публикует best-effort событие принятой ставки.
func (s *AuctionService) publishBid(ctx context.Context, a *model.Auction, previousBid float64) {
	bidder := ""
	if a.HighestBidder != nil {
		bidder = *a.HighestBidder
	}
	ev := &events.BidEvent{
		EventID:     uuid.NewString(),
		AuctionID:   a.ID,
		BidderID:    bidder,
		Amount:      a.CurrentBid,
		PreviousBid: previousBid,
		Timestamp:   a.UpdatedAt,
	}
	if err := s.pub.BidAccepted(ctx, ev); err != nil {
		s.logger.Warn("событие ставки не опубликовано",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

// getWithRetry — чтение с ограниченным числом повторов при транзиентных
// ошибках хранилища. NotFound повторов не вызывает.
func (s *AuctionService) getWithRetry(ctx context.Context, id string) (*model.Auction, error) {
	var a *model.Auction
	var err error
	for attempt := 0; attempt < readRetries; attempt++ {
		a, err = s.repo.GetByID(ctx, id)
		if err == nil {
			return a, nil
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(readRetryDelay):
		}
	}
	return nil, err
}
