package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goauction/auction-module/internal/domain/bidding"
	"github.com/bigkaa/goauction/auction-module/internal/domain/model"
	"github.com/bigkaa/goauction/auction-module/internal/events"
	"github.com/bigkaa/goauction/auction-module/internal/repository"
	"github.com/bigkaa/goauction/auction-module/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memRepo — in-memory репозиторий с CAS-семантикой conditional update,
// повторяющей SQL-запросы auctionRepo.
type memRepo struct {
	mu   sync.Mutex
	data map[string]*model.Auction

	// beforeApplyBid — hook для имитации конкурирующей ставки,
	// вызывается один раз перед первой попыткой ApplyBid.
	beforeApplyBid func()
	// getErr — если задан, первый GetByID возвращает эту ошибку.
	getErr error
}

func newMemRepo() *memRepo {
	return &memRepo{data: make(map[string]*model.Auction)}
}

func (m *memRepo) Create(_ context.Context, a *model.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Version = 1
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	m.data[a.ID] = a.Clone()
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*model.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		err := m.getErr
		m.getErr = nil
		return nil, err
	}
	a, ok := m.data[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a.Clone(), nil
}

func (m *memRepo) ListByStatus(_ context.Context, status string, limit, offset int) ([]*model.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Auction
	for _, a := range m.data {
		if a.Status == status {
			out = append(out, a.Clone())
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) UpdateIfVersion(_ context.Context, a *model.Auction, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Status != model.StatusOpen {
		return repository.ErrAlreadyClosed
	}
	if cur.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	upd := a.Clone()
	upd.Version = cur.Version + 1
	upd.UpdatedAt = time.Now().UTC()
	m.data[a.ID] = upd
	a.Version = upd.Version
	a.UpdatedAt = upd.UpdatedAt
	return nil
}

func (m *memRepo) ApplyBid(_ context.Context, id string, amount float64, bidder string, expectedVersion int64, close bool) (*model.Auction, error) {
	if m.beforeApplyBid != nil {
		hook := m.beforeApplyBid
		m.beforeApplyBid = nil
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if cur.Status != model.StatusOpen {
		return nil, repository.ErrAlreadyClosed
	}
	if cur.Version != expectedVersion {
		return nil, repository.ErrVersionConflict
	}

	upd := cur.Clone()
	upd.CurrentBid = amount
	upd.HighestBidder = &bidder
	if close {
		upd.Status = model.StatusClosed
		upd.Winner = &bidder
	}
	upd.Version++
	upd.UpdatedAt = time.Now().UTC()
	m.data[id] = upd
	return upd.Clone(), nil
}

func (m *memRepo) CloseIfOpen(_ context.Context, id string) (*model.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if cur.Status != model.StatusOpen {
		return cur.Clone(), repository.ErrAlreadyClosed
	}
	upd := cur.Clone()
	upd.Status = model.StatusClosed
	if upd.HighestBidder != nil {
		w := *upd.HighestBidder
		upd.Winner = &w
	}
	upd.Version++
	upd.UpdatedAt = time.Now().UTC()
	m.data[id] = upd
	return upd.Clone(), nil
}

func (m *memRepo) CloseIfExpired(_ context.Context, id string, now time.Time) (*model.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if cur.Status != model.StatusOpen {
		return cur.Clone(), repository.ErrAlreadyClosed
	}
	if cur.EndTime.After(now) {
		return cur.Clone(), repository.ErrNotExpired
	}
	upd := cur.Clone()
	upd.Status = model.StatusClosed
	if upd.HighestBidder != nil {
		w := *upd.HighestBidder
		upd.Winner = &w
	}
	upd.Version++
	upd.UpdatedAt = time.Now().UTC()
	m.data[id] = upd
	return upd.Clone(), nil
}

func (m *memRepo) Delete(_ context.Context, id string) (*model.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(m.data, id)
	return cur.Clone(), nil
}

func (m *memRepo) FindOpenEndingBefore(_ context.Context, t time.Time, limit int) ([]*model.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Auction
	for _, a := range m.data {
		if a.Status == model.StatusOpen && a.EndTime.Before(t) {
			out = append(out, a.Clone())
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// recordingPublisher — накопитель опубликованных событий.
type recordingPublisher struct {
	mu     sync.Mutex
	closed []*events.ClosedEvent
	bids   []*events.BidEvent
}

func (p *recordingPublisher) AuctionClosed(_ context.Context, ev *events.ClosedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, ev)
	return nil
}

func (p *recordingPublisher) BidAccepted(_ context.Context, ev *events.BidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bids = append(p.bids, ev)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) closedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.closed)
}

func (p *recordingPublisher) bidCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bids)
}

// testEnv — собранный сервис с in-memory зависимостями.
type testEnv struct {
	svc   *AuctionService
	repo  *memRepo
	sched *scheduler.Scheduler
	pub   *recordingPublisher
	now   time.Time
}

func newTestEnv(t *testing.T, policy ExpiryBidPolicy) *testEnv {
	t.Helper()

	repo := newMemRepo()
	sched := scheduler.New(testLogger())
	pub := &recordingPublisher{}
	cache := NewClosedCache(64, time.Minute)

	svc := NewAuctionService(repo, sched, pub, cache, policy, 100, testLogger())
	sched.Bind(svc.CloseScheduled)
	t.Cleanup(sched.Stop)

	env := &testEnv{svc: svc, repo: repo, sched: sched, pub: pub, now: time.Now().UTC()}
	svc.now = func() time.Time { return env.now }
	return env
}

// seedOpen добавляет открытый аукцион напрямую в репозиторий,
// минуя валидацию Create.
func (e *testEnv) seedOpen(id string, start, end time.Time, startPrice, currentBid float64, bidder *string) {
	e.repo.mu.Lock()
	defer e.repo.mu.Unlock()
	e.repo.data[id] = &model.Auction{
		ID:            id,
		ItemName:      "Лот " + id,
		StartTime:     start,
		EndTime:       end,
		StartPrice:    startPrice,
		CurrentBid:    currentBid,
		HighestBidder: bidder,
		Status:        model.StatusOpen,
		Version:       1,
		CreatedAt:     start,
		UpdatedAt:     start,
	}
}

func (e *testEnv) stored(t *testing.T, id string) *model.Auction {
	t.Helper()
	e.repo.mu.Lock()
	defer e.repo.mu.Unlock()
	a, ok := e.repo.data[id]
	if !ok {
		t.Fatalf("аукцион %s отсутствует в репозитории", id)
	}
	return a.Clone()
}

// --- Create ---

func TestCreate_SchedulesClose(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	ctx := context.Background()

	a, err := env.svc.Create(ctx, "Антикварная ваза", 100,
		env.now.Add(time.Hour), env.now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if a.Status != model.StatusOpen {
		t.Errorf("статус: хотели open, получили %s", a.Status)
	}
	if a.CurrentBid != 0 {
		t.Errorf("currentBid нового аукциона: хотели 0, получили %v", a.CurrentBid)
	}
	if env.sched.Pending() != 1 {
		t.Errorf("Pending: хотели 1, получили %d", env.sched.Pending())
	}
	env.stored(t, a.ID)
}

func TestCreate_ValidationRejected(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, "ab", -5, env.now.Add(-time.Hour), env.now.Add(-2*time.Hour))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("хотели ErrValidation, получили %v", err)
	}
	if env.sched.Pending() != 0 {
		t.Errorf("невалидный аукцион зарегистрировал задачу")
	}
}

// --- GetOpen ---

func TestGetOpen_ReturnsOpen(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)

	a, err := env.svc.GetOpen(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetOpen: %v", err)
	}
	if a.Status != model.StatusOpen {
		t.Errorf("статус: хотели open, получили %s", a.Status)
	}
}

func TestGetOpen_NotFound(t *testing.T) {
	env := newTestEnv(t, PolicyWin)

	_, err := env.svc.GetOpen(context.Background(), "нет-такого")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("хотели ErrNotFound, получили %v", err)
	}
}

// Просроченная, но всё ещё открытая запись закрывается при чтении:
// наружу устаревшее открытое состояние не отдаётся.
func TestGetOpen_LazyClosesExpired(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	bidder := "bidder-7"
	env.seedOpen("a1", env.now.Add(-2*time.Hour), env.now.Add(-time.Minute), 100, 250, &bidder)

	a, err := env.svc.GetOpen(context.Background(), "a1")
	if !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("хотели ErrAuctionEnded, получили %v", err)
	}
	if a.Status != model.StatusClosed {
		t.Errorf("статус: хотели closed, получили %s", a.Status)
	}
	if a.Winner == nil || *a.Winner != bidder {
		t.Errorf("победитель: хотели %s, получили %v", bidder, a.Winner)
	}

	stored := env.stored(t, "a1")
	if stored.Status != model.StatusClosed {
		t.Errorf("запись в хранилище не закрыта")
	}
}

func TestGetOpen_ClosedServedFromCache(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-2*time.Hour), env.now.Add(-time.Minute), 100, 0, nil)

	// Первый доступ закрывает и кэширует
	if _, err := env.svc.GetOpen(context.Background(), "a1"); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("хотели ErrAuctionEnded, получили %v", err)
	}

	// Удаляем из хранилища: повторный доступ обслуживается кэшем
	env.repo.mu.Lock()
	delete(env.repo.data, "a1")
	env.repo.mu.Unlock()

	a, err := env.svc.GetOpen(context.Background(), "a1")
	if !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("повторный доступ: хотели ErrAuctionEnded, получили %v", err)
	}
	if a == nil || a.Status != model.StatusClosed {
		t.Error("кэш не вернул закрытую запись")
	}
}

// --- PlaceBid ---

func TestPlaceBid_MonotonicIncrease(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)
	ctx := context.Background()

	a, err := env.svc.PlaceBid(ctx, "a1", "bidder-1", 150)
	if err != nil {
		t.Fatalf("первая ставка: %v", err)
	}
	if a.CurrentBid != 150 || a.HighestBidder == nil || *a.HighestBidder != "bidder-1" {
		t.Errorf("после первой ставки: bid=%v bidder=%v", a.CurrentBid, a.HighestBidder)
	}

	a, err = env.svc.PlaceBid(ctx, "a1", "bidder-2", 200)
	if err != nil {
		t.Fatalf("вторая ставка: %v", err)
	}
	if a.CurrentBid != 200 || *a.HighestBidder != "bidder-2" {
		t.Errorf("после второй ставки: bid=%v bidder=%v", a.CurrentBid, a.HighestBidder)
	}

	// Ставка не выше текущей — отклоняется, состояние не меняется
	_, err = env.svc.PlaceBid(ctx, "a1", "bidder-3", 200)
	var rej *bidding.Rejection
	if !errors.As(err, &rej) || rej.Reason != bidding.ReasonBidTooLow {
		t.Fatalf("хотели BID_TOO_LOW, получили %v", err)
	}

	stored := env.stored(t, "a1")
	if stored.CurrentBid != 200 || *stored.HighestBidder != "bidder-2" {
		t.Errorf("отклонённая ставка изменила состояние: bid=%v", stored.CurrentBid)
	}

	if env.pub.bidCount() != 2 {
		t.Errorf("событий ставок: хотели 2, получили %d", env.pub.bidCount())
	}
}

// Гонка двух ставок: конкурирующая ставка фиксируется между чтением
// снимка и conditional update. Проигравшая попытка перечитывает запись
// и отклоняется с BID_TOO_LOW по новому максимуму.
func TestPlaceBid_ConcurrentConflictRevalidates(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)
	ctx := context.Background()

	env.repo.beforeApplyBid = func() {
		// Конкурирующая ставка 300 проходит первой
		if _, err := env.repo.ApplyBid(ctx, "a1", 300, "bidder-fast", 1, false); err != nil {
			t.Errorf("конкурирующая ставка: %v", err)
		}
	}

	_, err := env.svc.PlaceBid(ctx, "a1", "bidder-slow", 150)
	var rej *bidding.Rejection
	if !errors.As(err, &rej) || rej.Reason != bidding.ReasonBidTooLow {
		t.Fatalf("хотели BID_TOO_LOW после повторной валидации, получили %v", err)
	}
	if rej.MinExceed != 300 {
		t.Errorf("MinExceed: хотели 300, получили %v", rej.MinExceed)
	}

	stored := env.stored(t, "a1")
	if stored.CurrentBid != 300 || *stored.HighestBidder != "bidder-fast" {
		t.Errorf("итоговое состояние: bid=%v bidder=%v", stored.CurrentBid, stored.HighestBidder)
	}
}

// Гонка, в которой проигравшая попытка всё ещё превышает новый максимум:
// повтор проходит и фиксирует ставку.
func TestPlaceBid_ConcurrentConflictRetrySucceeds(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)
	ctx := context.Background()

	env.repo.beforeApplyBid = func() {
		if _, err := env.repo.ApplyBid(ctx, "a1", 200, "bidder-fast", 1, false); err != nil {
			t.Errorf("конкурирующая ставка: %v", err)
		}
	}

	a, err := env.svc.PlaceBid(ctx, "a1", "bidder-slow", 500)
	if err != nil {
		t.Fatalf("повтор после конфликта: %v", err)
	}
	if a.CurrentBid != 500 || *a.HighestBidder != "bidder-slow" {
		t.Errorf("итог: bid=%v bidder=%v", a.CurrentBid, a.HighestBidder)
	}
}

// Ставка ровно в момент endTime при политике win выигрывает
// и атомарно закрывает аукцион.
func TestPlaceBid_AtEndTimeWinsAndCloses(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	end := env.now
	env.seedOpen("a1", env.now.Add(-time.Hour), end, 100, 0, nil)

	a, err := env.svc.PlaceBid(context.Background(), "a1", "bidder-1", 150)
	if err != nil {
		t.Fatalf("ставка в endTime: %v", err)
	}
	if a.Status != model.StatusClosed {
		t.Errorf("статус: хотели closed, получили %s", a.Status)
	}
	if a.Winner == nil || *a.Winner != "bidder-1" {
		t.Errorf("победитель: хотели bidder-1, получили %v", a.Winner)
	}
	if env.pub.closedCount() != 1 {
		t.Errorf("событий закрытия: хотели 1, получили %d", env.pub.closedCount())
	}
	if env.pub.bidCount() != 1 {
		t.Errorf("событий ставок: хотели 1, получили %d", env.pub.bidCount())
	}
}

// При политике reject ставка в момент endTime отклоняется.
func TestPlaceBid_AtEndTimeRejectPolicy(t *testing.T) {
	env := newTestEnv(t, PolicyReject)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now, 100, 0, nil)

	_, err := env.svc.PlaceBid(context.Background(), "a1", "bidder-1", 150)
	var rej *bidding.Rejection
	if !errors.As(err, &rej) || rej.Reason != bidding.ReasonAuctionEnded {
		t.Fatalf("хотели AUCTION_ENDED, получили %v", err)
	}
}

// Ставка после endTime на просроченную открытую запись отклоняется,
// а запись попутно закрывается с прежним лидером в победителях.
func TestPlaceBid_AfterEndTimeLazyCloses(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	leader := "bidder-leader"
	env.seedOpen("a1", env.now.Add(-2*time.Hour), env.now.Add(-time.Minute), 100, 250, &leader)

	_, err := env.svc.PlaceBid(context.Background(), "a1", "bidder-late", 500)
	var rej *bidding.Rejection
	if !errors.As(err, &rej) || rej.Reason != bidding.ReasonAuctionEnded {
		t.Fatalf("хотели AUCTION_ENDED, получили %v", err)
	}

	stored := env.stored(t, "a1")
	if stored.Status != model.StatusClosed {
		t.Errorf("запись не закрыта lazy close")
	}
	if stored.Winner == nil || *stored.Winner != leader {
		t.Errorf("победитель: хотели %s, получили %v", leader, stored.Winner)
	}
}

func TestPlaceBid_BeforeStartRejected(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(time.Hour), env.now.Add(2*time.Hour), 100, 0, nil)

	_, err := env.svc.PlaceBid(context.Background(), "a1", "bidder-1", 150)
	var rej *bidding.Rejection
	if !errors.As(err, &rej) || rej.Reason != bidding.ReasonNotStarted {
		t.Fatalf("хотели NOT_STARTED, получили %v", err)
	}
}

// Шторм параллельных ставок: итоговое состояние — максимум из поданных
// сумм и его автор, независимо от порядка фиксации. Конфликт версий
// (ErrContention) на стороне клиента повторяется, как повторил бы
// реальный участник.
func TestPlaceBid_ConcurrentBidStorm(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)
	ctx := context.Background()

	const bidders = 16
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := float64(110 + 10*i)
			bidder := fmt.Sprintf("bidder-%02d", i)
			for {
				_, err := env.svc.PlaceBid(ctx, "a1", bidder, amount)
				if err == nil {
					return
				}
				var rej *bidding.Rejection
				if errors.As(err, &rej) && rej.Reason == bidding.ReasonBidTooLow {
					return
				}
				if !errors.Is(err, ErrContention) {
					t.Errorf("ставка %v: %v", amount, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	top := float64(110 + 10*(bidders-1))
	topBidder := fmt.Sprintf("bidder-%02d", bidders-1)
	stored := env.stored(t, "a1")
	if stored.CurrentBid != top {
		t.Errorf("итоговый currentBid: хотели %v, получили %v", top, stored.CurrentBid)
	}
	if stored.HighestBidder == nil || *stored.HighestBidder != topBidder {
		t.Errorf("итоговый лидер: хотели %s, получили %v", topBidder, stored.HighestBidder)
	}
	if stored.Status != model.StatusOpen {
		t.Errorf("статус: хотели open, получили %s", stored.Status)
	}
}

// --- Close ---

func TestClose_IdempotentWinnerAssignedOnce(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	bidder := "bidder-1"
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 200, &bidder)
	ctx := context.Background()

	first, err := env.svc.Close(ctx, "a1")
	if err != nil {
		t.Fatalf("первое закрытие: %v", err)
	}
	if first.Winner == nil || *first.Winner != bidder {
		t.Errorf("победитель: хотели %s, получили %v", bidder, first.Winner)
	}
	firstVersion := first.Version

	second, err := env.svc.Close(ctx, "a1")
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("повторное закрытие: хотели ErrAlreadyClosed, получили %v", err)
	}
	if second.Version != firstVersion {
		t.Errorf("повторное закрытие изменило версию: %d → %d", firstVersion, second.Version)
	}
	if *second.Winner != bidder {
		t.Errorf("повторное закрытие изменило победителя: %v", second.Winner)
	}

	if env.pub.closedCount() != 1 {
		t.Errorf("событий закрытия: хотели 1, получили %d", env.pub.closedCount())
	}
}

func TestClose_NoBidsWinnerNil(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)

	a, err := env.svc.Close(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.Winner != nil {
		t.Errorf("победитель без ставок: хотели nil, получили %v", *a.Winner)
	}
}

// --- Update ---

func TestUpdate_EndTimeReschedules(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	ctx := context.Background()

	a, err := env.svc.Create(ctx, "Антикварная ваза", 100,
		env.now.Add(time.Hour), env.now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newEnd := env.now.Add(3 * time.Hour)
	upd, err := env.svc.Update(ctx, a.ID, model.UpdateFields{EndTime: &newEnd})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !upd.EndTime.Equal(newEnd) {
		t.Errorf("endTime: хотели %v, получили %v", newEnd, upd.EndTime)
	}
	// Замена, а не дубль
	if env.sched.Pending() != 1 {
		t.Errorf("Pending: хотели 1, получили %d", env.sched.Pending())
	}
}

func TestUpdate_ClosedRejected(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)
	ctx := context.Background()

	if _, err := env.svc.Close(ctx, "a1"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	name := "Другое название"
	_, err := env.svc.Update(ctx, "a1", model.UpdateFields{ItemName: &name})
	if !errors.Is(err, ErrAuctionEnded) {
		t.Errorf("хотели ErrAuctionEnded, получили %v", err)
	}
}

func TestUpdate_ValidationRejected(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)

	price := -50.0
	_, err := env.svc.Update(context.Background(), "a1", model.UpdateFields{StartPrice: &price})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("хотели ErrValidation, получили %v", err)
	}
}

// --- Delete ---

func TestDelete_CancelsScheduleAndRemoves(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	ctx := context.Background()

	a, err := env.svc.Create(ctx, "Антикварная ваза", 100,
		env.now.Add(time.Hour), env.now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if env.sched.Pending() != 1 {
		t.Fatalf("Pending до удаления: хотели 1, получили %d", env.sched.Pending())
	}

	if _, err := env.svc.DeleteByID(ctx, a.ID); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}

	if env.sched.Pending() != 0 {
		t.Errorf("Pending после удаления: хотели 0, получили %d", env.sched.Pending())
	}
	if _, err := env.svc.GetOpen(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("после удаления: хотели ErrNotFound, получили %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	env := newTestEnv(t, PolicyWin)

	_, err := env.svc.DeleteByID(context.Background(), "нет-такого")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("хотели ErrNotFound, получили %v", err)
	}
}

// --- SweepExpired / RestoreSchedules ---

func TestSweepExpired_ClosesOnlyExpired(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	ctx := context.Background()

	env.seedOpen("exp-1", env.now.Add(-3*time.Hour), env.now.Add(-time.Hour), 100, 0, nil)
	env.seedOpen("exp-2", env.now.Add(-3*time.Hour), env.now.Add(-time.Minute), 100, 0, nil)
	env.seedOpen("fut-1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)

	closed, err := env.svc.SweepExpired(ctx, env.now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if closed != 2 {
		t.Errorf("закрыто: хотели 2, получили %d", closed)
	}

	if env.stored(t, "exp-1").Status != model.StatusClosed {
		t.Error("exp-1 не закрыт")
	}
	if env.stored(t, "exp-2").Status != model.StatusClosed {
		t.Error("exp-2 не закрыт")
	}
	if env.stored(t, "fut-1").Status != model.StatusOpen {
		t.Error("fut-1 закрыт преждевременно")
	}

	// Повторный sweep идемпотентен
	closed, err = env.svc.SweepExpired(ctx, env.now)
	if err != nil {
		t.Fatalf("повторный SweepExpired: %v", err)
	}
	if closed != 0 {
		t.Errorf("повторный sweep закрыл %d аукционов", closed)
	}
}

// Устаревшая задача планировщика, пережившая продление endTime, не должна
// закрыть аукцион: хранилище отклоняет закрытие непросроченной записи,
// а задача перепланируется по актуальному end_time.
func TestCloseScheduled_StaleTaskKeepsExtendedOpen(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	// Запись в хранилище с продлённым endTime — задача планировщика
	// от прежнего endTime уже в полёте.
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)

	env.svc.CloseScheduled(context.Background(), "a1")

	stored := env.stored(t, "a1")
	if stored.Status != model.StatusOpen {
		t.Fatalf("устаревшая задача закрыла аукцион с end_time в будущем")
	}
	if env.pub.closedCount() != 0 {
		t.Errorf("опубликовано событие закрытия для открытого аукциона")
	}
	// Задача перепланирована по end_time из хранилища
	if env.sched.Pending() != 1 {
		t.Errorf("Pending после перепланирования: хотели 1, получили %d", env.sched.Pending())
	}
}

// Бэклог больше страницы выборки выгребается за один вызов.
func TestSweepExpired_DrainsBacklogAcrossPages(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.svc.pageSize = 2
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("exp-%d", i)
		env.seedOpen(id, env.now.Add(-3*time.Hour), env.now.Add(-time.Hour), 100, 0, nil)
	}

	closed, err := env.svc.SweepExpired(ctx, env.now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if closed != 5 {
		t.Errorf("закрыто: хотели 5, получили %d", closed)
	}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("exp-%d", i)
		if env.stored(t, id).Status != model.StatusClosed {
			t.Errorf("%s не закрыт", id)
		}
	}
}

func TestRestoreSchedules_RegistersOpenAuctions(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	ctx := context.Background()

	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)
	env.seedOpen("a2", env.now.Add(-time.Hour), env.now.Add(2*time.Hour), 100, 0, nil)
	env.seedOpen("a3", env.now.Add(-time.Hour), env.now.Add(3*time.Hour), 100, 0, nil)

	restored, err := env.svc.RestoreSchedules(ctx)
	if err != nil {
		t.Fatalf("RestoreSchedules: %v", err)
	}
	if restored != 3 {
		t.Errorf("восстановлено: хотели 3, получили %d", restored)
	}
	if env.sched.Pending() != 3 {
		t.Errorf("Pending: хотели 3, получили %d", env.sched.Pending())
	}
}

// --- getWithRetry ---

func TestGetWithRetry_TransientErrorRecovered(t *testing.T) {
	env := newTestEnv(t, PolicyWin)
	env.seedOpen("a1", env.now.Add(-time.Hour), env.now.Add(time.Hour), 100, 0, nil)
	env.repo.getErr = errors.New("временная ошибка подключения")

	a, err := env.svc.GetOpen(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetOpen после транзиентной ошибки: %v", err)
	}
	if a.ID != "a1" {
		t.Errorf("id: хотели a1, получили %s", a.ID)
	}
}
