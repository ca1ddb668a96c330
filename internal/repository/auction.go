package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goauction/auction-module/internal/domain/model"
)

// AuctionRepository — операции над таблицей auctions.
//
// Все мутации — conditional update по (status, version): две параллельные
// ставки никогда не пройдут проверку по одному и тому же снимку, а ставка,
// гонящаяся с закрытием, либо успевает до него, либо получает
// ErrAlreadyClosed. Глобальных блокировок нет — конкуренция ограничена
// одной записью.
type AuctionRepository interface {
	// Create сохраняет новый аукцион.
	Create(ctx context.Context, a *model.Auction) error
	// GetByID возвращает аукцион по UUID.
	GetByID(ctx context.Context, id string) (*model.Auction, error)
	// ListByStatus возвращает аукционы с указанным статусом.
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*model.Auction, error)
	// UpdateIfVersion обновляет административные поля открытого аукциона
	// при совпадении версии.
	UpdateIfVersion(ctx context.Context, a *model.Auction, expectedVersion int64) error
	// ApplyBid атомарно фиксирует ставку; при close также закрывает
	// аукцион и назначает победителем автора ставки.
	ApplyBid(ctx context.Context, id string, amount float64, bidder string, expectedVersion int64, close bool) (*model.Auction, error)
	// CloseIfOpen закрывает аукцион, победитель = highest_bidder.
	// Идемпотентна: повторный вызов возвращает запись и ErrAlreadyClosed.
	CloseIfOpen(ctx context.Context, id string) (*model.Auction, error)
	// CloseIfExpired закрывает аукцион, только если его end_time в хранилище
	// уже наступил (end_time <= now). Для открытой записи с end_time
	// в будущем возвращает её и ErrNotExpired: устаревший триггер
	// не может закрыть продлённый аукцион.
	CloseIfExpired(ctx context.Context, id string, now time.Time) (*model.Auction, error)
	// Delete удаляет аукцион и возвращает удалённую запись.
	Delete(ctx context.Context, id string) (*model.Auction, error)
	// FindOpenEndingBefore возвращает открытые аукционы,
	// чей end_time раньше t. Запрос sweep.
	FindOpenEndingBefore(ctx context.Context, t time.Time, limit int) ([]*model.Auction, error)
}

// auctionRepo — реализация AuctionRepository.
type auctionRepo struct {
	db DBTX
}

// NewAuctionRepository создаёт репозиторий аукционов.
func NewAuctionRepository(db DBTX) AuctionRepository {
	return &auctionRepo{db: db}
}

// auctionColumns — список колонок для SELECT/RETURNING.
const auctionColumns = `id, item_name, start_time, end_time, start_price,
	current_bid, highest_bidder, status, winner, version, created_at, updated_at`

// scanAuction читает одну строку в модель.
func scanAuction(row pgx.Row) (*model.Auction, error) {
	a := &model.Auction{}
	err := row.Scan(
		&a.ID, &a.ItemName, &a.StartTime, &a.EndTime, &a.StartPrice,
		&a.CurrentBid, &a.HighestBidder, &a.Status, &a.Winner,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *auctionRepo) Create(ctx context.Context, a *model.Auction) error {
	query := `
		INSERT INTO auctions (id, item_name, start_time, end_time, start_price,
			current_bid, highest_bidder, status, winner)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING version, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.ItemName, a.StartTime, a.EndTime, a.StartPrice,
		a.CurrentBid, a.HighestBidder, a.Status, a.Winner,
	).Scan(&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания аукциона: %w", err)
	}
	return nil
}

func (r *auctionRepo) GetByID(ctx context.Context, id string) (*model.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`

	a, err := scanAuction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения аукциона: %w", err)
	}
	return a, nil
}

func (r *auctionRepo) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*model.Auction, error) {
	query := `
		SELECT ` + auctionColumns + `
		FROM auctions
		WHERE status = $1
		ORDER BY end_time ASC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка аукционов: %w", err)
	}
	defer rows.Close()

	var result []*model.Auction
	for rows.Next() {
		a, scanErr := scanAuction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ошибка сканирования аукциона: %w", scanErr)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *auctionRepo) UpdateIfVersion(ctx context.Context, a *model.Auction, expectedVersion int64) error {
	query := `
		UPDATE auctions
		SET item_name = $2, start_price = $3, start_time = $4, end_time = $5,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'open' AND version = $6
		RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.ItemName, a.StartPrice, a.StartTime, a.EndTime, expectedVersion,
	).Scan(&a.Version, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.classifyMiss(ctx, a.ID)
		}
		return fmt.Errorf("ошибка обновления аукциона: %w", err)
	}
	return nil
}

func (r *auctionRepo) ApplyBid(ctx context.Context, id string, amount float64, bidder string, expectedVersion int64, close bool) (*model.Auction, error) {
	query := `
		UPDATE auctions
		SET current_bid = $2,
			highest_bidder = $3,
			status = CASE WHEN $4 THEN 'closed' ELSE status END,
			winner = CASE WHEN $4 THEN $3 ELSE winner END,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND status = 'open' AND version = $5
		RETURNING ` + auctionColumns

	a, err := scanAuction(r.db.QueryRow(ctx, query, id, amount, bidder, close, expectedVersion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("ошибка фиксации ставки: %w", err)
	}
	return a, nil
}

func (r *auctionRepo) CloseIfOpen(ctx context.Context, id string) (*model.Auction, error) {
	query := `
		UPDATE auctions
		SET status = 'closed', winner = highest_bidder,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + auctionColumns

	a, err := scanAuction(r.db.QueryRow(ctx, query, id))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка закрытия аукциона: %w", err)
	}

	// Строка не обновлена: либо записи нет, либо уже закрыта.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return current, ErrAlreadyClosed
}

func (r *auctionRepo) CloseIfExpired(ctx context.Context, id string, now time.Time) (*model.Auction, error) {
	query := `
		UPDATE auctions
		SET status = 'closed', winner = highest_bidder,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'open' AND end_time <= $2
		RETURNING ` + auctionColumns

	a, err := scanAuction(r.db.QueryRow(ctx, query, id, now))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка закрытия аукциона: %w", err)
	}

	// Строка не обновлена: записи нет, она закрыта,
	// либо end_time был продлён параллельным обновлением.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status == model.StatusClosed {
		return current, ErrAlreadyClosed
	}
	return current, ErrNotExpired
}

func (r *auctionRepo) Delete(ctx context.Context, id string) (*model.Auction, error) {
	query := `DELETE FROM auctions WHERE id = $1 RETURNING ` + auctionColumns

	a, err := scanAuction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка удаления аукциона: %w", err)
	}
	return a, nil
}

func (r *auctionRepo) FindOpenEndingBefore(ctx context.Context, t time.Time, limit int) ([]*model.Auction, error) {
	query := `
		SELECT ` + auctionColumns + `
		FROM auctions
		WHERE status = 'open' AND end_time < $1
		ORDER BY end_time ASC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, t, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска истёкших аукционов: %w", err)
	}
	defer rows.Close()

	var result []*model.Auction
	for rows.Next() {
		a, scanErr := scanAuction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ошибка сканирования аукциона: %w", scanErr)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// classifyMiss различает причины непрошедшего conditional update:
// записи нет (ErrNotFound), запись закрыта (ErrAlreadyClosed)
// или версия устарела (ErrVersionConflict).
func (r *auctionRepo) classifyMiss(ctx context.Context, id string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == model.StatusClosed {
		return ErrAlreadyClosed
	}
	return ErrVersionConflict
}
