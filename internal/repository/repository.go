// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrVersionConflict — conditional update не прошёл: версия записи
	// изменилась между чтением и записью. Вызывающий слой перечитывает
	// запись и повторяет попытку.
	ErrVersionConflict = errors.New("конфликт версий — запись изменена параллельно")
	// ErrAlreadyClosed — аукцион уже закрыт. Для close это сигнал
	// идемпотентности, а не ошибка.
	ErrAlreadyClosed = errors.New("аукцион уже закрыт")
	// ErrNotExpired — ограждённое закрытие не прошло: end_time записи
	// в хранилище ещё в будущем. Сигнал устаревшего триггера закрытия.
	ErrNotExpired = errors.New("окно аукциона ещё не истекло")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
