// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — аукцион не найден.
	ErrNotFound = errors.New("аукцион не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrAuctionEnded — аукцион уже завершён.
	ErrAuctionEnded = errors.New("аукцион уже завершён")
	// ErrAlreadyClosed — повторное закрытие. Сигнал идемпотентности:
	// вызывающие трактуют его как успех.
	ErrAlreadyClosed = errors.New("аукцион уже закрыт")
	// ErrContention — conditional update не прошёл после всех повторов.
	ErrContention = errors.New("слишком высокая конкуренция — повторите запрос")
	// ErrNotExpired — ограждённое закрытие отклонено хранилищем:
	// end_time записи ещё в будущем. Возникает, когда триггер закрытия
	// гонится с продлением endTime и проигрывает.
	ErrNotExpired = errors.New("окно аукциона ещё не истекло")
)
