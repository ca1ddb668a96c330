// Пакет bidding — чистая валидация ставок.
//
// Validate детерминирована по своим аргументам, не обращается к хранилищу
// и не имеет побочных эффектов — благодаря этому тестируется изолированно.
package bidding

import (
	"fmt"
	"time"

	"github.com/bigkaa/goauction/auction-module/internal/domain/model"
)

// Reason — машиночитаемая причина отклонения ставки.
type Reason string

const (
	// ReasonInvalidAmount — ставка не положительная.
	ReasonInvalidAmount Reason = "INVALID_AMOUNT"
	// ReasonAuctionEnded — аукцион закрыт или окно ставок истекло.
	ReasonAuctionEnded Reason = "AUCTION_ENDED"
	// ReasonNotStarted — приём ставок ещё не начался.
	ReasonNotStarted Reason = "NOT_STARTED"
	// ReasonBidTooLow — ставка не превышает max(startPrice, currentBid).
	ReasonBidTooLow Reason = "BID_TOO_LOW"
)

// Rejection — отклонение ставки. Ожидаемый бизнес-результат,
// а не инфраструктурная ошибка.
type Rejection struct {
	Reason Reason
	// MinExceed — значение, которое новая ставка обязана строго превысить.
	// Заполняется только для ReasonBidTooLow.
	MinExceed float64
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonInvalidAmount:
		return "ставка должна быть больше нуля"
	case ReasonAuctionEnded:
		return "аукцион уже завершён"
	case ReasonNotStarted:
		return "аукцион ещё не начался"
	case ReasonBidTooLow:
		return fmt.Sprintf("ставка должна превышать текущую цену %.2f", r.MinExceed)
	default:
		return string(r.Reason)
	}
}

// Validate проверяет допустимость ставки amount на аукционе a в момент now.
// Возвращает nil, если ставка принимается, иначе — *Rejection.
//
// Порядок проверок фиксирован, срабатывает первая подходящая:
//  1. amount <= 0                    → INVALID_AMOUNT
//  2. закрыт или now > endTime       → AUCTION_ENDED
//  3. now < startTime                → NOT_STARTED
//  4. amount <= max(startPrice, currentBid) → BID_TOO_LOW
//
// Ставка ровно в момент endTime проходит валидацию: решение о том,
// выигрывает ли она с немедленным закрытием, принимает вызывающий слой.
func Validate(a *model.Auction, amount float64, now time.Time) *Rejection {
	if amount <= 0 {
		return &Rejection{Reason: ReasonInvalidAmount}
	}
	if a.Status == model.StatusClosed || now.After(a.EndTime) {
		return &Rejection{Reason: ReasonAuctionEnded}
	}
	if now.Before(a.StartTime) {
		return &Rejection{Reason: ReasonNotStarted}
	}
	min := a.StartPrice
	if a.CurrentBid > min {
		min = a.CurrentBid
	}
	if amount <= min {
		return &Rejection{Reason: ReasonBidTooLow, MinExceed: min}
	}
	return nil
}
