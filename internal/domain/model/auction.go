// Пакет model — доменные модели Auction Module.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Статусы аукциона.
const (
	// StatusOpen — аукцион принимает ставки.
	StatusOpen = "open"
	// StatusClosed — аукцион завершён, победитель зафиксирован.
	// Переход open → closed одностороннний: закрытый аукцион
	// никогда не возвращается в open.
	StatusClosed = "closed"
)

// MinItemNameLen — минимальная длина названия лота.
const MinItemNameLen = 4

// Auction — аукционный лот с фиксированным временным окном ставок.
// Хранится в таблице auctions.
type Auction struct {
	// ID — UUID записи, назначается при создании, неизменяемый
	ID string
	// ItemName — название лота (минимум 4 символа)
	ItemName string
	// StartTime — начало приёма ставок
	StartTime time.Time
	// EndTime — конец приёма ставок (строго позже StartTime)
	EndTime time.Time
	// StartPrice — стартовая цена (неотрицательная, после создания не меняется)
	StartPrice float64
	// CurrentBid — текущая максимальная ставка (0, пока ставок нет;
	// монотонно не убывает)
	CurrentBid float64
	// HighestBidder — идентификатор автора текущей максимальной ставки
	HighestBidder *string
	// Status — open или closed
	Status string
	// Winner — победитель, назначается ровно один раз при закрытии
	// (nil, если ставок не было)
	Winner *string
	// Version — версия записи для оптимистичных conditional update
	Version int64
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// UpdateFields — частичное обновление полей аукциона.
// nil-поле означает «не менять».
type UpdateFields struct {
	ItemName   *string
	StartPrice *float64
	StartTime  *time.Time
	EndTime    *time.Time
}

// ValidationErrors — ошибка валидации полей с пополевыми причинами.
type ValidationErrors struct {
	// Fields — причины в формате «поле: причина»
	Fields []string
}

func (e *ValidationErrors) Error() string {
	return strings.Join(e.Fields, ", ")
}

// add добавляет причину отказа по полю.
func (e *ValidationErrors) add(field, reason string) {
	e.Fields = append(e.Fields, fmt.Sprintf("%s: %s", field, reason))
}

// ErrInvalidStatus — недопустимое значение статуса.
var ErrInvalidStatus = errors.New("недопустимый статус аукциона")

// ValidateNew проверяет инварианты полей нового аукциона:
// itemName (непустое, минимум 4 символа), startTime > now,
// endTime > startTime, startPrice >= 0.
// Возвращает *ValidationErrors со всеми нарушениями сразу.
func (a *Auction) ValidateNew(now time.Time) error {
	ve := &ValidationErrors{}

	if len(strings.TrimSpace(a.ItemName)) < MinItemNameLen {
		ve.add("item_name", fmt.Sprintf("длина должна быть не менее %d символов", MinItemNameLen))
	}
	if a.StartTime.IsZero() {
		ve.add("start_time", "обязательное поле")
	} else if !a.StartTime.After(now) {
		ve.add("start_time", "должно быть в будущем")
	}
	if a.EndTime.IsZero() {
		ve.add("end_time", "обязательное поле")
	} else if !a.EndTime.After(a.StartTime) {
		ve.add("end_time", "должно быть позже start_time")
	}
	if a.StartPrice < 0 {
		ve.add("start_price", "не может быть отрицательной")
	}

	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

// ValidateUpdated проверяет инварианты после применения частичного
// обновления. Инвариант startTime > creationTime проверяется только
// если startTime изменился: для давно созданного аукциона прошедший
// startTime сам по себе нарушением не является.
func (a *Auction) ValidateUpdated(startChanged, endChanged bool, now time.Time) error {
	ve := &ValidationErrors{}

	if len(strings.TrimSpace(a.ItemName)) < MinItemNameLen {
		ve.add("item_name", fmt.Sprintf("длина должна быть не менее %d символов", MinItemNameLen))
	}
	if startChanged && !a.StartTime.After(now) {
		ve.add("start_time", "должно быть в будущем")
	}
	if (startChanged || endChanged) && !a.EndTime.After(a.StartTime) {
		ve.add("end_time", "должно быть позже start_time")
	}
	if a.StartPrice < 0 {
		ve.add("start_price", "не может быть отрицательной")
	}

	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

// Apply применяет частичное обновление к копии аукциона.
// Возвращает флаги изменения startTime и endTime — по ним
// решается перерегистрация задачи в планировщике.
func (a *Auction) Apply(f UpdateFields) (startChanged, endChanged bool) {
	if f.ItemName != nil {
		a.ItemName = *f.ItemName
	}
	if f.StartPrice != nil {
		a.StartPrice = *f.StartPrice
	}
	if f.StartTime != nil && !f.StartTime.Equal(a.StartTime) {
		a.StartTime = *f.StartTime
		startChanged = true
	}
	if f.EndTime != nil && !f.EndTime.Equal(a.EndTime) {
		a.EndTime = *f.EndTime
		endChanged = true
	}
	return startChanged, endChanged
}

// IsOpen сообщает, принимает ли аукцион ставки по статусу
// (временное окно здесь не проверяется).
func (a *Auction) IsOpen() bool {
	return a.Status == StatusOpen
}

// Expired сообщает, истекло ли временное окно аукциона.
func (a *Auction) Expired(now time.Time) bool {
	return now.After(a.EndTime)
}

// Clone возвращает глубокую копию аукциона.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.HighestBidder != nil {
		v := *a.HighestBidder
		c.HighestBidder = &v
	}
	if a.Winner != nil {
		v := *a.Winner
		c.Winner = &v
	}
	return &c
}
