// Пакет errors — конструкторы стандартных ошибок HTTP API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // имя пакета конфликтует со stdlib, ограничено internal/api

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeAuctionEnded    = "AUCTION_ENDED"
	CodeAuctionNotBegan = "AUCTION_NOT_BEGAN"
	CodeBidTooLow       = "BID_TOO_LOW"
	CodeInvalidAmount   = "INVALID_AMOUNT"
	CodeConflict        = "CONFLICT"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// AuctionEnded — 409 аукцион завершён, операция недоступна.
func AuctionEnded(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeAuctionEnded, message)
}

// AuctionNotBegan — 409 окно аукциона ещё не открылось.
func AuctionNotBegan(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeAuctionNotBegan, message)
}

// BidTooLow — 409 ставка не превышает текущий максимум.
func BidTooLow(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeBidTooLow, message)
}

// InvalidAmount — 400 неположительная сумма ставки.
func InvalidAmount(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeInvalidAmount, message)
}

// Conflict — 409 конкурентный доступ исчерпал повторы.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
