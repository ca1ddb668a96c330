// auctions.go — обработчики REST API аукционов.
//
//	POST   /api/v1/auctions            — создание (admin)
//	GET    /api/v1/auctions            — список открытых (JWT участника)
//	GET    /api/v1/auctions/{id}       — один аукцион (JWT участника)
//	PUT    /api/v1/auctions/{id}       — частичное обновление (admin)
//	DELETE /api/v1/auctions/{id}       — удаление (admin)
//	POST   /api/v1/auctions/{id}/bid   — ставка (JWT участника)
//	POST   /api/v1/auctions/{id}/close — принудительное закрытие (admin)
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goauction/auction-module/internal/api/errors"
	"github.com/bigkaa/goauction/auction-module/internal/api/middleware"
	"github.com/bigkaa/goauction/auction-module/internal/domain/bidding"
	"github.com/bigkaa/goauction/auction-module/internal/domain/model"
	"github.com/bigkaa/goauction/auction-module/internal/service"
)

// createAuctionRequest — тело POST /api/v1/auctions.
type createAuctionRequest struct {
	ItemName   string    `json:"itemName"`
	StartPrice float64   `json:"startPrice"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
}

// updateAuctionRequest — тело PUT /api/v1/auctions/{id}.
// Незаданные поля не изменяются.
type updateAuctionRequest struct {
	ItemName   *string    `json:"itemName"`
	StartPrice *float64   `json:"startPrice"`
	StartTime  *time.Time `json:"startTime"`
	EndTime    *time.Time `json:"endTime"`
}

// bidRequest — тело POST /api/v1/auctions/{id}/bid.
type bidRequest struct {
	Amount float64 `json:"amount"`
}

// CreateAuction — POST /api/v1/auctions.
func (h *APIHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	a, err := h.auctions.Create(r.Context(), req.ItemName, req.StartPrice, req.StartTime, req.EndTime)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		h.logger.Error("Ошибка создания аукциона",
			slog.String("item_name", req.ItemName),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при создании аукциона")
		return
	}

	writeJSON(w, http.StatusCreated, toAuctionResponse(a))
}

// ListAuctions — GET /api/v1/auctions.
// Возвращает открытые аукционы, отсортированные по end_time.
func (h *APIHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationDefaults(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))

	list, err := h.auctions.ListOpen(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка аукционов",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при получении списка аукционов")
		return
	}

	items := make([]auctionResponse, 0, len(list))
	for _, a := range list {
		items = append(items, toAuctionResponse(a))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

// GetAuction — GET /api/v1/auctions/{id}.
// Завершённый аукцион возвращается со статусом closed и победителем —
// это не ошибка, клиент различает состояния по полю status.
func (h *APIHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	a, err := h.auctions.GetOpen(r.Context(), id)
	if err != nil && !errors.Is(err, service.ErrAuctionEnded) {
		h.writeServiceError(w, id, err, "получения аукциона")
		return
	}

	writeJSON(w, http.StatusOK, toAuctionResponse(a))
}

// UpdateAuction — PUT /api/v1/auctions/{id}.
func (h *APIHandler) UpdateAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	var req updateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	fields := model.UpdateFields{
		ItemName:   req.ItemName,
		StartPrice: req.StartPrice,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	}

	a, err := h.auctions.Update(r.Context(), id, fields)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		h.writeServiceError(w, id, err, "обновления аукциона")
		return
	}

	writeJSON(w, http.StatusOK, toAuctionResponse(a))
}

// DeleteAuction — DELETE /api/v1/auctions/{id}.
func (h *APIHandler) DeleteAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	if _, err := h.auctions.DeleteByID(r.Context(), id); err != nil {
		h.writeServiceError(w, id, err, "удаления аукциона")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PlaceBid — POST /api/v1/auctions/{id}/bid.
// Идентификатор участника берётся из JWT (claim sub), не из тела запроса.
func (h *APIHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	bidderID := middleware.BidderFromContext(r.Context())
	if bidderID == "" {
		apierrors.Unauthorized(w, "Отсутствует идентификатор участника")
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	a, err := h.auctions.PlaceBid(r.Context(), id, bidderID, req.Amount)
	if err != nil {
		var rej *bidding.Rejection
		if errors.As(err, &rej) {
			h.writeRejection(w, rej)
			return
		}
		h.writeServiceError(w, id, err, "приёма ставки")
		return
	}

	writeJSON(w, http.StatusOK, toAuctionResponse(a))
}

// CloseAuction — POST /api/v1/auctions/{id}/close.
// Идемпотентна: повторное закрытие возвращает 200 с той же записью.
func (h *APIHandler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	a, err := h.auctions.Close(r.Context(), id)
	if err != nil && !errors.Is(err, service.ErrAlreadyClosed) {
		h.writeServiceError(w, id, err, "закрытия аукциона")
		return
	}

	writeJSON(w, http.StatusOK, toAuctionResponse(a))
}

// --- Вспомогательные функции ---

// auctionID извлекает и проверяет UUID аукциона из пути.
func (h *APIHandler) auctionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "auction_id")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор аукциона")
		return "", false
	}
	return id, true
}

// writeRejection конвертирует отклонение ставки в HTTP-ответ.
func (h *APIHandler) writeRejection(w http.ResponseWriter, rej *bidding.Rejection) {
	switch rej.Reason {
	case bidding.ReasonInvalidAmount:
		apierrors.InvalidAmount(w, rej.Error())
	case bidding.ReasonAuctionEnded:
		apierrors.AuctionEnded(w, rej.Error())
	case bidding.ReasonNotStarted:
		apierrors.AuctionNotBegan(w, rej.Error())
	case bidding.ReasonBidTooLow:
		apierrors.BidTooLow(w, fmt.Sprintf("Ставка должна превышать %.2f", rej.MinExceed))
	default:
		apierrors.ValidationError(w, rej.Error())
	}
}

// writeServiceError маппит ошибки сервисного слоя в HTTP-ответы.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, id string, err error, op string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Аукцион не найден")
	case errors.Is(err, service.ErrAuctionEnded):
		apierrors.AuctionEnded(w, "Аукцион уже завершён")
	case errors.Is(err, service.ErrContention):
		apierrors.Conflict(w, "Слишком высокая конкуренция, повторите запрос")
	default:
		h.logger.Error("Ошибка "+op,
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка "+op)
	}
}
