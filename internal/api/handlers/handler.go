// handler.go — основной обработчик API Auction Module.
// Объединяет доменные обработчики и общие вспомогательные функции.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bigkaa/goauction/auction-module/internal/domain/model"
	"github.com/bigkaa/goauction/auction-module/internal/service"
)

// APIHandler — основной обработчик API Auction Module.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	auctions *service.AuctionService
	sweep    *service.SweepService
	health   *HealthHandler
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	auctions *service.AuctionService,
	sweep *service.SweepService,
	health *HealthHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		auctions: auctions,
		sweep:    sweep,
		health:   health,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- API-типы ---

// auctionResponse — представление аукциона в ответах API.
type auctionResponse struct {
	ID            string    `json:"id"`
	ItemName      string    `json:"itemName"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	StartPrice    float64   `json:"startPrice"`
	CurrentBid    float64   `json:"currentBid"`
	HighestBidder *string   `json:"highestBidder"`
	Status        string    `json:"status"`
	Winner        *string   `json:"winner"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// toAuctionResponse конвертирует domain модель в API-тип.
func toAuctionResponse(a *model.Auction) auctionResponse {
	return auctionResponse{
		ID:            a.ID,
		ItemName:      a.ItemName,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		StartPrice:    a.StartPrice,
		CurrentBid:    a.CurrentBid,
		HighestBidder: a.HighestBidder,
		Status:        a.Status,
		Winner:        a.Winner,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limitStr, offsetStr string) (limitVal, offsetVal int) {
	l := 100
	o := 0

	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			l = n
		}
	}
	if l < 1 {
		l = 1
	}
	if l > 1000 {
		l = 1000
	}

	if offsetStr != "" {
		if n, err := strconv.Atoi(offsetStr); err == nil {
			o = n
		}
	}
	if o < 0 {
		o = 0
	}

	return l, o
}
