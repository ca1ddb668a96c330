// maintenance.go — обработчик POST /api/v1/maintenance/sweep.
// Ручной запуск восстановительного закрытия истёкших аукционов.
package handlers

import (
	"net/http"
)

// sweepResponse — результат ручного запуска sweep.
type sweepResponse struct {
	ClosedCount int    `json:"closedCount"`
	Errors      int    `json:"errors"`
	Duration    string `json:"duration"`
}

// Sweep обрабатывает POST /api/v1/maintenance/sweep.
// Выполняет синхронный цикл sweep и возвращает результат.
// Параллельный вызов сериализуется внутри SweepService.
func (h *APIHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result := h.sweep.RunOnce(r.Context())

	writeJSON(w, http.StatusOK, sweepResponse{
		ClosedCount: result.ClosedCount,
		Errors:      result.Errors,
		Duration:    result.Duration.String(),
	})
}
