// cache.go — LRU-кэш закрытых аукционов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
//
// Кэшируются ТОЛЬКО закрытые аукционы: после перехода open → closed запись
// неизменяема, поэтому кэш не может отдать устаревшее открытое состояние.
// Открытые аукционы всегда читаются из хранилища.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goauction/auction-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "au_closed_cache_hits_total",
		Help: "Общее количество попаданий в кэш закрытых аукционов",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "au_closed_cache_misses_total",
		Help: "Общее количество промахов кэша закрытых аукционов",
	})
)

// ClosedCache — LRU-кэш закрытых аукционов.
type ClosedCache struct {
	cache *expirable.LRU[string, *model.Auction]
}

// NewClosedCache создаёт кэш с указанным максимальным размером и TTL.
func NewClosedCache(maxSize int, ttl time.Duration) *ClosedCache {
	return &ClosedCache{
		cache: expirable.NewLRU[string, *model.Auction](maxSize, nil, ttl),
	}
}

// Get возвращает закрытый аукцион из кэша.
func (c *ClosedCache) Get(id string) (*model.Auction, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set кладёт аукцион в кэш. Открытые аукционы игнорируются.
func (c *ClosedCache) Set(a *model.Auction) {
	if a == nil || a.Status != model.StatusClosed {
		return
	}
	c.cache.Add(a.ID, a)
}

// Delete удаляет запись из кэша (инвалидация при deleteById).
func (c *ClosedCache) Delete(id string) {
	c.cache.Remove(id)
}
