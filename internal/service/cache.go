// Пакет service — бизнес-логика Share Module.
// CacheService — LRU-кэш записей файлов с TTL
// поверх hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_cache_hits_total",
		Help: "Общее количество попаданий в кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_cache_misses_total",
		Help: "Общее количество промахов кэша метаданных.",
	})
)

// CacheService — кэш записей файлов по identifier.
// Хранит копии: изменение полученной записи не затрагивает кэш.
// Кэш только ускоряет проверку доступа; решающей остаётся
// условная операция IncrementDownload в хранилище метаданных.
type CacheService struct {
	cache *expirable.LRU[string, model.FileRecord]
}

// NewCacheService создаёт кэш с указанным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{
		cache: expirable.NewLRU[string, model.FileRecord](maxSize, nil, ttl),
	}
}

// Get возвращает копию записи из кэша.
func (c *CacheService) Get(id string) (*model.FileRecord, bool) {
	val, ok := c.cache.Get(id)
	if !ok {
		cacheMissesTotal.Inc()
		return nil, false
	}
	cacheHitsTotal.Inc()
	return &val, true
}

// Set добавляет или обновляет запись.
func (c *CacheService) Set(rec *model.FileRecord) {
	if rec == nil {
		return
	}
	c.cache.Add(rec.Identifier, *rec)
}

// Delete удаляет запись из кэша.
func (c *CacheService) Delete(id string) {
	c.cache.Remove(id)
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
