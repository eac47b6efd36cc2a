// cache.go — LRU-кэш метаданных файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/blob-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bm_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bm_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// CacheService — LRU-кэш метаданных файлов по ID с автоматическим TTL.
// Кэш не зависит от субъекта: видимость проверяется по закэшированной
// записи при каждом чтении. Экземпляр кэша локален для процесса.
// Нулевой *CacheService — отключённый кэш.
//
// Запись, прочитанная из хранилища, попадает в кэш только если с момента
// Generation() не было ни одной инвалидации: иначе чтение, начатое до
// Update/Delete, вернуло бы в кэш устаревшую или удалённую запись.
type CacheService struct {
	cache *expirable.LRU[string, *model.FileRecord]

	mu  sync.Mutex
	gen uint64
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// При maxSize <= 0 возвращает nil (кэш отключён).
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	if maxSize <= 0 {
		return nil
	}
	return &CacheService{cache: expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)}
}

// Get возвращает копию записи из кэша.
// Обновляет Prometheus-метрики hit/miss.
func (c *CacheService) Get(fileID string) (*model.FileRecord, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(fileID)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Generation возвращает текущее поколение кэша. Снимок берётся до
// чтения из хранилища и передаётся в Set.
func (c *CacheService) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set добавляет запись, прочитанную при поколении gen.
// Если после снимка была инвалидация, запись отбрасывается.
func (c *CacheService) Set(record *model.FileRecord, gen uint64) bool {
	if c == nil || record == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.cache.Add(record.ID, record.Clone())
	return true
}

// Delete удаляет запись из кэша и открывает новое поколение.
func (c *CacheService) Delete(fileID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.Remove(fileID)
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
