// Пакет ownerlock — сериализация загрузок в пределах одного владельца.
// Загрузки разных владельцев выполняются параллельно, загрузки одного
// владельца — строго по очереди. Записи блокировок создаются лениво
// и удаляются, когда их больше никто не держит и не ждёт.
package ownerlock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveLocks — количество владельцев, для которых сейчас существует блокировка.
var ActiveLocks = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "bm_owner_locks_active",
		Help: "Количество активных блокировок владельцев",
	},
)

// entry — блокировка одного владельца.
// sem — семафор ёмкостью 1, позволяет ожидать захват с учётом ctx.
type entry struct {
	sem  chan struct{}
	refs int
}

// Registry — реестр блокировок по владельцам.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
}

// New создаёт пустой реестр блокировок.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With(slog.String("component", "ownerlock")),
	}
}

// WithOwnerLock выполняет fn, удерживая эксклюзивную блокировку ownerID.
// Если ctx отменён до захвата, fn не вызывается и возвращается ctx.Err().
// Блокировка освобождается на любом пути выхода из fn, включая panic.
func (r *Registry) WithOwnerLock(ctx context.Context, ownerID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := r.acquireRef(ownerID)
	defer r.releaseRef(ownerID, e)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.logger.Debug("Ожидание блокировки владельца прервано",
			slog.String("owner_id", ownerID),
			slog.String("error", ctx.Err().Error()),
		)
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}

// Len возвращает количество владельцев с активной блокировкой.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// acquireRef возвращает запись блокировки, увеличивая счётчик ссылок.
func (r *Registry) acquireRef(ownerID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ownerID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.entries[ownerID] = e
		ActiveLocks.Inc()
	}
	e.refs++
	return e
}

// releaseRef уменьшает счётчик ссылок и удаляет неиспользуемую запись.
func (r *Registry) releaseRef(ownerID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(r.entries, ownerID)
		ActiveLocks.Dec()
	}
}
