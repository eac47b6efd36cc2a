// Пакет database — пул подключений PostgreSQL для хранилища метаданных
// файлов, схема таблицы files (golang-migrate) и readiness-проверка.
//
// Загрузка держит соединение только на время проверок и финальной
// вставки, поэтому исчерпание пула — отдельное состояние: запросы
// ждут соединения, но база доступна (degraded, а не fail).
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/blob-module/internal/config"
)

// applicationName — имя приложения в pg_stat_activity.
const applicationName = "blob-module"

// readyPingTimeout — ограничение ping в readiness-проверке.
const readyPingTimeout = 3 * time.Second

// ErrDirtySchema — предыдущая миграция схемы files прервана и требует
// ручного вмешательства (migrate force).
var ErrDirtySchema = errors.New("схема БД в состоянии dirty")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect создаёт пул подключений к базе метаданных и проверяет её доступность.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns) //nolint:gosec // ограничено при загрузке конфигурации
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Хранилище метаданных: PostgreSQL",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)

	return pool, nil
}

// Migrate приводит схему таблицы files к последней версии из embedded FS.
// Схема в состоянии dirty не трогается: возвращается ErrDirtySchema.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	case dirty:
		return fmt.Errorf("%w: версия %d", ErrDirtySchema, from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций (с версии %d): %w", from, err)
	}

	to, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	}
	if to == from {
		logger.Info("Схема БД актуальна", slog.Uint64("version", uint64(to)))
		return nil
	}
	logger.Info("Схема БД обновлена",
		slog.Uint64("from_version", uint64(from)),
		slog.Uint64("to_version", uint64(to)),
	)
	return nil
}

// ReadinessChecker — проверка готовности хранилища метаданных для /health/ready.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady пингует базу и оценивает загрузку пула.
// Возвращает статус ("ok", "degraded", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady(ctx context.Context) (status string, message string) {
	ctx, cancel := context.WithTimeout(ctx, readyPingTimeout)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	stat := c.pool.Stat()
	return poolReadiness(stat.AcquiredConns(), stat.MaxConns(), stat.EmptyAcquireCount())
}

// poolReadiness оценивает пул по числу занятых соединений.
// emptyAcquires — сколько раз запрос ждал освободившегося соединения.
func poolReadiness(acquired, maxConns int32, emptyAcquires int64) (string, string) {
	msg := fmt.Sprintf("соединений занято %d из %d, ожиданий %d", acquired, maxConns, emptyAcquires)
	if maxConns > 0 && acquired >= maxConns {
		return "degraded", "пул исчерпан: " + msg
	}
	return "ok", msg
}
