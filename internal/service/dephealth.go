// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Blob Module мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical),
//     если метаданные хранятся в PostgreSQL;
//   - S3-совместимое хранилище — HTTP checker к health endpoint (critical),
//     если задан BM_S3_ENDPOINT.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
)

// ErrNoDependencies — нечего мониторить (in-memory метаданные и локальный диск).
var ErrNoDependencies = errors.New("нет внешних зависимостей для мониторинга")

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (BM_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB из pgxpool через stdlib.OpenDBFromPool (nil — PostgreSQL не мониторится)
	DB *sql.DB
	// PgConnURL — URL PostgreSQL для лейблов метрик
	PgConnURL string
	// BlobEndpoint — URL S3-совместимого хранилища (пусто — не мониторится)
	BlobEndpoint string
	// BlobHealthPath — путь health endpoint хранилища
	BlobHealthPath string
	// CheckInterval — интервал проверки (BM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// extraOpts позволяют, например, передать dephealth.WithRegisterer в тестах.
// Возвращает ErrNoDependencies, если мониторить нечего.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}
	deps := 0

	if cfg.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PgConnURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		))
		deps++
	}

	if cfg.BlobEndpoint != "" {
		opts = append(opts, dephealth.HTTP("blob-store",
			dephealth.FromURL(cfg.BlobEndpoint),
			dephealth.WithHTTPHealthPath(cfg.BlobHealthPath),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		))
		deps++
	}

	if deps == 0 {
		return nil, ErrNoDependencies
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// CheckReady отдаёт в /health/ready последнее состояние зависимостей по
// данным topologymetrics. Недоступная зависимость — degraded: отказ
// хранилищ фиксируют их собственные readiness-проверки.
func (ds *DephealthService) CheckReady(_ context.Context) (string, string) {
	return readinessFromHealth(ds.Health())
}

// readinessFromHealth сводит карту состояний зависимостей к статусу readiness.
func readinessFromHealth(health map[string]bool) (string, string) {
	var down []string
	for name, ok := range health {
		if !ok {
			down = append(down, name)
		}
	}
	if len(down) == 0 {
		return "ok", ""
	}
	slices.Sort(down)
	return "degraded", "Недоступны: " + strings.Join(down, ", ")
}
