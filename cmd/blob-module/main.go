// Точка входа Blob Module — хранилище файлов с изоляцией по владельцам.
// Загружает конфигурацию, подключает хранилище метаданных (PostgreSQL
// или память) и хранилище содержимого (диск или S3), создаёт сервисный
// слой и API handlers, запускает topologymetrics и HTTP-сервер с JWT
// middleware и graceful shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/blob-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/blob-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/blob-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/blob-module/internal/config"
	"github.com/bigkaa/goartstore/blob-module/internal/database"
	"github.com/bigkaa/goartstore/blob-module/internal/ownerlock"
	"github.com/bigkaa/goartstore/blob-module/internal/repository"
	"github.com/bigkaa/goartstore/blob-module/internal/server"
	"github.com/bigkaa/goartstore/blob-module/internal/service"
	"github.com/bigkaa/goartstore/blob-module/internal/storage/blobstore"
)

// minioHealthPath — liveness endpoint MinIO для topologymetrics.
const minioHealthPath = "/minio/health/live"

//nolint:funlen,cyclop // последовательная инициализация компонентов
func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Blob Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("metadata_backend", cfg.MetadataBackend),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	ctx := context.Background()
	var checkers []handlers.NamedChecker

	// 3. Хранилище метаданных
	var (
		repo       repository.FileRepository
		dephealthC = service.DephealthConfig{
			ServiceID:      "blob-module",
			Group:          cfg.DephealthGroup,
			CheckInterval:  cfg.DephealthCheckInterval,
			BlobHealthPath: minioHealthPath,
		}
	)
	switch cfg.MetadataBackend {
	case config.MetadataBackendPostgres:
		// 3.1 Применение миграций БД
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		// 3.2 Подключение к PostgreSQL (pgxpool)
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// 3.3 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB := stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		repo = repository.NewFileRepository(pool)
		checkers = append(checkers, handlers.NamedChecker{
			Name:    "postgresql",
			Checker: database.NewReadinessChecker(pool),
		})
		dephealthC.DB = pgDB
		dephealthC.PgConnURL = cfg.DatabaseURL()
	default:
		logger.Warn("Метаданные хранятся в памяти и будут потеряны при перезапуске")
		repo = repository.NewMemoryRepository(logger)
	}

	// 4. Хранилище содержимого
	var store blobstore.Store
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		s3Opts := blobstore.S3Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Prefix:       cfg.S3Prefix,
			UsePathStyle: cfg.S3UsePathStyle,
			SpoolDir:     cfg.SpoolDir,
		}
		client, err := blobstore.NewS3Client(ctx, s3Opts)
		if err != nil {
			logger.Error("Ошибка создания S3-клиента", slog.String("error", err.Error()))
			os.Exit(1)
		}
		s3Store := blobstore.NewS3Store(client, s3Opts)
		store = s3Store
		checkers = append(checkers, handlers.NamedChecker{Name: "blob_store", Checker: s3Store})
		dephealthC.BlobEndpoint = cfg.S3Endpoint
		logger.Info("Хранилище содержимого: S3",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("endpoint", cfg.S3Endpoint),
		)
	default:
		fsStore, err := blobstore.NewFileStore(cfg.DataDir)
		if err != nil {
			logger.Error("Ошибка инициализации хранилища содержимого", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store = fsStore
		checkers = append(checkers, handlers.NamedChecker{Name: "blob_store", Checker: fsStore})
		logger.Info("Хранилище содержимого: локальный диск", slog.String("data_dir", cfg.DataDir))
	}

	// 5. Services
	locks := ownerlock.New(logger)
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	uploadSvc := service.NewUploadService(locks, repo, store, service.UploadOptions{
		MaxFileSize: cfg.MaxFileSize,
		Timeout:     cfg.UploadTimeout,
		LockTimeout: cfg.LockTimeout,
	}, logger)
	fileSvc := service.NewFileService(repo, store, cache, logger)

	// 6. topologymetrics — мониторинг зависимостей (PostgreSQL + S3)
	dephealthSvc, dephealthErr := service.NewDephealthService(dephealthC, logger)
	switch {
	case errors.Is(dephealthErr, service.ErrNoDependencies):
		logger.Info("Внешних зависимостей нет, topologymetrics не запускается")
	case dephealthErr != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			defer dephealthSvc.Stop()
			checkers = append(checkers, handlers.NamedChecker{Name: "dependencies", Checker: dephealthSvc})
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. API handler (реализует routes.ServerInterface)
	healthHandler := handlers.NewHealthHandler(checkers...)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		uploadSvc,
		fileSvc,
		handlers.NewUploadConfig(cfg.MaxFileSize),
		logger,
	)

	// 8. Проверка запросов по OpenAPI-контракту
	doc, err := openapi.Load()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-спецификации", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := openapi.NewValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		Secret:          cfg.JWTSecret,
		Issuer:          cfg.JWTIssuer,
		CACertPath:      cfg.JWKSCACert,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 10. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, jwtAuth, validator)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // defers не критичны при аварийном завершении
	}

	logger.Info("Blob Module остановлен")
}
