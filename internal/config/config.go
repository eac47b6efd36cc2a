// Пакет config — загрузка и валидация конфигурации Blob Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища метаданных.
const (
	MetadataBackendPostgres = "postgres"
	MetadataBackendMemory   = "memory"
)

// Бэкенды хранилища содержимого.
const (
	BlobBackendFilesystem = "filesystem"
	BlobBackendS3         = "s3"
)

// Config содержит все параметры конфигурации Blob Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения заголовков запроса
	HTTPReadHeaderTimeout time.Duration
	// Таймаут чтения всего запроса с телом (0 — без ограничения: длительность
	// загрузки ограничивает BM_UPLOAD_TIMEOUT)
	HTTPReadTimeout time.Duration
	// Таймаут записи ответа (0 — без ограничения, нужен для больших download)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя keep-alive соединений
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Загрузка ---

	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Максимальная длительность admission pipeline (вместе с ожиданием блокировки)
	UploadTimeout time.Duration
	// Максимальное ожидание блокировки владельца
	LockTimeout time.Duration

	// --- Хранилище метаданных ---

	// Бэкенд метаданных: postgres или memory
	MetadataBackend string
	DBHost          string
	DBPort          int
	DBName          string
	DBUser          string
	DBPassword      string
	DBSSLMode       string
	// Максимальное количество соединений пула (0 — значение pgxpool по умолчанию)
	DBMaxConns int

	// --- Хранилище содержимого ---

	// Бэкенд содержимого: filesystem или s3
	BlobBackend string
	// Корневая директория filesystem-бэкенда
	DataDir string
	// Директория временных файлов при загрузке в S3 (пусто — os.TempDir)
	SpoolDir string
	S3Bucket string
	S3Region string
	// Endpoint S3-совместимого хранилища (MinIO), пусто — AWS
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Prefix       string
	S3UsePathStyle bool

	// --- JWT ---

	// URL JWKS endpoint провайдера идентификации (RS256)
	JWTJWKSURL string
	// Общий секрет HMAC (HS256), альтернатива JWKS
	JWTSecret string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал фонового обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Путь к CA-сертификату JWKS endpoint (опционально)
	JWKSCACert string

	// --- Кэш ---

	// Максимальное количество записей LRU-кэша метаданных (0 — кэш отключён)
	CacheMaxSize int
	// TTL записи кэша
	CacheTTL time.Duration

	// --- topologymetrics ---

	// Имя группы в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop,funlen // линейный разбор переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("BM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("BM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("BM_PORT: порт %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("BM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("BM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("BM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("BM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadHeaderTimeout, err = getEnvDuration("BM_HTTP_READ_HEADER_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("BM_HTTP_READ_HEADER_TIMEOUT: %w", err)
	}
	// Тело не ограничиваем по умолчанию: upload больших файлов
	if cfg.HTTPReadTimeout, err = getEnvDuration("BM_HTTP_READ_TIMEOUT", 0); err != nil {
		return nil, fmt.Errorf("BM_HTTP_READ_TIMEOUT: %w", err)
	}
	// Запись не ограничиваем по умолчанию: download больших файлов
	if cfg.HTTPWriteTimeout, err = getEnvDuration("BM_HTTP_WRITE_TIMEOUT", 0); err != nil {
		return nil, fmt.Errorf("BM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("BM_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("BM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("BM_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("BM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Загрузка ---

	// BM_MAX_FILE_SIZE — по умолчанию 1 GiB
	cfg.MaxFileSize, err = getEnvInt64("BM_MAX_FILE_SIZE", 1<<30)
	if err != nil {
		return nil, fmt.Errorf("BM_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("BM_MAX_FILE_SIZE: значение должно быть > 0")
	}
	if cfg.UploadTimeout, err = getEnvPositiveDuration("BM_UPLOAD_TIMEOUT", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("BM_UPLOAD_TIMEOUT: %w", err)
	}
	if cfg.LockTimeout, err = getEnvPositiveDuration("BM_LOCK_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("BM_LOCK_TIMEOUT: %w", err)
	}

	// --- Хранилище метаданных ---

	cfg.MetadataBackend = getEnvDefault("BM_METADATA_BACKEND", MetadataBackendPostgres)
	switch cfg.MetadataBackend {
	case MetadataBackendPostgres:
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	case MetadataBackendMemory:
	default:
		return nil, fmt.Errorf("BM_METADATA_BACKEND: недопустимое значение %q, допустимые: postgres, memory", cfg.MetadataBackend)
	}

	// --- Хранилище содержимого ---

	cfg.BlobBackend = getEnvDefault("BM_BLOB_BACKEND", BlobBackendFilesystem)
	switch cfg.BlobBackend {
	case BlobBackendFilesystem:
		cfg.DataDir = getEnvDefault("BM_DATA_DIR", "./data")
	case BlobBackendS3:
		if err := loadS3(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("BM_BLOB_BACKEND: недопустимое значение %q, допустимые: filesystem, s3", cfg.BlobBackend)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = os.Getenv("BM_JWT_JWKS_URL")
	cfg.JWTSecret = os.Getenv("BM_JWT_SECRET")
	if cfg.JWTJWKSURL == "" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("BM_JWT_JWKS_URL или BM_JWT_SECRET: одна из переменных обязательна")
	}
	if cfg.JWTJWKSURL != "" {
		if _, err := url.ParseRequestURI(cfg.JWTJWKSURL); err != nil {
			return nil, fmt.Errorf("BM_JWT_JWKS_URL: некорректный URL %q", cfg.JWTJWKSURL)
		}
	}
	cfg.JWTIssuer = os.Getenv("BM_JWT_ISSUER")
	if cfg.JWTLeeway, err = getEnvDuration("BM_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("BM_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("BM_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("BM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("BM_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("BM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSCACert = os.Getenv("BM_JWKS_CA_CERT")

	// --- Кэш ---

	if cfg.CacheMaxSize, err = getEnvInt("BM_CACHE_MAX_SIZE", 10000); err != nil {
		return nil, fmt.Errorf("BM_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 0 {
		return nil, fmt.Errorf("BM_CACHE_MAX_SIZE: значение не может быть отрицательным")
	}
	if cfg.CacheTTL, err = getEnvPositiveDuration("BM_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("BM_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("BM_DEPHEALTH_GROUP", "goartstore")
	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("BM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("BM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// loadDatabase читает параметры подключения к PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost = getEnvDefault("BM_DB_HOST", "localhost")
	if cfg.DBPort, err = getEnvInt("BM_DB_PORT", 5432); err != nil {
		return fmt.Errorf("BM_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("BM_DB_NAME", "blobs")
	if cfg.DBUser, err = getEnvRequired("BM_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("BM_DB_PASSWORD"); err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("BM_DB_SSL_MODE", "disable")
	switch cfg.DBSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("BM_DB_SSL_MODE: недопустимое значение %q", cfg.DBSSLMode)
	}
	if cfg.DBMaxConns, err = getEnvInt("BM_DB_MAX_CONNS", 0); err != nil {
		return fmt.Errorf("BM_DB_MAX_CONNS: %w", err)
	}
	return nil
}

// loadS3 читает параметры S3-совместимого хранилища.
func loadS3(cfg *Config) error {
	var err error

	if cfg.S3Bucket, err = getEnvRequired("BM_S3_BUCKET"); err != nil {
		return err
	}
	cfg.S3Region = getEnvDefault("BM_S3_REGION", "us-east-1")
	cfg.S3Endpoint = os.Getenv("BM_S3_ENDPOINT")
	cfg.S3AccessKey = os.Getenv("BM_S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("BM_S3_SECRET_KEY")
	if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return fmt.Errorf("BM_S3_ACCESS_KEY и BM_S3_SECRET_KEY задаются только вместе")
	}
	cfg.S3Prefix = strings.Trim(os.Getenv("BM_S3_PREFIX"), "/")
	if cfg.S3UsePathStyle, err = getEnvBool("BM_S3_USE_PATH_STYLE", cfg.S3Endpoint != ""); err != nil {
		return fmt.Errorf("BM_S3_USE_PATH_STYLE: %w", err)
	}
	cfg.SpoolDir = os.Getenv("BM_SPOOL_DIR")
	return nil
}

// DatabaseDSN возвращает DSN для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 из переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d < 0 {
		return 0, fmt.Errorf("значение не может быть отрицательным")
	}
	return d, nil
}

// getEnvPositiveDuration как getEnvDuration, но требует значение > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
