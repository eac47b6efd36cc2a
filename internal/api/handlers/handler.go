// handler.go — основной обработчик API, реализующий routes.ServerInterface.
// Делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/blob-module/internal/api/errors"
	"github.com/bigkaa/goartstore/blob-module/internal/api/routes"
	"github.com/bigkaa/goartstore/blob-module/internal/hashing"
	"github.com/bigkaa/goartstore/blob-module/internal/service"
)

// Проверка соответствия интерфейсу на этапе компиляции.
var _ routes.ServerInterface = (*APIHandler)(nil)

// UploadConfig — параметры загрузки, отдаваемые клиентам.
type UploadConfig struct {
	MaxFileSize int64    `json:"max_file_size"`
	ChunkSize   int      `json:"chunk_size"`
	HashAlgo    string   `json:"hash_algorithm"`
	Methods     []string `json:"methods"`
}

// NewUploadConfig — параметры загрузки для заданного максимального размера.
func NewUploadConfig(maxFileSize int64) UploadConfig {
	return UploadConfig{
		MaxFileSize: maxFileSize,
		ChunkSize:   hashing.ChunkSize,
		HashAlgo:    hashing.Algorithm,
		Methods:     []string{"multipart/form-data", "raw-stream"},
	}
}

// APIHandler — основной обработчик API Blob Module.
type APIHandler struct {
	health    *HealthHandler
	uploads   *service.UploadService
	files     *service.FileService
	uploadCfg UploadConfig
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	uploads *service.UploadService,
	files *service.FileService,
	uploadCfg UploadConfig,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		uploads:   uploads,
		files:     files,
		uploadCfg: uploadCfg,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError отвечает ошибкой сервиса; 5xx дополнительно логируются.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, _ := apierrors.Classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.WriteServiceError(w, err)
}
