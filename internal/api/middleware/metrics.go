// metrics.go — Prometheus HTTP метрики Blob Module.
// Бизнес-метрики (bm_uploads_total, bm_downloads_total и др.)
// регистрируются в сервисном слое.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Blob Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Blob Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификатор файла на {id}, чтобы не раздувать
// кардинальность метрик. Пути вне API сворачиваются в "other".
//
//	/api/v1/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890/download → /api/v1/files/{id}/download
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/files", "/api/v1/files/upload", "/api/v1/me", "/api/v1/uploads/config",
		"/api/v1/openapi.yaml":
		return path
	}

	rest, ok := strings.CutPrefix(path, "/api/v1/files/")
	if !ok || rest == "" {
		return "other"
	}
	id, suffix, _ := strings.Cut(rest, "/")
	switch {
	case id == "":
		return "other"
	case suffix == "":
		return "/api/v1/files/{id}"
	case suffix == "download":
		return "/api/v1/files/{id}/download"
	default:
		return "other"
	}
}
