// health.go — обработчики health endpoints Blob Module.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (хранилища метаданных и содержимого доступны)
// /metrics — Prometheus метрики
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/blob-module/internal/config"
)

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// readyCheckTimeout — ограничение на одну проверку готовности.
const readyCheckTimeout = 3 * time.Second

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady(ctx context.Context) (status, message string)
}

// ReadinessFunc — адаптер функции к ReadinessChecker.
type ReadinessFunc func(ctx context.Context) (string, string)

// CheckReady вызывает f.
func (f ReadinessFunc) CheckReady(ctx context.Context) (string, string) {
	return f(ctx)
}

// NamedChecker — проверка с именем для ответа readiness.
type NamedChecker struct {
	Name    string
	Checker ReadinessChecker
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checkers    []NamedChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(checkers ...NamedChecker) *HealthHandler {
	return &HealthHandler{
		checkers:    checkers,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse — ответ liveness/readiness probe.
type healthResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks,omitempty"`
}

// HealthLive — liveness probe. Возвращает 200, если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "blob-module",
	})
}

// HealthReady — readiness probe. Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "blob-module",
		Checks:    make(map[string]healthCheckResult, len(h.checkers)),
	}

	statuses := make([]string, 0, len(h.checkers))
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		status, msg := c.Checker.CheckReady(ctx)
		cancel()

		resp.Checks[c.Name] = healthCheckResult{Status: status, Message: msg}
		statuses = append(statuses, status)
	}
	resp.Status = overallStatus(statuses...)

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == statusFail {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded. Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
