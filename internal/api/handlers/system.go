// system.go — служебные endpoints: текущий пользователь, параметры загрузки
// и контракт API.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/blob-module/internal/api/errors"
	"github.com/bigkaa/goartstore/blob-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/blob-module/internal/api/openapi"
)

// currentUser — ответ GET /api/v1/me.
type currentUser struct {
	ID string `json:"id"`
}

// GetCurrentUser — GET /api/v1/me. Возвращает sub из токена.
func (h *APIHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		apierrors.Unauthorized(w, "Не определён вызывающий")
		return
	}
	writeJSON(w, http.StatusOK, currentUser{ID: subject})
}

// GetUploadConfig — GET /api/v1/uploads/config.
func (h *APIHandler) GetUploadConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.uploadCfg)
}

// GetOpenAPISpec — GET /api/v1/openapi.yaml. Отдаёт встроенный контракт,
// по которому проверяются запросы.
func (h *APIHandler) GetOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Spec())
}
