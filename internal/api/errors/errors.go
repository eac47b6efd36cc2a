// Пакет errors — ответы с ошибками в едином формате Blob Module.
// Формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/blob-module/internal/service"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeFilenameExists  = "FILENAME_EXISTS"
	CodeContentExists   = "CONTENT_EXISTS"
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeIOFailure       = "IO_FAILURE"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки отдаются как 500 без раскрытия деталей.
func WriteServiceError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	message := service.MessageOf(err)
	if message == "" {
		message = defaultMessage(code)
	}
	WriteError(w, status, code, message)
}

// Classify возвращает HTTP-статус и код ответа для ошибки сервисного слоя.
func Classify(err error) (status int, code string) {
	switch {
	case stderrors.Is(err, service.ErrConflict):
		if service.ReasonOf(err) == service.ReasonContentExists {
			return http.StatusConflict, CodeContentExists
		}
		return http.StatusConflict, CodeFilenameExists
	case stderrors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case stderrors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, CodeValidationError
	case stderrors.Is(err, service.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, CodeFileTooLarge
	case stderrors.Is(err, service.ErrIO):
		return http.StatusBadGateway, CodeIOFailure
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

func defaultMessage(code string) string {
	switch code {
	case CodeFilenameExists:
		return "Файл с таким именем уже существует"
	case CodeContentExists:
		return "Файл с таким содержимым уже существует"
	case CodeNotFound:
		return "Файл не найден"
	case CodeForbidden:
		return "Недостаточно прав"
	case CodeIOFailure:
		return "Ошибка хранилища"
	default:
		return "Внутренняя ошибка"
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// FileTooLarge — 413 превышен максимальный размер файла.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
