// Пакет openapi — встроенный OpenAPI контракт Blob Module и middleware
// проверки входящих запросов по нему.
//
// Проверяются path/query параметры и JSON-тела. Тело загрузки (поток
// байт произвольного размера) не читается: его ограничивает сервисный слой.
package openapi

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	apierrors "github.com/bigkaa/goartstore/blob-module/internal/api/errors"
)

//go:embed openapi.yaml
var specYAML []byte

// Spec возвращает исходный текст контракта.
func Spec() []byte {
	return specYAML
}

// Load разбирает и валидирует встроенный контракт.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("разбор openapi.yaml: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("валидация openapi.yaml: %w", err)
	}
	return doc, nil
}

// Validator — проверка запросов по контракту.
type Validator struct {
	router routers.Router
	logger *slog.Logger
}

// NewValidator создаёт middleware проверки по разобранному контракту.
func NewValidator(doc *openapi3.T, logger *slog.Logger) (*Validator, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("создание маршрутизатора openapi: %w", err)
	}
	return &Validator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware. Запросы к путям, которых нет
// в контракте, пропускаются без проверки: их обработает роутер.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
					ExcludeRequestBody: !validatesBody(route, r),
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не соответствует контракту",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validatesBody — тело проверяется, только если это JSON и операция
// описывает JSON-тело. Поток загрузки не читается.
func validatesBody(route *routers.Route, r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return false
	}
	body := route.Operation.RequestBody
	if body == nil || body.Value == nil {
		return false
	}
	_, ok := body.Value.Content["application/json"]
	return ok
}

// validationMessage формирует краткое сообщение без дампа схемы.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("Некорректный параметр %s: %s", reqErr.Parameter.Name, reasonOf(reqErr))
		}
		if reqErr.RequestBody != nil {
			return "Некорректное тело запроса: " + reasonOf(reqErr)
		}
	}
	return "Некорректный запрос: " + err.Error()
}

func reasonOf(reqErr *openapi3filter.RequestError) string {
	var schemaErr *openapi3.SchemaError
	if errors.As(reqErr.Err, &schemaErr) {
		return schemaErr.Reason
	}
	if reqErr.Reason != "" {
		return reqErr.Reason
	}
	if reqErr.Err != nil {
		return reqErr.Err.Error()
	}
	return "не соответствует контракту"
}
