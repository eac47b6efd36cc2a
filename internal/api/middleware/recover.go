// recover.go — перехват паники обработчика: запрос завершается ответом
// 500 в формате API, процесс продолжает обслуживать остальные запросы.
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	apierrors "github.com/bigkaa/goartstore/blob-module/internal/api/errors"
)

// Recoverer возвращает middleware, превращающий панику в 500 INTERNAL_ERROR.
// http.ErrAbortHandler пробрасывается дальше: им сервер обрывает соединение.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "recoverer"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error("Паника при обработке запроса",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("stack", string(debug.Stack())),
				)
				apierrors.InternalError(w, "Внутренняя ошибка сервера")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
