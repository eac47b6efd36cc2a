// logging.go — журнал HTTP-запросов Blob Module через slog.
//
// Помимо метода, пути и статуса в запись попадают владелец (sub из JWT,
// известный только после аутентификации), идентификатор файла из пути
// и фактически прочитанный объём тела: загрузки идут потоком, и
// Content-Length у них может отсутствовать.
package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// responseWriter — обёртка для перехвата статус-кода и размера ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// countingBody считает байты тела, реально прочитанные обработчиком.
type countingBody struct {
	io.ReadCloser
	read int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.read += int64(n)
	return n, err
}

// logEntry — поля записи журнала, которые заполняют внутренние middleware.
type logEntry struct {
	ownerID string
}

type logEntryKey struct{}

func logEntryFromContext(ctx context.Context) *logEntry {
	entry, _ := ctx.Value(logEntryKey{}).(*logEntry)
	return entry
}

// RequestLogger возвращает middleware, логирующий каждый HTTP-запрос.
// Уровень зависит от статус-кода: INFO (1xx-3xx), WARN (4xx), ERROR (5xx).
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			entry := &logEntry{}
			var body *countingBody
			if r.Body != nil && r.Body != http.NoBody {
				body = &countingBody{ReadCloser: r.Body}
				r.Body = body
			}

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), logEntryKey{}, entry)))

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				level = slog.LevelError
			case wrapped.statusCode >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if entry.ownerID != "" {
				attrs = append(attrs, slog.String("owner_id", entry.ownerID))
			}
			// Параметры маршрута chi заполняет после сопоставления пути
			if fileID := chi.URLParamFromCtx(r.Context(), "file_id"); fileID != "" {
				attrs = append(attrs, slog.String("file_id", fileID))
			}
			if body != nil && body.read > 0 {
				attrs = append(attrs, slog.Int64("request_bytes", body.read))
			}

			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
