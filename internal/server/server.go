// Пакет server — HTTP-сервер Blob Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/blob-module/internal/api/errors"
	"github.com/bigkaa/goartstore/blob-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/blob-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/blob-module/internal/api/routes"
	"github.com/bigkaa/goartstore/blob-module/internal/config"
)

// Server — HTTP-сервер Blob Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (может быть nil для тестирования без auth).
// validator — проверка запросов по OpenAPI-контракту (может быть nil).
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler routes.ServerInterface,
	jwtAuth *middleware.JWTAuth,
	validator *openapi.Validator,
) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, handler, jwtAuth, validator),
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// publicPaths — префиксы путей, доступных без JWT.
var publicPaths = []string{"/health/", "/metrics", "/api/v1/openapi.yaml"}

// NewRouter собирает chi-роутер со всеми middleware и маршрутами.
func NewRouter(
	logger *slog.Logger,
	handler routes.ServerInterface,
	jwtAuth *middleware.JWTAuth,
	validator *openapi.Validator,
) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Recoverer(logger))

	// JWT middleware с исключениями для публичных endpoints.
	// Health и metrics проверяются Kubernetes напрямую, без API Gateway;
	// контракт API нужен клиентам до получения токена.
	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth, publicPaths...))
	}

	if validator != nil {
		router.Use(validator.Middleware())
	}

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден")
	})

	routes.HandlerFromMux(handler, router, func(w http.ResponseWriter, _ *http.Request, err error) {
		apierrors.ValidationError(w, err.Error())
	})

	return router
}

// Handler возвращает корневой http.Handler сервера.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без JWT.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		protected := jwtMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
