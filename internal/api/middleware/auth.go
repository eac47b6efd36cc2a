// auth.go — JWT middleware для аутентификации.
// Токены проверяются либо по JWKS провайдера идентификации (RS256/ES256),
// либо общим HMAC-секретом (HS256). Идентификатор вызывающего — claim sub.
// Проверенному токену доверяем безусловно: авторизация по владельцу
// и видимости выполняется в сервисном слое.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/blob-module/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeySubject — ключ для sub из JWT в контексте запроса.
const ContextKeySubject contextKey = "jwt_subject"

// Допустимые алгоритмы подписи.
var (
	jwksMethods   = []string{"RS256", "RS384", "RS512", "ES256", "ES384"}
	secretMethods = []string{"HS256"}
)

// Claims — JWT claims, используемые Blob Module.
type Claims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя (Keycloak), только для логов
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// JWTAuth — middleware для JWT-аутентификации.
type JWTAuth struct {
	keyFunc jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
	logger  *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
// Должен быть задан ровно один из JWKSURL и Secret.
type JWTAuthConfig struct {
	// URL JWKS endpoint
	JWKSURL string
	// Общий секрет HS256
	Secret string
	// Ожидаемый issuer (пусто — не проверяется)
	Issuer string
	// Путь к CA-сертификату JWKS endpoint (опционально)
	CACertPath string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	Leeway time.Duration
}

// NewJWTAuth создаёт JWT middleware по конфигурации.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	switch {
	case authCfg.JWKSURL != "" && authCfg.Secret != "":
		return nil, errors.New("JWKS URL и HMAC-секрет заданы одновременно")
	case authCfg.Secret != "":
		return NewJWTAuthWithSecret([]byte(authCfg.Secret), authCfg.Issuer, authCfg.Leeway, logger), nil
	case authCfg.JWKSURL == "":
		return nil, errors.New("не задан ни JWKS URL, ни HMAC-секрет")
	}

	httpClient, err := buildHTTPClient(authCfg.CACertPath, authCfg.ClientTimeout)
	if err != nil {
		return nil, err
	}
	if authCfg.CACertPath != "" {
		logger.Info("CA-сертификат добавлен в пул доверия",
			slog.String("ca_cert", authCfg.CACertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq позволяет стартовать, даже если JWKS endpoint
	// ещё недоступен (одновременный запуск pod-ов).
	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, authCfg.Issuer, authCfg.Leeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки JWKS из JSON.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		keyFunc: kf.Keyfunc,
		methods: jwksMethods,
		issuer:  issuer,
		leeway:  leeway,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}
}

// NewJWTAuthWithSecret создаёт JWT middleware для токенов HS256.
func NewJWTAuthWithSecret(secret []byte, issuer string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		keyFunc: func(*jwt.Token) (any, error) { return secret, nil },
		methods: secretMethods,
		issuer:  issuer,
		leeway:  leeway,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}
}

// buildHTTPClient создаёт HTTP-клиент с опциональным CA и таймаутом.
func buildHTTPClient(caCertPath string, timeout time.Duration) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if caCertPath != "" {
		caCert, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}

		caCertPool, err := x509.SystemCertPool()
		if err != nil {
			caCertPool = x509.NewCertPool()
		}
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
		}
		tlsConfig.RootCAs = caCertPool
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}, nil
}

// Authenticate проверяет токен и возвращает sub.
func (j *JWTAuth) Authenticate(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(j.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, j.keyFunc, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("невалидный токен")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("отсутствует sub в токене")
	}
	return subject, nil
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token из заголовка Authorization, проверяет подпись,
// exp/nbf и issuer, помещает sub в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			tokenString = strings.TrimSpace(tokenString)
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			subject, err := j.Authenticate(tokenString)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

// WithSubject возвращает контекст с идентификатором вызывающего.
// Идентификатор также попадает в запись журнала запроса.
func WithSubject(ctx context.Context, subject string) context.Context {
	if entry := logEntryFromContext(ctx); entry != nil {
		entry.ownerID = subject
	}
	return context.WithValue(ctx, ContextKeySubject, subject)
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если sub не найден.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}
