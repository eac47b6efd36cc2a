// upload.go — admission pipeline загрузки файлов.
//
// Поток (под блокировкой владельца и с общим таймаутом):
//  1. Проверка имени — конфликт до каких-либо побочных эффектов
//  2. Потоковая запись в хранилище blob-ов
//  3. Дайджест по сохранённому blob-у
//  4. Проверка дайджеста — при конфликте blob удаляется (compensate)
//  5. Вставка метаданных — последний шаг
//
// Любая ошибка после шага 2 и до успешной вставки запускает compensate.
// Поэтому запись метаданных без blob-а невозможна; возможен только
// осиротевший blob, если не удалось удалить его при компенсации.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/blob-module/internal/domain/model"
	"github.com/bigkaa/goartstore/blob-module/internal/hashing"
	"github.com/bigkaa/goartstore/blob-module/internal/repository"
	"github.com/bigkaa/goartstore/blob-module/internal/storage/blobstore"
)

// DefaultContentType — MIME-тип, если его не удалось определить.
const DefaultContentType = "application/octet-stream"

// MaxFilenameLength — максимальная длина имени файла в байтах.
const MaxFilenameLength = 255

// compensateTimeout — время на удаление blob-а при компенсации.
// Не зависит от ctx запроса: он может быть уже отменён.
const compensateTimeout = 30 * time.Second

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bm_uploads_total",
		Help: "Общее количество загрузок (по результату).",
	}, []string{"result"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bm_upload_bytes_total",
		Help: "Общее количество байт успешно загруженных файлов.",
	})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bm_upload_duration_seconds",
		Help:    "Длительность admission pipeline, включая ожидание блокировки.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bm_compensations_total",
		Help: "Количество компенсирующих удалений blob-ов (по результату).",
	}, []string{"result"})
)

// OwnerLocker — сериализация загрузок по владельцу.
type OwnerLocker interface {
	WithOwnerLock(ctx context.Context, ownerID string, fn func(ctx context.Context) error) error
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// OwnerID — идентификатор загружающего субъекта (sub из JWT)
	OwnerID string
	// Filename — имя файла (обязательно)
	Filename string
	// ContentType — MIME-тип (пусто — по расширению имени)
	ContentType string
	// Visibility — видимость (пусто — PRIVATE)
	Visibility model.Visibility
	// Tags — теги (нормализуются)
	Tags []string
	// Reader — поток содержимого
	Reader io.Reader
}

// UploadOptions — ограничения admission pipeline.
type UploadOptions struct {
	// MaxFileSize — максимальный размер файла в байтах (0 — без ограничения)
	MaxFileSize int64
	// Timeout — общий лимит времени загрузки (0 — без ограничения)
	Timeout time.Duration
	// LockTimeout — максимальное ожидание блокировки владельца (0 — без ограничения)
	LockTimeout time.Duration
}

// UploadService — сервис загрузки файлов.
type UploadService struct {
	locks  OwnerLocker
	repo   repository.FileRepository
	store  blobstore.Store
	opts   UploadOptions
	logger *slog.Logger
}

// NewUploadService создаёт сервис загрузки файлов.
func NewUploadService(
	locks OwnerLocker,
	repo repository.FileRepository,
	store blobstore.Store,
	opts UploadOptions,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		locks:  locks,
		repo:   repo,
		store:  store,
		opts:   opts,
		logger: logger.With(slog.String("component", "upload_service")),
	}
}

// Upload проводит загрузку через admission pipeline и возвращает
// сохранённую запись или *Error.
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*model.FileRecord, error) {
	start := time.Now()

	rec, err := s.upload(ctx, params)

	uploadDuration.Observe(time.Since(start).Seconds())
	uploadsTotal.WithLabelValues(uploadResult(err)).Inc()
	if err != nil {
		s.logUploadError(params, err)
		return nil, err
	}

	uploadBytesTotal.Add(float64(rec.Size))
	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.Filename),
		slog.String("owner_id", rec.OwnerID),
		slog.Int64("size", rec.Size),
		slog.String("content_hash", rec.ContentHash),
		slog.String("visibility", string(rec.Visibility)),
	)
	return rec, nil
}

func (s *UploadService) upload(ctx context.Context, params UploadParams) (*model.FileRecord, error) {
	if err := validateUpload(&params); err != nil {
		return nil, err
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	lockCtx := ctx
	if s.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()
	}

	var rec *model.FileRecord
	// Таймаут блокировки ограничивает только ожидание: после захвата
	// pipeline работает под ctx с общим таймаутом загрузки.
	err := s.locks.WithOwnerLock(lockCtx, params.OwnerID, func(context.Context) error {
		var admitErr error
		rec, admitErr = s.admit(ctx, params)
		return admitErr
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, newError(ErrIO, "Не удалось дождаться завершения предыдущей загрузки", err)
	}
	return rec, nil
}

// admit — шаги 1–5 admission pipeline. Вызывается под блокировкой владельца.
func (s *UploadService) admit(ctx context.Context, p UploadParams) (*model.FileRecord, error) {
	// 1. Конфликт имени — до записи blob-а
	exists, err := s.repo.ExistsByFilename(ctx, p.OwnerID, p.Filename)
	if err != nil {
		return nil, newError(ErrIO, "Ошибка проверки имени файла", err)
	}
	if exists {
		return nil, conflictError(ReasonFilenameExists)
	}

	// 2. Потоковая запись
	var body io.Reader = p.Reader
	var limited *limitReader
	if s.opts.MaxFileSize > 0 {
		limited = &limitReader{r: p.Reader, remaining: s.opts.MaxFileSize}
		body = limited
	}
	handle, size, err := s.store.Store(ctx, p.Filename, p.ContentType, body)
	if err != nil {
		if limited != nil && limited.exceeded {
			return nil, newError(ErrTooLarge,
				fmt.Sprintf("Размер файла превышает максимум %d байт", s.opts.MaxFileSize), err)
		}
		return nil, newError(ErrIO, "Ошибка записи содержимого", err)
	}

	// 3. Дайджест по сохранённым данным
	hash, err := hashing.DigestBlob(ctx, s.store, handle)
	if err != nil {
		s.compensate(ctx, handle, "hash_failed")
		return nil, newError(ErrIO, "Ошибка вычисления дайджеста", err)
	}

	// 4. Конфликт содержимого
	exists, err = s.repo.ExistsByContentHash(ctx, p.OwnerID, hash)
	if err != nil {
		s.compensate(ctx, handle, "hash_check_failed")
		return nil, newError(ErrIO, "Ошибка проверки содержимого", err)
	}
	if exists {
		s.compensate(ctx, handle, "content_exists")
		return nil, conflictError(ReasonContentExists)
	}

	// 5. Вставка метаданных
	rec := &model.FileRecord{
		Filename:      p.Filename,
		Visibility:    p.Visibility,
		Tags:          p.Tags,
		OwnerID:       p.OwnerID,
		ContentHandle: handle,
		Size:          size,
		ContentHash:   hash,
		ContentType:   p.ContentType,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		s.compensate(ctx, handle, "insert_failed")
		switch {
		case errors.Is(err, repository.ErrFilenameTaken):
			return nil, conflictError(ReasonFilenameExists)
		case errors.Is(err, repository.ErrContentTaken):
			return nil, conflictError(ReasonContentExists)
		default:
			return nil, newError(ErrIO, "Ошибка сохранения метаданных", err)
		}
	}

	return rec, nil
}

// compensate удаляет blob, записанный в рамках неудавшейся загрузки.
// Ошибка удаления логируется и не заменяет исходную ошибку.
func (s *UploadService) compensate(ctx context.Context, handle, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	if err := s.store.Delete(ctx, handle); err != nil {
		compensationsTotal.WithLabelValues("fail").Inc()
		s.logger.Error("Не удалось удалить blob при компенсации",
			slog.String("handle", handle),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	compensationsTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("Blob удалён при компенсации",
		slog.String("handle", handle),
		slog.String("reason", reason),
	)
}

func (s *UploadService) logUploadError(p UploadParams, err error) {
	attrs := []any{
		slog.String("filename", p.Filename),
		slog.String("owner_id", p.OwnerID),
		slog.String("error", err.Error()),
	}
	switch {
	case errors.Is(err, ErrIO), errors.Is(err, ErrInternal):
		s.logger.Error("Ошибка загрузки файла", attrs...)
	default:
		s.logger.Info("Загрузка отклонена", attrs...)
	}
}

// validateUpload проверяет и нормализует параметры загрузки.
func validateUpload(p *UploadParams) error {
	if p.OwnerID == "" {
		return newError(ErrValidation, "Не определён владелец файла", nil)
	}
	if p.Reader == nil {
		return newError(ErrValidation, "Отсутствует содержимое файла", nil)
	}
	if err := ValidateFilename(p.Filename); err != nil {
		return err
	}

	if p.Visibility == "" {
		p.Visibility = model.VisibilityPrivate
	}
	if _, err := model.ParseVisibility(string(p.Visibility)); err != nil {
		return newError(ErrValidation, err.Error(), nil)
	}
	p.Tags = model.NormalizeTags(p.Tags)
	p.ContentType = DetectContentType(p.ContentType, p.Filename)
	return nil
}

// ValidateFilename проверяет имя файла: непустое, не длиннее
// MaxFilenameLength байт, без управляющих символов и разделителей пути.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return newError(ErrValidation, "Имя файла обязательно", nil)
	}
	if len(name) > MaxFilenameLength {
		return newError(ErrValidation,
			fmt.Sprintf("Имя файла длиннее %d байт", MaxFilenameLength), nil)
	}
	if strings.ContainsAny(name, `/\`) || strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return newError(ErrValidation, "Имя файла содержит недопустимые символы", nil)
	}
	return nil
}

// DetectContentType возвращает явно указанный MIME-тип без параметров
// или определяет его по расширению имени файла.
func DetectContentType(contentType, filename string) string {
	if ct := strings.TrimSpace(contentType); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
		return ct
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
		return byExt
	}
	return DefaultContentType
}

// uploadResult — значение метки result для bm_uploads_total.
func uploadResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrConflict):
		return strings.ToLower(string(ReasonOf(err)))
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrIO):
		return "io_failure"
	default:
		return "internal"
	}
}

// errLimitExceeded — поток длиннее допустимого размера.
var errLimitExceeded = errors.New("превышен максимальный размер файла")

// limitReader отдаёт не более remaining байт; попытка прочитать больше —
// ошибка, чтобы хранилище прервало запись и удалило частичные данные.
type limitReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		// Проверяем, есть ли ещё данные за пределом
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			l.exceeded = true
			return 0, errLimitExceeded
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
