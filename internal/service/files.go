// files.go — слой авторизации и запросов: чтение, список, изменение,
// удаление и скачивание файлов с учётом владельца и видимости.
//
// Невидимая субъекту запись неотличима от несуществующей (ErrNotFound).
// ErrForbidden возвращается только для видимой записи, которую
// субъект не может изменять (публичный файл другого владельца).
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/blob-module/internal/domain/access"
	"github.com/bigkaa/goartstore/blob-module/internal/domain/model"
	"github.com/bigkaa/goartstore/blob-module/internal/repository"
	"github.com/bigkaa/goartstore/blob-module/internal/storage/blobstore"
)

// Границы пагинации.
const (
	// DefaultLimit — размер страницы по умолчанию и при выходе за границы.
	DefaultLimit = 50
	// MaxLimit — максимальный размер страницы.
	MaxLimit = 1000
)

// Prometheus-метрики скачивания.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bm_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bm_download_bytes_total",
		Help: "Общее количество переданных байт при скачивании.",
	})
)

// ListFilter — необязательные фильтры списка.
type ListFilter struct {
	Visibility *model.Visibility
	Tag        *string
}

// Page — параметры пагинации.
type Page struct {
	Skip  int
	Limit int
}

// Sort — параметры сортировки.
type Sort struct {
	Field model.SortField
	Desc  bool
}

// ListResult — страница списка файлов.
type ListResult struct {
	Items []*model.FileRecord `json:"items"`
	Total int                 `json:"total"`
	Skip  int                 `json:"skip"`
	Limit int                 `json:"limit"`
}

// UpdateParams — частичное изменение метаданных. nil — поле не меняется.
type UpdateParams struct {
	Filename *string
	Tags     *[]string
}

// Download — содержимое файла для отдачи клиенту.
// Вызывающий обязан закрыть Reader.
type Download struct {
	Reader      io.ReadCloser
	ContentType string
	Size        int64
	Filename    string
}

// FileService — операции над файлами с учётом прав субъекта.
type FileService struct {
	repo   repository.FileRepository
	store  blobstore.Store
	cache  *CacheService
	logger *slog.Logger
}

// NewFileService создаёт сервис запросов. cache может быть nil.
func NewFileService(
	repo repository.FileRepository,
	store blobstore.Store,
	cache *CacheService,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		repo:   repo,
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "file_service")),
	}
}

// NormalizePage приводит параметры пагинации к допустимым:
// skip < 0 → 0; limit <= 0 или limit > MaxLimit → DefaultLimit.
func NormalizePage(p Page) Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 || p.Limit > MaxLimit {
		p.Limit = DefaultLimit
	}
	return p
}

// Get возвращает запись, видимую субъекту.
// Поколение кэша фиксируется до чтения: если за время чтения запись
// изменили или удалили, прочитанная копия в кэш не попадёт.
func (s *FileService) Get(ctx context.Context, id, callerID string) (*model.FileRecord, error) {
	if rec, ok := s.cache.Get(id); ok {
		if access.Decide(rec, callerID) == access.Hidden {
			return nil, notFoundError()
		}
		return rec, nil
	}

	gen := s.cache.Generation()
	rec, err := s.loadVisible(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(rec, gen)
	return rec, nil
}

// List возвращает страницу видимых субъекту файлов.
func (s *FileService) List(
	ctx context.Context,
	callerID string,
	filter ListFilter,
	page Page,
	sort Sort,
) (*ListResult, error) {
	page = NormalizePage(page)

	params := repository.ListParams{
		Visibility: filter.Visibility,
		Skip:       page.Skip,
		Limit:      page.Limit,
		SortBy:     model.ParseSortField(string(sort.Field)),
		Desc:       sort.Desc,
	}
	if filter.Tag != nil {
		if tag := model.NormalizeTag(*filter.Tag); tag != "" {
			params.Tag = &tag
		}
	}

	items, total, err := s.repo.List(ctx, callerID, params)
	if err != nil {
		return nil, newError(ErrIO, "Ошибка получения списка файлов", err)
	}
	if items == nil {
		items = []*model.FileRecord{}
	}

	return &ListResult{Items: items, Total: total, Skip: page.Skip, Limit: page.Limit}, nil
}

// Update изменяет имя и/или теги файла владельца.
func (s *FileService) Update(ctx context.Context, id, callerID string, params UpdateParams) (*model.FileRecord, error) {
	rec, err := s.loadVisible(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if err := authorizeMutation(rec, callerID, "Изменять файл может только владелец"); err != nil {
		return nil, err
	}

	var fields repository.UpdateFields
	if params.Filename != nil {
		if err := ValidateFilename(*params.Filename); err != nil {
			return nil, err
		}
		if *params.Filename != rec.Filename {
			exists, err := s.repo.ExistsByFilename(ctx, callerID, *params.Filename)
			if err != nil {
				return nil, newError(ErrIO, "Ошибка проверки имени файла", err)
			}
			if exists {
				return nil, conflictError(ReasonFilenameExists)
			}
			fields.Filename = params.Filename
		}
	}
	if params.Tags != nil {
		fields.Tags = model.NormalizeTags(*params.Tags)
		fields.SetTags = true
	}

	updated, err := s.repo.Update(ctx, id, callerID, fields)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			// Запись удалена параллельно
			s.cache.Delete(id)
			return nil, notFoundError()
		case errors.Is(err, repository.ErrFilenameTaken):
			return nil, conflictError(ReasonFilenameExists)
		default:
			return nil, newError(ErrIO, "Ошибка обновления метаданных", err)
		}
	}

	s.cache.Delete(id)
	s.logger.Info("Метаданные файла обновлены",
		slog.String("file_id", id),
		slog.String("owner_id", callerID),
		slog.String("filename", updated.Filename),
	)
	return updated, nil
}

// Delete удаляет файл владельца: сначала blob, затем метаданные.
// Метаданные без blob-а хуже осиротевшего blob-а, поэтому порядок именно такой.
func (s *FileService) Delete(ctx context.Context, id, callerID string) error {
	rec, err := s.loadVisible(ctx, id, callerID)
	if err != nil {
		return err
	}
	if err := authorizeMutation(rec, callerID, "Удалять файл может только владелец"); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, rec.ContentHandle); err != nil {
		return newError(ErrIO, "Ошибка удаления содержимого", err)
	}
	s.cache.Delete(id)

	err = s.repo.DeleteOwned(ctx, id, callerID)
	// Повторная инвалидация отсекает чтения, начатые до удаления записи
	s.cache.Delete(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("Запись исчезла между чтением и удалением",
				slog.String("file_id", id),
				slog.String("owner_id", callerID),
			)
			return newError(ErrInternal, "Файл был удалён параллельным запросом", err)
		}
		return newError(ErrIO, "Ошибка удаления метаданных", err)
	}

	s.logger.Info("Файл удалён",
		slog.String("file_id", id),
		slog.String("owner_id", callerID),
		slog.String("handle", rec.ContentHandle),
	)
	return nil
}

// Download открывает содержимое видимого субъекту файла.
// Отсутствующий blob при существующих метаданных — ErrNotFound.
func (s *FileService) Download(ctx context.Context, id, callerID string) (*Download, error) {
	rec, err := s.Get(ctx, id, callerID)
	if err != nil {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}

	rc, err := s.store.Open(ctx, rec.ContentHandle)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			downloadsTotal.WithLabelValues("blob_missing").Inc()
			s.cache.Delete(id)
			s.logger.Warn("Blob отсутствует для существующей записи",
				slog.String("file_id", id),
				slog.String("handle", rec.ContentHandle),
			)
			return nil, notFoundError()
		}
		downloadsTotal.WithLabelValues("error").Inc()
		return nil, newError(ErrIO, "Ошибка чтения содержимого", err)
	}

	downloadsTotal.WithLabelValues("success").Inc()
	return &Download{
		Reader:      &countingReadCloser{ReadCloser: rc},
		ContentType: rec.ContentType,
		Size:        rec.Size,
		Filename:    rec.Filename,
	}, nil
}

// authorizeMutation разрешает изменение только владельцу видимой записи.
func authorizeMutation(rec *model.FileRecord, callerID, msg string) error {
	switch access.Decide(rec, callerID) {
	case access.Owner:
		return nil
	case access.Hidden:
		return notFoundError()
	default:
		return newError(ErrForbidden, msg, nil)
	}
}

// loadVisible читает запись из хранилища метаданных с предикатом видимости.
func (s *FileService) loadVisible(ctx context.Context, id, callerID string) (*model.FileRecord, error) {
	rec, err := s.repo.GetVisible(ctx, id, callerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError()
		}
		return nil, newError(ErrIO, "Ошибка чтения метаданных", err)
	}
	return rec, nil
}

// countingReadCloser учитывает переданные байты в bm_download_bytes_total.
type countingReadCloser struct {
	io.ReadCloser
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		downloadBytesTotal.Add(float64(n))
	}
	return n, err
}
