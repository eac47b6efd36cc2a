// files.go — обработчики /api/v1/files endpoints.
// Загрузка потоком, список, метаданные, изменение, удаление, скачивание.
// Права проверяются в сервисном слое по sub из JWT.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/goartstore/blob-module/internal/api/errors"
	"github.com/bigkaa/goartstore/blob-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/blob-module/internal/api/routes"
	"github.com/bigkaa/goartstore/blob-module/internal/domain/model"
	"github.com/bigkaa/goartstore/blob-module/internal/service"
)

// maxUpdateBodySize — ограничение тела PATCH.
const maxUpdateBodySize = 64 << 10

// multipartFileField — имя части multipart/form-data с содержимым файла.
const multipartFileField = "file"

// UploadFile — POST /api/v1/files/upload.
// Тело запроса — содержимое файла (raw-stream) либо multipart/form-data
// с частью "file"; метаданные — query-параметры. Имя файла из query
// имеет приоритет над именем части multipart.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request, params routes.UploadFileParams) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		apierrors.Unauthorized(w, "Не определён вызывающий")
		return
	}

	formUpload := isMultipart(r)
	// Для multipart Content-Length включает служебные части формы
	if !formUpload && h.uploadCfg.MaxFileSize > 0 && r.ContentLength > h.uploadCfg.MaxFileSize {
		apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла превышает максимум %d байт", h.uploadCfg.MaxFileSize))
		return
	}

	var visibility model.Visibility
	if params.Visibility != nil {
		v, err := model.ParseVisibility(*params.Visibility)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		visibility = v
	}

	upload := service.UploadParams{
		OwnerID:    subject,
		Visibility: visibility,
		Reader:     r.Body,
	}
	if params.Filename != nil {
		upload.Filename = *params.Filename
	}
	if params.ContentType != nil {
		upload.ContentType = *params.ContentType
	}
	if params.Tags != nil {
		upload.Tags = *params.Tags
	}

	if formUpload {
		part, err := nextFilePart(r)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		defer part.Close()

		upload.Reader = part
		if upload.Filename == "" {
			upload.Filename = part.FileName()
		}
		if upload.ContentType == "" {
			if ct := part.Header.Get("Content-Type"); ct != service.DefaultContentType {
				upload.ContentType = ct
			}
		}
	}

	rec, err := h.uploads.Upload(r.Context(), upload)
	if err != nil {
		h.writeServiceError(w, r, "upload", err)
		return
	}

	w.Header().Set("Location", "/api/v1/files/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

// isMultipart сообщает, передан ли файл как multipart/form-data.
func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// nextFilePart находит часть "file", не буферизуя форму целиком:
// содержимое читается из тела запроса по мере загрузки.
func nextFilePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("Некорректное тело multipart/form-data: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("Поле '%s' обязательно", multipartFileField)
		}
		if err != nil {
			return nil, fmt.Errorf("Некорректное тело multipart/form-data: %w", err)
		}
		if part.FormName() == multipartFileField {
			return part, nil
		}
		// Прочие поля формы пропускаются: NextPart дочитывает их сам
		_ = part.Close()
	}
}

// ListFiles — GET /api/v1/files.
// Только видимые вызывающему файлы; skip/limit приводятся к допустимым.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request, params routes.ListFilesParams) {
	subject := middleware.SubjectFromContext(r.Context())

	var filter service.ListFilter
	if params.Visibility != nil && *params.Visibility != "" {
		v, err := model.ParseVisibility(*params.Visibility)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filter.Visibility = &v
	}
	filter.Tag = params.Tag

	var page service.Page
	if params.Skip != nil {
		page.Skip = *params.Skip
	}
	if params.Limit != nil {
		page.Limit = *params.Limit
	}

	var sort service.Sort
	if params.Sort != nil {
		sort.Field = model.ParseSortField(*params.Sort)
	}
	if params.Desc != nil {
		sort.Desc = *params.Desc
	}

	result, err := h.files.List(r.Context(), subject, filter, page, sort)
	if err != nil {
		h.writeServiceError(w, r, "list", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetFile — GET /api/v1/files/{file_id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request, fileId routes.FileId) { //nolint:revive // имя из контракта
	rec, err := h.files.Get(r.Context(), fileId, middleware.SubjectFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpdateFile — PATCH /api/v1/files/{file_id}.
// Изменяет имя и/или теги. Только владелец.
func (h *APIHandler) UpdateFile(w http.ResponseWriter, r *http.Request, fileId routes.FileId) { //nolint:revive // имя из контракта
	var req routes.FileUpdate
	dec := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	rec, err := h.files.Update(r.Context(), fileId, middleware.SubjectFromContext(r.Context()), service.UpdateParams{
		Filename: req.Filename,
		Tags:     req.Tags,
	})
	if err != nil {
		h.writeServiceError(w, r, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteFile — DELETE /api/v1/files/{file_id}.
// Удаляет содержимое и метаданные. Только владелец.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request, fileId routes.FileId) { //nolint:revive // имя из контракта
	if err := h.files.Delete(r.Context(), fileId, middleware.SubjectFromContext(r.Context())); err != nil {
		h.writeServiceError(w, r, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadFile — GET /api/v1/files/{file_id}/download.
// Отдаёт содержимое потоком с Content-Type, Content-Length и Content-Disposition.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request, fileId routes.FileId) { //nolint:revive // имя из контракта
	dl, err := h.files.Download(r.Context(), fileId, middleware.SubjectFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "download", err)
		return
	}
	defer dl.Reader.Close()

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.Header().Set("Content-Disposition", contentDisposition(dl.Filename))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, dl.Reader); err != nil {
		// Заголовки уже отправлены — остаётся только залогировать
		h.logger.Warn("Передача содержимого прервана",
			slog.String("file_id", fileId),
			slog.String("error", err.Error()),
		)
	}
}

// contentDisposition формирует заголовок attachment с именем файла.
// Не-ASCII имена передаются через filename* (RFC 6266).
func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return fmt.Sprintf(`attachment; filename="%s"`, strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, filename))
}
