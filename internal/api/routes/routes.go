// Пакет routes — серверный интерфейс Blob Module по openapi.yaml
// и его привязка к chi: разбор path/query параметров через
// oapi-codegen runtime и вызов методов ServerInterface.
package routes

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// FileId — идентификатор файла в пути.
type FileId = string //nolint:revive // имя параметра из контракта

// UploadFileParams — query-параметры POST /api/v1/files/upload.
type UploadFileParams struct {
	Filename    *string   `form:"filename,omitempty" json:"filename,omitempty"`
	ContentType *string   `form:"contentType,omitempty" json:"contentType,omitempty"`
	Visibility  *string   `form:"visibility,omitempty" json:"visibility,omitempty"`
	Tags        *[]string `form:"tags,omitempty" json:"tags,omitempty"`
}

// ListFilesParams — query-параметры GET /api/v1/files.
type ListFilesParams struct {
	Visibility *string `form:"visibility,omitempty" json:"visibility,omitempty"`
	Tag        *string `form:"tag,omitempty" json:"tag,omitempty"`
	Skip       *int    `form:"skip,omitempty" json:"skip,omitempty"`
	Limit      *int    `form:"limit,omitempty" json:"limit,omitempty"`
	Sort       *string `form:"sort,omitempty" json:"sort,omitempty"`
	Desc       *bool   `form:"desc,omitempty" json:"desc,omitempty"`
}

// FileUpdate — тело PATCH /api/v1/files/{file_id}.
type FileUpdate struct {
	Filename *string   `json:"filename,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

// ServerInterface — операции контракта.
type ServerInterface interface {
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/files/upload)
	UploadFile(w http.ResponseWriter, r *http.Request, params UploadFileParams)
	// (GET /api/v1/files)
	ListFiles(w http.ResponseWriter, r *http.Request, params ListFilesParams)
	// (GET /api/v1/files/{file_id})
	GetFile(w http.ResponseWriter, r *http.Request, fileId FileId)
	// (PATCH /api/v1/files/{file_id})
	UpdateFile(w http.ResponseWriter, r *http.Request, fileId FileId)
	// (DELETE /api/v1/files/{file_id})
	DeleteFile(w http.ResponseWriter, r *http.Request, fileId FileId)
	// (GET /api/v1/files/{file_id}/download)
	DownloadFile(w http.ResponseWriter, r *http.Request, fileId FileId)
	// (GET /api/v1/me)
	GetCurrentUser(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/uploads/config)
	GetUploadConfig(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/openapi.yaml)
	GetOpenAPISpec(w http.ResponseWriter, r *http.Request)
}

// ParamError — ошибка разбора параметра запроса.
type ParamError struct {
	ParamName string
	Err       error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("некорректный параметр %s: %v", e.ParamName, e.Err)
}

func (e *ParamError) Unwrap() error {
	return e.Err
}

// ErrorHandlerFunc — обработчик ошибок разбора параметров.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

// wrapper разбирает параметры и вызывает ServerInterface.
type wrapper struct {
	handler      ServerInterface
	errorHandler ErrorHandlerFunc
}

func (sw *wrapper) UploadFile(w http.ResponseWriter, r *http.Request) {
	var params UploadFileParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "filename", query, &params.Filename); err != nil {
		sw.errorHandler(w, r, &ParamError{ParamName: "filename", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "contentType", query, &params.ContentType); err != nil {
		sw.errorHandler(w, r, &ParamError{ParamName: "contentType", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "visibility", query, &params.Visibility); err != nil {
		sw.errorHandler(w, r, &ParamError{ParamName: "visibility", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", false, false, "tags", query, &params.Tags); err != nil {
		sw.errorHandler(w, r, &ParamError{ParamName: "tags", Err: err})
		return
	}

	sw.handler.UploadFile(w, r, params)
}

func (sw *wrapper) ListFiles(w http.ResponseWriter, r *http.Request) {
	var params ListFilesParams
	query := r.URL.Query()

	bindings := []struct {
		name string
		dest any
	}{
		{"visibility", &params.Visibility},
		{"tag", &params.Tag},
		{"skip", &params.Skip},
		{"limit", &params.Limit},
		{"sort", &params.Sort},
		{"desc", &params.Desc},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			sw.errorHandler(w, r, &ParamError{ParamName: b.name, Err: err})
			return
		}
	}

	sw.handler.ListFiles(w, r, params)
}

// withFileID разбирает {file_id} и вызывает операцию над файлом.
func (sw *wrapper) withFileID(op func(http.ResponseWriter, *http.Request, FileId)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fileID FileId
		err := runtime.BindStyledParameterWithOptions("simple", "file_id", chi.URLParam(r, "file_id"), &fileID,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			sw.errorHandler(w, r, &ParamError{ParamName: "file_id", Err: err})
			return
		}
		op(w, r, fileID)
	}
}

// HandlerFromMux регистрирует маршруты контракта на роутере r.
// errorHandler вызывается при ошибке разбора параметров.
func HandlerFromMux(si ServerInterface, r chi.Router, errorHandler ErrorHandlerFunc) http.Handler {
	if errorHandler == nil {
		errorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	sw := &wrapper{handler: si, errorHandler: errorHandler}

	r.Get("/health/live", si.HealthLive)
	r.Get("/health/ready", si.HealthReady)
	r.Get("/metrics", si.GetMetrics)

	r.Post("/api/v1/files/upload", sw.UploadFile)
	r.Get("/api/v1/files", sw.ListFiles)
	r.Get("/api/v1/files/{file_id}", sw.withFileID(si.GetFile))
	r.Patch("/api/v1/files/{file_id}", sw.withFileID(si.UpdateFile))
	r.Delete("/api/v1/files/{file_id}", sw.withFileID(si.DeleteFile))
	r.Get("/api/v1/files/{file_id}/download", sw.withFileID(si.DownloadFile))
	r.Get("/api/v1/me", si.GetCurrentUser)
	r.Get("/api/v1/uploads/config", si.GetUploadConfig)
	r.Get("/api/v1/openapi.yaml", si.GetOpenAPISpec)

	return r
}
