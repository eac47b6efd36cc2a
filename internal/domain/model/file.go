// Пакет model — доменные типы Blob Module.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Visibility — область видимости файла.
type Visibility string

const (
	// VisibilityPrivate — файл доступен только владельцу.
	VisibilityPrivate Visibility = "PRIVATE"
	// VisibilityPublic — файл доступен на чтение любому аутентифицированному субъекту.
	VisibilityPublic Visibility = "PUBLIC"
)

// ParseVisibility разбирает строку видимости без учёта регистра.
// Пустая строка означает значение по умолчанию — PRIVATE.
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(VisibilityPrivate):
		return VisibilityPrivate, nil
	case string(VisibilityPublic):
		return VisibilityPublic, nil
	default:
		return "", fmt.Errorf("недопустимая видимость %q, допустимые: PRIVATE, PUBLIC", s)
	}
}

// FileRecord — метаданные загруженного файла.
// Хранится в таблице files.
type FileRecord struct {
	// ID — UUID записи, назначается хранилищем метаданных при вставке
	ID string `json:"id"`
	// Filename — имя файла, уникально в пределах владельца
	Filename string `json:"filename"`
	// Visibility — PRIVATE или PUBLIC
	Visibility Visibility `json:"visibility"`
	// Tags — множество тегов в нижнем регистре
	Tags []string `json:"tags"`
	// OwnerID — sub загрузившего субъекта, неизменяем
	OwnerID string `json:"owner_id"`
	// ContentHandle — ссылка на содержимое в хранилище blob-ов, неизменяема
	ContentHandle string `json:"-"`
	// Size — размер содержимого в байтах
	Size int64 `json:"size"`
	// ContentHash — hex-дайджест содержимого (дедупликация в пределах владельца)
	ContentHash string `json:"content_hash"`
	// ContentType — MIME-тип
	ContentType string `json:"content_type"`
	// UploadedAt — время загрузки
	UploadedAt time.Time `json:"uploaded_at"`
	// UpdatedAt — время последнего изменения метаданных
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone возвращает глубокую копию записи.
func (f *FileRecord) Clone() *FileRecord {
	if f == nil {
		return nil
	}
	c := *f
	if f.Tags != nil {
		c.Tags = append([]string(nil), f.Tags...)
	}
	return &c
}

// HasTag проверяет принадлежность тега множеству (без учёта регистра).
func (f *FileRecord) HasTag(tag string) bool {
	tag = NormalizeTag(tag)
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTag приводит тег к каноническому виду: без пробелов по краям, нижний регистр.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// NormalizeTags приводит набор тегов к множеству: нижний регистр,
// без пустых значений и дубликатов, отсортировано.
// Всегда возвращает не-nil срез.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, t := range tags {
		t = NormalizeTag(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

// SortField — поле сортировки списка файлов.
type SortField string

// Допустимые поля сортировки.
const (
	SortByID          SortField = "id"
	SortByFilename    SortField = "filename"
	SortBySize        SortField = "size"
	SortByUploadedAt  SortField = "uploaded_at"
	SortByContentType SortField = "content_type"
	SortByVisibility  SortField = "visibility"
)

// ParseSortField разбирает поле сортировки без учёта регистра.
// Неизвестное или пустое значение — сортировка по id.
func ParseSortField(s string) SortField {
	switch f := SortField(strings.ToLower(strings.TrimSpace(s))); f {
	case SortByID, SortByFilename, SortBySize, SortByUploadedAt, SortByContentType, SortByVisibility:
		return f
	case "uploadedat", "uploaddate", "upload_date":
		return SortByUploadedAt
	case "contenttype":
		return SortByContentType
	default:
		return SortByID
	}
}
