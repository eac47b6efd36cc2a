// Пакет repository — слой доступа к метаданным файлов.
// Основная реализация — PostgreSQL через pgx, чистый SQL без ORM.
// Для тестов и локального запуска есть in-memory реализация
// с той же семантикой.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/blob-module/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена (или не видна субъекту).
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrFilenameTaken — у владельца уже есть файл с таким именем.
	ErrFilenameTaken = fmt.Errorf("%w: имя файла занято", ErrConflict)
	// ErrContentTaken — у владельца уже есть файл с таким содержимым.
	ErrContentTaken = fmt.Errorf("%w: содержимое уже загружено", ErrConflict)
)

// Имена уникальных индексов таблицы files.
const (
	constraintOwnerFilename = "files_owner_filename_key"
	constraintOwnerHash     = "files_owner_content_hash_key"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ListParams — параметры выборки списка файлов.
// Видимость субъекта применяется всегда; Visibility и Tag — дополнительные фильтры.
type ListParams struct {
	// Visibility — фильтр по видимости (nil — без фильтра)
	Visibility *model.Visibility
	// Tag — фильтр по тегу, нормализованный (nil — без фильтра)
	Tag *string
	// Skip — смещение
	Skip int
	// Limit — количество записей
	Limit int
	// SortBy — поле сортировки (whitelist)
	SortBy model.SortField
	// Desc — сортировка по убыванию
	Desc bool
}

// UpdateFields — изменяемые поля записи. nil — поле не меняется.
type UpdateFields struct {
	Filename *string
	Tags     []string
	// SetTags — Tags задан (в том числе пустым множеством)
	SetTags bool
}

// FileRepository — интерфейс доступа к метаданным файлов.
type FileRepository interface {
	// Insert сохраняет новую запись. Назначает ID и время загрузки.
	// При нарушении уникальности возвращает ErrFilenameTaken или ErrContentTaken.
	Insert(ctx context.Context, rec *model.FileRecord) error
	// GetVisible возвращает запись, видимую субъекту callerID, или ErrNotFound.
	GetVisible(ctx context.Context, id, callerID string) (*model.FileRecord, error)
	// ExistsByFilename проверяет наличие у владельца файла с таким именем.
	ExistsByFilename(ctx context.Context, ownerID, filename string) (bool, error)
	// ExistsByContentHash проверяет наличие у владельца файла с таким дайджестом.
	ExistsByContentHash(ctx context.Context, ownerID, hash string) (bool, error)
	// List возвращает страницу видимых субъекту записей и общее количество.
	List(ctx context.Context, callerID string, params ListParams) ([]*model.FileRecord, int, error)
	// Update применяет частичное изменение к записи владельца.
	// Возвращает обновлённую запись или ErrNotFound.
	Update(ctx context.Context, id, ownerID string, fields UpdateFields) (*model.FileRecord, error)
	// DeleteOwned удаляет запись (id, ownerID). Возвращает ErrNotFound,
	// если ничего не удалено.
	DeleteOwned(ctx context.Context, id, ownerID string) error
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// conflictError преобразует нарушение уникальности в ошибку с причиной.
func conflictError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.ConstraintName {
		case constraintOwnerFilename:
			return ErrFilenameTaken
		case constraintOwnerHash:
			return ErrContentTaken
		}
	}
	return ErrConflict
}
