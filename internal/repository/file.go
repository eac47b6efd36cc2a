package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/blob-module/internal/domain/model"
)

// fileColumns — список столбцов таблицы files для SELECT-запросов.
const fileColumns = `id, filename, visibility, tags, owner_id, content_handle,
	size, content_hash, content_type, uploaded_at, updated_at`

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// Insert сохраняет запись. id, uploaded_at и updated_at назначает БД.
func (r *fileRepo) Insert(ctx context.Context, rec *model.FileRecord) error {
	query := `
		INSERT INTO files (filename, visibility, tags, owner_id, content_handle,
			size, content_hash, content_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, uploaded_at, updated_at`

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		rec.Filename, string(rec.Visibility), tags, rec.OwnerID, rec.ContentHandle,
		rec.Size, rec.ContentHash, rec.ContentType,
	).Scan(&rec.ID, &rec.UploadedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return conflictError(err)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	rec.Tags = tags
	return nil
}

// GetVisible возвращает запись, если она PUBLIC или принадлежит callerID.
func (r *fileRepo) GetVisible(ctx context.Context, id, callerID string) (*model.FileRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := fmt.Sprintf(
		`SELECT %s FROM files WHERE id = $1 AND %s`,
		fileColumns, visibleTo(2),
	)

	f, err := scanFile(r.db.QueryRow(ctx, query, id, callerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// ExistsByFilename проверяет наличие файла с именем filename у владельца.
func (r *fileRepo) ExistsByFilename(ctx context.Context, ownerID, filename string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE owner_id = $1 AND filename = $2)`,
		ownerID, filename,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки имени файла: %w", err)
	}
	return exists, nil
}

// ExistsByContentHash проверяет наличие файла с дайджестом hash у владельца.
func (r *fileRepo) ExistsByContentHash(ctx context.Context, ownerID, hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE owner_id = $1 AND content_hash = $2)`,
		ownerID, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки дайджеста: %w", err)
	}
	return exists, nil
}

// List выполняет выборку с фильтрами, сортировкой и пагинацией.
// Возвращает (результаты, общее количество, ошибка).
func (r *fileRepo) List(ctx context.Context, callerID string, params ListParams) ([]*model.FileRecord, int, error) {
	where, args := buildListWhere(callerID, params, 1)
	argNum := len(args) + 1
	orderBy := buildOrderBy(params.SortBy, params.Desc)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM files %s %s LIMIT $%d OFFSET $%d`,
		fileColumns, where, orderBy, argNum, argNum+1,
	)
	dataArgs := append(append([]any{}, args...), params.Limit, params.Skip)

	rows, err := r.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки файлов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	// Общее количество — с теми же фильтрами, без LIMIT/OFFSET
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM files %s`, where)
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	return result, total, nil
}

// Update применяет частичное изменение. Запись ищется по (id, owner_id).
func (r *fileRepo) Update(ctx context.Context, id, ownerID string, fields UpdateFields) (*model.FileRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	setClauses := []string{"updated_at = now()"}
	args := []any{id, ownerID}
	argNum := 3

	if fields.Filename != nil {
		setClauses = append(setClauses, fmt.Sprintf("filename = $%d", argNum))
		args = append(args, *fields.Filename)
		argNum++
	}
	if fields.SetTags {
		tags := fields.Tags
		if tags == nil {
			tags = []string{}
		}
		setClauses = append(setClauses, fmt.Sprintf("tags = $%d", argNum))
		args = append(args, tags)
	}

	query := fmt.Sprintf(
		`UPDATE files SET %s WHERE id = $1 AND owner_id = $2 RETURNING %s`,
		strings.Join(setClauses, ", "), fileColumns,
	)

	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, conflictError(err)
		}
		return nil, fmt.Errorf("ошибка обновления файла: %w", err)
	}
	return f, nil
}

// DeleteOwned удаляет запись владельца.
func (r *fileRepo) DeleteOwned(ctx context.Context, id, ownerID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanFile сканирует строку результата в FileRecord.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var visibility string
	if err := row.Scan(
		&f.ID, &f.Filename, &visibility, &f.Tags, &f.OwnerID, &f.ContentHandle,
		&f.Size, &f.ContentHash, &f.ContentType, &f.UploadedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	f.Visibility = model.Visibility(visibility)
	if f.Tags == nil {
		f.Tags = []string{}
	}
	return f, nil
}

// visibleTo — предикат видимости: PUBLIC или владелец. argNum — номер
// параметра с идентификатором субъекта.
func visibleTo(argNum int) string {
	return fmt.Sprintf("(visibility = 'PUBLIC' OR owner_id = $%d)", argNum)
}

// buildListWhere строит WHERE-условие выборки списка.
// Предикат видимости присутствует всегда, фильтры добавляются через AND.
// startArg — номер первого $-параметра.
func buildListWhere(callerID string, params ListParams, startArg int) (whereClause string, args []any) {
	argNum := startArg
	conditions := []string{visibleTo(argNum)}
	args = append(args, callerID)
	argNum++

	if params.Visibility != nil {
		conditions = append(conditions, fmt.Sprintf("visibility = $%d", argNum))
		args = append(args, string(*params.Visibility))
		argNum++
	}

	if params.Tag != nil && *params.Tag != "" {
		conditions = append(conditions, fmt.Sprintf("tags @> ARRAY[$%d]::text[]", argNum))
		args = append(args, model.NormalizeTag(*params.Tag))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildOrderBy строит ORDER BY с безопасным whitelist полей.
// Вторичная сортировка по id делает порядок страниц детерминированным.
func buildOrderBy(sortBy model.SortField, desc bool) string {
	column := string(model.ParseSortField(string(sortBy)))

	direction := "ASC"
	if desc {
		direction = "DESC"
	}

	if column == string(model.SortByID) {
		return fmt.Sprintf("ORDER BY id %s", direction)
	}
	return fmt.Sprintf("ORDER BY %s %s, id %s", column, direction, direction)
}
