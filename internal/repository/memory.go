package repository

import (
	"cmp"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/blob-module/internal/domain/access"
	"github.com/bigkaa/goartstore/blob-module/internal/domain/model"
)

// MemoryRepository — потокобезопасное in-memory хранилище метаданных.
// Повторяет ограничения уникальности таблицы files:
// (owner_id, filename) и (owner_id, content_hash).
// Не персистентное: используется в тестах и при BM_METADATA_BACKEND=memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	files  map[string]*model.FileRecord // id → запись
	logger *slog.Logger
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository(logger *slog.Logger) *MemoryRepository {
	return &MemoryRepository{
		files:  make(map[string]*model.FileRecord),
		logger: logger.With(slog.String("component", "memory_repository")),
	}
}

// Insert сохраняет копию записи, назначая ID и время загрузки.
func (m *MemoryRepository) Insert(_ context.Context, rec *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hashTaken bool
	for _, f := range m.files {
		if f.OwnerID != rec.OwnerID {
			continue
		}
		if f.Filename == rec.Filename {
			return ErrFilenameTaken
		}
		hashTaken = hashTaken || f.ContentHash == rec.ContentHash
	}
	if hashTaken {
		return ErrContentTaken
	}

	now := time.Now().UTC()
	rec.ID = uuid.New().String()
	rec.UploadedAt = now
	rec.UpdatedAt = now
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	m.files[rec.ID] = rec.Clone()

	m.logger.Debug("Запись добавлена", slog.String("file_id", rec.ID))
	return nil
}

// GetVisible возвращает копию записи, видимой субъекту.
func (m *MemoryRepository) GetVisible(_ context.Context, id, callerID string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok || !access.CanView(f, callerID) {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

// ExistsByFilename проверяет наличие файла с именем у владельца.
func (m *MemoryRepository) ExistsByFilename(_ context.Context, ownerID, filename string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, f := range m.files {
		if f.OwnerID == ownerID && f.Filename == filename {
			return true, nil
		}
	}
	return false, nil
}

// ExistsByContentHash проверяет наличие файла с дайджестом у владельца.
func (m *MemoryRepository) ExistsByContentHash(_ context.Context, ownerID, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, f := range m.files {
		if f.OwnerID == ownerID && f.ContentHash == hash {
			return true, nil
		}
	}
	return false, nil
}

// List возвращает страницу видимых записей с фильтрами и сортировкой.
func (m *MemoryRepository) List(_ context.Context, callerID string, params ListParams) ([]*model.FileRecord, int, error) {
	m.mu.RLock()
	matched := make([]*model.FileRecord, 0, len(m.files))
	for _, f := range m.files {
		if !access.CanView(f, callerID) {
			continue
		}
		if params.Visibility != nil && f.Visibility != *params.Visibility {
			continue
		}
		if params.Tag != nil && *params.Tag != "" && !f.HasTag(*params.Tag) {
			continue
		}
		matched = append(matched, f.Clone())
	}
	m.mu.RUnlock()

	sortRecords(matched, params.SortBy, params.Desc)

	total := len(matched)
	start := params.Skip
	if start > total {
		start = total
	}
	end := start + params.Limit
	if end > total {
		end = total
	}

	return matched[start:end], total, nil
}

// Update применяет частичное изменение к записи владельца.
func (m *MemoryRepository) Update(_ context.Context, id, ownerID string, fields UpdateFields) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok || f.OwnerID != ownerID {
		return nil, ErrNotFound
	}

	if fields.Filename != nil && *fields.Filename != f.Filename {
		for otherID, other := range m.files {
			if otherID != id && other.OwnerID == ownerID && other.Filename == *fields.Filename {
				return nil, ErrFilenameTaken
			}
		}
		f.Filename = *fields.Filename
	}
	if fields.SetTags {
		f.Tags = append([]string{}, fields.Tags...)
	}
	f.UpdatedAt = time.Now().UTC()

	return f.Clone(), nil
}

// DeleteOwned удаляет запись владельца.
func (m *MemoryRepository) DeleteOwned(_ context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok || f.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.files, id)
	return nil
}

// Count возвращает общее количество записей.
func (m *MemoryRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// sortRecords сортирует записи по полю whitelist, вторичный ключ — id.
func sortRecords(recs []*model.FileRecord, field model.SortField, desc bool) {
	field = model.ParseSortField(string(field))
	byField := func(a, b *model.FileRecord) int {
		switch field {
		case model.SortByFilename:
			return cmp.Compare(a.Filename, b.Filename)
		case model.SortBySize:
			return cmp.Compare(a.Size, b.Size)
		case model.SortByUploadedAt:
			return a.UploadedAt.Compare(b.UploadedAt)
		case model.SortByContentType:
			return cmp.Compare(a.ContentType, b.ContentType)
		case model.SortByVisibility:
			return cmp.Compare(string(a.Visibility), string(b.Visibility))
		default:
			return 0
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		c := byField(recs[i], recs[j])
		if c == 0 {
			c = cmp.Compare(recs[i].ID, recs[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}
