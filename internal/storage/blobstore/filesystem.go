package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStore — хранение blob-ов в локальной директории.
// Handle имеет вид {yyyy}/{mm}/{dd}/{uuid}{ext} относительно dataDir.
type FileStore struct {
	// dataDir — корневая директория хранения (BM_DATA_DIR)
	dataDir string
}

// NewFileStore создаёт FileStore. Создаёт директорию, если её нет,
// и проверяет доступность на запись.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	testFile := filepath.Join(dataDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория данных %s недоступна для записи: %w", dataDir, err)
	}
	_ = os.Remove(testFile)

	return &FileStore{dataDir: dataDir}, nil
}

// DataDir возвращает путь к директории данных.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

// CheckReady проверяет, что директория данных существует.
// Возвращает статус ("ok" или "fail") и сообщение.
func (s *FileStore) CheckReady(_ context.Context) (string, string) {
	info, err := os.Stat(s.dataDir)
	if err != nil {
		return "fail", fmt.Sprintf("директория данных недоступна: %s", err.Error())
	}
	if !info.IsDir() {
		return "fail", fmt.Sprintf("%s не является директорией", s.dataDir)
	}
	return "ok", "директория данных доступна"
}

// Store записывает поток на диск.
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (s *FileStore) Store(ctx context.Context, filename, _ string, r io.Reader) (string, int64, error) {
	handle := newHandle(filename)
	fullPath, err := s.fullPath(handle)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", 0, fmt.Errorf("ошибка создания директории: %w", err)
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, contextReader(ctx, r))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return handle, size, nil
}

// Open открывает blob для чтения.
func (s *FileStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	fullPath, err := s.fullPath(handle)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", handle, err)
	}
	return f, nil
}

// Delete удаляет blob с диска. Возвращает nil, если файла уже нет.
func (s *FileStore) Delete(_ context.Context, handle string) error {
	fullPath, err := s.fullPath(handle)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", handle, err)
	}
	return nil
}

// fullPath преобразует handle в абсолютный путь, не выпуская его за пределы dataDir.
func (s *FileStore) fullPath(handle string) (string, error) {
	if handle == "" || filepath.IsAbs(handle) {
		return "", fmt.Errorf("%w: недопустимый handle %q", ErrNotFound, handle)
	}
	clean := filepath.Clean(filepath.FromSlash(handle))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: недопустимый handle %q", ErrNotFound, handle)
	}
	return filepath.Join(s.dataDir, clean), nil
}

// newHandle генерирует handle для нового blob-а.
// Расширение исходного имени сохраняется, если оно безопасно.
// Пример: 2026/02/21/a1b2c3d4-....jpg
func newHandle(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 16 || !isSafeExt(ext) {
		ext = ""
	}
	return time.Now().UTC().Format("2006/01/02") + "/" + uuid.New().String() + ext
}

// isSafeExt — расширение состоит только из точки, латиницы и цифр.
func isSafeExt(ext string) bool {
	for i, r := range ext {
		if i == 0 && r == '.' {
			continue
		}
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// contextReader прерывает копирование при отмене ctx.
func contextReader(ctx context.Context, r io.Reader) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return r.Read(p)
	})
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
