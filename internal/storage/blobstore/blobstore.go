// Пакет blobstore — хранилища содержимого файлов (blob-ов).
// Хранилище ничего не знает о владельцах и видимости: оно принимает
// поток, возвращает непрозрачный handle и отдаёт содержимое по нему.
//
// Реализации:
//   - FileStore — локальная файловая система (temp → fsync → rename);
//   - S3Store — S3-совместимое объектное хранилище;
//   - MemoryStore — in-memory, для тестов и локальной разработки.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound — blob с указанным handle не существует.
var ErrNotFound = errors.New("blob не найден")

// Store — контракт хранилища blob-ов.
type Store interface {
	// Store записывает поток r целиком и возвращает handle и размер.
	// При ошибке частично записанные данные не остаются видимыми.
	Store(ctx context.Context, filename, contentType string, r io.Reader) (handle string, size int64, err error)
	// Open открывает blob на чтение. Вызывающий обязан закрыть ReadCloser.
	// Для неизвестного handle возвращает ErrNotFound.
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	// Delete удаляет blob. Удаление отсутствующего blob-а не является ошибкой.
	Delete(ctx context.Context, handle string) error
}
