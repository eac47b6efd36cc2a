// Пакет hashing — вычисление дайджеста содержимого для дедупликации.
// Дайджест считается по уже сохранённому blob-у: содержимое читается
// обратно из хранилища блоками по ChunkSize байт, так что хэш
// соответствует тому, что реально записано.
package hashing

import (
	"context"
	"crypto/md5" //nolint:gosec // дедупликация в пределах владельца, не криптография
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// Algorithm — имя алгоритма дайджеста.
	Algorithm = "md5"
	// ChunkSize — размер блока чтения, байт.
	ChunkSize = 8192
)

// BlobOpener — источник сохранённого содержимого.
// Реализуется хранилищами blob-ов.
type BlobOpener interface {
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
}

// Digest читает r до конца блоками по ChunkSize и возвращает
// hex-дайджест и количество прочитанных байт.
func Digest(r io.Reader) (string, int64, error) {
	h := md5.New() //nolint:gosec
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(h, onlyReader{r}, buf)
	if err != nil {
		return "", n, fmt.Errorf("ошибка чтения содержимого: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestBlob открывает сохранённый blob и вычисляет его дайджест.
func DigestBlob(ctx context.Context, store BlobOpener, handle string) (string, error) {
	rc, err := store.Open(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия blob %s: %w", handle, err)
	}
	defer rc.Close()

	sum, _, err := Digest(ctxReader{ctx: ctx, r: rc})
	if err != nil {
		return "", fmt.Errorf("ошибка хэширования blob %s: %w", handle, err)
	}
	return sum, nil
}

// onlyReader скрывает WriterTo у источника, чтобы io.CopyBuffer
// действительно читал блоками buf.
type onlyReader struct {
	r io.Reader
}

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// ctxReader прерывает чтение при отмене ctx.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
