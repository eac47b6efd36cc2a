package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Проверка соответствия интерфейсу на этапе компиляции.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*S3Store)(nil)
	_ Store = (*MemoryStore)(nil)
)

// roundTrip — общий сценарий: запись, чтение, удаление.
func roundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	content := []byte("Hello, World! Тестовые данные для проверки.")

	handle, size, err := s.Store(ctx, "photo.JPG", "image/jpeg", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), size)
	}

	rc, err := s.Open(ctx, handle)
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("содержимое не совпадает: %q", got)
	}

	if err := s.Delete(ctx, handle); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if _, err := s.Open(ctx, handle); !errors.Is(err, ErrNotFound) {
		t.Errorf("после удаления ожидался ErrNotFound, получено %v", err)
	}
	// Повторное удаление — не ошибка
	if err := s.Delete(ctx, handle); err != nil {
		t.Errorf("повторное удаление: %v", err)
	}
}

// --- FileStore ---

func TestFileStore_RoundTrip(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	roundTrip(t, s)
}

func TestFileStore_HandleLayout(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	handle, _, err := s.Store(context.Background(), "report.PDF", "", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if !strings.HasSuffix(handle, ".pdf") {
		t.Errorf("handle должен сохранять расширение: %s", handle)
	}
	if strings.Count(handle, "/") != 3 {
		t.Errorf("handle должен иметь вид yyyy/mm/dd/uuid.ext: %s", handle)
	}
	if _, err := os.Stat(filepath.Join(s.DataDir(), filepath.FromSlash(handle))); err != nil {
		t.Errorf("файл не найден на диске: %v", err)
	}

	// Необычное расширение отбрасывается
	handle, _, err = s.Store(context.Background(), "x.p;h/p", "", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if strings.Contains(handle, ";") {
		t.Errorf("handle содержит небезопасное расширение: %s", handle)
	}
}

// errReader возвращает данные, затем ошибку.
type errReader struct{ sent bool }

func (r *errReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("соединение разорвано")
}

func TestFileStore_FailedWriteLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if _, _, err := s.Store(context.Background(), "a.txt", "", &errReader{}); err == nil {
		t.Fatal("ожидалась ошибка записи")
	}

	var files []string
	_ = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if len(files) != 0 {
		t.Errorf("после ошибки остались файлы: %v", files)
	}
}

func TestFileStore_RejectsEscapingHandle(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	for _, h := range []string{"", "../etc/passwd", "/etc/passwd", "a/../../b"} {
		if _, err := s.Open(context.Background(), h); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q) = %v, ожидался ErrNotFound", h, err)
		}
	}
}

func TestFileStore_ContextCancelled(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := s.Store(ctx, "a", "", strings.NewReader("data")); !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась context.Canceled, получено %v", err)
	}
}

func TestFileStore_CheckReady(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if status, msg := s.CheckReady(context.Background()); status != "ok" {
		t.Errorf("статус = %s (%s), ожидался ok", status, msg)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if status, _ := s.CheckReady(context.Background()); status != "fail" {
		t.Errorf("статус = %s, ожидался fail для удалённой директории", status)
	}
}

// --- MemoryStore ---

func TestMemoryStore_RoundTrip(t *testing.T) {
	roundTrip(t, NewMemoryStore())
}

func TestMemoryStore_Len(t *testing.T) {
	s := NewMemoryStore()
	h, _, _ := s.Store(context.Background(), "a", "", strings.NewReader("1"))
	_, _, _ = s.Store(context.Background(), "b", "", strings.NewReader("2"))
	if s.Len() != 2 || len(s.Handles()) != 2 {
		t.Fatalf("Len = %d, ожидалось 2", s.Len())
	}
	_ = s.Delete(context.Background(), h)
	if s.Len() != 1 {
		t.Errorf("Len = %d, ожидалось 1", s.Len())
	}
}

// --- S3Store ---

// fakeS3 — in-memory реализация S3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if in.ContentLength != nil && *in.ContentLength != int64(len(data)) {
		return nil, errors.New("content length mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != "blobs" {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, S3Options{Bucket: "blobs", Prefix: "/tenant-a/", SpoolDir: t.TempDir()})
	roundTrip(t, s)
}

func TestS3Store_PrefixAndContentType(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, S3Options{Bucket: "blobs", Prefix: "tenant-a", SpoolDir: t.TempDir()})

	handle, _, err := s.Store(context.Background(), "a.png", "image/png", strings.NewReader("png"))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	key := "tenant-a/" + handle
	if _, ok := fake.objects[key]; !ok {
		t.Fatalf("объект %s не найден, ключи: %v", key, fake.objects)
	}
	if fake.types[key] != "image/png" {
		t.Errorf("ContentType = %q, ожидался image/png", fake.types[key])
	}
}

func TestS3Store_PutErrorCleansSpool(t *testing.T) {
	spool := t.TempDir()
	fake := newFakeS3()
	fake.putErr = errors.New("503 slow down")
	s := NewS3Store(fake, S3Options{Bucket: "blobs", SpoolDir: spool})

	if _, _, err := s.Store(context.Background(), "a", "", strings.NewReader("data")); err == nil {
		t.Fatal("ожидалась ошибка PutObject")
	}
	entries, _ := os.ReadDir(spool)
	if len(entries) != 0 {
		t.Errorf("временные файлы не удалены: %d", len(entries))
	}
}

func TestS3Store_CheckReady(t *testing.T) {
	ok := NewS3Store(newFakeS3(), S3Options{Bucket: "blobs"})
	if status, _ := ok.CheckReady(context.Background()); status != "ok" {
		t.Errorf("статус = %s, ожидался ok", status)
	}
	bad := NewS3Store(newFakeS3(), S3Options{Bucket: "missing"})
	if status, _ := bad.CheckReady(context.Background()); status != "fail" {
		t.Errorf("статус = %s, ожидался fail", status)
	}
}
