package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options — параметры подключения к S3-совместимому хранилищу.
type S3Options struct {
	Bucket string
	Region string
	// Endpoint — базовый URL (MinIO и т.п.), пусто — AWS
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Prefix       string
	UsePathStyle bool
	// SpoolDir — директория временных файлов, пусто — os.TempDir()
	SpoolDir string
}

// S3API — подмножество клиента S3, используемое хранилищем.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store — хранение blob-ов в бакете S3.
// Handle — ключ объекта без префикса.
//
// Поток загрузки сначала пишется во временный файл: PutObject требует
// известной длины, а тело запроса может быть сколь угодно большим.
type S3Store struct {
	client   S3API
	bucket   string
	prefix   string
	spoolDir string
}

// NewS3Client создаёт клиент S3 со статическими учётными данными.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// NewS3Store создаёт S3Store поверх готового клиента.
func NewS3Store(client S3API, opts S3Options) *S3Store {
	return &S3Store{
		client:   client,
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		spoolDir: opts.SpoolDir,
	}
}

// Store записывает поток во временный файл и загружает его в бакет.
func (s *S3Store) Store(ctx context.Context, filename, contentType string, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.spoolDir, "bm-upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, contextReader(ctx, r))
	if err != nil {
		return "", 0, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("ошибка позиционирования временного файла: %w", err)
	}

	handle := newHandle(filename)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(handle)),
		Body:          tmp,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", 0, fmt.Errorf("ошибка загрузки объекта %s: %w", handle, err)
	}
	return handle, size, nil
}

// Open возвращает тело объекта.
func (s *S3Store) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return nil, fmt.Errorf("ошибка чтения объекта %s: %w", handle, err)
	}
	return out.Body, nil
}

// Delete удаляет объект. S3 не сообщает об отсутствии ключа при удалении.
func (s *S3Store) Delete(ctx context.Context, handle string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления объекта %s: %w", handle, err)
	}
	return nil
}

// CheckReady проверяет доступность бакета.
// Возвращает статус ("ok" или "fail") и сообщение.
func (s *S3Store) CheckReady(ctx context.Context) (string, string) {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return "fail", fmt.Sprintf("бакет %s недоступен: %s", s.bucket, err.Error())
	}
	return "ok", "бакет доступен"
}

// key формирует ключ объекта с учётом префикса.
func (s *S3Store) key(handle string) string {
	if s.prefix == "" {
		return handle
	}
	return path.Join(s.prefix, handle)
}
